package record

import "encoding/json"

// EncodeItem serializes an item's fields to the bytes carried inside
// the envelope body (spec.md §3's "decode" counterpart to the store's
// decode step). JSON is the teacher's own serialization idiom for
// structured record metadata (internal/store/bm25.go's
// json.Unmarshal of per-document metadata); Value's fields are all
// exported and round-trip cleanly through it, including nested
// Seq/Struct values.
func EncodeItem(it Item) ([]byte, error) {
	return json.Marshal(it)
}

// DecodeItem is EncodeItem's inverse.
func DecodeItem(data []byte) (Item, error) {
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}
