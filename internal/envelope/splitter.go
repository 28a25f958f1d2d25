package envelope

import (
	"context"

	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/kvengine"
)

// PartThreshold is the ~90 KB boundary past which a framed value is
// split into chunks, comfortably under the KV engine's 100 KB value
// limit (internal/kvengine.ValueSizeLimit).
const PartThreshold = 90 * 1024

const (
	headerPart byte = 0x00
	firstDataPart byte = 0x01
)

// WriteValue stores framed (already enveloped) bytes at baseKey,
// splitting into ~90 KB parts when it exceeds PartThreshold per
// spec.md §3's large-value layout: baseKey|0x00 → (totalSize,
// partCount), baseKey|0x01.. → each part.
func WriteValue(tx kvengine.Transaction, baseKey []byte, framed []byte) {
	if len(framed) <= PartThreshold {
		tx.Set(append(append([]byte(nil), baseKey...), firstDataPart), framed)
		return
	}

	total := len(framed)
	var partCount int32
	for off := 0; off < total; off += PartThreshold {
		end := off + PartThreshold
		if end > total {
			end = total
		}
		partCount++
		key := partKey(baseKey, byte(firstDataPart+byte(partCount-1)))
		tx.Set(key, framed[off:end])
	}

	tx.Set(partKey(baseKey, headerPart), packSizeHeader(int64(total), partCount))
}

// ReadValue reassembles a (possibly split) value written by WriteValue.
// A missing part is a hard MissingSplitPart error, never a silent
// partial read.
func ReadValue(ctx context.Context, tx kvengine.Transaction, baseKey []byte) ([]byte, error) {
	headerKey := partKey(baseKey, headerPart)
	header, err := tx.Get(ctx, headerKey)
	if err != nil {
		return nil, err
	}
	if header == nil {
		// Not split: the value lives directly at the first data part.
		return tx.Get(ctx, partKey(baseKey, firstDataPart))
	}

	totalSize, partCount, err := unpackSizeHeader(header)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, totalSize)
	for i := int32(0); i < partCount; i++ {
		part, err := tx.Get(ctx, partKey(baseKey, byte(firstDataPart+byte(i))))
		if err != nil {
			return nil, err
		}
		if part == nil {
			return nil, errs.New(errs.MissingSplitPart, "large-value part missing").
				WithDetail("partIndex", itoa(i))
		}
		out = append(out, part...)
	}
	if int64(len(out)) != totalSize {
		return nil, errs.New(errs.ChecksumMismatch, "reassembled value size mismatch")
	}
	return out, nil
}

// ClearValue removes every key a value written by WriteValue may occupy:
// the header (if present) and every data part up to partCount, or just
// the single unsplit part if there was no header.
func ClearValue(ctx context.Context, tx kvengine.Transaction, baseKey []byte) error {
	headerKey := partKey(baseKey, headerPart)
	header, err := tx.Get(ctx, headerKey)
	if err != nil {
		return err
	}
	if header == nil {
		tx.Clear(partKey(baseKey, firstDataPart))
		return nil
	}
	_, partCount, err := unpackSizeHeader(header)
	if err != nil {
		return err
	}
	tx.Clear(headerKey)
	for i := int32(0); i < partCount; i++ {
		tx.Clear(partKey(baseKey, byte(firstDataPart+byte(i))))
	}
	return nil
}

func partKey(baseKey []byte, part byte) []byte {
	key := make([]byte, len(baseKey)+1)
	copy(key, baseKey)
	key[len(baseKey)] = part
	return key
}

func itoa(i int32) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
