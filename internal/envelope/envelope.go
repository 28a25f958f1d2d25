// Package envelope implements spec.md §3's item envelope: every stored
// item value is framed MAGIC|TRANSFORM_TAG|body, so a reader can never
// mistake a raw, un-enveloped value for record data.
package envelope

import (
	"encoding/binary"

	"github.com/amandb/recordkv/internal/errs"
)

// Magic is the 4-byte prefix marking every enveloped value.
var Magic = [4]byte{'R', 'K', 'V', '1'}

// Tag identifies which transforms were applied to the payload.
type Tag byte

const (
	TagRaw                  Tag = 0x00
	TagCompressed           Tag = 0x01
	TagEncrypted            Tag = 0x02
	TagCompressedEncrypted  Tag = 0x03
)

// Wrap frames body with the magic and tag, producing the bytes that get
// written to the KV engine.
func Wrap(tag Tag, body []byte) []byte {
	out := make([]byte, 0, 4+1+len(body))
	out = append(out, Magic[:]...)
	out = append(out, byte(tag))
	out = append(out, body...)
	return out
}

// Unwrap validates the magic and returns the tag and body. A value
// missing the magic fails with NotEnvelope — the core never falls back
// to treating it as a raw decode.
func Unwrap(framed []byte) (Tag, []byte, error) {
	if len(framed) < 5 {
		return 0, nil, errs.New(errs.NotEnvelope, "value too short to be an envelope")
	}
	if framed[0] != Magic[0] || framed[1] != Magic[1] || framed[2] != Magic[2] || framed[3] != Magic[3] {
		return 0, nil, errs.New(errs.NotEnvelope, "missing envelope magic")
	}
	tag := Tag(framed[4])
	if tag > TagCompressedEncrypted {
		return 0, nil, errs.New(errs.NotEnvelope, "unrecognized transform tag")
	}
	return tag, framed[5:], nil
}

// EncryptedBody is the layout of the encrypted (or compressed+encrypted)
// payload body, per spec.md §3: keyIdLen(1) | keyId | iv(16) | ciphertext | authTag(16).
type EncryptedBody struct {
	KeyID      string
	IV         [16]byte
	Ciphertext []byte
	AuthTag    [16]byte
}

func (b EncryptedBody) Pack() []byte {
	out := make([]byte, 0, 1+len(b.KeyID)+16+len(b.Ciphertext)+16)
	out = append(out, byte(len(b.KeyID)))
	out = append(out, b.KeyID...)
	out = append(out, b.IV[:]...)
	out = append(out, b.Ciphertext...)
	out = append(out, b.AuthTag[:]...)
	return out
}

func UnpackEncryptedBody(data []byte) (EncryptedBody, error) {
	if len(data) < 1 {
		return EncryptedBody{}, errs.New(errs.ChecksumMismatch, "encrypted body truncated")
	}
	keyIDLen := int(data[0])
	off := 1
	if len(data) < off+keyIDLen+16+16 {
		return EncryptedBody{}, errs.New(errs.ChecksumMismatch, "encrypted body truncated")
	}
	keyID := string(data[off : off+keyIDLen])
	off += keyIDLen
	var iv [16]byte
	copy(iv[:], data[off:off+16])
	off += 16
	ctEnd := len(data) - 16
	if ctEnd < off {
		return EncryptedBody{}, errs.New(errs.ChecksumMismatch, "encrypted body truncated")
	}
	ciphertext := append([]byte(nil), data[off:ctEnd]...)
	var authTag [16]byte
	copy(authTag[:], data[ctEnd:])
	return EncryptedBody{KeyID: keyID, IV: iv, Ciphertext: ciphertext, AuthTag: authTag}, nil
}

// packSizeHeader is used by the large-value splitter, which needs to
// pack (totalSize, partCount) into the header key's value.
func packSizeHeader(totalSize int64, partCount int32) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint64(out[:8], uint64(totalSize))
	binary.BigEndian.PutUint32(out[8:], uint32(partCount))
	return out
}

func unpackSizeHeader(data []byte) (int64, int32, error) {
	if len(data) != 12 {
		return 0, 0, errs.New(errs.ChecksumMismatch, "malformed large-value header")
	}
	return int64(binary.BigEndian.Uint64(data[:8])), int32(binary.BigEndian.Uint32(data[8:])), nil
}
