package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/amandb/recordkv/internal/errs"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor names one of the supported codecs. zstd and lz4 are both
// drawn from the pack (klauspost/compress, pierrec/lz4) rather than
// hand-rolled, even though only one is active per store at a time.
type Compressor string

const (
	CompressorNone Compressor = "none"
	CompressorZstd Compressor = "zstd"
	CompressorLZ4  Compressor = "lz4"
)

// KeyProvider resolves a key id to AES-256 key bytes, supporting
// key rotation: encryption always uses CurrentKeyID, decryption looks
// up whatever key id the ciphertext names.
type KeyProvider interface {
	CurrentKeyID() string
	Key(keyID string) ([]byte, error)
}

// StaticKeyProvider is a KeyProvider with a single fixed key, useful for
// tests and for deployments that haven't yet enabled rotation.
type StaticKeyProvider struct {
	KeyID string
	Key32 []byte
}

func (p StaticKeyProvider) CurrentKeyID() string { return p.KeyID }
func (p StaticKeyProvider) Key(keyID string) ([]byte, error) {
	if keyID != p.KeyID {
		return nil, errs.New(errs.Internal, "unknown key id").WithDetail("keyId", keyID)
	}
	return p.Key32, nil
}

// Transformer compresses and/or encrypts item bodies on write and
// reverses the transform on read, producing the tagged envelope body
// described in spec.md §3.
type Transformer struct {
	compressor Compressor
	encrypt    bool
	keys       KeyProvider
}

func NewTransformer(compressor Compressor, encrypt bool, keys KeyProvider) *Transformer {
	return &Transformer{compressor: compressor, encrypt: encrypt, keys: keys}
}

// Apply runs the configured transforms over plaintext and returns the
// tag plus transformed body (the part that follows MAGIC|TAG in Wrap).
func (tr *Transformer) Apply(plaintext []byte) (Tag, []byte, error) {
	body := plaintext
	compressed := false
	if tr.compressor != CompressorNone {
		var err error
		body, err = compress(tr.compressor, body)
		if err != nil {
			return 0, nil, errs.Wrap(errs.Internal, "compression failed", err)
		}
		compressed = true
	}

	if !tr.encrypt {
		if compressed {
			return TagCompressed, body, nil
		}
		return TagRaw, body, nil
	}

	keyID := tr.keys.CurrentKeyID()
	key, err := tr.keys.Key(keyID)
	if err != nil {
		return 0, nil, err
	}
	enc, err := aesGCMEncrypt(key, body)
	if err != nil {
		return 0, nil, errs.Wrap(errs.Internal, "encryption failed", err)
	}
	packed := EncryptedBody{KeyID: keyID, IV: enc.iv, Ciphertext: enc.ciphertext, AuthTag: enc.tag}.Pack()

	if compressed {
		return TagCompressedEncrypted, packed, nil
	}
	return TagEncrypted, packed, nil
}

// Reverse undoes the transform a tagged body carries, returning the
// original plaintext.
func (tr *Transformer) Reverse(tag Tag, body []byte) ([]byte, error) {
	compressed := tag == TagCompressed || tag == TagCompressedEncrypted
	encrypted := tag == TagEncrypted || tag == TagCompressedEncrypted

	out := body
	if encrypted {
		eb, err := UnpackEncryptedBody(body)
		if err != nil {
			return nil, err
		}
		key, err := tr.keys.Key(eb.KeyID)
		if err != nil {
			return nil, err
		}
		plain, err := aesGCMDecrypt(key, eb.IV, eb.Ciphertext, eb.AuthTag)
		if err != nil {
			return nil, errs.Wrap(errs.ChecksumMismatch, "decryption/authentication failed", err)
		}
		out = plain
	}

	if compressed {
		plain, err := decompress(tr.compressorForRead(), out)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "decompression failed", err)
		}
		out = plain
	}
	return out, nil
}

// compressorForRead returns the codec used to decompress. A production
// store would record the codec alongside the tag (or in M/format) since
// it can change over the store's lifetime; this module assumes a single
// configured codec per store, matching the compression config carried
// on Transformer.
func (tr *Transformer) compressorForRead() Compressor {
	if tr.compressor == CompressorNone {
		return CompressorZstd
	}
	return tr.compressor
}

func compress(c Compressor, data []byte) ([]byte, error) {
	switch c {
	case CompressorZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CompressorLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}

func decompress(c Compressor, data []byte) ([]byte, error) {
	switch c {
	case CompressorZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case CompressorLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	default:
		return data, nil
	}
}

type aesGCMResult struct {
	iv         [16]byte
	ciphertext []byte
	tag        [16]byte
}

func aesGCMEncrypt(key, plaintext []byte) (aesGCMResult, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return aesGCMResult{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return aesGCMResult{}, err
	}
	var iv [16]byte
	// AES-GCM's standard nonce is 12 bytes; spec.md §3 fixes a 16-byte IV
	// field, so the low 12 bytes carry the real nonce and the high 4 are
	// reserved (zero) for forward-compatibility with a wider nonce.
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return aesGCMResult{}, err
	}
	copy(iv[:gcm.NonceSize()], nonce)

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - gcm.Overhead()
	var tag [16]byte
	copy(tag[:], sealed[ctLen:])
	return aesGCMResult{iv: iv, ciphertext: append([]byte(nil), sealed[:ctLen]...), tag: tag}, nil
}

func aesGCMDecrypt(key []byte, iv [16]byte, ciphertext []byte, tag [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := iv[:gcm.NonceSize()]
	sealed := append(append([]byte(nil), ciphertext...), tag[:]...)
	return gcm.Open(nil, nonce, sealed, nil)
}
