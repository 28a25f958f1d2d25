package envelope

import (
	"bytes"
	"context"
	"testing"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	framed := Wrap(TagRaw, []byte("hello"))
	tag, body, err := Unwrap(framed)
	require.NoError(t, err)
	assert.Equal(t, TagRaw, tag)
	assert.Equal(t, []byte("hello"), body)
}

func TestUnwrap_RejectsMissingMagic(t *testing.T) {
	_, _, err := Unwrap([]byte("not an envelope at all"))
	assert.Error(t, err)
}

func TestTransformer_RawRoundTrip(t *testing.T) {
	tr := NewTransformer(CompressorNone, false, nil)
	tag, body, err := tr.Apply([]byte("plaintext record"))
	require.NoError(t, err)
	assert.Equal(t, TagRaw, tag)

	out, err := tr.Reverse(tag, body)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext record"), out)
}

func TestTransformer_CompressedRoundTrip(t *testing.T) {
	for _, c := range []Compressor{CompressorZstd, CompressorLZ4} {
		tr := NewTransformer(c, false, nil)
		plaintext := bytes.Repeat([]byte("abcdefgh"), 1000)
		tag, body, err := tr.Apply(plaintext)
		require.NoError(t, err)
		assert.Equal(t, TagCompressed, tag)
		assert.Less(t, len(body), len(plaintext))

		out, err := tr.Reverse(tag, body)
		require.NoError(t, err)
		assert.Equal(t, plaintext, out)
	}
}

func TestTransformer_EncryptedRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	keys := StaticKeyProvider{KeyID: "k1", Key32: key}
	tr := NewTransformer(CompressorNone, true, keys)

	tag, body, err := tr.Apply([]byte("secret record"))
	require.NoError(t, err)
	assert.Equal(t, TagEncrypted, tag)

	out, err := tr.Reverse(tag, body)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret record"), out)
}

func TestTransformer_CompressedAndEncryptedRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	keys := StaticKeyProvider{KeyID: "k1", Key32: key}
	tr := NewTransformer(CompressorZstd, true, keys)

	plaintext := bytes.Repeat([]byte("record payload "), 200)
	tag, body, err := tr.Apply(plaintext)
	require.NoError(t, err)
	assert.Equal(t, TagCompressedEncrypted, tag)

	out, err := tr.Reverse(tag, body)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestTransformer_DecryptFailsOnTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x77}, 32)
	keys := StaticKeyProvider{KeyID: "k1", Key32: key}
	tr := NewTransformer(CompressorNone, true, keys)

	tag, body, err := tr.Apply([]byte("secret"))
	require.NoError(t, err)
	body[len(body)-1] ^= 0xFF

	_, err = tr.Reverse(tag, body)
	assert.Error(t, err)
}

func TestSplitter_SmallValueNotSplit(t *testing.T) {
	e := kvengine.NewMemEngine()
	ctx := context.Background()
	tx, _ := e.BeginTransaction(ctx)

	baseKey := []byte("R/User/u1")
	WriteValue(tx, baseKey, []byte("small value"))
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := e.BeginTransaction(ctx)
	out, err := ReadValue(ctx, tx2, baseKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("small value"), out)
}

func TestSplitter_LargeValueSplitsAndReassembles(t *testing.T) {
	e := kvengine.NewMemEngine()
	ctx := context.Background()
	tx, _ := e.BeginTransaction(ctx)

	baseKey := []byte("R/User/u2")
	large := bytes.Repeat([]byte("x"), PartThreshold*3+100)
	WriteValue(tx, baseKey, large)
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := e.BeginTransaction(ctx)
	out, err := ReadValue(ctx, tx2, baseKey)
	require.NoError(t, err)
	assert.Equal(t, large, out)
}

func TestSplitter_MissingPartIsHardError(t *testing.T) {
	e := kvengine.NewMemEngine()
	ctx := context.Background()
	tx, _ := e.BeginTransaction(ctx)

	baseKey := []byte("R/User/u3")
	large := bytes.Repeat([]byte("y"), PartThreshold*2+10)
	WriteValue(tx, baseKey, large)
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := e.BeginTransaction(ctx)
	tx2.Clear(partKey(baseKey, firstDataPart+1))
	require.NoError(t, tx2.Commit(ctx))

	tx3, _ := e.BeginTransaction(ctx)
	_, err := ReadValue(ctx, tx3, baseKey)
	assert.Error(t, err)
}

func TestSplitter_ClearValue_RemovesAllParts(t *testing.T) {
	e := kvengine.NewMemEngine()
	ctx := context.Background()
	tx, _ := e.BeginTransaction(ctx)

	baseKey := []byte("R/User/u4")
	large := bytes.Repeat([]byte("z"), PartThreshold*2+10)
	WriteValue(tx, baseKey, large)
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := e.BeginTransaction(ctx)
	require.NoError(t, ClearValue(ctx, tx2, baseKey))
	require.NoError(t, tx2.Commit(ctx))

	tx3, _ := e.BeginTransaction(ctx)
	out, err := ReadValue(ctx, tx3, baseKey)
	require.NoError(t, err)
	assert.Nil(t, out)
}
