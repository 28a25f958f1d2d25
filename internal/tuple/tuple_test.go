package tuple

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Tuple
	}{
		{"empty", Tuple{}},
		{"string", Tuple{"hello"}},
		{"string with null byte", Tuple{"a\x00b"}},
		{"bytes", Tuple{[]byte{1, 2, 3, 0, 4}}},
		{"ints", Tuple{int64(0), int64(-1), int64(1), int64(-1000000), int64(1000000)}},
		{"float", Tuple{3.14, -2.5, 0.0}},
		{"bool", Tuple{true, false}},
		{"nil", Tuple{nil}},
		{"mixed compound key", Tuple{"users", int64(42), true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := tt.in.Pack()
			got, err := Unpack(packed)
			require.NoError(t, err)
			require.Len(t, got, len(tt.in))
			for i := range tt.in {
				assert.Equal(t, tt.in[i], got[i])
			}
		})
	}
}

func TestPack_PreservesOrderForIntegers(t *testing.T) {
	values := []int64{-1000, -5, -1, 0, 1, 5, 1000, 1 << 40}
	packed := make([][]byte, len(values))
	for i, v := range values {
		packed[i] = Tuple{v}.Pack()
	}

	// Shuffle by sorting the packed bytes and checking the decoded order
	// matches the original (already-sorted) value order.
	sorted := append([][]byte(nil), packed...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	for i, p := range sorted {
		got, err := Unpack(p)
		require.NoError(t, err)
		assert.Equal(t, values[i], got[0])
	}
}

func TestPack_PreservesOrderForFloats(t *testing.T) {
	values := []float64{-100.5, -1.0, -0.001, 0.0, 0.001, 1.0, 100.5}
	packed := make([][]byte, len(values))
	for i, v := range values {
		packed[i] = Tuple{v}.Pack()
	}
	for i := 1; i < len(packed); i++ {
		assert.True(t, bytes.Compare(packed[i-1], packed[i]) < 0, "values[%d]=%v should pack before values[%d]=%v", i-1, values[i-1], i, values[i])
	}
}

func TestPack_PreservesOrderForStrings(t *testing.T) {
	values := []string{"", "a", "aa", "ab", "b"}
	for i := 1; i < len(values); i++ {
		a := Tuple{values[i-1]}.Pack()
		b := Tuple{values[i]}.Pack()
		assert.True(t, bytes.Compare(a, b) < 0)
	}
}

func TestPack_CompoundKeyOrdersByFirstDifferingElement(t *testing.T) {
	a := Tuple{"users", int64(1)}.Pack()
	b := Tuple{"users", int64(2)}.Pack()
	c := Tuple{"usersz", int64(0)}.Pack()

	assert.True(t, bytes.Compare(a, b) < 0)
	assert.True(t, bytes.Compare(b, c) < 0)
}

func TestSubspace_PackAndUnpack(t *testing.T) {
	root := NewSubspace("I", "by_email")
	key := root.Pack(Tuple{"a@x.com", "u1"})

	got, err := root.Unpack(key)
	require.NoError(t, err)
	assert.Equal(t, Tuple{"a@x.com", "u1"}, got)
}

func TestSubspace_Sub_NestsPrefix(t *testing.T) {
	root := NewSubspace("I")
	child := root.Sub("by_email")

	assert.True(t, bytes.HasPrefix(child.Bytes(), root.Bytes()))
}

func TestSubspace_PrefixEnd_BoundsRangeScan(t *testing.T) {
	s := NewSubspace("I", "scalar")
	begin := s.Bytes()
	end := s.PrefixEnd()

	inside := s.Pack(Tuple{"anything"})
	assert.True(t, bytes.Compare(begin, inside) <= 0)
	assert.True(t, bytes.Compare(inside, end) < 0)

	outside := NewSubspace("I", "scalar0").Bytes()
	assert.True(t, bytes.Compare(end, outside) <= 0)
}

func TestUnpack_ErrorsOnUnterminatedString(t *testing.T) {
	_, err := Unpack([]byte{tagString, 'a', 'b'})
	assert.Error(t, err)
}
