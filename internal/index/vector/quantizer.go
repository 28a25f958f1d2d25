package vector

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/tuple"
)

// QuantizerKind names a vector quantization scheme, per spec.md §4.6.
type QuantizerKind string

const (
	QuantizerNone QuantizerKind = "none"
	QuantizerPQ   QuantizerKind = "pq"
	QuantizerSQ   QuantizerKind = "sq"
	QuantizerBQ   QuantizerKind = "bq"
)

// codebookChunkBytes mirrors the envelope's large-value split threshold
// (spec.md §4.6: "codebook chunks respect the 90 KB value limit").
const codebookChunkBytes = 90 * 1024

// Quantizer encodes/decodes vectors under one of the three schemes and
// owns the codebook subspace layout
// I/<name>/quantizer/{metadata, codebook/<chunk>, codes/<id>}.
type Quantizer struct {
	root tuple.Subspace
	kind QuantizerKind

	// PQ
	subvectors int
	centroids  int
	iterations int

	// SQ
	bits int

	dims int
}

func NewQuantizer(root tuple.Subspace, indexName string, kind QuantizerKind, subvectors, centroids, iterations, bits, dims int) *Quantizer {
	return &Quantizer{
		root: root.Sub("I", indexName, "quantizer"), kind: kind,
		subvectors: subvectors, centroids: centroids, iterations: iterations,
		bits: bits, dims: dims,
	}
}

func (q *Quantizer) metadataKey() []byte { return q.root.Pack(tuple.Tuple{"metadata"}) }
func (q *Quantizer) codesKey(id string) []byte {
	return q.root.Pack(tuple.Tuple{"codes", id})
}
func (q *Quantizer) codebookChunkKey(chunk int) []byte {
	return q.root.Pack(tuple.Tuple{"codebook", int64(chunk)})
}
func (q *Quantizer) codebookChunksKey() []byte {
	return q.root.Pack(tuple.Tuple{"codebook_chunks"})
}

type quantizerMetadata struct {
	version int64
}

func (q *Quantizer) currentVersion(ctx context.Context, tx kvengine.Transaction) (int64, error) {
	raw, err := tx.Get(ctx, q.metadataKey())
	if err != nil || raw == nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (q *Quantizer) bumpVersion(tx kvengine.Transaction, version int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(version))
	tx.Set(q.metadataKey(), buf[:])
}

// PQCodebook is the per-subspace set of K centroids learned by TrainPQ.
type PQCodebook struct {
	Subvectors int
	Centroids  int
	SubDim     int
	Vectors    [][]float32 // len = Subvectors*Centroids, each SubDim wide
}

// TrainPQ runs k-means++ independently per sub-vector over training
// vectors, producing the codebook spec.md §4.6 describes: M
// sub-vectors, K centroids each.
func TrainPQ(training [][]float32, subvectors, centroids, iterations int) *PQCodebook {
	dims := len(training[0])
	subDim := dims / subvectors
	cb := &PQCodebook{Subvectors: subvectors, Centroids: centroids, SubDim: subDim, Vectors: make([][]float32, subvectors*centroids)}

	for s := 0; s < subvectors; s++ {
		subs := make([][]float32, len(training))
		for i, v := range training {
			subs[i] = v[s*subDim : (s+1)*subDim]
		}
		centroidsS := kmeansPlusPlus(subs, centroids, iterations)
		copy(cb.Vectors[s*centroids:(s+1)*centroids], centroidsS)
	}
	return cb
}

func kmeansPlusPlus(points [][]float32, k, iterations int) [][]float32 {
	if len(points) <= k {
		out := make([][]float32, k)
		for i := range out {
			out[i] = append([]float32(nil), points[i%len(points)]...)
		}
		return out
	}
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, append([]float32(nil), points[rand.Intn(len(points))]...))
	for len(centroids) < k {
		distSq := make([]float64, len(points))
		var total float64
		for i, p := range points {
			best := math.MaxFloat64
			for _, c := range centroids {
				d := float64(sqDist(p, c))
				if d < best {
					best = d
				}
			}
			distSq[i] = best
			total += best
		}
		r := rand.Float64() * total
		var acc float64
		chosen := points[len(points)-1]
		for i, d := range distSq {
			acc += d
			if acc >= r {
				chosen = points[i]
				break
			}
		}
		centroids = append(centroids, append([]float32(nil), chosen...))
	}

	for iter := 0; iter < iterations; iter++ {
		sums := make([][]float64, k)
		counts := make([]int, k)
		dim := len(points[0])
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for _, p := range points {
			best, bestDist := 0, math.MaxFloat64
			for ci, c := range centroids {
				d := float64(sqDist(p, c))
				if d < bestDist {
					bestDist = d
					best = ci
				}
			}
			counts[best]++
			for d, v := range p {
				sums[best][d] += float64(v)
			}
		}
		for ci := range centroids {
			if counts[ci] == 0 {
				continue
			}
			for d := range centroids[ci] {
				centroids[ci][d] = float32(sums[ci][d] / float64(counts[ci]))
			}
		}
	}
	return centroids
}

func sqDist(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// EncodePQ assigns vec's M sub-vectors to their nearest centroid,
// producing an M-byte code.
func EncodePQ(cb *PQCodebook, vec []float32) []byte {
	out := make([]byte, cb.Subvectors)
	for s := 0; s < cb.Subvectors; s++ {
		sub := vec[s*cb.SubDim : (s+1)*cb.SubDim]
		best, bestDist := 0, float32(math.MaxFloat32)
		for c := 0; c < cb.Centroids; c++ {
			centroid := cb.Vectors[s*cb.Centroids+c]
			d := sqDist(sub, centroid)
			if d < bestDist {
				bestDist = d
				best = c
			}
		}
		out[s] = byte(best)
	}
	return out
}

// BuildLookupTable precomputes per-query distances to every
// (subvector, centroid) pair, so scoring a code is M table lookups
// instead of M·K distance computations (spec.md §4.6's asymmetric
// distance).
func BuildLookupTable(cb *PQCodebook, query []float32) [][]float32 {
	table := make([][]float32, cb.Subvectors)
	for s := 0; s < cb.Subvectors; s++ {
		sub := query[s*cb.SubDim : (s+1)*cb.SubDim]
		table[s] = make([]float32, cb.Centroids)
		for c := 0; c < cb.Centroids; c++ {
			table[s][c] = sqDist(sub, cb.Vectors[s*cb.Centroids+c])
		}
	}
	return table
}

// AsymmetricDistance sums the precomputed per-subvector distances for code.
func AsymmetricDistance(table [][]float32, code []byte) float32 {
	var sum float32
	for s, c := range code {
		sum += table[s][c]
	}
	return sum
}

// EncodeSQ scalar-quantizes each float32 component to `bits` bits over
// [min,max], per spec.md §4.6's sq(bits) scheme.
func EncodeSQ(vec []float32, bits int, min, max float32) []byte {
	levels := float32((uint64(1) << uint(bits)) - 1)
	out := make([]byte, len(vec))
	span := max - min
	if span == 0 {
		span = 1
	}
	for i, v := range vec {
		norm := (v - min) / span
		if norm < 0 {
			norm = 0
		}
		if norm > 1 {
			norm = 1
		}
		out[i] = byte(norm * levels)
	}
	return out
}

func DecodeSQ(code []byte, bits int, min, max float32) []float32 {
	levels := float32((uint64(1) << uint(bits)) - 1)
	span := max - min
	out := make([]float32, len(code))
	for i, c := range code {
		out[i] = min + (float32(c)/levels)*span
	}
	return out
}

// EncodeBQ binary-quantizes each component to its sign bit, packed 8
// per byte.
func EncodeBQ(vec []float32) []byte {
	out := make([]byte, (len(vec)+7)/8)
	for i, v := range vec {
		if v > 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// HammingDistance counts differing bits between two BQ codes.
func HammingDistance(a, b []byte) int {
	dist := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			dist += int(x & 1)
			x >>= 1
		}
	}
	return dist
}

func packPQCodebook(cb *PQCodebook) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], uint32(cb.Subvectors))
	binary.BigEndian.PutUint32(out[4:8], uint32(cb.Centroids))
	binary.BigEndian.PutUint32(out[8:12], uint32(cb.SubDim))
	for _, v := range cb.Vectors {
		out = append(out, packFloats(v)...)
	}
	return out
}

func unpackPQCodebook(b []byte) *PQCodebook {
	subvectors := int(binary.BigEndian.Uint32(b[0:4]))
	centroids := int(binary.BigEndian.Uint32(b[4:8]))
	subDim := int(binary.BigEndian.Uint32(b[8:12]))
	cb := &PQCodebook{Subvectors: subvectors, Centroids: centroids, SubDim: subDim, Vectors: make([][]float32, subvectors*centroids)}
	off := 12
	stride := subDim * 4
	for i := range cb.Vectors {
		cb.Vectors[i] = unpackFloats(b[off : off+stride])
		off += stride
	}
	return cb
}

// StoreCodebook persists cb split into ≤90KB chunks and records the
// chunk count, per spec.md §4.6.
func (q *Quantizer) StoreCodebook(tx kvengine.Transaction, cb *PQCodebook) {
	data := packPQCodebook(cb)
	chunkCount := 0
	for offset := 0; offset < len(data); offset += codebookChunkBytes {
		end := offset + codebookChunkBytes
		if end > len(data) {
			end = len(data)
		}
		tx.Set(q.codebookChunkKey(chunkCount), data[offset:end])
		chunkCount++
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(chunkCount))
	tx.Set(q.codebookChunksKey(), buf[:])
}

// LoadCodebook reassembles the chunked codebook written by StoreCodebook.
func (q *Quantizer) LoadCodebook(ctx context.Context, tx kvengine.Transaction) (*PQCodebook, error) {
	raw, err := tx.Get(ctx, q.codebookChunksKey())
	if err != nil || raw == nil {
		return nil, err
	}
	chunkCount := int(binary.BigEndian.Uint32(raw))
	var data []byte
	for i := 0; i < chunkCount; i++ {
		chunk, err := tx.Get(ctx, q.codebookChunkKey(i))
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}
	return unpackPQCodebook(data), nil
}

// Retrain overwrites the stored codebook chunks with cb and bumps the
// version counter in the metadata key. Chunk keys are not versioned, so
// the prior codebook is not kept.
func (q *Quantizer) Retrain(ctx context.Context, tx kvengine.Transaction, cb *PQCodebook) (int64, error) {
	current, err := q.currentVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	next := current + 1
	q.StoreCodebook(tx, cb)
	q.bumpVersion(tx, next)
	return next, nil
}

// StoreCode persists id's quantized code, keyed by id only (not by
// codebook version).
func (q *Quantizer) StoreCode(tx kvengine.Transaction, id string, code []byte) {
	tx.Set(q.codesKey(id), code)
}

// LoadCode reads id's quantized code.
func (q *Quantizer) LoadCode(ctx context.Context, tx kvengine.Transaction, id string) ([]byte, error) {
	return tx.Get(ctx, q.codesKey(id))
}
