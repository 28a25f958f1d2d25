// Package vector implements the vector index family of spec.md §4.6:
// a KV-backed HNSW graph (no flat fallback store), PQ/SQ/BQ quantizers,
// ACORN predicate-filtered search, and multi-vector (ColBERT-style)
// scoring.
//
// Grounded on internal/store/hnsw.go's HNSWStore interface shape
// (Add/Search/Delete/Count, vector normalization, distance→score
// conversion) — that file wraps github.com/coder/hnsw, which is not
// reused directly because spec.md §4.6 pins a specific KV key layout
// (hnsw/nodes, hnsw/neighbors, hnsw/entry) an in-memory graph library
// can't produce; the graph walk itself is reimplemented directly
// against internal/kvengine.
package vector

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"
)

// Metric names a vector distance function.
type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricL2           Metric = "l2"
	MetricInnerProduct Metric = "innerProduct"
)

// NormalizeInPlace unit-normalizes v, used so cosine similarity can be
// computed as a plain dot product (spec.md §4.6).
func NormalizeInPlace(v []float32) {
	var sumSquares float32
	for _, x := range v {
		sumSquares += x * x
	}
	if sumSquares == 0 {
		return
	}
	inv := 1 / math32.Sqrt(sumSquares)
	for i := range v {
		v[i] *= inv
	}
}

// Distance computes the distance between a and b under metric — lower
// is closer for L2, and 1-similarity for cosine/innerProduct so every
// metric shares "lower is better".
func Distance(metric Metric, a, b []float32) float32 {
	switch metric {
	case MetricL2:
		return vek32.Distance(a, b)
	case MetricInnerProduct:
		return 1 - vek32.Dot(a, b)
	default: // cosine, vectors assumed normalized
		return 1 - vek32.Dot(a, b)
	}
}

// DistanceToScore converts a distance into a monotonically-increasing
// "higher is better" score for ranking.
func DistanceToScore(metric Metric, distance float32) float64 {
	switch metric {
	case MetricL2:
		return 1 / (1 + float64(distance))
	default:
		return 1 - float64(distance)/2
	}
}

func packFloats(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits >> 24)
		out[i*4+1] = byte(bits >> 16)
		out[i*4+2] = byte(bits >> 8)
		out[i*4+3] = byte(bits)
	}
	return out
}

func unpackFloats(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4])<<24 | uint32(b[i*4+1])<<16 | uint32(b[i*4+2])<<8 | uint32(b[i*4+3])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
