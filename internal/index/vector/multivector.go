package vector

// MultiVectorMode names a multi-vector scoring strategy (spec.md §4.6).
type MultiVectorMode string

const (
	ModeMaxSim  MultiVectorMode = "maxSim"
	ModeAverage MultiVectorMode = "average"
	ModeChamfer MultiVectorMode = "chamfer"
)

// ScoreMultiVector scores a query's vectors against a document's
// vectors under mode, per spec.md §4.6. Both sequences are assumed
// normalized when metric is cosine.
func ScoreMultiVector(metric Metric, mode MultiVectorMode, query, doc [][]float32, normalize bool) float64 {
	switch mode {
	case ModeAverage:
		return averageScore(metric, query, doc)
	case ModeChamfer:
		return chamferScore(metric, query, doc)
	default: // maxSim
		return maxSimScore(metric, query, doc, normalize)
	}
}

// maxSimScore implements ColBERT's late-interaction scoring: for each
// query vector, take its maximum similarity over every document
// vector, then sum.
func maxSimScore(metric Metric, query, doc [][]float32, normalize bool) float64 {
	var total float64
	for _, q := range query {
		best := worstCaseDistance()
		for _, d := range doc {
			dist := Distance(metric, q, d)
			if float64(dist) < best {
				best = float64(dist)
			}
		}
		total += 1 - best // distance→similarity, consistent with Distance's convention
	}
	if normalize && len(query) > 0 {
		return total / float64(len(query))
	}
	return total
}

func averageScore(metric Metric, query, doc [][]float32) float64 {
	var total float64
	var count int
	for _, q := range query {
		for _, d := range doc {
			total += 1 - float64(Distance(metric, q, d))
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// chamferScore is the bidirectional average-of-max: average, over each
// query vector, of its best match in doc, averaged again with the
// symmetric doc→query direction.
func chamferScore(metric Metric, query, doc [][]float32) float64 {
	forward := directedChamfer(metric, query, doc)
	backward := directedChamfer(metric, doc, query)
	return (forward + backward) / 2
}

func directedChamfer(metric Metric, from, to [][]float32) float64 {
	if len(from) == 0 {
		return 0
	}
	var total float64
	for _, f := range from {
		best := worstCaseDistance()
		for _, t := range to {
			dist := float64(Distance(metric, f, t))
			if dist < best {
				best = dist
			}
		}
		total += 1 - best
	}
	return total / float64(len(from))
}

func worstCaseDistance() float64 {
	return 1 << 30
}
