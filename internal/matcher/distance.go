package matcher

import (
	"fmt"
	"math"
)

// Metric names a dissimilarity function between two embeddings. Smaller
// values are more similar.
type Metric string

const (
	Cosine      Metric = "cosine"
	Euclidean   Metric = "euclidean"
	EuclideanL2 Metric = "euclidean_l2"
)

// ParseMetric validates a metric name. The empty string selects Cosine.
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case "":
		return Cosine, nil
	case Cosine, Euclidean, EuclideanL2:
		return Metric(name), nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", name)
	}
}

// Distance computes the metric between a and b.
func (m Metric) Distance(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}
	switch m {
	case Cosine, "":
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 1, nil
		}
		return math.Max(0, 1-dot(a, b)/(na*nb)), nil
	case Euclidean:
		return euclidean(a, b), nil
	case EuclideanL2:
		return euclidean(normalize(a), normalize(b)), nil
	default:
		return 0, fmt.Errorf("unknown distance metric %q", string(m))
	}
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}

func normalize(v []float64) []float64 {
	n := norm(v)
	if n == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
