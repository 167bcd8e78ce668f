package vector

import "math"

// Metric names a similarity function.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// Score returns the similarity of a and b under m; higher is more similar.
func (m Metric) Score(a, b []float32) float64 {
	switch m {
	case MetricDot:
		return InnerProduct(a, b)
	case MetricEuclidean:
		return -EuclideanDistance(a, b)
	default:
		return CosineSimilarity(a, b)
	}
}

// InnerProduct returns the inner product of two vectors.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped to [-1, 1].
// A zero vector has similarity 0 to everything.
func CosineSimilarity(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, InnerProduct(a, b)/(na*nb)))
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
