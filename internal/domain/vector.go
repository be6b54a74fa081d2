package domain

import "math"

// EmbeddingDim is the dimension of every article, cluster and preference vector.
const EmbeddingDim = 768

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero-length or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a zero copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// Blend returns (1-alpha)*a + alpha*b. A nil a yields a copy of b.
func Blend(a, b []float32, alpha float64) []float32 {
	if len(a) == 0 {
		return append([]float32(nil), b...)
	}
	out := make([]float32, len(a))
	for i := range a {
		var y float64
		if i < len(b) {
			y = float64(b[i])
		}
		out[i] = float32((1-alpha)*float64(a[i]) + alpha*y)
	}
	return out
}

// Nudge moves v along e by step; negative steps move it away. A nil v starts from zero.
func Nudge(v, e []float32, step float64) []float32 {
	out := make([]float32, len(e))
	copy(out, v)
	for i := range e {
		out[i] += float32(step * float64(e[i]))
	}
	return out
}

// RunningMean folds e into mean, which currently averages n vectors.
func RunningMean(mean, e []float32, n int) []float32 {
	if n <= 0 || len(mean) == 0 {
		return append([]float32(nil), e...)
	}
	out := make([]float32, len(mean))
	k := float64(n + 1)
	for i := range mean {
		m := float64(mean[i])
		out[i] = float32(m + (float64(e[i])-m)/k)
	}
	return out
}

// IsZero reports whether v is empty or all zeros.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
