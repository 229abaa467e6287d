// Package pooling reduces per-token transformer hidden states to
// fixed-size sentence embeddings.
package pooling

import "math"

// ClampEpsilon is the minimum value the mask denominator is clamped to.
// A fully padded sequence divides by this instead of zero, yielding a
// finite near-zero vector.
const ClampEpsilon = 1e-9

// MeanPool computes the attention-masked mean over tokens.
// hidden is a flattened [T*H] row-major buffer, mask is [T] with 0/1
// entries. The result has length hiddenSize.
func MeanPool(hidden []float32, mask []int64, hiddenSize int) []float32 {
	out := make([]float32, hiddenSize)
	var denom float64
	for t, m := range mask {
		if m == 0 {
			continue
		}
		denom++
		base := t * hiddenSize
		for h := 0; h < hiddenSize; h++ {
			out[h] += hidden[base+h]
		}
	}
	if denom < ClampEpsilon {
		denom = ClampEpsilon
	}
	scale := float32(1.0 / denom)
	for h := range out {
		out[h] *= scale
	}
	return out
}

// MeanPoolBatch pools a flattened [B*T*H] buffer into B embeddings.
// masks must contain one [T] mask per batch element.
func MeanPoolBatch(hidden []float32, masks [][]int64, hiddenSize int) [][]float32 {
	batch := len(masks)
	out := make([][]float32, batch)
	if batch == 0 {
		return out
	}
	stride := len(masks[0]) * hiddenSize
	for b := 0; b < batch; b++ {
		start := b * stride
		out[b] = MeanPool(hidden[start:start+stride], masks[b], hiddenSize)
	}
	return out
}

// L2Normalize scales v in place to unit length. A zero vector is left
// unchanged.
func L2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// CosineSimilarity returns the cosine of the angle between a and b,
// or 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
