package utils

import (
	"encoding/binary"
	"fmt"
	"math"
)

// dotProduct calculates the dot product of two vectors.
func dotProduct(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}
	var product float32
	for i := range vec1 {
		product += vec1[i] * vec2[i]
	}
	return product, nil
}

// magnitude calculates the L2 norm (magnitude) of a vector.
func magnitude(vec []float32) float32 {
	var sumOfSquares float32
	for _, val := range vec {
		sumOfSquares += val * val
	}
	return float32(math.Sqrt(float64(sumOfSquares)))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	dotProduct, err := dotProduct(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)

	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}

	return dotProduct / (mag1 * mag2), nil
}

// Similarity is CosineSimilarity for callers that treat mismatched or empty
// vectors as unrelated. The result is clamped to [-1, 1] and never NaN.
func Similarity(vec1, vec2 []float32) float64 {
	sim, err := CosineSimilarity(vec1, vec2)
	if err != nil {
		return 0
	}
	s := float64(sim)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, s))
}

// Normalize returns a unit-length copy of vec. Zero vectors are returned as-is.
func Normalize(vec []float32) []float32 {
	mag := magnitude(vec)
	out := make([]float32, len(vec))
	if mag == 0 {
		copy(out, vec)
		return out
	}
	for i, v := range vec {
		out[i] = v / mag
	}
	return out
}

// EncodeVector packs a vector as little-endian float32s for BLOB storage.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector reverses EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
