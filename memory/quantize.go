package memory

import "math"

// Vector is the stored, quantized form of an embedding: one signed byte
// per dimension plus a single scale factor, so that
// float32(Data[i]) * Scale approximates the original component. The
// representation trades a small cosine error for a 4x footprint
// reduction; retrieval math always operates on the dequantized values.
type Vector struct {
	MemoryID string
	Dim      int
	Data     []int8
	Scale    float32
}

// NewVector quantizes vec for storage under memoryID.
func NewVector(memoryID string, vec []float32) Vector {
	data, scale := Quantize(vec)
	return Vector{
		MemoryID: memoryID,
		Dim:      len(vec),
		Data:     data,
		Scale:    scale,
	}
}

// Equal reports value equality over the quantized bytes and scale.
// Vectors are never compared by slice identity.
func (v Vector) Equal(o Vector) bool {
	if v.Dim != o.Dim || v.Scale != o.Scale || len(v.Data) != len(o.Data) {
		return false
	}
	for i := range v.Data {
		if v.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// Float32 returns the dequantized approximation of the stored vector.
func (v Vector) Float32() []float32 {
	return Dequantize(v.Data, v.Scale)
}

// Quantize compresses a float vector to int8 values plus one scale
// factor. The scale maps the largest absolute component onto 127; an
// all-zero vector quantizes to zero bytes with scale 0.
func Quantize(vec []float32) ([]int8, float32) {
	var maxAbs float32
	for _, v := range vec {
		if a := float32(math.Abs(float64(v))); a > maxAbs {
			maxAbs = a
		}
	}

	data := make([]int8, len(vec))
	if maxAbs == 0 {
		return data, 0
	}

	scale := maxAbs / 127
	for i, v := range vec {
		q := math.Round(float64(v) / float64(scale))
		if q > 127 {
			q = 127
		} else if q < -127 {
			q = -127
		}
		data[i] = int8(q)
	}
	return data, scale
}

// Dequantize reverses Quantize within the quantization error.
func Dequantize(data []int8, scale float32) []float32 {
	out := make([]float32, len(data))
	for i, b := range data {
		out[i] = float32(b) * scale
	}
	return out
}

// Cosine computes the cosine similarity between two vectors. Returns 0
// for empty, mismatched-length, or zero-magnitude inputs.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
