package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding encodes vec as little-endian IEEE 754 float32 values with no
// length prefix. This is the layout sqlite-vec expects for float[N] columns.
func EncodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding decodes a BLOB produced by EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector: invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// BlobL2 computes the L2 distance between two encoded embeddings without
// allocating intermediate slices. It backs the vec_l2 SQL function.
func BlobL2(a, b []byte) (float64, error) {
	if len(a)%4 != 0 || len(b)%4 != 0 {
		return 0, fmt.Errorf("vec_l2: invalid blob length %d/%d", len(a), len(b))
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("vec_l2: dimension mismatch %d != %d", len(a)/4, len(b)/4)
	}
	var sum float64
	for i := 0; i < len(a); i += 4 {
		x := float64(math.Float32frombits(binary.LittleEndian.Uint32(a[i:])))
		y := float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i:])))
		d := x - y
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
