package store

import (
	"encoding/binary"
	"math"
)

// encodeEmbedding serializes a vector as little-endian float32s, per spec
// §4.9's "Embedding BLOBs are little-endian f32[1024] (4096 bytes)".
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding is the inverse of encodeEmbedding. A blob whose length is
// not a multiple of 4 is truncated to the largest valid prefix.
func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
