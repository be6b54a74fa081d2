package db

import (
	"encoding/binary"
	"math"
)

// VectorToBytes encodes v as little-endian FLOAT32, the layout vector index fields expect.
func VectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// BytesToVector decodes a little-endian FLOAT32 blob. Trailing partial floats are ignored.
func BytesToVector(s string) []float32 {
	n := len(s) / 4
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(s[i*4 : i*4+4])))
	}
	return out
}
