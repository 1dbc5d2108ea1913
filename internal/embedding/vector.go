package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vectors are persisted as a length-prefixed little-endian float32
// byte sequence: uint32 count followed by count*4 bytes.

// EncodeVector serializes a vector for storage.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4+len(v)*4)
	binary.LittleEndian.PutUint32(buf, uint32(len(v)))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes a stored vector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("vector blob too short: %d bytes", len(data))
	}
	n := binary.LittleEndian.Uint32(data)
	if uint32(len(data)-4) != n*4 {
		return nil, fmt.Errorf("vector blob length %d does not match prefix %d", len(data)-4, n)
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+i*4:]))
	}
	return v, nil
}
