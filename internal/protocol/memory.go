package protocol

import (
	"encoding/binary"
	"math"
)

// Memory is a byte-addressable view over simulation linear memory.
// wazero's api.Memory satisfies it directly. Returned slices may alias the
// underlying memory and are only valid until the simulation runs again.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
}

// LinearMemory is a Memory backed by a plain byte slice.
type LinearMemory []byte

func (m LinearMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m)) {
		return nil, false
	}
	return m[offset:end:end], true
}

// PutU32 writes v little-endian at offset. Returns false when out of range.
func (m LinearMemory) PutU32(offset, v uint32) bool {
	if uint64(offset)+4 > uint64(len(m)) {
		return false
	}
	binary.LittleEndian.PutUint32(m[offset:], v)
	return true
}

// PutF32 writes v little-endian at offset. Returns false when out of range.
func (m LinearMemory) PutF32(offset uint32, v float32) bool {
	return m.PutU32(offset, math.Float32bits(v))
}
