package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader reads fixed-width little-endian fields from simulation memory at
// absolute byte addresses. The first out-of-range read is remembered and
// every later read returns zero, so callers check Err once per record.
type Reader struct {
	mem   Memory
	err   error
	reads int
}

func NewReader(mem Memory) *Reader {
	return &Reader{mem: mem}
}

// ReadD reads 4 bytes as little-endian uint32.
func (r *Reader) ReadD(addr uint32) uint32 {
	b := r.ReadBytes(addr, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadF reads 4 bytes as little-endian float32.
func (r *Reader) ReadF(addr uint32) float32 {
	return math.Float32frombits(r.ReadD(addr))
}

// ReadSpan reads an (offset, count) pair starting at addr.
func (r *Reader) ReadSpan(addr uint32) Span {
	return Span{Offset: r.ReadD(addr), Count: r.ReadD(addr + spanCountFieldDelta)}
}

// ReadBytes returns n bytes at addr without copying.
func (r *Reader) ReadBytes(addr, n uint32) []byte {
	if r.err != nil {
		return nil
	}
	r.reads++
	b, ok := r.mem.Read(addr, n)
	if !ok {
		r.err = fmt.Errorf("read of %d bytes at 0x%x is outside linear memory", n, addr)
		return nil
	}
	return b
}

// Err returns the first out-of-range read, if any.
func (r *Reader) Err() error { return r.err }

// Reads returns how many field reads were attempted.
func (r *Reader) Reads() int { return r.reads }
