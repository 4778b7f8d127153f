package persist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Save file header: magic, format version, uncompressed size. The body is
// the zstd-compressed module state.
const (
	saveMagic   = 0x56534744 // "DGSV" little-endian
	saveVersion = 1
	headerSize  = 10
	maxRawSize  = 256 << 20
)

var (
	ErrBadMagic   = errors.New("save file: bad magic")
	ErrBadVersion = errors.New("save file: unsupported version")
	ErrSizeCheck  = errors.New("save file: size check failed")
)

type stateCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newStateCodec(eopts []zstd.EOption, dopts []zstd.DOption) (*stateCodec, error) {
	enc, err := zstd.NewWriter(nil, eopts...)
	if err != nil {
		return nil, fmt.Errorf("save codec: encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, dopts...)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("save codec: decoder: %w", err)
	}
	return &stateCodec{enc: enc, dec: dec}, nil
}

// loadCodec builds the shared codec once; an init failure is returned on
// every use.
var loadCodec = sync.OnceValues(func() (*stateCodec, error) {
	return newStateCodec(
		[]zstd.EOption{zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true)},
		[]zstd.DOption{zstd.WithDecoderMaxMemory(maxRawSize)},
	)
})

// EncodeState wraps a module state payload for storage.
func EncodeState(state []byte) ([]byte, error) {
	c, err := loadCodec()
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerSize, headerSize+len(state)/2)
	binary.LittleEndian.PutUint32(out[0:], saveMagic)
	binary.LittleEndian.PutUint16(out[4:], saveVersion)
	binary.LittleEndian.PutUint32(out[6:], uint32(len(state)))
	return c.enc.EncodeAll(state, out), nil
}

// DecodeState unwraps a stored payload and checks its size.
func DecodeState(b []byte) ([]byte, error) {
	if len(b) < headerSize || binary.LittleEndian.Uint32(b) != saveMagic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != saveVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	size := binary.LittleEndian.Uint32(b[6:])
	if size > maxRawSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrSizeCheck, size)
	}
	c, err := loadCodec()
	if err != nil {
		return nil, err
	}
	state, err := c.dec.DecodeAll(b[headerSize:], make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}
	if uint32(len(state)) != size {
		return nil, fmt.Errorf("%w: header %d, body %d", ErrSizeCheck, size, len(state))
	}
	return state, nil
}
