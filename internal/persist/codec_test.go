package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestStateCodecRoundTrip(t *testing.T) {
	for _, state := range [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte("terrain"), 4096),
	} {
		enc, err := EncodeState(state)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeState(enc)
		if err != nil {
			t.Fatalf("len %d: %v", len(state), err)
		}
		if !bytes.Equal(got, state) {
			t.Fatalf("len %d: round trip mismatch", len(state))
		}
	}
}

func TestStateCodecCompresses(t *testing.T) {
	state := bytes.Repeat([]byte{1, 2, 3, 4}, 8192)
	if enc, _ := EncodeState(state); len(enc) >= len(state)/4 {
		t.Fatalf("encoded %d bytes from %d", len(enc), len(state))
	}
}

func TestStateCodecRejects(t *testing.T) {
	good, err := EncodeState([]byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := DecodeState(good[:4]); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("short: %v", err)
	}

	badMagic := bytes.Clone(good)
	badMagic[0] ^= 0xFF
	if _, err := DecodeState(badMagic); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("magic: %v", err)
	}

	badVersion := bytes.Clone(good)
	binary.LittleEndian.PutUint16(badVersion[4:], 9)
	if _, err := DecodeState(badVersion); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("version: %v", err)
	}

	badSize := bytes.Clone(good)
	binary.LittleEndian.PutUint32(badSize[6:], 3)
	if _, err := DecodeState(badSize); !errors.Is(err, ErrSizeCheck) {
		t.Fatalf("size: %v", err)
	}

	corrupt := bytes.Clone(good)
	corrupt = corrupt[:len(corrupt)-2]
	if _, err := DecodeState(corrupt); err == nil {
		t.Fatal("truncated body accepted")
	}
}

func TestStateCodecInitErrorPropagates(t *testing.T) {
	if _, err := newStateCodec([]zstd.EOption{zstd.WithEncoderConcurrency(0)}, nil); err == nil {
		t.Fatal("bad encoder option accepted")
	}
	if _, err := newStateCodec(nil, []zstd.DOption{zstd.WithDecoderMaxMemory(0)}); err == nil {
		t.Fatal("bad decoder option accepted")
	}

	good, err := EncodeState([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	initErr := errors.New("save codec: injected")
	saved := loadCodec
	loadCodec = func() (*stateCodec, error) { return nil, initErr }
	t.Cleanup(func() { loadCodec = saved })

	if _, err := EncodeState([]byte("hello")); !errors.Is(err, initErr) {
		t.Fatalf("EncodeState err = %v", err)
	}
	if _, err := DecodeState(good); !errors.Is(err, initErr) {
		t.Fatalf("DecodeState err = %v", err)
	}
}
