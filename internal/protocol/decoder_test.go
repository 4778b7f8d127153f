package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/demogame/runtime/internal/core/fault"
)

type countingMemory struct {
	LinearMemory
	reads int
}

func (m *countingMemory) Read(offset, n uint32) ([]byte, bool) {
	m.reads++
	return m.LinearMemory.Read(offset, n)
}

func encode(t *testing.T, b *FrameBuilder) (LinearMemory, uint32) {
	t.Helper()
	mem := make(LinearMemory, 64*1024)
	ptr, _, err := b.Encode(mem, 1024)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return mem, ptr
}

func spriteRecords(n int) []byte {
	out := make([]byte, 0, n*SpriteInstanceStride)
	for i := 0; i < n; i++ {
		rec := make([]byte, SpriteInstanceStride)
		binary.LittleEndian.PutUint32(rec, math.Float32bits(float32(i)))
		out = append(out, rec...)
	}
	return out
}

func TestFrameEmpty(t *testing.T) {
	mem, ptr := encode(t, NewFrameBuilder())
	d := NewDecoder()
	f, err := d.Frame(mem, ptr)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if f.Len() != 0 {
		t.Fatalf("Len = %d, want 0", f.Len())
	}
	if _, err := f.DrawUpdate(0); !fault.Is(err, fault.KindProtocol) {
		t.Fatalf("DrawUpdate(0) on empty frame: %v", err)
	}
}

func TestFrameSingleAndMany(t *testing.T) {
	for _, n := range []int{1, 7} {
		b := NewFrameBuilder()
		for i := 0; i < n; i++ {
			b.UpdateViewOffset(float32(i), float32(-i))
		}
		mem, ptr := encode(t, b)
		f, err := NewDecoder().Frame(mem, ptr)
		if err != nil {
			t.Fatalf("n=%d: Frame: %v", n, err)
		}
		if f.Len() != n {
			t.Fatalf("Len = %d, want %d", f.Len(), n)
		}
		for i := 0; i < n; i++ {
			u, err := f.DrawUpdate(i)
			if err != nil {
				t.Fatalf("DrawUpdate(%d): %v", i, err)
			}
			v, ok := u.(*UpdateViewOffset)
			if !ok {
				t.Fatalf("DrawUpdate(%d) is %T", i, u)
			}
			if v.X != float32(i) || v.Y != float32(-i) {
				t.Fatalf("DrawUpdate(%d) = %+v", i, *v)
			}
		}
	}
}

func TestEveryKindDecodes(t *testing.T) {
	b := NewFrameBuilder()
	if err := b.DrawSprites(3, spriteRecords(2)); err != nil {
		t.Fatal(err)
	}
	if err := b.DrawProjectiles(4, make([]byte, 3*ProjectileInstanceStride)); err != nil {
		t.Fatal(err)
	}
	if err := b.UpdateTerrainChunk(9, 64, make([]byte, 5*TerrainRecordStride)); err != nil {
		t.Fatal(err)
	}
	b.DrawTerrainChunk(9, 16, 32)
	b.UpdateViewOffset(1.5, 2.5)
	if err := b.UpdateGui(make([]byte, 6*IndexStride), make([]byte, 4*GuiVertexStride)); err != nil {
		t.Fatal(err)
	}
	if err := b.DrawDebugInfo([]byte{0, 0, 1, 0}, make([]byte, 2*DebugVertexStride)); err != nil {
		t.Fatal(err)
	}
	b.Raw(KindUndefined, 0, 0, 0, 0)

	mem, ptr := encode(t, b)
	f, err := NewDecoder().Frame(mem, ptr)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	want := []Kind{
		KindDrawSprites, KindDrawProjectileSprites, KindUpdateTerrainChunk, KindDrawTerrainChunk,
		KindUpdateViewOffset, KindUpdateGui, KindDrawDebugInfo, KindUndefined,
	}
	if f.Len() != len(want) {
		t.Fatalf("Len = %d, want %d", f.Len(), len(want))
	}
	for i, k := range want {
		u, err := f.DrawUpdate(i)
		if err != nil {
			t.Fatalf("DrawUpdate(%d): %v", i, err)
		}
		if u.Kind() != k {
			t.Fatalf("DrawUpdate(%d).Kind = %s, want %s", i, u.Kind(), k)
		}
		switch u := u.(type) {
		case *DrawSprites:
			if u.InstanceCount != 2 || u.TextureID != 3 {
				t.Fatalf("sprites = %+v", *u)
			}
			data, err := f.SpriteInstances(u.SpriteBatch)
			if err != nil || !bytes.Equal(data, spriteRecords(2)) {
				t.Fatalf("sprite instances mismatch: %v", err)
			}
		case *DrawProjectileSprites:
			data, err := f.ProjectileInstances(u.SpriteBatch)
			if err != nil || len(data) != 3*ProjectileInstanceStride {
				t.Fatalf("projectile instances: %d bytes, %v", len(data), err)
			}
		case *UpdateTerrainChunk:
			if u.ChunkID != 9 || u.DstOffset != 64 || u.DataCount != 5 {
				t.Fatalf("terrain update = %+v", *u)
			}
			data, err := f.TerrainRecords(u)
			if err != nil || len(data) != 5*TerrainRecordStride {
				t.Fatalf("terrain records: %d bytes, %v", len(data), err)
			}
		case *DrawTerrainChunk:
			if u.X != 16 || u.Y != 32 {
				t.Fatalf("terrain draw = %+v", *u)
			}
		case *UpdateGui:
			idx, err := f.GuiIndices()
			if err != nil || len(idx) != 6*IndexStride {
				t.Fatalf("gui indices: %d bytes, %v", len(idx), err)
			}
			vtx, err := f.GuiVertices()
			if err != nil || len(vtx) != 4*GuiVertexStride {
				t.Fatalf("gui vertices: %d bytes, %v", len(vtx), err)
			}
		case *DrawDebugInfo:
			idx, err := f.DebugIndices(u)
			if err != nil || !bytes.Equal(idx, []byte{0, 0, 1, 0}) {
				t.Fatalf("debug indices = %v, %v", idx, err)
			}
			vtx, err := f.DebugVertices(u)
			if err != nil || len(vtx) != 2*DebugVertexStride {
				t.Fatalf("debug vertices: %d bytes, %v", len(vtx), err)
			}
		}
	}
}

func TestValidationRunsOncePerInstance(t *testing.T) {
	b := NewFrameBuilder()
	b.UpdateViewOffset(0, 0)
	mem, ptr := encode(t, b)
	d := NewDecoder()
	for i := 0; i < 3; i++ {
		if _, err := d.Frame(mem, ptr); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if d.Validations() != 1 {
		t.Fatalf("Validations = %d, want 1", d.Validations())
	}

	// A later bad magic goes unnoticed until the instance changes.
	mem.PutU32(ptr+offValidation, 1)
	if _, err := d.Frame(mem, ptr); err != nil {
		t.Fatalf("validated decoder re-checked magic: %v", err)
	}
	d.Invalidate()
	if _, err := d.Frame(mem, ptr); !fault.Is(err, fault.KindProtocol) {
		t.Fatalf("after Invalidate: err = %v, want ProtocolError", err)
	}
	mem.PutU32(ptr+offValidation, ValidationMagic)
	if _, err := d.Frame(mem, ptr); err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if d.Validations() != 2 {
		t.Fatalf("Validations = %d, want 2", d.Validations())
	}
}

func TestBadSentinelStopsReading(t *testing.T) {
	mem, ptr := encode(t, NewFrameBuilder())
	mem.PutU32(ptr+offPointerSize, 8)
	cm := &countingMemory{LinearMemory: mem}
	d := NewDecoder()
	_, err := d.Frame(cm, ptr)
	if !fault.Is(err, fault.KindProtocol) || !fault.IsFatal(err) {
		t.Fatalf("err = %v, want fatal ProtocolError", err)
	}
	if cm.reads != 1 {
		t.Fatalf("reads = %d, want only the sentinel read", cm.reads)
	}
	if d.Validated() {
		t.Fatal("decoder marked validated after failure")
	}
}

func TestBadMagicStopsReading(t *testing.T) {
	mem, ptr := encode(t, NewFrameBuilder())
	mem.PutU32(ptr+offValidation, 33354)
	cm := &countingMemory{LinearMemory: mem}
	_, err := NewDecoder().Frame(cm, ptr)
	if !fault.Is(err, fault.KindProtocol) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if cm.reads != 2 {
		t.Fatalf("reads = %d, want sentinel and magic only", cm.reads)
	}
}

func TestUnknownKind(t *testing.T) {
	b := NewFrameBuilder()
	b.Raw(Kind(42), 1, 2, 3, 4)
	mem, ptr := encode(t, b)
	f, err := NewDecoder().Frame(mem, ptr)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if _, err := f.DrawUpdate(0); !fault.Is(err, fault.KindProtocol) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
}

func TestOutOfRangeSpans(t *testing.T) {
	b := NewFrameBuilder()
	if err := b.DrawSprites(0, spriteRecords(2)); err != nil {
		t.Fatal(err)
	}
	mem, ptr := encode(t, b)
	f, err := NewDecoder().Frame(mem, ptr)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if _, err := f.SpriteInstances(SpriteBatch{InstanceBase: 1, InstanceCount: 2}); !fault.Is(err, fault.KindProtocol) {
		t.Fatalf("batch past span: err = %v", err)
	}

	// Draw-update span pointing past the end of memory.
	mem.PutU32(ptr+offDrawUpdates, uint32(len(mem)-4))
	if _, err := NewDecoder().Frame(mem, ptr); !fault.Is(err, fault.KindProtocol) {
		t.Fatalf("span past memory: err = %v", err)
	}
}

func TestScratchReuse(t *testing.T) {
	b := NewFrameBuilder()
	b.UpdateViewOffset(1, 1)
	b.UpdateViewOffset(2, 2)
	mem, ptr := encode(t, b)
	f, err := NewDecoder().Frame(mem, ptr)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := f.DrawUpdate(0)
	second, _ := f.DrawUpdate(1)
	if first != second {
		t.Fatal("variants are not reused")
	}
	allocs := testing.AllocsPerRun(100, func() {
		for i := 0; i < f.Len(); i++ {
			if _, err := f.DrawUpdate(i); err != nil {
				t.Fatal(err)
			}
		}
	})
	if allocs != 0 {
		t.Fatalf("DrawUpdate allocates %.1f per run", allocs)
	}
}

func TestKindString(t *testing.T) {
	if KindDrawDebugInfo.String() != "DrawDebugInfo" {
		t.Fatalf("String = %q", KindDrawDebugInfo.String())
	}
	if Kind(99).Valid() || Kind(99).String() != "Unknown(99)" {
		t.Fatalf("unknown kind: %q", Kind(99).String())
	}
}
