package protocol

import (
	"fmt"

	"github.com/demogame/runtime/internal/core/fault"
)

// Decoder turns the FrameIndex a simulation publishes into typed draw
// updates. Layout validation runs once per module instance; Invalidate
// must be called whenever the instance is replaced.
//
// A Decoder is owned by the frame loop and is not safe for concurrent use.
// The Frame and the DrawUpdate values it returns are reused by the next
// call and must not be retained.
type Decoder struct {
	validated   bool
	validations int

	frame   Frame
	scratch struct {
		undefined   Undefined
		sprites     DrawSprites
		projectiles DrawProjectileSprites
		terrainUp   UpdateTerrainChunk
		terrainDraw DrawTerrainChunk
		view        UpdateViewOffset
		gui         UpdateGui
		debug       DrawDebugInfo
	}
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Invalidate forces the next Frame call to re-validate the layout.
func (d *Decoder) Invalidate() { d.validated = false }

// Validated reports whether the current module instance passed validation.
func (d *Decoder) Validated() bool { return d.validated }

// Validations returns how many times validation has run to completion.
func (d *Decoder) Validations() int { return d.validations }

// Frame reads the FrameIndex at ptr. On the first call after construction
// or Invalidate, the pointer-size sentinel and then the validation constant
// are checked before anything else is trusted.
func (d *Decoder) Frame(mem Memory, ptr uint32) (*Frame, error) {
	if !d.validated {
		if err := validate(mem, ptr); err != nil {
			return nil, err
		}
		d.validated = true
		d.validations++
	}

	r := Reader{mem: mem}
	idx := FrameIndex{
		PointerSize: PointerSize,
		DrawUpdates: r.ReadSpan(ptr + offDrawUpdates),
		Sprites:     r.ReadSpan(ptr + offSprites),
		Projectiles: r.ReadSpan(ptr + offProjectiles),
		Terrain:     r.ReadSpan(ptr + offTerrain),
		GuiIndices:  r.ReadSpan(ptr + offGuiIndices),
		GuiVertices: r.ReadSpan(ptr + offGuiVertices),
		Validation:  ValidationMagic,
	}
	if err := r.Err(); err != nil {
		return nil, fault.Protocol("read frame index", err)
	}
	if err := checkSpan("draw updates", mem, idx.DrawUpdates, DrawUpdateStride); err != nil {
		return nil, err
	}

	d.frame = Frame{Index: idx, mem: mem, dec: d}
	return &d.frame, nil
}

func validate(mem Memory, ptr uint32) error {
	r := Reader{mem: mem}
	size := r.ReadD(ptr + offPointerSize)
	if err := r.Err(); err != nil {
		return fault.Protocol("validate layout", err)
	}
	if size != PointerSize {
		return fault.Protocolf("validate layout", "pointer size sentinel is %d, want %d", size, PointerSize)
	}
	magic := r.ReadD(ptr + offValidation)
	if err := r.Err(); err != nil {
		return fault.Protocol("validate layout", err)
	}
	if magic != ValidationMagic {
		return fault.Protocolf("validate layout", "validation constant is %d, want %d", magic, ValidationMagic)
	}
	return nil
}

func checkSpan(name string, mem Memory, s Span, stride uint32) error {
	n := uint64(s.Count) * uint64(stride)
	if n > 0xFFFFFFFF {
		return fault.Protocolf("read "+name, "%d records overflow the address space", s.Count)
	}
	if _, ok := mem.Read(s.Offset, uint32(n)); !ok {
		return fault.Protocolf("read "+name, "%d records at 0x%x are outside linear memory", s.Count, s.Offset)
	}
	return nil
}

// Frame is one decoded FrameIndex plus the memory it points into.
type Frame struct {
	Index FrameIndex

	mem Memory
	dec *Decoder
}

// Len returns the number of draw updates in the frame.
func (f *Frame) Len() int { return int(f.Index.DrawUpdates.Count) }

// DrawUpdate decodes record i. The returned value is overwritten by the
// next call for the same kind.
func (f *Frame) DrawUpdate(i int) (DrawUpdate, error) {
	if i < 0 || i >= f.Len() {
		return nil, fault.Protocolf("read draw update", "index %d out of range [0,%d)", i, f.Len())
	}
	base := f.Index.DrawUpdates.Offset + uint32(i)*DrawUpdateStride
	r := Reader{mem: f.mem}
	kind := Kind(r.ReadD(base))
	p := base + payloadOffset
	s := &f.dec.scratch

	var u DrawUpdate
	switch kind {
	case KindUndefined:
		u = &s.undefined
	case KindDrawSprites:
		s.sprites.SpriteBatch = readBatch(&r, p)
		u = &s.sprites
	case KindDrawProjectileSprites:
		s.projectiles.SpriteBatch = readBatch(&r, p)
		u = &s.projectiles
	case KindUpdateTerrainChunk:
		s.terrainUp = UpdateTerrainChunk{
			ChunkID:    r.ReadD(p),
			DataOffset: r.ReadD(p + 4),
			DataCount:  r.ReadD(p + 8),
			DstOffset:  r.ReadD(p + 12),
		}
		u = &s.terrainUp
	case KindDrawTerrainChunk:
		s.terrainDraw = DrawTerrainChunk{ChunkID: r.ReadD(p), X: r.ReadF(p + 4), Y: r.ReadF(p + 8)}
		u = &s.terrainDraw
	case KindUpdateViewOffset:
		s.view = UpdateViewOffset{X: r.ReadF(p), Y: r.ReadF(p + 4)}
		u = &s.view
	case KindUpdateGui:
		u = &s.gui
	case KindDrawDebugInfo:
		s.debug = DrawDebugInfo{
			IndexPtr:    r.ReadD(p),
			IndexCount:  r.ReadD(p + 4),
			VertexPtr:   r.ReadD(p + 8),
			VertexCount: r.ReadD(p + 12),
		}
		u = &s.debug
	default:
		return nil, fault.Protocolf("read draw update", "record %d has unknown kind %d", i, uint32(kind))
	}
	if err := r.Err(); err != nil {
		return nil, fault.Protocol("read draw update", err)
	}
	return u, nil
}

func readBatch(r *Reader, p uint32) SpriteBatch {
	return SpriteBatch{
		InstanceBase:  r.ReadD(p),
		InstanceCount: r.ReadD(p + 4),
		TextureID:     r.ReadD(p + 8),
	}
}

// SpriteInstances returns the raw sprite records selected by b.
func (f *Frame) SpriteInstances(b SpriteBatch) ([]byte, error) {
	return f.records("sprites", f.Index.Sprites, b.InstanceBase, b.InstanceCount, SpriteInstanceStride)
}

// ProjectileInstances returns the raw projectile records selected by b.
func (f *Frame) ProjectileInstances(b SpriteBatch) ([]byte, error) {
	return f.records("projectiles", f.Index.Projectiles, b.InstanceBase, b.InstanceCount, ProjectileInstanceStride)
}

// AllSpriteInstances returns the whole sprite span.
func (f *Frame) AllSpriteInstances() ([]byte, error) {
	return f.records("sprites", f.Index.Sprites, 0, f.Index.Sprites.Count, SpriteInstanceStride)
}

// AllProjectileInstances returns the whole projectile span.
func (f *Frame) AllProjectileInstances() ([]byte, error) {
	return f.records("projectiles", f.Index.Projectiles, 0, f.Index.Projectiles.Count, ProjectileInstanceStride)
}

// TerrainRecords returns the records an UpdateTerrainChunk refers to.
func (f *Frame) TerrainRecords(u *UpdateTerrainChunk) ([]byte, error) {
	return f.records("terrain", f.Index.Terrain, u.DataOffset, u.DataCount, TerrainRecordStride)
}

// GuiIndices returns the gui index span.
func (f *Frame) GuiIndices() ([]byte, error) {
	return f.records("gui indices", f.Index.GuiIndices, 0, f.Index.GuiIndices.Count, IndexStride)
}

// GuiVertices returns the gui vertex span.
func (f *Frame) GuiVertices() ([]byte, error) {
	return f.records("gui vertices", f.Index.GuiVertices, 0, f.Index.GuiVertices.Count, GuiVertexStride)
}

// DebugIndices returns the index data a DrawDebugInfo points at.
func (f *Frame) DebugIndices(u *DrawDebugInfo) ([]byte, error) {
	return f.records("debug indices", Span{u.IndexPtr, u.IndexCount}, 0, u.IndexCount, IndexStride)
}

// DebugVertices returns the vertex data a DrawDebugInfo points at.
func (f *Frame) DebugVertices(u *DrawDebugInfo) ([]byte, error) {
	return f.records("debug vertices", Span{u.VertexPtr, u.VertexCount}, 0, u.VertexCount, DebugVertexStride)
}

func (f *Frame) records(name string, s Span, first, count, stride uint32) ([]byte, error) {
	if uint64(first)+uint64(count) > uint64(s.Count) {
		return nil, fault.Protocolf("read "+name, "records [%d,%d) exceed span of %d", first, uint64(first)+uint64(count), s.Count)
	}
	start := uint64(s.Offset) + uint64(first)*uint64(stride)
	n := uint64(count) * uint64(stride)
	if start > 0xFFFFFFFF || n > 0xFFFFFFFF {
		return nil, fault.Protocolf("read "+name, "records at 0x%x overflow the address space", start)
	}
	b, ok := f.mem.Read(uint32(start), uint32(n))
	if !ok {
		return nil, fault.Protocol("read "+name, fmt.Errorf("%d bytes at 0x%x are outside linear memory", n, start))
	}
	return b, nil
}
