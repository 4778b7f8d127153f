// Package protocol reads the per-frame draw-update stream a simulation
// module publishes in its linear memory.
//
// Every field is a fixed-width little-endian value at a fixed offset. The
// layout is internal-versioned: host and simulation must agree on it
// exactly, which is checked once per loaded module instance through the
// pointer-size sentinel and the validation constant of the FrameIndex.
package protocol

import "fmt"

// Layout v1. If any of these change, ValidationMagic must change too.
const (
	PointerSize     = 4     // wasm32 pointers
	ValidationMagic = 33355 // trailing FrameIndex constant

	IndexSize        = 56
	DrawUpdateStride = 20 // u32 kind + 16 payload bytes
	payloadOffset    = 4

	SpriteInstanceStride     = 36 // pos2 size2 texoffset2 texsize2 f32, flags i32
	ProjectileInstanceStride = 40 // sprite instance + rotation f32
	TerrainRecordStride      = 32 // 4 x vec2 f32 texcoords
	GuiVertexStride          = 20 // pos2 uv2 f32, rgba u32
	DebugVertexStride        = 12 // pos2 f32, rgba u32
	IndexStride              = 2  // u16 indices

	ChunkSide       = 16
	ChunkCells      = ChunkSide * ChunkSide
	ChunkBufferSize = ChunkCells * TerrainRecordStride
)

// FrameIndex field offsets.
const (
	offPointerSize      = 0
	offDrawUpdates      = 4
	offSprites          = 12
	offProjectiles      = 20
	offTerrain          = 28
	offGuiIndices       = 36
	offGuiVertices      = 44
	offValidation       = 52
	spanCountFieldDelta = 4
)

// Kind is the DrawUpdate discriminant.
type Kind uint32

const (
	KindUndefined Kind = iota
	KindDrawSprites
	KindDrawProjectileSprites
	KindUpdateTerrainChunk
	KindDrawTerrainChunk
	KindUpdateViewOffset
	KindUpdateGui
	KindDrawDebugInfo

	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "Undefined"
	case KindDrawSprites:
		return "DrawSprites"
	case KindDrawProjectileSprites:
		return "DrawProjectileSprites"
	case KindUpdateTerrainChunk:
		return "UpdateTerrainChunk"
	case KindDrawTerrainChunk:
		return "DrawTerrainChunk"
	case KindUpdateViewOffset:
		return "UpdateViewOffset"
	case KindUpdateGui:
		return "UpdateGui"
	case KindDrawDebugInfo:
		return "DrawDebugInfo"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(k))
	}
}

// Valid reports whether k is part of layout v1.
func (k Kind) Valid() bool { return k < kindCount }

// Span is an (offset, count) pair of the FrameIndex. Offset is a byte
// address in linear memory, Count is in records.
type Span struct {
	Offset uint32
	Count  uint32
}

// FrameIndex is the header record the simulation publishes each frame.
type FrameIndex struct {
	PointerSize uint32
	DrawUpdates Span
	Sprites     Span
	Projectiles Span
	Terrain     Span
	GuiIndices  Span
	GuiVertices Span
	Validation  uint32
}
