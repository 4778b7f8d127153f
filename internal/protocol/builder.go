package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FrameBuilder assembles a layout v1 frame: the draw-update stream plus the
// record spans it refers to. Hosted simulations and tools use it to publish
// frames into a LinearMemory.
type FrameBuilder struct {
	updates     []byte
	sprites     []byte
	projectiles []byte
	terrain     []byte
	guiIndices  []byte
	guiVertices []byte
	debugIdx    []byte
	debugVtx    []byte

	// Byte positions in updates of DrawDebugInfo pointer fields, which are
	// relative to the debug regions until Encode.
	debugPatches []int
}

func NewFrameBuilder() *FrameBuilder {
	return &FrameBuilder{updates: make([]byte, 0, 16*DrawUpdateStride)}
}

// Reset clears the builder for the next frame, keeping its storage.
func (b *FrameBuilder) Reset() {
	b.updates = b.updates[:0]
	b.sprites = b.sprites[:0]
	b.projectiles = b.projectiles[:0]
	b.terrain = b.terrain[:0]
	b.guiIndices = b.guiIndices[:0]
	b.guiVertices = b.guiVertices[:0]
	b.debugIdx = b.debugIdx[:0]
	b.debugVtx = b.debugVtx[:0]
	b.debugPatches = b.debugPatches[:0]
}

// Len returns the number of draw updates written so far.
func (b *FrameBuilder) Len() int { return len(b.updates) / DrawUpdateStride }

// DrawSprites appends sprite instance records and a draw for them.
func (b *FrameBuilder) DrawSprites(textureID uint32, instances []byte) error {
	if len(instances)%SpriteInstanceStride != 0 {
		return fmt.Errorf("sprite data of %d bytes is not a multiple of %d", len(instances), SpriteInstanceStride)
	}
	base := uint32(len(b.sprites) / SpriteInstanceStride)
	b.sprites = append(b.sprites, instances...)
	b.writeUpdate(KindDrawSprites, base, uint32(len(instances)/SpriteInstanceStride), textureID, 0)
	return nil
}

// DrawProjectiles appends projectile instance records and a draw for them.
func (b *FrameBuilder) DrawProjectiles(textureID uint32, instances []byte) error {
	if len(instances)%ProjectileInstanceStride != 0 {
		return fmt.Errorf("projectile data of %d bytes is not a multiple of %d", len(instances), ProjectileInstanceStride)
	}
	base := uint32(len(b.projectiles) / ProjectileInstanceStride)
	b.projectiles = append(b.projectiles, instances...)
	b.writeUpdate(KindDrawProjectileSprites, base, uint32(len(instances)/ProjectileInstanceStride), textureID, 0)
	return nil
}

// UpdateTerrainChunk appends terrain records destined for byte dstOffset of
// the chunk's buffer.
func (b *FrameBuilder) UpdateTerrainChunk(chunkID, dstOffset uint32, records []byte) error {
	if len(records)%TerrainRecordStride != 0 {
		return fmt.Errorf("terrain data of %d bytes is not a multiple of %d", len(records), TerrainRecordStride)
	}
	if int(dstOffset)+len(records) > ChunkBufferSize {
		return fmt.Errorf("terrain update [%d,%d) exceeds chunk size %d", dstOffset, int(dstOffset)+len(records), ChunkBufferSize)
	}
	first := uint32(len(b.terrain) / TerrainRecordStride)
	b.terrain = append(b.terrain, records...)
	b.writeUpdate(KindUpdateTerrainChunk, chunkID, first, uint32(len(records)/TerrainRecordStride), dstOffset)
	return nil
}

func (b *FrameBuilder) DrawTerrainChunk(chunkID uint32, x, y float32) {
	b.writeUpdate(KindDrawTerrainChunk, chunkID, math.Float32bits(x), math.Float32bits(y), 0)
}

func (b *FrameBuilder) UpdateViewOffset(x, y float32) {
	b.writeUpdate(KindUpdateViewOffset, math.Float32bits(x), math.Float32bits(y), 0, 0)
}

// UpdateGui replaces the frame's gui geometry and emits an UpdateGui.
func (b *FrameBuilder) UpdateGui(indices, vertices []byte) error {
	if len(indices)%IndexStride != 0 || len(vertices)%GuiVertexStride != 0 {
		return fmt.Errorf("gui geometry of %d/%d bytes is misaligned", len(indices), len(vertices))
	}
	b.guiIndices = append(b.guiIndices[:0], indices...)
	b.guiVertices = append(b.guiVertices[:0], vertices...)
	b.writeUpdate(KindUpdateGui, 0, 0, 0, 0)
	return nil
}

// DrawDebugInfo appends debug geometry and a draw pointing at it.
func (b *FrameBuilder) DrawDebugInfo(indices, vertices []byte) error {
	if len(indices)%IndexStride != 0 || len(vertices)%DebugVertexStride != 0 {
		return fmt.Errorf("debug geometry of %d/%d bytes is misaligned", len(indices), len(vertices))
	}
	at := len(b.updates) + payloadOffset
	b.debugPatches = append(b.debugPatches, at)
	b.writeUpdate(KindDrawDebugInfo,
		uint32(len(b.debugIdx)), uint32(len(indices)/IndexStride),
		uint32(len(b.debugVtx)), uint32(len(vertices)/DebugVertexStride))
	b.debugIdx = append(b.debugIdx, indices...)
	b.debugVtx = append(b.debugVtx, vertices...)
	return nil
}

// Raw appends an arbitrary record. Payload words are written verbatim.
func (b *FrameBuilder) Raw(kind Kind, w0, w1, w2, w3 uint32) {
	b.writeUpdate(kind, w0, w1, w2, w3)
}

func (b *FrameBuilder) writeUpdate(kind Kind, w0, w1, w2, w3 uint32) {
	b.updates = binary.LittleEndian.AppendUint32(b.updates, uint32(kind))
	b.updates = binary.LittleEndian.AppendUint32(b.updates, w0)
	b.updates = binary.LittleEndian.AppendUint32(b.updates, w1)
	b.updates = binary.LittleEndian.AppendUint32(b.updates, w2)
	b.updates = binary.LittleEndian.AppendUint32(b.updates, w3)
}

// Size returns how many bytes Encode writes.
func (b *FrameBuilder) Size() int {
	n := IndexSize
	for _, part := range b.parts() {
		n = align4(n) + len(part)
	}
	return n
}

func (b *FrameBuilder) parts() [8][]byte {
	return [8][]byte{b.updates, b.sprites, b.projectiles, b.terrain, b.guiIndices, b.guiVertices, b.debugIdx, b.debugVtx}
}

// Encode writes the FrameIndex at base followed by every region, and
// returns the FrameIndex address and the first free byte after the frame.
func (b *FrameBuilder) Encode(mem LinearMemory, base uint32) (ptr, end uint32, err error) {
	if base%4 != 0 {
		return 0, 0, fmt.Errorf("frame base 0x%x is not 4-byte aligned", base)
	}
	if uint64(base)+uint64(b.Size()) > uint64(len(mem)) {
		return 0, 0, fmt.Errorf("frame of %d bytes does not fit at 0x%x in %d bytes", b.Size(), base, len(mem))
	}
	var offs [8]uint32
	at := int(base) + IndexSize
	for i, part := range b.parts() {
		at = align4(at)
		offs[i] = uint32(at)
		copy(mem[at:], part)
		at += len(part)
	}
	for _, p := range b.debugPatches {
		q := offs[0] + uint32(p)
		mem.PutU32(q, binary.LittleEndian.Uint32(mem[q:])+offs[6])
		mem.PutU32(q+8, binary.LittleEndian.Uint32(mem[q+8:])+offs[7])
	}

	mem.PutU32(base+offPointerSize, PointerSize)
	putSpan(mem, base+offDrawUpdates, offs[0], uint32(len(b.updates)/DrawUpdateStride))
	putSpan(mem, base+offSprites, offs[1], uint32(len(b.sprites)/SpriteInstanceStride))
	putSpan(mem, base+offProjectiles, offs[2], uint32(len(b.projectiles)/ProjectileInstanceStride))
	putSpan(mem, base+offTerrain, offs[3], uint32(len(b.terrain)/TerrainRecordStride))
	putSpan(mem, base+offGuiIndices, offs[4], uint32(len(b.guiIndices)/IndexStride))
	putSpan(mem, base+offGuiVertices, offs[5], uint32(len(b.guiVertices)/GuiVertexStride))
	mem.PutU32(base+offValidation, ValidationMagic)
	return base, uint32(at), nil
}

func putSpan(mem LinearMemory, addr, off, count uint32) {
	mem.PutU32(addr, off)
	mem.PutU32(addr+spanCountFieldDelta, count)
}

func align4(n int) int { return (n + 3) &^ 3 }
