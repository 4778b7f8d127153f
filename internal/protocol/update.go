package protocol

// DrawUpdate is one decoded record of the draw-update stream. The concrete
// type is one of the variants below; the set is closed.
type DrawUpdate interface {
	Kind() Kind
	drawUpdate()
}

// SpriteBatch selects InstanceCount records starting at InstanceBase
// (in records) from the sprite or projectile span.
type SpriteBatch struct {
	InstanceBase  uint32
	InstanceCount uint32
	TextureID     uint32
}

// Undefined is a zero-kind slot. It carries no work.
type Undefined struct{}

type DrawSprites struct{ SpriteBatch }

type DrawProjectileSprites struct{ SpriteBatch }

// UpdateTerrainChunk copies DataCount terrain records starting at record
// DataOffset into the chunk's buffer at byte DstOffset.
type UpdateTerrainChunk struct {
	ChunkID    uint32
	DataOffset uint32
	DataCount  uint32
	DstOffset  uint32
}

type DrawTerrainChunk struct {
	ChunkID uint32
	X, Y    float32
}

type UpdateViewOffset struct {
	X, Y float32
}

// UpdateGui re-uploads the gui index and vertex spans of the FrameIndex.
type UpdateGui struct{}

// DrawDebugInfo points at debug geometry by absolute address.
type DrawDebugInfo struct {
	IndexPtr    uint32
	IndexCount  uint32
	VertexPtr   uint32
	VertexCount uint32
}

func (*Undefined) Kind() Kind             { return KindUndefined }
func (*DrawSprites) Kind() Kind           { return KindDrawSprites }
func (*DrawProjectileSprites) Kind() Kind { return KindDrawProjectileSprites }
func (*UpdateTerrainChunk) Kind() Kind    { return KindUpdateTerrainChunk }
func (*DrawTerrainChunk) Kind() Kind      { return KindDrawTerrainChunk }
func (*UpdateViewOffset) Kind() Kind      { return KindUpdateViewOffset }
func (*UpdateGui) Kind() Kind             { return KindUpdateGui }
func (*DrawDebugInfo) Kind() Kind         { return KindDrawDebugInfo }

func (*Undefined) drawUpdate()             {}
func (*DrawSprites) drawUpdate()           {}
func (*DrawProjectileSprites) drawUpdate() {}
func (*UpdateTerrainChunk) drawUpdate()    {}
func (*DrawTerrainChunk) drawUpdate()      {}
func (*UpdateViewOffset) drawUpdate()      {}
func (*UpdateGui) drawUpdate()             {}
func (*DrawDebugInfo) drawUpdate()         {}
