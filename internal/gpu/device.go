// Package gpu is the boundary to the drawing surface. The renderer talks to
// a Device only; backends map the opaque IDs to real objects.
package gpu

import (
	"github.com/gogpu/gputypes"
)

// Opaque handles. Zero is never a valid handle.
type (
	BufferID      uint64
	VertexArrayID uint64
	TextureID     uint64
	ProgramID     uint64
)

const InvalidID = 0

// BufferBinding attaches a vertex buffer to a layout slot of a vertex array.
type BufferBinding struct {
	Buffer BufferID
	Offset uint64
}

// VertexArrayDescriptor describes a draw-binding object: which buffers feed
// which layout slots and, optionally, the index buffer.
type VertexArrayDescriptor struct {
	Label       string
	Layouts     []gputypes.VertexBufferLayout
	Buffers     []BufferBinding
	Index       BufferID
	IndexFormat gputypes.IndexFormat
}

// ProgramDescriptor is a vertex/fragment pair plus the vertex layouts the
// program consumes.
type ProgramDescriptor struct {
	Label    string
	Vertex   []byte
	Fragment []byte
	Buffers  []gputypes.VertexBufferLayout
	Topology gputypes.PrimitiveTopology
}

// DrawCall is one submitted draw. Offset is the translation uniform: the
// view offset for world-space layers, the chunk origin for terrain.
type DrawCall struct {
	Program       ProgramID
	VertexArray   VertexArrayID
	Texture       TextureID
	Topology      gputypes.PrimitiveTopology
	Count         uint32 // vertices per instance, or indices when Indexed
	InstanceCount uint32
	Indexed       bool
	First         uint32 // first index when Indexed
	BaseVertex    int32
	Offset        [2]float32
}

// Device is the subset of a GPU API the renderer needs.
//
// Buffers are never resized in place; growth is a new buffer plus
// CopyBuffer. RebindVertexArray re-points an existing vertex array at other
// buffer regions without allocating a new one.
type Device interface {
	CreateBuffer(desc gputypes.BufferDescriptor) (BufferID, error)
	WriteBuffer(buf BufferID, offset uint64, data []byte) error
	CopyBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset, size uint64) error
	DestroyBuffer(buf BufferID)

	CreateVertexArray(desc VertexArrayDescriptor) (VertexArrayID, error)
	RebindVertexArray(va VertexArrayID, buffers []BufferBinding) error
	DestroyVertexArray(va VertexArrayID)

	CreateTexture(desc gputypes.TextureDescriptor, rgba []byte) (TextureID, error)
	ReplaceTexture(tex TextureID, desc gputypes.TextureDescriptor, rgba []byte) error
	DestroyTexture(tex TextureID)

	CompileProgram(desc ProgramDescriptor) (ProgramID, error)

	BeginFrame(clear gputypes.Color) error
	Submit(dc DrawCall) error
	EndFrame() error
}

// TextureDescriptor returns the descriptor for a sampled RGBA8 texture.
func TextureDescriptor(label string, width, height uint32) gputypes.TextureDescriptor {
	return gputypes.TextureDescriptor{
		Label:         label,
		Size:          gputypes.NewExtent2D(width, height),
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding,
	}
}
