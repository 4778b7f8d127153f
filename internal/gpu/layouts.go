package gpu

import (
	"github.com/gogpu/gputypes"

	"github.com/demogame/runtime/internal/protocol"
)

// Usage sets for the renderer's buffers. Instance and geometry buffers are
// copy sources so growth can preserve their content on the GPU.
const (
	VertexUsage = gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	IndexUsage  = gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
)

var spriteAttributes = []gputypes.VertexAttribute{
	{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},  // pos
	{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},  // size
	{Format: gputypes.VertexFormatFloat32x2, Offset: 16, ShaderLocation: 2}, // tex offset
	{Format: gputypes.VertexFormatFloat32x2, Offset: 24, ShaderLocation: 3}, // tex size
	{Format: gputypes.VertexFormatSint32, Offset: 32, ShaderLocation: 4},    // flags
}

// SpriteLayout is one sprite instance per step.
var SpriteLayout = gputypes.VertexBufferLayout{
	ArrayStride: protocol.SpriteInstanceStride,
	StepMode:    gputypes.VertexStepModeInstance,
	Attributes:  spriteAttributes,
}

// ProjectileLayout extends SpriteLayout with a rotation.
var ProjectileLayout = gputypes.VertexBufferLayout{
	ArrayStride: protocol.ProjectileInstanceStride,
	StepMode:    gputypes.VertexStepModeInstance,
	Attributes: append(append([]gputypes.VertexAttribute(nil), spriteAttributes...),
		gputypes.VertexAttribute{Format: gputypes.VertexFormatFloat32, Offset: 36, ShaderLocation: 5}),
}

// TerrainLayout is one cell per step: the texcoords of its four corners.
var TerrainLayout = gputypes.VertexBufferLayout{
	ArrayStride: protocol.TerrainRecordStride,
	StepMode:    gputypes.VertexStepModeInstance,
	Attributes: []gputypes.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 0},
		{Format: gputypes.VertexFormatFloat32x4, Offset: 16, ShaderLocation: 1},
	},
}

var GuiLayout = gputypes.VertexBufferLayout{
	ArrayStride: protocol.GuiVertexStride,
	StepMode:    gputypes.VertexStepModeVertex,
	Attributes: []gputypes.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
		{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1},
		{Format: gputypes.VertexFormatUnorm8x4, Offset: 16, ShaderLocation: 2},
	},
}

var DebugLayout = gputypes.VertexBufferLayout{
	ArrayStride: protocol.DebugVertexStride,
	StepMode:    gputypes.VertexStepModeVertex,
	Attributes: []gputypes.VertexAttribute{
		{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0},
		{Format: gputypes.VertexFormatUnorm8x4, Offset: 8, ShaderLocation: 1},
	},
}
