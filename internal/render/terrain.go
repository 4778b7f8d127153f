package render

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/gpu"
	"github.com/demogame/runtime/internal/protocol"
)

type chunkEntry struct {
	buffer gpu.BufferID
	array  gpu.VertexArrayID
}

// TerrainPool keeps one persistent buffer and vertex array per terrain
// chunk for the whole session. Updating and drawing a chunk are separate:
// a chunk is uploaded once and drawn every frame from the same objects.
type TerrainPool struct {
	dev     gpu.Device
	log     *zap.Logger
	program gpu.ProgramID
	chunks  map[uint32]*chunkEntry
}

func NewTerrainPool(dev gpu.Device, program gpu.ProgramID, log *zap.Logger) *TerrainPool {
	return &TerrainPool{dev: dev, log: log, program: program, chunks: make(map[uint32]*chunkEntry)}
}

// Update writes terrain records at byte dstOffset of the chunk's buffer,
// creating the chunk on first update. Writes past the chunk are a protocol
// violation.
func (p *TerrainPool) Update(chunkID, dstOffset uint32, data []byte) error {
	if uint64(dstOffset)+uint64(len(data)) > protocol.ChunkBufferSize {
		return fault.Protocolf("update terrain chunk",
			"chunk %d: write [%d,%d) exceeds %d bytes", chunkID, dstOffset, uint64(dstOffset)+uint64(len(data)), protocol.ChunkBufferSize)
	}
	c, ok := p.chunks[chunkID]
	if !ok {
		var err error
		if c, err = p.create(chunkID); err != nil {
			return err
		}
	}
	if len(data) == 0 {
		return nil
	}
	if err := p.dev.WriteBuffer(c.buffer, uint64(dstOffset), data); err != nil {
		return fault.Resource("update terrain chunk", false, fmt.Errorf("chunk %d: %w", chunkID, err))
	}
	return nil
}

func (p *TerrainPool) create(chunkID uint32) (*chunkEntry, error) {
	buf, err := p.dev.CreateBuffer(gputypes.BufferDescriptor{
		Label: fmt.Sprintf("terrain chunk %d", chunkID),
		Size:  protocol.ChunkBufferSize,
		Usage: gpu.VertexUsage,
	})
	if err != nil {
		return nil, fault.Resource("create terrain chunk", false, err)
	}
	va, err := p.dev.CreateVertexArray(gpu.VertexArrayDescriptor{
		Label:   fmt.Sprintf("terrain chunk %d", chunkID),
		Layouts: []gputypes.VertexBufferLayout{gpu.TerrainLayout},
		Buffers: []gpu.BufferBinding{{Buffer: buf}},
	})
	if err != nil {
		p.dev.DestroyBuffer(buf)
		return nil, fault.Resource("create terrain chunk", false, err)
	}
	c := &chunkEntry{buffer: buf, array: va}
	p.chunks[chunkID] = c
	p.log.Debug("terrain chunk created", zap.Uint32("chunk", chunkID))
	return c, nil
}

// Draw returns the draw for a chunk placed at (x, y). It reports false for
// a chunk that has never been updated.
func (p *TerrainPool) Draw(chunkID uint32, x, y float32, tex gpu.TextureID) (gpu.DrawCall, bool) {
	c, ok := p.chunks[chunkID]
	if !ok {
		return gpu.DrawCall{}, false
	}
	return gpu.DrawCall{
		Program:       p.program,
		VertexArray:   c.array,
		Texture:       tex,
		Topology:      gputypes.PrimitiveTopologyTriangleStrip,
		Count:         4,
		InstanceCount: protocol.ChunkCells,
		Offset:        [2]float32{x, y},
	}, true
}

// Len returns the number of live chunks.
func (p *TerrainPool) Len() int { return len(p.chunks) }

// Buffer returns the buffer of a chunk.
func (p *TerrainPool) Buffer(chunkID uint32) (gpu.BufferID, bool) {
	c, ok := p.chunks[chunkID]
	if !ok {
		return gpu.InvalidID, false
	}
	return c.buffer, true
}

func (p *TerrainPool) release() {
	for id, c := range p.chunks {
		p.dev.DestroyVertexArray(c.array)
		p.dev.DestroyBuffer(c.buffer)
		delete(p.chunks, id)
	}
}
