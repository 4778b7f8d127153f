package render

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/gpu"
)

// PoolSize is the initial capacity and the growth slack of a pool, both in
// records.
type PoolSize struct {
	Initial uint32
	Slack   uint32
}

// SpritePool packs every instanced batch of one domain (sprites or
// projectiles) into a single shared instance buffer. Batches of a frame
// occupy disjoint back-to-back regions; each is drawn through a vertex
// array from a pool that is re-pointed rather than reallocated.
type SpritePool struct {
	dev     gpu.Device
	log     *zap.Logger
	label   string
	layout  gputypes.VertexBufferLayout
	program gpu.ProgramID
	size    PoolSize

	buffer   gpu.BufferID
	capacity uint32 // records
	used     uint32 // records written this frame

	arrays     []gpu.VertexArrayID
	regions    []uint32 // first record of arrays[i] this frame
	arraysUsed int
}

// NewSpritePool allocates the initial instance buffer. Failures here are
// part of default setup and therefore fatal.
func NewSpritePool(dev gpu.Device, label string, layout gputypes.VertexBufferLayout, program gpu.ProgramID, size PoolSize, log *zap.Logger) (*SpritePool, error) {
	if size.Initial == 0 {
		size.Initial = 1
	}
	p := &SpritePool{dev: dev, log: log, label: label, layout: layout, program: program, size: size}
	buf, err := dev.CreateBuffer(p.descriptor(size.Initial))
	if err != nil {
		return nil, fault.Resource("create "+label+" buffer", true, err)
	}
	p.buffer = buf
	p.capacity = size.Initial
	return p, nil
}

func (p *SpritePool) stride() uint32 { return uint32(p.layout.ArrayStride) }

func (p *SpritePool) descriptor(records uint32) gputypes.BufferDescriptor {
	return gputypes.BufferDescriptor{
		Label: p.label + " instances",
		Size:  uint64(records) * p.layout.ArrayStride,
		Usage: gpu.VertexUsage,
	}
}

// BeginFrame resets the per-frame counters. Capacity is kept.
func (p *SpritePool) BeginFrame() {
	p.used = 0
	p.arraysUsed = 0
}

// Push uploads one batch of raw instance records and returns the draw for
// it. A failed push leaves earlier batches of the frame intact.
func (p *SpritePool) Push(data []byte, tex gpu.TextureID) (gpu.DrawCall, error) {
	stride := p.stride()
	if uint32(len(data))%stride != 0 {
		return gpu.DrawCall{}, fault.Protocolf("push "+p.label, "%d bytes is not a multiple of stride %d", len(data), stride)
	}
	n := uint32(len(data)) / stride
	if need := p.used + n; need > p.capacity {
		if err := p.grow(need); err != nil {
			return gpu.DrawCall{}, err
		}
	}
	first := p.used
	if err := p.dev.WriteBuffer(p.buffer, uint64(first)*uint64(stride), data); err != nil {
		return gpu.DrawCall{}, fault.Resource("write "+p.label+" instances", false, err)
	}
	va, err := p.bind(first)
	if err != nil {
		return gpu.DrawCall{}, err
	}
	p.used += n
	return gpu.DrawCall{
		Program:       p.program,
		VertexArray:   va,
		Texture:       tex,
		Topology:      gputypes.PrimitiveTopologyTriangleStrip,
		Count:         4,
		InstanceCount: n,
	}, nil
}

// bind returns a vertex array pointing at record first, re-pointing an
// idle pooled one when available.
func (p *SpritePool) bind(first uint32) (gpu.VertexArrayID, error) {
	binding := []gpu.BufferBinding{{Buffer: p.buffer, Offset: uint64(first) * p.layout.ArrayStride}}
	if p.arraysUsed < len(p.arrays) {
		va := p.arrays[p.arraysUsed]
		if err := p.dev.RebindVertexArray(va, binding); err != nil {
			return gpu.InvalidID, fault.Resource("rebind "+p.label+" vertex array", false, err)
		}
		p.regions[p.arraysUsed] = first
		p.arraysUsed++
		return va, nil
	}
	va, err := p.dev.CreateVertexArray(gpu.VertexArrayDescriptor{
		Label:   p.label,
		Layouts: []gputypes.VertexBufferLayout{p.layout},
		Buffers: binding,
	})
	if err != nil {
		return gpu.InvalidID, fault.Resource("create "+p.label+" vertex array", false, err)
	}
	p.arrays = append(p.arrays, va)
	p.regions = append(p.regions, first)
	p.arraysUsed++
	return va, nil
}

// grow replaces the instance buffer with one of need+slack records, copies
// the records already written this frame and re-points the vertex arrays
// that reference them. On failure the old buffer stays current and every
// array that was already moved is pointed back at it.
func (p *SpritePool) grow(need uint32) error {
	newCap := need + p.size.Slack
	next, err := p.dev.CreateBuffer(p.descriptor(newCap))
	if err != nil {
		return fault.Resource("grow "+p.label+" buffer", false, err)
	}
	if p.used > 0 {
		if err := p.dev.CopyBuffer(p.buffer, 0, next, 0, uint64(p.used)*p.layout.ArrayStride); err != nil {
			p.dev.DestroyBuffer(next)
			return fault.Resource("grow "+p.label+" buffer", false, err)
		}
	}
	old := p.buffer
	for i := 0; i < p.arraysUsed; i++ {
		if err := p.dev.RebindVertexArray(p.arrays[i], p.regionBinding(next, i)); err != nil {
			for j := 0; j < i; j++ {
				if rerr := p.dev.RebindVertexArray(p.arrays[j], p.regionBinding(old, j)); rerr != nil {
					p.log.Warn("回復頂點陣列失敗", zap.String("pool", p.label), zap.Int("array", j), zap.Error(rerr))
				}
			}
			p.dev.DestroyBuffer(next)
			return fault.Resource("grow "+p.label+" buffer", false, fmt.Errorf("rebind array %d: %w", i, err))
		}
	}
	p.buffer = next
	// Idle arrays still point at the old buffer; they are re-pointed on reuse.
	p.dev.DestroyBuffer(old)
	p.log.Debug("instance buffer grown",
		zap.String("pool", p.label),
		zap.Uint32("from", p.capacity),
		zap.Uint32("to", newCap))
	p.capacity = newCap
	return nil
}

func (p *SpritePool) regionBinding(buf gpu.BufferID, i int) []gpu.BufferBinding {
	return []gpu.BufferBinding{{Buffer: buf, Offset: uint64(p.regions[i]) * p.layout.ArrayStride}}
}

// Capacity returns the instance buffer size in records.
func (p *SpritePool) Capacity() uint32 { return p.capacity }

// Used returns the records written this frame.
func (p *SpritePool) Used() uint32 { return p.used }

// Arrays returns the number of pooled vertex arrays.
func (p *SpritePool) Arrays() int { return len(p.arrays) }

func (p *SpritePool) release() {
	for _, va := range p.arrays {
		p.dev.DestroyVertexArray(va)
	}
	p.arrays, p.regions = nil, nil
	p.dev.DestroyBuffer(p.buffer)
}
