package render

import (
	"github.com/gogpu/gputypes"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/gpu"
	"github.com/demogame/runtime/internal/protocol"
)

// GeometrySize is the initial capacity of a GeometryPool, in vertices and
// indices, plus the slack added on growth.
type GeometrySize struct {
	Vertices uint32
	Indices  uint32
	Slack    uint32
}

// GeometryPool holds one growable vertex+index buffer pair for indexed
// geometry (gui, debug). Growth reallocates both buffers and rebuilds the
// vertex array; otherwise the same objects are reused every frame.
type GeometryPool struct {
	dev      gpu.Device
	log      *zap.Logger
	label    string
	layout   gputypes.VertexBufferLayout
	program  gpu.ProgramID
	topology gputypes.PrimitiveTopology
	slack    uint32

	vbuf, ibuf gpu.BufferID
	vcap, icap uint32
	vused      uint32
	iused      uint32
	array      gpu.VertexArrayID
	rebuilds   int
}

func NewGeometryPool(dev gpu.Device, label string, layout gputypes.VertexBufferLayout, program gpu.ProgramID,
	topology gputypes.PrimitiveTopology, size GeometrySize, log *zap.Logger) (*GeometryPool, error) {
	if size.Vertices == 0 {
		size.Vertices = 1
	}
	if size.Indices == 0 {
		size.Indices = 1
	}
	p := &GeometryPool{dev: dev, log: log, label: label, layout: layout, program: program, topology: topology, slack: size.Slack}
	if err := p.allocate(size.Vertices, size.Indices); err != nil {
		return nil, fault.Resource("create "+label+" geometry", true, err)
	}
	return p, nil
}

func (p *GeometryPool) allocate(vcap, icap uint32) error {
	vbuf, err := p.dev.CreateBuffer(gputypes.BufferDescriptor{
		Label: p.label + " vertices",
		Size:  uint64(vcap) * p.layout.ArrayStride,
		Usage: gpu.VertexUsage,
	})
	if err != nil {
		return err
	}
	ibuf, err := p.dev.CreateBuffer(gputypes.BufferDescriptor{
		Label: p.label + " indices",
		Size:  alignIndexBytes(uint64(icap) * protocol.IndexStride),
		Usage: gpu.IndexUsage,
	})
	if err != nil {
		p.dev.DestroyBuffer(vbuf)
		return err
	}
	va, err := p.dev.CreateVertexArray(gpu.VertexArrayDescriptor{
		Label:       p.label,
		Layouts:     []gputypes.VertexBufferLayout{p.layout},
		Buffers:     []gpu.BufferBinding{{Buffer: vbuf}},
		Index:       ibuf,
		IndexFormat: gputypes.IndexFormatUint16,
	})
	if err != nil {
		p.dev.DestroyBuffer(vbuf)
		p.dev.DestroyBuffer(ibuf)
		return err
	}
	p.vbuf, p.ibuf, p.array = vbuf, ibuf, va
	p.vcap, p.icap = vcap, icap
	return nil
}

// Index buffers are sized to a multiple of 4 bytes.
func alignIndexBytes(n uint64) uint64 { return (n + 3) &^ 3 }

// Reset discards the geometry written so far. Capacity is kept.
func (p *GeometryPool) Reset() {
	p.vused = 0
	p.iused = 0
}

// Append uploads one piece of indexed geometry after what was written since
// the last Reset and returns its draw. Indices are relative to the piece's
// own vertices.
func (p *GeometryPool) Append(indices, vertices []byte) (gpu.DrawCall, error) {
	stride := uint32(p.layout.ArrayStride)
	if len(indices)%protocol.IndexStride != 0 || uint32(len(vertices))%stride != 0 {
		return gpu.DrawCall{}, fault.Protocolf("append "+p.label, "misaligned geometry: %d index bytes, %d vertex bytes", len(indices), len(vertices))
	}
	ni := uint32(len(indices) / protocol.IndexStride)
	nv := uint32(len(vertices)) / stride
	if p.iused+ni > p.icap || p.vused+nv > p.vcap {
		if err := p.grow(p.vused+nv, p.iused+ni); err != nil {
			return gpu.DrawCall{}, err
		}
	}
	if nv > 0 {
		if err := p.dev.WriteBuffer(p.vbuf, uint64(p.vused)*uint64(stride), vertices); err != nil {
			return gpu.DrawCall{}, fault.Resource("write "+p.label+" vertices", false, err)
		}
	}
	if ni > 0 {
		if err := p.dev.WriteBuffer(p.ibuf, uint64(p.iused)*protocol.IndexStride, indices); err != nil {
			return gpu.DrawCall{}, fault.Resource("write "+p.label+" indices", false, err)
		}
	}
	dc := gpu.DrawCall{
		Program:       p.program,
		VertexArray:   p.array,
		Topology:      p.topology,
		Count:         ni,
		InstanceCount: 1,
		Indexed:       true,
		First:         p.iused,
		BaseVertex:    int32(p.vused),
	}
	p.vused += nv
	p.iused += ni
	return dc, nil
}

// grow reallocates both buffers with slack, keeps the geometry already
// written and rebuilds the vertex array. On failure the old buffers and
// array stay current.
func (p *GeometryPool) grow(needV, needI uint32) error {
	oldV, oldI, oldVA := p.vbuf, p.ibuf, p.array
	oldVCap, oldICap := p.vcap, p.icap
	vcap, icap := p.vcap, p.icap
	if needV > vcap {
		vcap = needV + p.slack
	}
	if needI > icap {
		icap = needI + p.slack
	}
	if err := p.allocate(vcap, icap); err != nil {
		return fault.Resource("grow "+p.label+" geometry", false, err)
	}
	rollback := func(err error) error {
		p.release()
		p.vbuf, p.ibuf, p.array = oldV, oldI, oldVA
		p.vcap, p.icap = oldVCap, oldICap
		return fault.Resource("grow "+p.label+" geometry", false, err)
	}
	if p.vused > 0 {
		if err := p.dev.CopyBuffer(oldV, 0, p.vbuf, 0, uint64(p.vused)*p.layout.ArrayStride); err != nil {
			return rollback(err)
		}
	}
	if p.iused > 0 {
		if err := p.dev.CopyBuffer(oldI, 0, p.ibuf, 0, uint64(p.iused)*protocol.IndexStride); err != nil {
			return rollback(err)
		}
	}
	p.dev.DestroyVertexArray(oldVA)
	p.dev.DestroyBuffer(oldV)
	p.dev.DestroyBuffer(oldI)
	p.rebuilds++
	p.log.Debug("geometry grown",
		zap.String("pool", p.label),
		zap.Uint32("vertices", vcap),
		zap.Uint32("indices", icap))
	return nil
}

// Capacity returns the vertex and index capacity.
func (p *GeometryPool) Capacity() (vertices, indices uint32) { return p.vcap, p.icap }

// Array returns the current vertex array.
func (p *GeometryPool) Array() gpu.VertexArrayID { return p.array }

// Rebuilds returns how many times the buffers were reallocated.
func (p *GeometryPool) Rebuilds() int { return p.rebuilds }

func (p *GeometryPool) release() {
	p.dev.DestroyVertexArray(p.array)
	p.dev.DestroyBuffer(p.vbuf)
	p.dev.DestroyBuffer(p.ibuf)
}
