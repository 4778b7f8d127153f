package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/demogame/runtime/internal/core/fault"
)

// Op names a Device method for failure injection.
type Op int

const (
	OpCreateBuffer Op = iota
	OpWriteBuffer
	OpCopyBuffer
	OpCreateVertexArray
	OpRebindVertexArray
	OpCreateTexture
	OpReplaceTexture
	OpCompileProgram
	OpSubmit
	opCount
)

// ErrInjected is returned by operations armed with Recorder.Fail.
var ErrInjected = errors.New("injected device failure")

// Stats counts allocations and operations since the Recorder was opened.
type Stats struct {
	BufferAllocs      int
	BufferFrees       int
	BufferWrites      int
	BufferCopies      int
	VertexArrayAllocs int
	VertexArrayFrees  int
	Rebinds           int
	TextureCreates    int
	TextureReplaces   int
	Programs          int
	Frames            int
}

type recBuffer struct {
	desc gputypes.BufferDescriptor
	data []byte
}

type recTexture struct {
	desc   gputypes.TextureDescriptor
	pixels []byte
}

// Recorder is a headless Device. It keeps buffer and texture contents in
// host memory and records every submitted draw, so the renderer can run
// without a drawing surface (tools, tests, CI).
type Recorder struct {
	width, height int

	nextID   uint64
	buffers  map[BufferID]*recBuffer
	arrays   map[VertexArrayID]VertexArrayDescriptor
	textures map[TextureID]*recTexture
	programs map[ProgramID]ProgramDescriptor

	inFrame bool
	clear   gputypes.Color
	draws   []DrawCall
	last    []DrawCall

	fail  [opCount]error
	stats Stats
}

// OpenHeadless creates a Recorder standing in for a surface of the given
// size. A surface without area is an environment failure.
func OpenHeadless(width, height int) (*Recorder, error) {
	if width <= 0 || height <= 0 {
		return nil, fault.Environment("open surface", fmt.Errorf("surface size %dx%d has no area", width, height))
	}
	return &Recorder{
		width:    width,
		height:   height,
		buffers:  make(map[BufferID]*recBuffer),
		arrays:   make(map[VertexArrayID]VertexArrayDescriptor),
		textures: make(map[TextureID]*recTexture),
		programs: make(map[ProgramID]ProgramDescriptor),
	}, nil
}

// Size returns the surface size.
func (r *Recorder) Size() (int, int) { return r.width, r.height }

// Fail arms op to return err until it is disarmed with a nil err.
func (r *Recorder) Fail(op Op, err error) { r.fail[op] = err }

func (r *Recorder) id() uint64 {
	r.nextID++
	return r.nextID
}

func (r *Recorder) CreateBuffer(desc gputypes.BufferDescriptor) (BufferID, error) {
	if err := r.fail[OpCreateBuffer]; err != nil {
		return InvalidID, err
	}
	if desc.Size == 0 {
		return InvalidID, fmt.Errorf("buffer %q: zero size", desc.Label)
	}
	id := BufferID(r.id())
	r.buffers[id] = &recBuffer{desc: desc, data: make([]byte, desc.Size)}
	r.stats.BufferAllocs++
	return id, nil
}

func (r *Recorder) WriteBuffer(buf BufferID, offset uint64, data []byte) error {
	if err := r.fail[OpWriteBuffer]; err != nil {
		return err
	}
	b, ok := r.buffers[buf]
	if !ok {
		return fmt.Errorf("write buffer %d: unknown buffer", buf)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write buffer %q: [%d,%d) exceeds size %d", b.desc.Label, offset, offset+uint64(len(data)), len(b.data))
	}
	copy(b.data[offset:], data)
	r.stats.BufferWrites++
	return nil
}

func (r *Recorder) CopyBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset, size uint64) error {
	if err := r.fail[OpCopyBuffer]; err != nil {
		return err
	}
	s, ok := r.buffers[src]
	if !ok {
		return fmt.Errorf("copy buffer: unknown source %d", src)
	}
	d, ok := r.buffers[dst]
	if !ok {
		return fmt.Errorf("copy buffer: unknown destination %d", dst)
	}
	if srcOffset+size > uint64(len(s.data)) || dstOffset+size > uint64(len(d.data)) {
		return fmt.Errorf("copy buffer: %d bytes out of range", size)
	}
	copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
	r.stats.BufferCopies++
	return nil
}

func (r *Recorder) DestroyBuffer(buf BufferID) {
	if _, ok := r.buffers[buf]; ok {
		delete(r.buffers, buf)
		r.stats.BufferFrees++
	}
}

func (r *Recorder) CreateVertexArray(desc VertexArrayDescriptor) (VertexArrayID, error) {
	if err := r.fail[OpCreateVertexArray]; err != nil {
		return InvalidID, err
	}
	if len(desc.Layouts) != len(desc.Buffers) {
		return InvalidID, fmt.Errorf("vertex array %q: %d layouts for %d buffers", desc.Label, len(desc.Layouts), len(desc.Buffers))
	}
	if err := r.checkBindings(desc.Buffers); err != nil {
		return InvalidID, err
	}
	if desc.Index != InvalidID {
		if _, ok := r.buffers[desc.Index]; !ok {
			return InvalidID, fmt.Errorf("vertex array %q: unknown index buffer %d", desc.Label, desc.Index)
		}
	}
	id := VertexArrayID(r.id())
	desc.Buffers = append([]BufferBinding(nil), desc.Buffers...)
	r.arrays[id] = desc
	r.stats.VertexArrayAllocs++
	return id, nil
}

func (r *Recorder) RebindVertexArray(va VertexArrayID, buffers []BufferBinding) error {
	if err := r.fail[OpRebindVertexArray]; err != nil {
		return err
	}
	desc, ok := r.arrays[va]
	if !ok {
		return fmt.Errorf("rebind vertex array %d: unknown", va)
	}
	if len(buffers) != len(desc.Layouts) {
		return fmt.Errorf("rebind vertex array %q: %d bindings for %d layouts", desc.Label, len(buffers), len(desc.Layouts))
	}
	if err := r.checkBindings(buffers); err != nil {
		return err
	}
	desc.Buffers = append(desc.Buffers[:0], buffers...)
	r.arrays[va] = desc
	r.stats.Rebinds++
	return nil
}

func (r *Recorder) checkBindings(bs []BufferBinding) error {
	for _, b := range bs {
		if _, ok := r.buffers[b.Buffer]; !ok {
			return fmt.Errorf("unknown vertex buffer %d", b.Buffer)
		}
	}
	return nil
}

func (r *Recorder) DestroyVertexArray(va VertexArrayID) {
	if _, ok := r.arrays[va]; ok {
		delete(r.arrays, va)
		r.stats.VertexArrayFrees++
	}
}

func (r *Recorder) CreateTexture(desc gputypes.TextureDescriptor, rgba []byte) (TextureID, error) {
	if err := r.fail[OpCreateTexture]; err != nil {
		return InvalidID, err
	}
	if err := checkPixels(desc, rgba); err != nil {
		return InvalidID, err
	}
	id := TextureID(r.id())
	r.textures[id] = &recTexture{desc: desc, pixels: append([]byte(nil), rgba...)}
	r.stats.TextureCreates++
	return id, nil
}

func (r *Recorder) ReplaceTexture(tex TextureID, desc gputypes.TextureDescriptor, rgba []byte) error {
	if err := r.fail[OpReplaceTexture]; err != nil {
		return err
	}
	t, ok := r.textures[tex]
	if !ok {
		return fmt.Errorf("replace texture %d: unknown", tex)
	}
	if err := checkPixels(desc, rgba); err != nil {
		return err
	}
	t.desc = desc
	t.pixels = append(t.pixels[:0], rgba...)
	r.stats.TextureReplaces++
	return nil
}

func checkPixels(desc gputypes.TextureDescriptor, rgba []byte) error {
	want := int(desc.Size.Width) * int(desc.Size.Height) * 4
	if want == 0 || len(rgba) != want {
		return fmt.Errorf("texture %q: %d bytes for %dx%d RGBA", desc.Label, len(rgba), desc.Size.Width, desc.Size.Height)
	}
	return nil
}

func (r *Recorder) DestroyTexture(tex TextureID) { delete(r.textures, tex) }

func (r *Recorder) CompileProgram(desc ProgramDescriptor) (ProgramID, error) {
	if err := r.fail[OpCompileProgram]; err != nil {
		return InvalidID, err
	}
	if len(desc.Vertex) == 0 || len(desc.Fragment) == 0 {
		return InvalidID, fmt.Errorf("program %q: missing shader source", desc.Label)
	}
	id := ProgramID(r.id())
	r.programs[id] = desc
	r.stats.Programs++
	return id, nil
}

func (r *Recorder) BeginFrame(clear gputypes.Color) error {
	if r.inFrame {
		return errors.New("begin frame: previous frame not ended")
	}
	r.inFrame = true
	r.clear = clear
	r.draws = r.draws[:0]
	return nil
}

func (r *Recorder) Submit(dc DrawCall) error {
	if err := r.fail[OpSubmit]; err != nil {
		return err
	}
	if !r.inFrame {
		return errors.New("submit outside frame")
	}
	if _, ok := r.programs[dc.Program]; !ok {
		return fmt.Errorf("submit: unknown program %d", dc.Program)
	}
	if _, ok := r.arrays[dc.VertexArray]; !ok {
		return fmt.Errorf("submit: unknown vertex array %d", dc.VertexArray)
	}
	if dc.Texture != InvalidID {
		if _, ok := r.textures[dc.Texture]; !ok {
			return fmt.Errorf("submit: unknown texture %d", dc.Texture)
		}
	}
	r.draws = append(r.draws, dc)
	return nil
}

func (r *Recorder) EndFrame() error {
	if !r.inFrame {
		return errors.New("end frame: no frame begun")
	}
	r.inFrame = false
	r.last = append(r.last[:0], r.draws...)
	r.stats.Frames++
	return nil
}

// Stats returns the operation counters.
func (r *Recorder) Stats() Stats { return r.stats }

// LastFrame returns the draws of the most recently ended frame.
func (r *Recorder) LastFrame() []DrawCall { return r.last }

// ClearColor returns the clear color of the current or last frame.
func (r *Recorder) ClearColor() gputypes.Color { return r.clear }

// Buffer returns a buffer's content.
func (r *Recorder) Buffer(id BufferID) ([]byte, bool) {
	b, ok := r.buffers[id]
	if !ok {
		return nil, false
	}
	return b.data, true
}

// Bindings returns the buffers a vertex array currently points at.
func (r *Recorder) Bindings(id VertexArrayID) ([]BufferBinding, bool) {
	d, ok := r.arrays[id]
	return d.Buffers, ok
}

// Texture returns a texture's descriptor and pixels.
func (r *Recorder) Texture(id TextureID) (gputypes.TextureDescriptor, []byte, bool) {
	t, ok := r.textures[id]
	if !ok {
		return gputypes.TextureDescriptor{}, nil, false
	}
	return t.desc, t.pixels, true
}

// Live returns the number of live buffers and vertex arrays.
func (r *Recorder) Live() (buffers, arrays int) { return len(r.buffers), len(r.arrays) }
