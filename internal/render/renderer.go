// Package render turns decoded draw updates into GPU resource operations
// and replays the frame in a fixed layer order.
package render

import (
	"github.com/gogpu/gputypes"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/assets"
	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/gpu"
	"github.com/demogame/runtime/internal/protocol"
)

// Config sizes the pools.
type Config struct {
	Sprites        PoolSize
	Projectiles    PoolSize
	Gui            GeometrySize
	Debug          GeometrySize
	TerrainTexture uint32
}

// ShaderSource supplies program sources by name.
type ShaderSource interface {
	Shader(name string) (vertex, fragment []byte, err error)
}

// Program names looked up in the ShaderSource.
const (
	ProgramTerrain    = "terrain"
	ProgramSprite     = "sprite"
	ProgramProjectile = "projectile"
	ProgramGui        = "gui"
	ProgramDebug      = "debug"
)

var programLayouts = []struct {
	name     string
	layout   gputypes.VertexBufferLayout
	topology gputypes.PrimitiveTopology
}{
	{ProgramTerrain, gpu.TerrainLayout, gputypes.PrimitiveTopologyTriangleStrip},
	{ProgramSprite, gpu.SpriteLayout, gputypes.PrimitiveTopologyTriangleStrip},
	{ProgramProjectile, gpu.ProjectileLayout, gputypes.PrimitiveTopologyTriangleStrip},
	{ProgramGui, gpu.GuiLayout, gputypes.PrimitiveTopologyTriangleList},
	{ProgramDebug, gpu.DebugLayout, gputypes.PrimitiveTopologyLineList},
}

// Renderer owns every GPU resource of the session.
//
// Update consumes one decoded frame: it clears the per-frame draw lists,
// applies resource updates and queues draws. Render replays the queued
// draws. Both run on the frame goroutine only.
type Renderer struct {
	dev     gpu.Device
	log     *zap.Logger
	cfg     Config
	shaders ShaderSource

	programs    map[string]gpu.ProgramID
	textures    *TextureTable
	sprites     *SpritePool
	projectiles *SpritePool
	terrain     *TerrainPool
	gui         *GeometryPool
	debug       *GeometryPool

	guiDraw  gpu.DrawCall
	guiReady bool
	view     [2]float32
	dispatch Dispatcher
}

func New(dev gpu.Device, textures TextureSource, shaders ShaderSource, cfg Config, log *zap.Logger) *Renderer {
	return &Renderer{
		dev:      dev,
		log:      log,
		cfg:      cfg,
		shaders:  shaders,
		programs: make(map[string]gpu.ProgramID, len(programLayouts)),
		textures: NewTextureTable(dev, textures, log),
	}
}

// SetupDefaults compiles the programs and allocates the initial pools. Any
// failure is fatal: the session cannot draw without them.
func (r *Renderer) SetupDefaults() error {
	for _, p := range programLayouts {
		vs, fs, err := r.shaders.Shader(p.name)
		if err != nil {
			return fault.Resource("load program "+p.name, true, err)
		}
		id, err := r.dev.CompileProgram(gpu.ProgramDescriptor{
			Label:    p.name,
			Vertex:   vs,
			Fragment: fs,
			Buffers:  []gputypes.VertexBufferLayout{p.layout},
			Topology: p.topology,
		})
		if err != nil {
			return fault.Resource("compile program "+p.name, true, err)
		}
		r.programs[p.name] = id
	}

	var err error
	if r.sprites, err = NewSpritePool(r.dev, "sprites", gpu.SpriteLayout, r.programs[ProgramSprite], r.cfg.Sprites, r.log); err != nil {
		return err
	}
	if r.projectiles, err = NewSpritePool(r.dev, "projectiles", gpu.ProjectileLayout, r.programs[ProgramProjectile], r.cfg.Projectiles, r.log); err != nil {
		return err
	}
	r.terrain = NewTerrainPool(r.dev, r.programs[ProgramTerrain], r.log)
	if r.gui, err = NewGeometryPool(r.dev, "gui", gpu.GuiLayout, r.programs[ProgramGui],
		gputypes.PrimitiveTopologyTriangleList, r.cfg.Gui, r.log); err != nil {
		return err
	}
	if r.debug, err = NewGeometryPool(r.dev, "debug", gpu.DebugLayout, r.programs[ProgramDebug],
		gputypes.PrimitiveTopologyLineList, r.cfg.Debug, r.log); err != nil {
		return err
	}
	r.log.Debug("default resources ready", zap.Int("programs", len(r.programs)))
	return nil
}

// Update applies one frame. Fatal errors abort the frame and are returned;
// recoverable ones are logged and the affected draw is skipped.
func (r *Renderer) Update(f *protocol.Frame) error {
	r.dispatch.Reset()
	r.sprites.BeginFrame()
	r.projectiles.BeginFrame()
	r.debug.Reset()

	for i := 0; i < f.Len(); i++ {
		u, err := f.DrawUpdate(i)
		if err != nil {
			return err
		}
		if err := r.apply(f, u); err != nil {
			if fault.IsFatal(err) {
				return err
			}
			r.log.Warn("draw update skipped",
				zap.Int("index", i),
				zap.Stringer("kind", u.Kind()),
				zap.Error(err))
		}
	}
	if r.guiReady {
		r.dispatch.Enqueue(LayerGui, r.guiDraw)
	}
	return nil
}

func (r *Renderer) apply(f *protocol.Frame, u protocol.DrawUpdate) error {
	switch u := u.(type) {
	case *protocol.Undefined:
		return nil

	case *protocol.DrawSprites:
		data, err := f.SpriteInstances(u.SpriteBatch)
		if err != nil {
			return err
		}
		return r.pushBatch(LayerSprites, r.sprites, u.TextureID, data)

	case *protocol.DrawProjectileSprites:
		data, err := f.ProjectileInstances(u.SpriteBatch)
		if err != nil {
			return err
		}
		return r.pushBatch(LayerProjectiles, r.projectiles, u.TextureID, data)

	case *protocol.UpdateTerrainChunk:
		data, err := f.TerrainRecords(u)
		if err != nil {
			return err
		}
		return r.terrain.Update(u.ChunkID, u.DstOffset, data)

	case *protocol.DrawTerrainChunk:
		tex, err := r.textures.Get(r.cfg.TerrainTexture)
		if err != nil {
			return err
		}
		dc, ok := r.terrain.Draw(u.ChunkID, u.X, u.Y, tex)
		if !ok {
			r.log.Warn("draw of unknown terrain chunk", zap.Uint32("chunk", u.ChunkID))
			return nil
		}
		r.dispatch.Enqueue(LayerTerrain, dc)
		return nil

	case *protocol.UpdateViewOffset:
		r.view = [2]float32{u.X, u.Y}
		return nil

	case *protocol.UpdateGui:
		idx, err := f.GuiIndices()
		if err != nil {
			return err
		}
		vtx, err := f.GuiVertices()
		if err != nil {
			return err
		}
		r.gui.Reset()
		r.guiReady = false
		dc, err := r.gui.Append(idx, vtx)
		if err != nil {
			return err
		}
		r.guiDraw, r.guiReady = dc, dc.Count > 0
		return nil

	case *protocol.DrawDebugInfo:
		idx, err := f.DebugIndices(u)
		if err != nil {
			return err
		}
		vtx, err := f.DebugVertices(u)
		if err != nil {
			return err
		}
		before := r.debug.Array()
		dc, err := r.debug.Append(idx, vtx)
		if err != nil {
			return err
		}
		if dc.VertexArray != before {
			r.dispatch.Retarget(LayerDebug, before, dc.VertexArray)
		}
		if dc.Count > 0 {
			r.dispatch.Enqueue(LayerDebug, dc)
		}
		return nil
	}
	return fault.Protocolf("apply draw update", "unhandled kind %s", u.Kind())
}

func (r *Renderer) pushBatch(l Layer, pool *SpritePool, textureID uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	tex, err := r.textures.Get(textureID)
	if err != nil {
		return err
	}
	dc, err := pool.Push(data, tex)
	if err != nil {
		return err
	}
	r.dispatch.Enqueue(l, dc)
	return nil
}

// Render clears the surface, replays the queued draws and presents.
func (r *Renderer) Render() error {
	if err := r.dev.BeginFrame(gputypes.ColorBlack); err != nil {
		return fault.Environment("begin frame", err)
	}
	if err := r.dispatch.Replay(r.dev, r.view); err != nil {
		r.log.Warn("draws failed", zap.Error(err))
	}
	if err := r.dev.EndFrame(); err != nil {
		return fault.Environment("present frame", err)
	}
	return nil
}

// ReloadTexture replaces texture id in place. Failures are recoverable.
func (r *Renderer) ReloadTexture(id uint32, bm assets.Bitmap) error {
	return r.textures.Replace(id, bm)
}

// ViewOffset returns the current world-space view offset.
func (r *Renderer) ViewOffset() [2]float32 { return r.view }

// Queued returns the number of draws queued on a layer this frame.
func (r *Renderer) Queued(l Layer) int { return r.dispatch.Len(l) }

func (r *Renderer) Sprites() *SpritePool     { return r.sprites }
func (r *Renderer) Projectiles() *SpritePool { return r.projectiles }
func (r *Renderer) Terrain() *TerrainPool    { return r.terrain }
func (r *Renderer) Gui() *GeometryPool       { return r.gui }
func (r *Renderer) Debug() *GeometryPool     { return r.debug }
func (r *Renderer) Textures() *TextureTable  { return r.textures }

// Release destroys every GPU object the renderer created.
func (r *Renderer) Release() {
	if r.sprites != nil {
		r.sprites.release()
	}
	if r.projectiles != nil {
		r.projectiles.release()
	}
	if r.terrain != nil {
		r.terrain.release()
	}
	if r.gui != nil {
		r.gui.release()
	}
	if r.debug != nil {
		r.debug.release()
	}
	r.textures.release()
}
