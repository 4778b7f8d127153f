package render

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/assets"
	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/gpu"
)

// TextureSource supplies decoded bitmaps by stable id.
type TextureSource interface {
	Bitmap(id uint32) (assets.Bitmap, error)
}

// TextureTable maps stable texture ids to GPU textures. Textures are
// created on first reference and replaced in place on asset reload, so a
// handle stays valid for the whole session.
type TextureTable struct {
	dev     gpu.Device
	src     TextureSource
	log     *zap.Logger
	handles map[uint32]gpu.TextureID
}

func NewTextureTable(dev gpu.Device, src TextureSource, log *zap.Logger) *TextureTable {
	return &TextureTable{dev: dev, src: src, log: log, handles: make(map[uint32]gpu.TextureID)}
}

// Get returns the GPU texture for id, creating it on first use.
func (t *TextureTable) Get(id uint32) (gpu.TextureID, error) {
	if h, ok := t.handles[id]; ok {
		return h, nil
	}
	bm, err := t.src.Bitmap(id)
	if err != nil {
		return gpu.InvalidID, fault.Resource("create texture", false, err)
	}
	h, err := t.dev.CreateTexture(gpu.TextureDescriptor(fmt.Sprintf("texture %d", id), bm.Width, bm.Height), bm.Pixels)
	if err != nil {
		return gpu.InvalidID, fault.Resource("create texture", false, fmt.Errorf("texture %d: %w", id, err))
	}
	t.handles[id] = h
	t.log.Debug("texture created", zap.Uint32("texture", id), zap.Uint32("w", bm.Width), zap.Uint32("h", bm.Height))
	return h, nil
}

// Replace swaps the content of texture id. A texture that was never
// referenced is left to be created from the source on first use.
func (t *TextureTable) Replace(id uint32, bm assets.Bitmap) error {
	h, ok := t.handles[id]
	if !ok {
		return nil
	}
	if err := t.dev.ReplaceTexture(h, gpu.TextureDescriptor(fmt.Sprintf("texture %d", id), bm.Width, bm.Height), bm.Pixels); err != nil {
		return fault.Resource("replace texture", false, fmt.Errorf("texture %d: %w", id, err))
	}
	return nil
}

// Len returns the number of created textures.
func (t *TextureTable) Len() int { return len(t.handles) }

func (t *TextureTable) release() {
	for id, h := range t.handles {
		t.dev.DestroyTexture(h)
		delete(t.handles, id)
	}
}
