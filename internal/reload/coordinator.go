// Package reload swaps the simulation module mid-session without losing
// its state, and applies texture changes in place.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/assets"
	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/protocol"
	"github.com/demogame/runtime/internal/sim"
)

// State of the module swap machine.
type State int

const (
	Running State = iota
	SwapRequested
	Swapping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case SwapRequested:
		return "swap-requested"
	case Swapping:
		return "swapping"
	}
	return "unknown"
}

// TextureSource re-decodes a changed texture file. CommitTexture makes a
// decoded bitmap current once the GPU copy has been replaced.
type TextureSource interface {
	ReloadTexture(path string) (uint32, assets.Bitmap, error)
	CommitTexture(id uint32, bm assets.Bitmap)
}

// TextureSink replaces a GPU texture in place.
type TextureSink interface {
	ReloadTexture(id uint32, bm assets.Bitmap) error
}

// Entry is one journaled reload.
type Entry struct {
	At       time.Time
	Path     string
	Kind     ChangeKind
	OK       bool
	Err      string
	Duration time.Duration
}

// Journal records reloads. Journal failures are logged and never affect
// the reload itself.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}

// Options wires the optional collaborators.
type Options struct {
	Textures TextureSource
	Sink     TextureSink
	Journal  Journal
	Timeout  time.Duration
}

// Coordinator owns the running module. A module change only marks a swap
// as requested; the swap itself runs at the frame boundary through Swap,
// so no frame ever observes a half-replaced module.
type Coordinator struct {
	log     *zap.Logger
	loader  sim.Loader
	decoder *protocol.Decoder
	opts    Options

	state  State
	module sim.Module
	path   string
	swaps  int
}

func NewCoordinator(loader sim.Loader, decoder *protocol.Decoder, opts Options, log *zap.Logger) *Coordinator {
	return &Coordinator{log: log, loader: loader, decoder: decoder, opts: opts}
}

// Attach sets the running module, loaded from path.
func (c *Coordinator) Attach(m sim.Module, path string) {
	c.module = m
	c.path = path
	c.state = Running
}

func (c *Coordinator) Module() sim.Module { return c.module }
func (c *Coordinator) State() State       { return c.state }
func (c *Coordinator) Swaps() int         { return c.swaps }

// Path returns the file the running module was loaded from.
func (c *Coordinator) Path() string { return c.path }

// Notify handles one change notification. Texture reloads happen right
// away and their failures are only logged. A module change requests a swap
// only when it names the running module's file; the swap always reloads
// the attached path.
func (c *Coordinator) Notify(ctx context.Context, path string) {
	switch kind := Classify(path); kind {
	case ChangeModule:
		if c.path != "" && filepath.Base(path) != filepath.Base(c.path) {
			c.log.Debug("其他模組檔案變更，忽略", zap.String("path", path), zap.String("running", c.path))
			return
		}
		c.Request(path)
	case ChangeTexture:
		c.reloadTexture(ctx, path)
	case ChangeShader:
		c.log.Info("shader changed, restart to apply", zap.String("path", path))
	default:
		c.log.Debug("ignored change", zap.String("path", path))
	}
}

// Request marks a module swap. trigger is the notified path and is only
// logged; repeated requests before the swap collapse into one.
func (c *Coordinator) Request(trigger string) {
	if c.state == Swapping {
		return
	}
	c.state = SwapRequested
	c.log.Info("模組變更，等待交換", zap.String("trigger", trigger), zap.String("path", c.path))
}

// Swap performs a requested module swap: save the outgoing state, close
// the outgoing module, load and initialise the incoming one, restore the
// state, then invalidate the decoder so the new instance is re-validated.
// It reports whether a swap happened. Any failure is fatal.
func (c *Coordinator) Swap(ctx context.Context) (bool, error) {
	if c.state != SwapRequested {
		return false, nil
	}
	c.state = Swapping
	start := time.Now()
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	path := c.path
	err := c.swap(ctx, path)
	c.journal(ctx, Entry{At: start, Path: path, Kind: ChangeModule, OK: err == nil, Err: errString(err), Duration: time.Since(start)})
	if err != nil {
		return false, err
	}
	c.state = Running
	c.swaps++
	c.log.Info("模組交換完成",
		zap.String("path", path),
		zap.Int("swaps", c.swaps),
		zap.Duration("took", time.Since(start)))
	return true, nil
}

func (c *Coordinator) swap(ctx context.Context, path string) error {
	if c.module == nil {
		return fault.Transport("swap", true, fmt.Errorf("no running module"))
	}
	state, err := c.module.Save(ctx)
	if err != nil {
		return fault.Transport("swap: save state", true, err)
	}
	if err := c.module.Close(ctx); err != nil {
		return fault.Transport("swap: close module", true, err)
	}
	c.module = nil

	next, err := c.loader.Load(ctx, path)
	if err != nil {
		return err
	}
	if err := next.Init(ctx); err != nil {
		next.Close(ctx)
		return fault.Transport("swap: init module", true, err)
	}
	if err := next.Restore(ctx, state); err != nil {
		next.Close(ctx)
		return fault.Transport("swap: restore state", true, err)
	}
	c.module = next
	c.decoder.Invalidate()
	c.log.Debug("state transferred", zap.Int("bytes", len(state)))
	return nil
}

func (c *Coordinator) reloadTexture(ctx context.Context, path string) {
	if c.opts.Textures == nil || c.opts.Sink == nil {
		return
	}
	start := time.Now()
	err := func() error {
		id, bm, err := c.opts.Textures.ReloadTexture(path)
		if err != nil {
			return err
		}
		if err := c.opts.Sink.ReloadTexture(id, bm); err != nil {
			return err
		}
		c.opts.Textures.CommitTexture(id, bm)
		return nil
	}()
	c.journal(ctx, Entry{At: start, Path: path, Kind: ChangeTexture, OK: err == nil, Err: errString(err), Duration: time.Since(start)})
	if err != nil {
		c.log.Warn("texture reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	c.log.Info("texture reloaded", zap.String("path", path))
}

func (c *Coordinator) journal(ctx context.Context, e Entry) {
	if c.opts.Journal == nil {
		return
	}
	if err := c.opts.Journal.Record(ctx, e); err != nil {
		c.log.Warn("reload journal write failed", zap.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
