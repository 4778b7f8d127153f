// Package engine runs the frame loop: input, simulate, upload, render,
// reload, once per frame on a single goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/config"
	"github.com/demogame/runtime/internal/core/event"
	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/core/system"
	"github.com/demogame/runtime/internal/present"
	"github.com/demogame/runtime/internal/protocol"
	"github.com/demogame/runtime/internal/reload"
	"github.com/demogame/runtime/internal/render"
	"github.com/demogame/runtime/internal/sim"
)

// SnapshotStore persists module state between sessions and journals
// reloads. persist.Store satisfies it.
type SnapshotStore interface {
	reload.Journal
	SaveSnapshot(ctx context.Context, slot string, state []byte) error
	LatestSnapshot(ctx context.Context, slot string) ([]byte, bool, error)
}

// Options wires the engine. Textures, Store and Bus are optional.
type Options struct {
	Config     config.EngineConfig
	ModulePath string
	Slot       string
	Resume     bool

	Loader    sim.Loader
	Renderer  *render.Renderer
	Textures  reload.TextureSource
	Store     SnapshotStore
	Presenter present.Presenter
	Bus       *event.Bus
}

type Engine struct {
	opts    Options
	log     *zap.Logger
	bus     *event.Bus
	decoder *protocol.Decoder
	coord   *reload.Coordinator
	runner  *system.Runner
	present *present.OncePresenter

	ctx      context.Context // frame context, set by Step
	frame    uint64
	faults   int
	degraded bool
	quit     string
	stopped  bool
	err      error
}

func New(opts Options, log *zap.Logger) *Engine {
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	if opts.Presenter == nil {
		opts.Presenter = present.NewLog(log)
	}
	if opts.Slot == "" {
		opts.Slot = "default"
	}
	decoder := protocol.NewDecoder()
	ropts := reload.Options{
		Sink:    opts.Renderer,
		Timeout: opts.Config.ReloadTimeout,
	}
	if opts.Textures != nil {
		ropts.Textures = opts.Textures
	}
	if opts.Store != nil {
		ropts.Journal = opts.Store
	}
	e := &Engine{
		opts:    opts,
		log:     log,
		bus:     opts.Bus,
		decoder: decoder,
		coord:   reload.NewCoordinator(opts.Loader, decoder, ropts, log),
		runner:  system.NewRunner(),
		present: present.Once(opts.Presenter),
		ctx:     context.Background(),
	}

	event.Subscribe(e.bus, func(ev event.FileChanged) { e.coord.Notify(e.ctx, ev.Path) })
	event.Subscribe(e.bus, func(ev event.QuitRequested) { e.quit = ev.Reason })

	e.runner.Register(&inputSystem{e})
	e.runner.Register(&simulateSystem{e})
	e.runner.Register(&uploadSystem{e})
	e.runner.Register(&renderSystem{e})
	e.runner.Register(&reloadSystem{e})
	return e
}

// Start loads and initialises the module, restoring the latest snapshot
// when resume is enabled. Failures are fatal.
func (e *Engine) Start(ctx context.Context) error {
	m, err := e.opts.Loader.Load(ctx, e.opts.ModulePath)
	if err != nil {
		return e.fail(err)
	}
	if err := m.Init(ctx); err != nil {
		m.Close(ctx)
		return e.fail(fault.Transport("init module", true, err))
	}
	if e.opts.Resume && e.opts.Store != nil {
		state, ok, err := e.opts.Store.LatestSnapshot(ctx, e.opts.Slot)
		switch {
		case err != nil:
			e.log.Warn("讀取快照失敗，以新狀態啟動", zap.String("slot", e.opts.Slot), zap.Error(err))
		case ok:
			if err := m.Restore(ctx, state); err != nil {
				m.Close(ctx)
				return e.fail(fault.Transport("restore snapshot", true, err))
			}
			e.log.Info("已從快照恢復", zap.String("slot", e.opts.Slot), zap.Int("bytes", len(state)))
		}
	}
	e.coord.Attach(m, e.opts.ModulePath)
	e.log.Info("模擬模組已載入", zap.String("path", e.opts.ModulePath))
	return nil
}

// Run steps frames at the configured rate until ctx is done, a quit is
// requested, MaxFrames is reached or a fatal error stops the loop.
func (e *Engine) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if interval := e.opts.Config.FrameInterval(); interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	last := time.Now()
	for {
		if e.stopped {
			return e.err
		}
		if n := e.opts.Config.MaxFrames; n > 0 && e.frame >= uint64(n) {
			return nil
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		dt := now.Sub(last)
		last = now
		if err := e.Step(ctx, dt); err != nil {
			return err
		}
		if e.quit != "" {
			e.log.Info("收到結束要求", zap.String("reason", e.quit))
			return nil
		}
	}
}

// Step runs exactly one frame. After a fatal error it returns that error
// without running anything.
func (e *Engine) Step(ctx context.Context, dt time.Duration) error {
	if e.stopped {
		return e.err
	}
	e.ctx = ctx
	e.frame++
	e.degraded = false
	if err := e.runner.Tick(ctx, dt); err != nil {
		if fault.IsFatal(err) {
			return e.fail(err)
		}
		e.log.Warn("frame error", zap.Uint64("frame", e.frame), zap.Error(err))
	}
	return nil
}

// Shutdown snapshots the running module (unless the session ended on a
// fatal error), closes it and releases GPU resources.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	if m := e.coord.Module(); m != nil {
		if e.opts.Store != nil && !e.stopped {
			if err := e.snapshot(ctx, m); err != nil {
				errs = append(errs, err)
			}
		}
		if err := m.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close module: %w", err))
		}
	}
	if e.opts.Renderer != nil {
		e.opts.Renderer.Release()
	}
	return errors.Join(errs...)
}

func (e *Engine) snapshot(ctx context.Context, m sim.Module) error {
	state, err := m.Save(ctx)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := e.opts.Store.SaveSnapshot(ctx, e.opts.Slot, state); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	e.log.Info("快照已儲存", zap.String("slot", e.opts.Slot), zap.Int("bytes", len(state)))
	return nil
}

// simFault counts a simulation fault. Up to MaxSimFaults the frame is
// degraded and the loop continues; the next one is fatal. Errors of any
// other kind are passed through.
func (e *Engine) simFault(op string, err error) error {
	if !fault.Is(err, fault.KindSimulation) || fault.IsFatal(err) {
		return err
	}
	e.faults++
	limit := e.opts.Config.MaxSimFaults
	if e.faults > limit {
		return &fault.Error{
			Kind:  fault.KindSimulation,
			Op:    op,
			Fatal: true,
			Err:   fmt.Errorf("fault %d exceeds limit %d: %w", e.faults, limit, err),
		}
	}
	e.degraded = true
	e.log.Warn("模擬錯誤",
		zap.Uint64("frame", e.frame),
		zap.Int("faults", e.faults),
		zap.Int("limit", limit),
		zap.Error(err))
	return nil
}

// fail stops the loop and funnels err to the presenter.
func (e *Engine) fail(err error) error {
	if e.stopped {
		return e.err
	}
	e.stopped = true
	e.err = err
	e.log.Error("致命錯誤，停止排程", zap.Uint64("frame", e.frame), zap.Error(err))
	e.present.ShowFatal(err.Error(), e.trace())
	return err
}

func (e *Engine) trace() string {
	return fmt.Sprintf("frame %d\nmodule %s\nreload %s (swaps %d)\nsimulation faults %d/%d",
		e.frame, e.opts.ModulePath, e.coord.State(), e.coord.Swaps(), e.faults, e.opts.Config.MaxSimFaults)
}

func (e *Engine) Frame() uint64                    { return e.frame }
func (e *Engine) Faults() int                      { return e.faults }
func (e *Engine) Stopped() bool                    { return e.stopped }
func (e *Engine) Err() error                       { return e.err }
func (e *Engine) Bus() *event.Bus                  { return e.bus }
func (e *Engine) Decoder() *protocol.Decoder       { return e.decoder }
func (e *Engine) Coordinator() *reload.Coordinator { return e.coord }
func (e *Engine) Presented() bool                  { return e.present.Shown() }
