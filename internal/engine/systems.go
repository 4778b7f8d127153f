package engine

import (
	"context"
	"errors"
	"time"

	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/core/system"
)

var errNoModule = errors.New("no module attached")

// inputSystem drains the event bus. This is the only point per frame where
// transport notifications reach the coordinator.
type inputSystem struct{ e *Engine }

func (s *inputSystem) Phase() system.Phase { return system.PhaseInput }

func (s *inputSystem) Update(context.Context, time.Duration) error {
	s.e.bus.SwapBuffers()
	s.e.bus.DispatchAll()
	return nil
}

type simulateSystem struct{ e *Engine }

func (s *simulateSystem) Phase() system.Phase { return system.PhaseSimulate }

func (s *simulateSystem) Update(ctx context.Context, dt time.Duration) error {
	m := s.e.coord.Module()
	if m == nil {
		return fault.Transport("simulate", true, errNoModule)
	}
	if err := m.Update(ctx, dt); err != nil {
		return s.e.simFault("update", err)
	}
	return nil
}

// uploadSystem decodes the module's frame and feeds it to the renderer.
// A degraded frame uploads nothing and the previous frame's draws are
// presented again.
type uploadSystem struct{ e *Engine }

func (s *uploadSystem) Phase() system.Phase { return system.PhaseUpload }

func (s *uploadSystem) Update(ctx context.Context, _ time.Duration) error {
	if s.e.degraded {
		return nil
	}
	m := s.e.coord.Module()
	ptr, err := m.Output(ctx)
	if err != nil {
		return s.e.simFault("output", err)
	}
	if s.e.degraded {
		return nil
	}
	f, err := s.e.decoder.Frame(m.Memory(), ptr)
	if err != nil {
		return err
	}
	return s.e.opts.Renderer.Update(f)
}

type renderSystem struct{ e *Engine }

func (s *renderSystem) Phase() system.Phase { return system.PhaseRender }

func (s *renderSystem) Update(context.Context, time.Duration) error {
	return s.e.opts.Renderer.Render()
}

// reloadSystem performs a requested module swap at the frame boundary.
type reloadSystem struct{ e *Engine }

func (s *reloadSystem) Phase() system.Phase { return system.PhaseReload }

func (s *reloadSystem) Update(ctx context.Context, _ time.Duration) error {
	_, err := s.e.coord.Swap(ctx)
	return err
}
