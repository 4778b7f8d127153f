package system

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Runner executes systems in phase order each frame.
type Runner struct {
	systems []System
	sorted  bool
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Tick runs one frame. The first error stops the frame; systems of later
// phases do not run.
func (r *Runner) Tick(ctx context.Context, dt time.Duration) error {
	r.ensureSorted()
	for _, s := range r.systems {
		if err := s.Update(ctx, dt); err != nil {
			return fmt.Errorf("%s: %w", s.Phase(), err)
		}
	}
	return nil
}

// TickPhase runs only the systems of one phase.
func (r *Runner) TickPhase(ctx context.Context, phase Phase, dt time.Duration) error {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() != phase {
			continue
		}
		if err := s.Update(ctx, dt); err != nil {
			return fmt.Errorf("%s: %w", phase, err)
		}
	}
	return nil
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
