package system

import (
	"context"
	"time"
)

// Phase defines execution ordering within a single frame.
type Phase int

const (
	PhaseInput    Phase = iota // 0: drain the event bus
	PhaseSimulate              // 1: run the simulation update
	PhaseUpload                // 2: decode the frame and update GPU resources
	PhaseRender                // 3: replay draws and present
	PhaseReload                // 4: frame boundary: module swap, persistence
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseSimulate:
		return "simulate"
	case PhaseUpload:
		return "upload"
	case PhaseRender:
		return "render"
	case PhaseReload:
		return "reload"
	}
	return "unknown"
}

// System is one step of the frame.
type System interface {
	Phase() Phase
	Update(ctx context.Context, dt time.Duration) error
}
