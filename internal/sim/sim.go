// Package sim hosts the simulation module: a separately built program that
// advances game state and publishes a draw-update frame in its linear
// memory every tick.
package sim

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/protocol"
)

// Module is one instantiated simulation.
//
// Update reports simulation faults as non-fatal SimulationErrors; the frame
// loop counts them. Save and Restore exchange an opaque state payload that
// only the simulation understands.
type Module interface {
	Init(ctx context.Context) error
	Update(ctx context.Context, dt time.Duration) error
	Output(ctx context.Context) (uint32, error)
	Memory() protocol.Memory
	Save(ctx context.Context) ([]byte, error)
	Restore(ctx context.Context, state []byte) error
	Close(ctx context.Context) error
}

// Loader fetches and instantiates a module. Failures are fatal
// TransportErrors.
type Loader interface {
	Load(ctx context.Context, path string) (Module, error)
}

// Hosts picks a loader by file extension.
type Hosts struct {
	Wasm Loader
	Lua  Loader
}

func (h Hosts) Load(ctx context.Context, path string) (Module, error) {
	var l Loader
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wasm":
		l = h.Wasm
	case ".lua":
		l = h.Lua
	}
	if l == nil {
		return nil, fault.Transport("load module", true, fmt.Errorf("no host for %s", path))
	}
	return l.Load(ctx, path)
}

// safeCall runs a simulation entry point with panic recovery so a broken
// module is counted like any other simulation fault.
func safeCall(log *zap.Logger, op string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("模擬 panic 已恢復",
				zap.String("op", op),
				zap.Any("panic", rec),
			)
			err = fault.Simulation(op, fmt.Errorf("panic: %v", rec))
		}
	}()
	return fn()
}
