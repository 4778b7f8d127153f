package sim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/protocol"
)

// Exports a WebAssembly simulation must provide. sim_update takes the frame
// time in milliseconds as f64; sim_update and sim_restore return non-zero
// on a fault. sim_output returns the FrameIndex address.
const (
	exportInit    = "sim_init"
	exportUpdate  = "sim_update"
	exportOutput  = "sim_output"
	exportSave    = "sim_save"
	exportSaveLen = "sim_save_len"
	exportAlloc   = "sim_alloc"
	exportRestore = "sim_restore"
)

var requiredExports = []string{
	exportInit, exportUpdate, exportOutput, exportSave, exportSaveLen, exportAlloc, exportRestore,
}

// WasmLoader instantiates WebAssembly simulations with wazero. Every module
// gets its own runtime, so closing a module releases everything it used.
type WasmLoader struct {
	log *zap.Logger
	// MemoryLimitPages caps linear memory (64 KiB pages); zero keeps the
	// runtime default.
	MemoryLimitPages uint32
}

func NewWasmLoader(log *zap.Logger) *WasmLoader {
	return &WasmLoader{log: log}
}

func (l *WasmLoader) Load(ctx context.Context, path string) (Module, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Transport("fetch module", true, err)
	}
	return l.Instantiate(ctx, path, bin)
}

// Instantiate compiles and instantiates a module from its bytes.
func (l *WasmLoader) Instantiate(ctx context.Context, name string, bin []byte) (Module, error) {
	cfg := wazero.NewRuntimeConfig()
	if l.MemoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(l.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	m, err := l.instantiate(ctx, rt, name, bin)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fault.Transport("instantiate module", true, err)
	}
	l.log.Debug("wasm module instantiated", zap.String("module", name), zap.Int("bytes", len(bin)))
	return m, nil
}

func (l *WasmLoader) instantiate(ctx context.Context, rt wazero.Runtime, name string, bin []byte) (*wasmModule, error) {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("wasi: %w", err)
	}
	log := l.log.With(zap.String("module", name))
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, ptr, n uint32) {
			if b, ok := m.Memory().Read(ptr, n); ok {
				log.Info("sim", zap.ByteString("msg", b))
			}
		}).
		Export("host_log").
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("host module: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	mod, err := rt.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	if mod.Memory() == nil {
		return nil, errors.New("module exports no memory")
	}
	w := &wasmModule{rt: rt, mod: mod, log: log, fns: make(map[string]api.Function, len(requiredExports))}
	for _, e := range requiredExports {
		fn := mod.ExportedFunction(e)
		if fn == nil {
			return nil, fmt.Errorf("missing export %s", e)
		}
		w.fns[e] = fn
	}
	return w, nil
}

type wasmModule struct {
	rt  wazero.Runtime
	mod api.Module
	log *zap.Logger
	fns map[string]api.Function
}

func (w *wasmModule) call(ctx context.Context, name string, params ...uint64) (uint64, error) {
	res, err := w.fns[name].Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (w *wasmModule) Init(ctx context.Context) error {
	return safeCall(w.log, "init", func() error {
		if _, err := w.call(ctx, exportInit); err != nil {
			return fault.Simulation("init", err)
		}
		return nil
	})
}

func (w *wasmModule) Update(ctx context.Context, dt time.Duration) error {
	return safeCall(w.log, "update", func() error {
		ms := float64(dt) / float64(time.Millisecond)
		code, err := w.call(ctx, exportUpdate, api.EncodeF64(ms))
		if err != nil {
			return fault.Simulation("update", err)
		}
		if c := api.DecodeI32(code); c != 0 {
			return fault.Simulation("update", fmt.Errorf("module reported fault code %d", c))
		}
		return nil
	})
}

func (w *wasmModule) Output(ctx context.Context) (uint32, error) {
	ptr, err := w.call(ctx, exportOutput)
	if err != nil {
		return 0, fault.Simulation("output", err)
	}
	return api.DecodeU32(ptr), nil
}

func (w *wasmModule) Memory() protocol.Memory { return w.mod.Memory() }

func (w *wasmModule) Save(ctx context.Context) ([]byte, error) {
	ptr, err := w.call(ctx, exportSave)
	if err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	n, err := w.call(ctx, exportSaveLen)
	if err != nil {
		return nil, fmt.Errorf("save length: %w", err)
	}
	b, ok := w.mod.Memory().Read(api.DecodeU32(ptr), api.DecodeU32(n))
	if !ok {
		return nil, fmt.Errorf("save: state [%d,+%d) outside memory", api.DecodeU32(ptr), api.DecodeU32(n))
	}
	return append([]byte(nil), b...), nil
}

func (w *wasmModule) Restore(ctx context.Context, state []byte) error {
	n := uint32(len(state))
	ptr, err := w.call(ctx, exportAlloc, api.EncodeU32(n))
	if err != nil {
		return fmt.Errorf("restore alloc: %w", err)
	}
	if !w.mod.Memory().Write(api.DecodeU32(ptr), state) {
		return fmt.Errorf("restore: %d bytes at 0x%x outside memory", n, api.DecodeU32(ptr))
	}
	code, err := w.call(ctx, exportRestore, ptr, api.EncodeU32(n))
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if c := api.DecodeI32(code); c != 0 {
		return fmt.Errorf("restore: module rejected state (code %d)", c)
	}
	return nil
}

func (w *wasmModule) Close(ctx context.Context) error {
	return w.rt.Close(ctx)
}
