package sim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/protocol"
)

const counterScript = `
local state = { t = 0, n = 0 }

function init()
  state.n = 0
end

function update(dt)
  state.t = state.t + dt
  state.n = state.n + 1
  out.view(state.t, 0)
  out.sprites(1, {{1, 2, 3, 4, 0, 0, 1, 1, 0}, {5, 6, 7, 8, 0, 0, 1, 1, 0}})
  if fail_on ~= nil and state.n == fail_on then
    return "boom"
  end
end

function save()
  return tostring(state.n) .. ":" .. tostring(state.t)
end

function restore(s)
  local n, t = string.match(s, "(%d+):([%d%.]+)")
  state.n = tonumber(n)
  state.t = tonumber(t)
end
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sim.lua")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func loadLua(t *testing.T, body string) Module {
	t.Helper()
	ctx := context.Background()
	m, err := NewLuaLoader(0, zap.NewNop()).Load(ctx, writeScript(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { m.Close(ctx) })
	if err := m.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m
}

func TestLuaFramePublished(t *testing.T) {
	ctx := context.Background()
	m := loadLua(t, counterScript)
	if err := m.Update(ctx, 16*time.Millisecond); err != nil {
		t.Fatalf("Update: %v", err)
	}
	ptr, err := m.Output(ctx)
	if err != nil {
		t.Fatal(err)
	}
	f, err := protocol.NewDecoder().Frame(m.Memory(), ptr)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if f.Len() != 2 {
		t.Fatalf("Len = %d", f.Len())
	}
	u, _ := f.DrawUpdate(0)
	if v, ok := u.(*protocol.UpdateViewOffset); !ok || v.X != 16 {
		t.Fatalf("update 0 = %#v", u)
	}
	u, _ = f.DrawUpdate(1)
	s, ok := u.(*protocol.DrawSprites)
	if !ok || s.InstanceCount != 2 || s.TextureID != 1 {
		t.Fatalf("update 1 = %#v", u)
	}
	data, err := f.SpriteInstances(s.SpriteBatch)
	if err != nil || len(data) != 2*protocol.SpriteInstanceStride {
		t.Fatalf("instances: %d bytes, %v", len(data), err)
	}
}

func TestLuaSaveRestoreAcrossInstances(t *testing.T) {
	ctx := context.Background()
	a := loadLua(t, counterScript)
	for i := 0; i < 3; i++ {
		if err := a.Update(ctx, 16*time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	state, err := a.Save(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(state) != "3:48" {
		t.Fatalf("state = %q", state)
	}

	b := loadLua(t, counterScript)
	if err := b.Restore(ctx, state); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := b.Update(ctx, 16*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	got, _ := b.Save(ctx)
	if string(got) != "4:64" {
		t.Fatalf("restored state continued as %q", got)
	}
}

func TestLuaReportedFault(t *testing.T) {
	ctx := context.Background()
	m := loadLua(t, "fail_on = 2\n"+counterScript)
	if err := m.Update(ctx, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	err := m.Update(ctx, time.Millisecond)
	if !fault.Is(err, fault.KindSimulation) || fault.IsFatal(err) {
		t.Fatalf("err = %v, want non-fatal SimulationError", err)
	}
}

func TestLuaRuntimeError(t *testing.T) {
	m := loadLua(t, "function update(dt) local x = nil; x.y = 1 end")
	err := m.Update(context.Background(), time.Millisecond)
	if !fault.Is(err, fault.KindSimulation) {
		t.Fatalf("err = %v, want SimulationError", err)
	}
}

func TestLuaWithoutUpdate(t *testing.T) {
	_, err := NewLuaLoader(0, zap.NewNop()).Load(context.Background(), writeScript(t, "x = 1"))
	if !fault.Is(err, fault.KindTransport) || !fault.IsFatal(err) {
		t.Fatalf("err = %v, want fatal TransportError", err)
	}
}

func TestLuaRawMemoryBounds(t *testing.T) {
	m := loadLua(t, "function update(dt) mem.u32(mem.size(), 1) end")
	if err := m.Update(context.Background(), 0); !fault.Is(err, fault.KindSimulation) {
		t.Fatalf("err = %v, want SimulationError", err)
	}
}

func TestHostsByExtension(t *testing.T) {
	h := Hosts{Lua: NewLuaLoader(0, zap.NewNop())}
	ctx := context.Background()
	if _, err := h.Load(ctx, "sim.exe"); !fault.Is(err, fault.KindTransport) {
		t.Fatalf("unknown extension: %v", err)
	}
	if _, err := h.Load(ctx, "sim.wasm"); !fault.IsFatal(err) {
		t.Fatalf("missing wasm host: %v", err)
	}
	m, err := h.Load(ctx, writeScript(t, counterScript))
	if err != nil {
		t.Fatalf("lua: %v", err)
	}
	m.Close(ctx)
}

func TestWasmRejectsBadModules(t *testing.T) {
	ctx := context.Background()
	l := NewWasmLoader(zap.NewNop())
	if _, err := l.Instantiate(ctx, "junk", []byte("not wasm")); !fault.Is(err, fault.KindTransport) || !fault.IsFatal(err) {
		t.Fatalf("junk bytes: %v", err)
	}
	// A valid empty module lacks every required export.
	empty := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if _, err := l.Instantiate(ctx, "empty", empty); !fault.Is(err, fault.KindTransport) {
		t.Fatalf("empty module: %v", err)
	}
	if _, err := l.Load(ctx, filepath.Join(t.TempDir(), "missing.wasm")); !fault.Is(err, fault.KindTransport) {
		t.Fatalf("missing file: %v", err)
	}
}

func TestSafeCallRecoversPanic(t *testing.T) {
	err := safeCall(zap.NewNop(), "update", func() error { panic("bad") })
	if !fault.Is(err, fault.KindSimulation) {
		t.Fatalf("err = %v", err)
	}
	want := errors.New("x")
	if got := safeCall(zap.NewNop(), "update", func() error { return want }); got != want {
		t.Fatalf("passthrough = %v", got)
	}
}
