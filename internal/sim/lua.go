package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/fault"
	"github.com/demogame/runtime/internal/protocol"
)

// LuaLoader runs simulations written in Lua. The script defines the
// globals init(), update(dt_ms), save() and restore(state); all optional
// except update. Frames are published through the `out` library, which
// writes a layout v1 frame into a private linear memory.
type LuaLoader struct {
	log        *zap.Logger
	memorySize int
}

// NewLuaLoader creates a loader whose modules get memorySize bytes of
// linear memory. The upper half holds the published frame; the lower half
// is free for raw writes through the `mem` library.
func NewLuaLoader(memorySize int, log *zap.Logger) *LuaLoader {
	if memorySize < 64*1024 {
		memorySize = 64 * 1024
	}
	return &LuaLoader{log: log, memorySize: memorySize &^ 3}
}

func (l *LuaLoader) Load(ctx context.Context, path string) (Module, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	m := &luaModule{
		vm:    vm,
		log:   l.log.With(zap.String("module", path)),
		mem:   make(protocol.LinearMemory, l.memorySize),
		frame: protocol.NewFrameBuilder(),
		base:  uint32(l.memorySize/2) &^ 3,
	}
	m.openLibs()

	vm.SetContext(ctx)
	if err := vm.DoFile(path); err != nil {
		vm.Close()
		return nil, fault.Transport("load module", true, fmt.Errorf("load %s: %w", path, err))
	}
	if vm.GetGlobal("update").Type() != lua.LTFunction {
		vm.Close()
		return nil, fault.Transport("load module", true, fmt.Errorf("%s defines no update function", path))
	}
	l.log.Debug("loaded lua script", zap.String("file", path))
	return m, nil
}

type luaModule struct {
	vm    *lua.LState
	log   *zap.Logger
	mem   protocol.LinearMemory
	frame *protocol.FrameBuilder
	base  uint32
	ptr   uint32

	scratch []byte
	err     error // first out-library error of the current call
}

// callGlobal calls a global function if it exists and returns its first
// result (LNil when the function is absent).
func (m *luaModule) callGlobal(ctx context.Context, name string, args ...lua.LValue) (lua.LValue, bool, error) {
	fn := m.vm.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return lua.LNil, false, nil
	}
	m.vm.SetContext(ctx)
	if err := m.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, true, err
	}
	ret := m.vm.Get(-1)
	m.vm.Pop(1)
	return ret, true, nil
}

// publish encodes the builder into linear memory.
func (m *luaModule) publish() error {
	ptr, _, err := m.frame.Encode(m.mem, m.base)
	if err != nil {
		return err
	}
	m.ptr = ptr
	return nil
}

func (m *luaModule) Init(ctx context.Context) error {
	return safeCall(m.log, "init", func() error {
		m.frame.Reset()
		m.err = nil
		if _, _, err := m.callGlobal(ctx, "init"); err != nil {
			return fault.Simulation("init", err)
		}
		if m.err != nil {
			return fault.Simulation("init", m.err)
		}
		if err := m.publish(); err != nil {
			return fault.Simulation("init", err)
		}
		return nil
	})
}

func (m *luaModule) Update(ctx context.Context, dt time.Duration) error {
	return safeCall(m.log, "update", func() error {
		m.frame.Reset()
		m.err = nil
		ms := float64(dt) / float64(time.Millisecond)
		ret, _, err := m.callGlobal(ctx, "update", lua.LNumber(ms))
		if err != nil {
			return fault.Simulation("update", err)
		}
		if m.err != nil {
			return fault.Simulation("update", m.err)
		}
		// update may return false or an error string to report a fault.
		switch v := ret.(type) {
		case lua.LBool:
			if !bool(v) {
				return fault.Simulation("update", fmt.Errorf("module reported a fault"))
			}
		case lua.LString:
			return fault.Simulation("update", fmt.Errorf("module reported a fault: %s", string(v)))
		}
		if err := m.publish(); err != nil {
			return fault.Simulation("update", err)
		}
		return nil
	})
}

func (m *luaModule) Output(context.Context) (uint32, error) { return m.ptr, nil }

func (m *luaModule) Memory() protocol.Memory { return m.mem }

func (m *luaModule) Save(ctx context.Context) ([]byte, error) {
	ret, ok, err := m.callGlobal(ctx, "save")
	if err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	if !ok || ret == lua.LNil {
		return []byte{}, nil
	}
	s, isStr := ret.(lua.LString)
	if !isStr {
		return nil, fmt.Errorf("save returned %s, want string", ret.Type())
	}
	return []byte(string(s)), nil
}

func (m *luaModule) Restore(ctx context.Context, state []byte) error {
	ret, ok, err := m.callGlobal(ctx, "restore", lua.LString(state))
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if ok && ret == lua.LFalse {
		return fmt.Errorf("restore: module rejected state")
	}
	return nil
}

func (m *luaModule) Close(context.Context) error {
	m.vm.Close()
	return nil
}

// --- host libraries ---

func (m *luaModule) openLibs() {
	out := m.vm.NewTable()
	m.vm.SetFuncs(out, map[string]lua.LGFunction{
		"sprites":        m.luaSprites,
		"projectiles":    m.luaProjectiles,
		"terrain_update": m.luaTerrainUpdate,
		"terrain_draw":   m.luaTerrainDraw,
		"view":           m.luaView,
		"gui":            m.luaGui,
		"debug":          m.luaDebug,
		"raw":            m.luaRaw,
	})
	m.vm.SetGlobal("out", out)

	mem := m.vm.NewTable()
	m.vm.SetFuncs(mem, map[string]lua.LGFunction{
		"u32":  m.luaMemU32,
		"f32":  m.luaMemF32,
		"size": m.luaMemSize,
	})
	m.vm.SetGlobal("mem", mem)
}

func (m *luaModule) fail(err error) {
	if err != nil && m.err == nil {
		m.err = err
	}
}

// records flattens a list of numeric tuples into little-endian records.
// ints marks fields written as int32/uint32 instead of float32.
func (m *luaModule) records(list *lua.LTable, fields int, ints map[int]bool) []byte {
	m.scratch = m.scratch[:0]
	n := list.Len()
	for i := 1; i <= n; i++ {
		rec, ok := list.RawGetInt(i).(*lua.LTable)
		if !ok {
			m.vm.ArgError(2, fmt.Sprintf("record %d is not a table", i))
		}
		for f := 1; f <= fields; f++ {
			v := float64(lua.LVAsNumber(rec.RawGetInt(f)))
			if ints[f] {
				m.scratch = binary.LittleEndian.AppendUint32(m.scratch, uint32(int64(v)))
			} else {
				m.scratch = binary.LittleEndian.AppendUint32(m.scratch, math.Float32bits(float32(v)))
			}
		}
	}
	return m.scratch
}

var (
	spriteInts = map[int]bool{9: true}
	guiInts    = map[int]bool{5: true}
	debugInts  = map[int]bool{3: true}
)

// out.sprites(texture, {{x, y, w, h, u, v, tw, th, flags}, ...})
func (m *luaModule) luaSprites(L *lua.LState) int {
	tex := uint32(L.CheckInt(1))
	data := m.records(L.CheckTable(2), 9, spriteInts)
	m.fail(m.frame.DrawSprites(tex, data))
	return 0
}

// out.projectiles(texture, {{x, y, w, h, u, v, tw, th, flags, rotation}, ...})
func (m *luaModule) luaProjectiles(L *lua.LState) int {
	tex := uint32(L.CheckInt(1))
	data := m.records(L.CheckTable(2), 10, spriteInts)
	m.fail(m.frame.DrawProjectiles(tex, data))
	return 0
}

// out.terrain_update(chunk, first_cell, {{8 texcoords}, ...})
func (m *luaModule) luaTerrainUpdate(L *lua.LState) int {
	chunk := uint32(L.CheckInt(1))
	cell := uint32(L.CheckInt(2))
	data := m.records(L.CheckTable(3), 8, nil)
	m.fail(m.frame.UpdateTerrainChunk(chunk, cell*protocol.TerrainRecordStride, data))
	return 0
}

// out.terrain_draw(chunk, x, y)
func (m *luaModule) luaTerrainDraw(L *lua.LState) int {
	m.frame.DrawTerrainChunk(uint32(L.CheckInt(1)), float32(L.CheckNumber(2)), float32(L.CheckNumber(3)))
	return 0
}

// out.view(x, y)
func (m *luaModule) luaView(L *lua.LState) int {
	m.frame.UpdateViewOffset(float32(L.CheckNumber(1)), float32(L.CheckNumber(2)))
	return 0
}

func (m *luaModule) indices(list *lua.LTable) []byte {
	out := make([]byte, 0, list.Len()*protocol.IndexStride)
	for i := 1; i <= list.Len(); i++ {
		out = binary.LittleEndian.AppendUint16(out, uint16(lua.LVAsNumber(list.RawGetInt(i))))
	}
	return out
}

// out.gui({indices}, {{x, y, u, v, rgba}, ...})
func (m *luaModule) luaGui(L *lua.LState) int {
	idx := m.indices(L.CheckTable(1))
	vtx := m.records(L.CheckTable(2), 5, guiInts)
	m.fail(m.frame.UpdateGui(idx, vtx))
	return 0
}

// out.debug({indices}, {{x, y, rgba}, ...})
func (m *luaModule) luaDebug(L *lua.LState) int {
	idx := m.indices(L.CheckTable(1))
	vtx := m.records(L.CheckTable(2), 3, debugInts)
	m.fail(m.frame.DrawDebugInfo(idx, vtx))
	return 0
}

// out.raw(kind, w0, w1, w2, w3) appends a record verbatim.
func (m *luaModule) luaRaw(L *lua.LState) int {
	m.frame.Raw(protocol.Kind(L.CheckInt(1)),
		uint32(L.OptInt(2, 0)), uint32(L.OptInt(3, 0)), uint32(L.OptInt(4, 0)), uint32(L.OptInt(5, 0)))
	return 0
}

// mem.u32(addr, value)
func (m *luaModule) luaMemU32(L *lua.LState) int {
	addr := uint32(L.CheckInt(1))
	if uint64(addr)+4 > uint64(m.base) || !m.mem.PutU32(addr, uint32(L.CheckInt64(2))) {
		L.ArgError(1, fmt.Sprintf("address 0x%x outside the raw region", addr))
	}
	return 0
}

// mem.f32(addr, value)
func (m *luaModule) luaMemF32(L *lua.LState) int {
	addr := uint32(L.CheckInt(1))
	if uint64(addr)+4 > uint64(m.base) || !m.mem.PutF32(addr, float32(L.CheckNumber(2))) {
		L.ArgError(1, fmt.Sprintf("address 0x%x outside the raw region", addr))
	}
	return 0
}

// mem.size() returns the size of the raw region.
func (m *luaModule) luaMemSize(L *lua.LState) int {
	L.Push(lua.LNumber(m.base))
	return 1
}
