// framedump runs a simulation module headless and dumps its decoded draw
// updates as YAML.
//
// Usage:
//
//	go run ./cmd/framedump -module sims/demo.lua [-frames 3] [-dt 16ms] [-out dump.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/demogame/runtime/internal/protocol"
	"github.com/demogame/runtime/internal/sim"
)

// ---------------------------------------------------------------------------
// YAML output structs
// ---------------------------------------------------------------------------

type dumpYAML struct {
	Module string      `yaml:"module"`
	Frames []frameYAML `yaml:"frames"`
}

type frameYAML struct {
	Frame   int          `yaml:"frame"`
	Pointer uint32       `yaml:"pointer"`
	Index   indexYAML    `yaml:"index"`
	Updates []updateYAML `yaml:"updates,omitempty"`
	Fault   string       `yaml:"fault,omitempty"`
}

type spanYAML struct {
	Offset uint32 `yaml:"offset"`
	Count  uint32 `yaml:"count"`
}

type indexYAML struct {
	DrawUpdates spanYAML `yaml:"draw_updates,flow"`
	Sprites     spanYAML `yaml:"sprites,flow"`
	Projectiles spanYAML `yaml:"projectiles,flow"`
	Terrain     spanYAML `yaml:"terrain,flow"`
	GuiIndices  spanYAML `yaml:"gui_indices,flow"`
	GuiVertices spanYAML `yaml:"gui_vertices,flow"`
}

type updateYAML struct {
	Kind   string         `yaml:"kind"`
	Fields map[string]any `yaml:",inline"`
}

func main() {
	modulePath := flag.String("module", "", "simulation module (.wasm or .lua)")
	frames := flag.Int("frames", 3, "frames to run")
	dt := flag.Duration("dt", 16*time.Millisecond, "frame delta")
	memory := flag.Int("memory", 1<<20, "lua host linear memory bytes")
	outPath := flag.String("out", "", "output file (default stdout)")
	flag.Parse()

	if *modulePath == "" {
		fmt.Fprintln(os.Stderr, "usage: framedump -module <path> [-frames n] [-dt d] [-out file]")
		os.Exit(2)
	}

	dump, err := run(context.Background(), *modulePath, *frames, *dt, *memory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framedump: %v\n", err)
		os.Exit(1)
	}

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "framedump: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(dump); err != nil {
		fmt.Fprintf(os.Stderr, "framedump: encode: %v\n", err)
		os.Exit(1)
	}
	enc.Close()
}

func run(ctx context.Context, path string, frames int, dt time.Duration, memory int) (*dumpYAML, error) {
	log := zap.NewNop()
	loader := sim.Hosts{Wasm: sim.NewWasmLoader(log), Lua: sim.NewLuaLoader(memory, log)}
	m, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	defer m.Close(ctx)
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	dec := protocol.NewDecoder()
	dump := &dumpYAML{Module: path}
	for i := 1; i <= frames; i++ {
		fy := frameYAML{Frame: i}
		if err := m.Update(ctx, dt); err != nil {
			// Simulation faults are part of what a dump shows.
			fy.Fault = err.Error()
			dump.Frames = append(dump.Frames, fy)
			continue
		}
		ptr, err := m.Output(ctx)
		if err != nil {
			return nil, fmt.Errorf("frame %d: output: %w", i, err)
		}
		f, err := dec.Frame(m.Memory(), ptr)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		fy.Pointer = ptr
		fy.Index = indexOf(f.Index)
		for j := 0; j < f.Len(); j++ {
			u, err := f.DrawUpdate(j)
			if err != nil {
				return nil, fmt.Errorf("frame %d update %d: %w", i, j, err)
			}
			fy.Updates = append(fy.Updates, convertUpdate(u))
		}
		dump.Frames = append(dump.Frames, fy)
	}
	return dump, nil
}

func span(s protocol.Span) spanYAML { return spanYAML{Offset: s.Offset, Count: s.Count} }

func indexOf(ix protocol.FrameIndex) indexYAML {
	return indexYAML{
		DrawUpdates: span(ix.DrawUpdates),
		Sprites:     span(ix.Sprites),
		Projectiles: span(ix.Projectiles),
		Terrain:     span(ix.Terrain),
		GuiIndices:  span(ix.GuiIndices),
		GuiVertices: span(ix.GuiVertices),
	}
}

// convertUpdate copies the variant's fields; decoded variants are scratch
// values reused by the next DrawUpdate call.
func convertUpdate(u protocol.DrawUpdate) updateYAML {
	out := updateYAML{Kind: u.Kind().String(), Fields: map[string]any{}}
	switch u := u.(type) {
	case *protocol.DrawSprites:
		out.Fields["instance_base"] = u.InstanceBase
		out.Fields["instance_count"] = u.InstanceCount
		out.Fields["texture_id"] = u.TextureID
	case *protocol.DrawProjectileSprites:
		out.Fields["instance_base"] = u.InstanceBase
		out.Fields["instance_count"] = u.InstanceCount
		out.Fields["texture_id"] = u.TextureID
	case *protocol.UpdateTerrainChunk:
		out.Fields["chunk_id"] = u.ChunkID
		out.Fields["data_offset"] = u.DataOffset
		out.Fields["data_count"] = u.DataCount
		out.Fields["dst_offset"] = u.DstOffset
	case *protocol.DrawTerrainChunk:
		out.Fields["chunk_id"] = u.ChunkID
		out.Fields["x"] = u.X
		out.Fields["y"] = u.Y
	case *protocol.UpdateViewOffset:
		out.Fields["x"] = u.X
		out.Fields["y"] = u.Y
	case *protocol.DrawDebugInfo:
		out.Fields["index_ptr"] = u.IndexPtr
		out.Fields["index_count"] = u.IndexCount
		out.Fields["vertex_ptr"] = u.VertexPtr
		out.Fields["vertex_count"] = u.VertexCount
	}
	return out
}
