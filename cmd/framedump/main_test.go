package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const demo = `
local n = 0
function update(dt)
  n = n + 1
  if n == 2 then return "stalled" end
  out.view(n, 0)
  out.terrain_draw(7, 16, 32)
end
`

func TestRunDumpsFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.lua")
	if err := os.WriteFile(path, []byte(demo), 0o644); err != nil {
		t.Fatal(err)
	}
	dump, err := run(context.Background(), path, 3, 16*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dump.Frames) != 3 {
		t.Fatalf("frames = %d", len(dump.Frames))
	}
	f1 := dump.Frames[0]
	if len(f1.Updates) != 2 || f1.Updates[0].Kind != "UpdateViewOffset" || f1.Updates[1].Kind != "DrawTerrainChunk" {
		t.Fatalf("frame 1 = %+v", f1.Updates)
	}
	if f1.Updates[1].Fields["chunk_id"] != uint32(7) {
		t.Fatalf("chunk = %v", f1.Updates[1].Fields["chunk_id"])
	}
	if !strings.Contains(dump.Frames[1].Fault, "stalled") {
		t.Fatalf("frame 2 fault = %q", dump.Frames[1].Fault)
	}

	out, err := yaml.Marshal(dump)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"kind: DrawTerrainChunk", "chunk_id: 7", "fault:"} {
		if !strings.Contains(string(out), want) {
			t.Fatalf("yaml missing %q:\n%s", want, out)
		}
	}
}

func TestRunMissingModule(t *testing.T) {
	if _, err := run(context.Background(), filepath.Join(t.TempDir(), "none.lua"), 1, time.Millisecond, 0); err == nil {
		t.Fatal("expected error")
	}
}
