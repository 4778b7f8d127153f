package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[engine]
frame_rate = 30
reload_timeout = "2s"

[module]
path = "sims/demo.lua"

[pools.sprites]
initial = 64

[persist]
driver = "sqlite"
path = "saves.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.FrameRate != 30 || cfg.Engine.ReloadTimeout != 2*time.Second {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.MaxSimFaults != 5 || cfg.Engine.Width != 1280 {
		t.Fatalf("defaults lost: %+v", cfg.Engine)
	}
	if cfg.Pools.Sprites.Initial != 64 || cfg.Pools.Sprites.Slack != 256 {
		t.Fatalf("sprites = %+v", cfg.Pools.Sprites)
	}
	if cfg.Persist.Slot != "default" || cfg.Persist.Driver != "sqlite" {
		t.Fatalf("persist = %+v", cfg.Persist)
	}
	if cfg.Engine.StartTime == 0 {
		t.Fatal("start time not set")
	}
	if got := cfg.Engine.FrameInterval(); got != time.Second/30 {
		t.Fatalf("FrameInterval = %v", got)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"no module":   "[engine]\nframe_rate = 60\n",
		"bad kind":    "[module]\npath = \"a.so\"\nkind = \"native\"\n",
		"bad driver":  "[module]\npath = \"a.lua\"\n[persist]\ndriver = \"mysql\"\n",
		"bad surface": "[module]\npath = \"a.lua\"\n[engine]\nwidth = 0\n",
		"bad present": "[module]\npath = \"a.lua\"\n[present]\nmode = \"gui\"\n",
		"bad toml":    "[module\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error")
	}
}
