package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Module    ModuleConfig    `toml:"module"`
	Pools     PoolsConfig     `toml:"pools"`
	Assets    AssetsConfig    `toml:"assets"`
	Transport TransportConfig `toml:"transport"`
	Persist   PersistConfig   `toml:"persist"`
	Present   PresentConfig   `toml:"present"`
	Logging   LoggingConfig   `toml:"logging"`
}

type EngineConfig struct {
	Name          string        `toml:"name"`
	FrameRate     int           `toml:"frame_rate"`
	MaxSimFaults  int           `toml:"max_sim_faults"` // consecutive-or-not faults tolerated before the loop stops
	ReloadTimeout time.Duration `toml:"reload_timeout"`
	Width         int           `toml:"width"`
	Height        int           `toml:"height"`
	MaxFrames     int           `toml:"max_frames"` // 0 = run until quit
	StartTime     int64         // set at boot, not from config
}

// ModuleConfig selects the simulation module.
type ModuleConfig struct {
	Kind       string `toml:"kind"` // "wasm" or "lua"; empty = by extension
	Path       string `toml:"path"`
	MemorySize int    `toml:"memory_size"` // lua host linear memory, bytes
	MaxPages   uint32 `toml:"max_pages"`   // wasm memory limit, 64KiB pages
}

type PoolConfig struct {
	Initial uint32 `toml:"initial"`
	Slack   uint32 `toml:"slack"`
}

type GeometryConfig struct {
	Vertices uint32 `toml:"vertices"`
	Indices  uint32 `toml:"indices"`
	Slack    uint32 `toml:"slack"`
}

type PoolsConfig struct {
	Sprites     PoolConfig     `toml:"sprites"`
	Projectiles PoolConfig     `toml:"projectiles"`
	Gui         GeometryConfig `toml:"gui"`
	Debug       GeometryConfig `toml:"debug"`
}

type AssetsConfig struct {
	Manifest string `toml:"manifest"`
}

type TransportConfig struct {
	URL         string        `toml:"url"` // websocket change feed; empty disables
	WatchPaths  []string      `toml:"watch_paths"`
	Debounce    time.Duration `toml:"debounce"` // file watcher de-duplication window
	DialTimeout time.Duration `toml:"dial_timeout"`
	ReadTimeout time.Duration `toml:"read_timeout"`
}

// PersistConfig selects the snapshot store. Driver "postgres" uses DSN
// through pgx, "sqlite" opens Path, "" disables persistence.
type PersistConfig struct {
	Driver          string        `toml:"driver"`
	DSN             string        `toml:"dsn"`
	Path            string        `toml:"path"`
	Slot            string        `toml:"slot"`
	Resume          bool          `toml:"resume"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type PresentConfig struct {
	Mode string `toml:"mode"` // "log" or "tcell"
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Engine.StartTime = time.Now().Unix()
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config { return defaults() }

// FrameInterval is the target duration of one frame.
func (c *EngineConfig) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FrameRate)
}

func (c *Config) validate() error {
	switch {
	case c.Engine.Width <= 0 || c.Engine.Height <= 0:
		return fmt.Errorf("engine: surface %dx%d", c.Engine.Width, c.Engine.Height)
	case c.Engine.MaxSimFaults < 0:
		return fmt.Errorf("engine: max_sim_faults %d", c.Engine.MaxSimFaults)
	case c.Module.Path == "":
		return fmt.Errorf("module: path is required")
	}
	switch c.Module.Kind {
	case "", "wasm", "lua":
	default:
		return fmt.Errorf("module: unknown kind %q", c.Module.Kind)
	}
	switch c.Persist.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("persist: unknown driver %q", c.Persist.Driver)
	}
	switch c.Present.Mode {
	case "log", "tcell":
	default:
		return fmt.Errorf("present: unknown mode %q", c.Present.Mode)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:          "demogame",
			FrameRate:     60,
			MaxSimFaults:  5,
			ReloadTimeout: 10 * time.Second,
			Width:         1280,
			Height:        720,
		},
		Module: ModuleConfig{
			MemorySize: 1 << 20,
			MaxPages:   256,
		},
		Pools: PoolsConfig{
			Sprites:     PoolConfig{Initial: 1024, Slack: 256},
			Projectiles: PoolConfig{Initial: 256, Slack: 128},
			Gui:         GeometryConfig{Vertices: 4096, Indices: 6144, Slack: 1024},
			Debug:       GeometryConfig{Vertices: 1024, Indices: 2048, Slack: 512},
		},
		Assets: AssetsConfig{
			Manifest: "assets/manifest.yaml",
		},
		Transport: TransportConfig{
			Debounce:    500 * time.Millisecond,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 60 * time.Second,
		},
		Persist: PersistConfig{
			Slot:            "default",
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Present: PresentConfig{
			Mode: "log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
