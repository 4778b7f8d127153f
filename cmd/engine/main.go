package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/demogame/runtime/internal/assets"
	"github.com/demogame/runtime/internal/config"
	"github.com/demogame/runtime/internal/core/event"
	"github.com/demogame/runtime/internal/engine"
	"github.com/demogame/runtime/internal/gpu"
	"github.com/demogame/runtime/internal/persist"
	"github.com/demogame/runtime/internal/present"
	"github.com/demogame/runtime/internal/render"
	"github.com/demogame/runtime/internal/sim"
	"github.com/demogame/runtime/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string, w, h int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m          demogame runtime  v0.1.0         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        熱重載遊戲客戶端 · 畫格執行環境    \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m執行個體:\033[0m %s \033[90m(%dx%d)\033[0m\n\n", name, w, h)
}

func displayWidth(s string) int {
	// CJK characters take two columns
	n := 0
	for _, r := range s {
		if r > 0x7F {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func printSection(title string) {
	lineLen := 46 - displayWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - displayWidth(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main engine logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/engine.toml"
	if p := os.Getenv("ENGINE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Engine.Name, cfg.Engine.Width, cfg.Engine.Height)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	presenter := present.Once(newPresenter(cfg.Present, log))

	// 3. Assets
	printSection("資源載入")
	bundle, err := assets.Load(cfg.Assets.Manifest, log)
	if err != nil {
		presenter.ShowFatal(err.Error(), "manifest "+cfg.Assets.Manifest)
		return err
	}
	printStat("貼圖", bundle.Len())
	fmt.Println()

	// 4. Drawing surface and default GPU resources
	printSection("繪圖裝置")
	dev, err := gpu.OpenHeadless(cfg.Engine.Width, cfg.Engine.Height)
	if err != nil {
		presenter.ShowFatal(err.Error(), "")
		return err
	}
	renderer := render.New(dev, bundle, bundle, render.Config{
		Sprites:        render.PoolSize{Initial: cfg.Pools.Sprites.Initial, Slack: cfg.Pools.Sprites.Slack},
		Projectiles:    render.PoolSize{Initial: cfg.Pools.Projectiles.Initial, Slack: cfg.Pools.Projectiles.Slack},
		Gui:            render.GeometrySize{Vertices: cfg.Pools.Gui.Vertices, Indices: cfg.Pools.Gui.Indices, Slack: cfg.Pools.Gui.Slack},
		Debug:          render.GeometrySize{Vertices: cfg.Pools.Debug.Vertices, Indices: cfg.Pools.Debug.Indices, Slack: cfg.Pools.Debug.Slack},
		TerrainTexture: bundle.TerrainID(),
	}, log)
	if err := renderer.SetupDefaults(); err != nil {
		presenter.ShowFatal(err.Error(), "default resource setup")
		return err
	}
	printOK("預設繪圖資源就緒")
	fmt.Println()

	// 5. Snapshot store
	var store persist.Store
	if cfg.Persist.Driver != "" {
		printSection("快照儲存")
		store, err = openStore(ctx, cfg.Persist, presenter, log)
		if err != nil {
			return err
		}
		defer store.Close()
		printOK(fmt.Sprintf("%s 已連線，資料庫遷移完成", cfg.Persist.Driver))
		fmt.Println()
	}

	// 6. Engine
	bus := event.NewBus()
	opts := engine.Options{
		Config:     cfg.Engine,
		ModulePath: cfg.Module.Path,
		Slot:       cfg.Persist.Slot,
		Resume:     cfg.Persist.Resume,
		Loader:     newLoader(cfg.Module, log),
		Renderer:   renderer,
		Textures:   bundle,
		Presenter:  presenter,
		Bus:        bus,
	}
	if store != nil {
		opts.Store = store
	}
	eng := engine.New(opts, log)

	printSection("模擬模組")
	if err := eng.Start(ctx); err != nil {
		return err
	}
	printOK(cfg.Module.Path)
	fmt.Println()

	// 7. Change notifications
	var wg sync.WaitGroup
	if cfg.Transport.URL != "" {
		feed := transport.NewFeed(cfg.Transport.URL, bus, log)
		feed.DialTimeout = cfg.Transport.DialTimeout
		feed.ReadTimeout = cfg.Transport.ReadTimeout
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed.Run(ctx)
		}()
	}
	if len(cfg.Transport.WatchPaths) > 0 {
		watcher := transport.NewWatcher(cfg.Transport.WatchPaths, cfg.Transport.Debounce, bus, log)
		if err := watcher.Start(); err != nil {
			log.Warn("檔案監看啟動失敗，僅使用變更通知", zap.Error(err))
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				watcher.Run(ctx)
			}()
		}
	}

	printSection("執行中")
	printReady(fmt.Sprintf("畫格迴圈啟動 (%d fps)", cfg.Engine.FrameRate))
	if cfg.Transport.URL != "" {
		printReady("變更通知 " + cfg.Transport.URL)
	}
	fmt.Println()

	runErr := eng.Run(ctx)
	stop()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Error("關閉時發生錯誤", zap.Error(err))
	}
	log.Info("引擎已停止", zap.Uint64("frames", eng.Frame()), zap.Int("sim_faults", eng.Faults()))
	return runErr
}

// openStore opens the snapshot store. A failure is shown like every other
// startup failure before it is returned.
func openStore(ctx context.Context, cfg config.PersistConfig, presenter present.Presenter, log *zap.Logger) (persist.Store, error) {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := persist.Open(openCtx, cfg, log)
	if err != nil {
		err = fmt.Errorf("persist: %w", err)
		presenter.ShowFatal(err.Error(), "snapshot store "+cfg.Driver)
		return nil, err
	}
	return store, nil
}

func newLoader(cfg config.ModuleConfig, log *zap.Logger) sim.Loader {
	wasm := sim.NewWasmLoader(log)
	wasm.MemoryLimitPages = cfg.MaxPages
	lua := sim.NewLuaLoader(cfg.MemorySize, log)
	switch cfg.Kind {
	case "wasm":
		return sim.Hosts{Wasm: wasm}
	case "lua":
		return sim.Hosts{Lua: lua}
	}
	return sim.Hosts{Wasm: wasm, Lua: lua}
}

func newPresenter(cfg config.PresentConfig, log *zap.Logger) present.Presenter {
	fallback := present.NewLog(log)
	if cfg.Mode == "tcell" {
		return present.NewTerminal(30*time.Second, fallback)
	}
	return fallback
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
