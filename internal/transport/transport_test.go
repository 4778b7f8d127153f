package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/demogame/runtime/internal/core/event"
)

func TestParseMessage(t *testing.T) {
	m, err := ParseMessage([]byte(`{"name":"FILE_CHANGED","data":"sims/demo.wasm"}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != MsgFileChanged || m.Data != "sims/demo.wasm" {
		t.Fatalf("got %+v", m)
	}
	for _, bad := range []string{
		`not json`,
		`{"name":"FILE_CHANGED"}`,
		`{"name":"","data":"x"}`,
		`{"name":"FILE_CHANGED","data":42}`,
		`["FILE_CHANGED","x"]`,
	} {
		if _, err := ParseMessage([]byte(bad)); err == nil {
			t.Errorf("accepted %s", bad)
		}
	}
}

func collect(bus *event.Bus) *[]string {
	var got []string
	event.Subscribe(bus, func(e event.FileChanged) { got = append(got, e.Path) })
	return &got
}

func TestFeedEmitsFileChanged(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{
			`{"name":"FILE_CHANGED","data":"tex/hero.png"}`,
			`garbage`,
			`{"name":"PING","data":""}`,
			`{"name":"FILE_CHANGED","data":"sims/demo.wasm"}`,
		} {
			conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		// Hold the connection until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	bus := event.NewBus()
	got := collect(bus)
	feed := NewFeed("ws"+strings.TrimPrefix(srv.URL, "http"), bus, zap.NewNop())

	if err := feed.session(context.Background()); err == nil {
		t.Fatal("session should end when the server closes")
	}
	bus.SwapBuffers()
	bus.DispatchAll()
	if len(*got) != 2 || (*got)[0] != "tex/hero.png" || (*got)[1] != "sims/demo.wasm" {
		t.Fatalf("got %v", *got)
	}
}

func TestFeedRunStopsOnCancel(t *testing.T) {
	bus := event.NewBus()
	feed := NewFeed("ws://127.0.0.1:1/none", bus, zap.NewNop())
	feed.DialTimeout = 100 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// startWatcher runs w until the test ends. The debounce is long enough that
// only explicit Flush calls emit.
func startWatcher(t *testing.T, paths []string, bus *event.Bus) *Watcher {
	t.Helper()
	w := NewWatcher(paths, time.Hour, bus, zap.NewNop())
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func waitPending(t *testing.T, w *Watcher, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for w.Pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("pending = %d, want %d", w.Pending(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.lua")
	if err := os.WriteFile(a, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus()
	got := collect(bus)
	w := startWatcher(t, []string{dir}, bus)

	// Several writes to one file inside a window are reported once.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(b, []byte{byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(a, []byte("aa"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitPending(t, w, 2)
	changed := w.Flush()
	if len(changed) != 2 || changed[0] != a || changed[1] != b {
		t.Fatalf("changed = %v", changed)
	}

	bus.SwapBuffers()
	if n := bus.DispatchAll(); n != 2 || len(*got) != 2 {
		t.Fatalf("dispatched %d, got %v", n, *got)
	}
}

func TestWatcherSingleFileAndMissing(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "demo.wasm")
	other := filepath.Join(dir, "other.wasm")
	if err := os.WriteFile(f, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, []string{f, filepath.Join(dir, "missing")}, event.NewBus())

	// The sibling shares the watched directory but is not a watched path.
	if err := os.WriteFile(other, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f, []byte{0, 1}, 0o644); err != nil {
		t.Fatal(err)
	}
	waitPending(t, w, 1)
	if changed := w.Flush(); len(changed) != 1 || changed[0] != f {
		t.Fatalf("changed = %v", changed)
	}
}

func TestWatcherFlushesOnDebounce(t *testing.T) {
	dir := t.TempDir()
	bus := event.NewBus()
	got := collect(bus)
	w := NewWatcher([]string{dir}, 20*time.Millisecond, bus, zap.NewNop())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	hero := filepath.Join(dir, "hero.png")
	if err := os.WriteFile(hero, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for bus.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no change emitted after debounce window")
		}
		time.Sleep(10 * time.Millisecond)
	}
	bus.SwapBuffers()
	bus.DispatchAll()
	if len(*got) == 0 || (*got)[0] != hero {
		t.Fatalf("got %v", *got)
	}
}
