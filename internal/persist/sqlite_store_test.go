package persist

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/demogame/runtime/internal/config"
	"github.com/demogame/runtime/internal/reload"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "saves.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteSnapshotLatest(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.LatestSnapshot(ctx, "a"); err != nil || ok {
		t.Fatalf("empty slot: ok=%v err=%v", ok, err)
	}
	for i := 0; i < 3; i++ {
		if err := st.SaveSnapshot(ctx, "a", []byte(fmt.Sprintf("state-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.SaveSnapshot(ctx, "b", []byte("other")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := st.LatestSnapshot(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if string(got) != "state-2" {
		t.Fatalf("latest = %q", got)
	}
}

func TestSQLiteSnapshotPrune(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	for i := 0; i < keepSnapshots+5; i++ {
		if err := st.SaveSnapshot(ctx, "a", []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := st.SnapshotCount(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if n != keepSnapshots {
		t.Fatalf("count = %d, want %d", n, keepSnapshots)
	}
}

func TestSQLiteJournal(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	at := time.Unix(1700000000, 0)
	entries := []reload.Entry{
		{At: at, Path: "sims/demo.wasm", Kind: reload.ChangeModule, OK: true, Duration: 1500 * time.Microsecond},
		{At: at.Add(time.Second), Path: "tex/hero.png", Kind: reload.ChangeTexture, Err: "decode failed"},
	}
	for _, e := range entries {
		if err := st.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := st.Journal(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Path != "tex/hero.png" || rows[0].OK || rows[0].Err != "decode failed" {
		t.Fatalf("newest = %+v", rows[0])
	}
	if rows[1].Kind != reload.ChangeModule.String() || !rows[1].OK || rows[1].Duration != 1500*time.Microsecond {
		t.Fatalf("oldest = %+v", rows[1])
	}
	if !rows[1].At.Equal(at) {
		t.Fatalf("at = %v", rows[1].At)
	}
}

func TestSQLiteReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "saves.db")
	st, err := OpenSQLite(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSnapshot(ctx, "default", []byte("persisted")); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = OpenSQLite(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, ok, err := st.LatestSnapshot(ctx, "default")
	if err != nil || !ok || string(got) != "persisted" {
		t.Fatalf("got %q ok=%v err=%v", got, ok, err)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, config.PersistConfig{}, zap.NewNop())
	if err != nil || st != nil {
		t.Fatalf("disabled: st=%v err=%v", st, err)
	}
	if _, err := Open(ctx, config.PersistConfig{Driver: "mysql"}, zap.NewNop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(ctx, config.PersistConfig{Driver: "sqlite"}, zap.NewNop()); err == nil {
		t.Fatal("empty sqlite path accepted")
	}
}
