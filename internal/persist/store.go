// Package persist stores simulation state snapshots and the reload journal.
// Snapshots let a session resume where the last one shut down; the journal
// is an append-only record of every module and asset reload.
package persist

import (
	"context"
	"fmt"

	"github.com/demogame/runtime/internal/config"
	"github.com/demogame/runtime/internal/reload"
	"go.uber.org/zap"
)

// keepSnapshots is how many snapshots per slot survive a save.
const keepSnapshots = 8

// Store is a snapshot store that also journals reloads.
type Store interface {
	reload.Journal
	SaveSnapshot(ctx context.Context, slot string, state []byte) error
	// LatestSnapshot returns the newest state saved under slot. ok is false
	// when the slot is empty.
	LatestSnapshot(ctx context.Context, slot string) (state []byte, ok bool, err error)
	Close() error
}

// Open builds the store cfg.Driver names. A nil Store with a nil error
// means persistence is disabled.
func Open(ctx context.Context, cfg config.PersistConfig, log *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "postgres":
		db, err := NewDB(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return NewPGStore(db), nil
	case "sqlite":
		st, err := OpenSQLite(ctx, cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("persist: unknown driver %q", cfg.Driver)
	}
}
