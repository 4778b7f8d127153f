package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/demogame/runtime/internal/reload"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps snapshots and the journal in a local sqlite file.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string, log *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("persist: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	if err := RunMigrations(ctx, db, "sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("快照資料庫已開啟", zap.String("path", path))
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, slot string, state []byte) error {
	payload, err := EncodeState(state)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (slot, raw_size, payload, created_at) VALUES (?, ?, ?, ?)`,
		slot, len(state), payload, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("snapshot insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE slot = ? AND id NOT IN
		 (SELECT id FROM snapshots WHERE slot = ? ORDER BY id DESC LIMIT ?)`,
		slot, slot, keepSnapshots,
	); err != nil {
		return fmt.Errorf("snapshot prune: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, slot string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE slot = ? ORDER BY id DESC LIMIT 1`, slot,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot load: %w", err)
	}
	state, err := DecodeState(payload)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// SnapshotCount returns how many snapshots slot currently holds.
func (s *SQLiteStore) SnapshotCount(ctx context.Context, slot string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE slot = ?`, slot).Scan(&n)
	return n, err
}

// Record implements reload.Journal.
func (s *SQLiteStore) Record(ctx context.Context, e reload.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reload_journal (at, path, kind, ok, error, duration_us)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.At.UnixNano(), e.Path, e.Kind.String(), e.OK, e.Err, e.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Journal returns the newest limit journal entries, newest first.
func (s *SQLiteStore) Journal(ctx context.Context, limit int) ([]JournalRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, path, kind, ok, error, duration_us FROM reload_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []JournalRow
	for rows.Next() {
		var r JournalRow
		var at, us int64
		if err := rows.Scan(&at, &r.Path, &r.Kind, &r.OK, &r.Err, &us); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		r.At = time.Unix(0, at)
		r.Duration = time.Duration(us) * time.Microsecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// JournalRow is a stored journal entry.
type JournalRow struct {
	At       time.Time
	Path     string
	Kind     string
	OK       bool
	Err      string
	Duration time.Duration
}
