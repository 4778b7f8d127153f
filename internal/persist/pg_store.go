package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/demogame/runtime/internal/reload"
	"github.com/jackc/pgx/v5"
)

// PGStore keeps snapshots and the journal in postgres.
type PGStore struct {
	db *DB
}

func NewPGStore(db *DB) *PGStore {
	return &PGStore{db: db}
}

// SaveSnapshot inserts a snapshot and prunes older ones of the same slot
// in a single transaction.
func (s *PGStore) SaveSnapshot(ctx context.Context, slot string, state []byte) error {
	payload, err := EncodeState(state)
	if err != nil {
		return err
	}
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshots (slot, raw_size, payload) VALUES ($1, $2, $3)`,
		slot, len(state), payload,
	); err != nil {
		return fmt.Errorf("snapshot insert: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM snapshots WHERE slot = $1 AND id NOT IN
		 (SELECT id FROM snapshots WHERE slot = $1 ORDER BY id DESC LIMIT $2)`,
		slot, keepSnapshots,
	); err != nil {
		return fmt.Errorf("snapshot prune: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) LatestSnapshot(ctx context.Context, slot string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT payload FROM snapshots WHERE slot = $1 ORDER BY id DESC LIMIT 1`, slot,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
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

// Record implements reload.Journal.
func (s *PGStore) Record(ctx context.Context, e reload.Entry) error {
	return s.WriteJournal(ctx, []reload.Entry{e})
}

// WriteJournal atomically writes a batch of journal entries.
func (s *PGStore) WriteJournal(ctx context.Context, entries []reload.Entry) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO reload_journal (at, path, kind, ok, error, duration_us)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.At, e.Path, e.Kind.String(), e.OK, e.Err, e.Duration.Microseconds(),
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}
