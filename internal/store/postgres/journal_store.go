package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/updownlabs/updown/internal/domain"
)

// JournalStore is the append-only event journal on the events table.
// Seq is the primary key, so a duplicate append fails loudly instead of
// silently rewriting history.
type JournalStore struct {
	pool *pgxpool.Pool
}

func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

func (s *JournalStore) Append(ctx context.Context, ev domain.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (seq, id, type, at, payload) VALUES ($1, $2, $3, $4, $5)`,
		int64(ev.Seq), ev.ID, string(ev.Type), ev.At, []byte(ev.Payload),
	)
	if err != nil {
		return fmt.Errorf("postgres: append event seq %d: %w", ev.Seq, err)
	}
	return nil
}

func (s *JournalStore) List(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	query := `SELECT seq, id, type, at, payload FROM events WHERE seq > $1 ORDER BY seq`
	args := []any{int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev  domain.Event
			seq int64
			typ string
		)
		if err := rows.Scan(&seq, &ev.ID, &typ, &ev.At, &ev.Payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Seq = uint64(seq)
		ev.Type = domain.EventType(typ)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

func (s *JournalStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: last seq: %w", err)
	}
	return uint64(seq), nil
}

var _ domain.EventJournal = (*JournalStore)(nil)
