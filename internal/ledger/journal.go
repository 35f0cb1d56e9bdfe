package ledger

import (
	"context"
	"sync"

	"github.com/updownlabs/updown/internal/domain"
)

// MemoryJournal implements domain.EventJournal as an append-only slice.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Append records one event. Events arrive in sequence order because the
// engine serializes mutations.
func (j *MemoryJournal) Append(_ context.Context, e domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

// List returns up to limit events with Seq > afterSeq, in order.
func (j *MemoryJournal) List(_ context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []domain.Event
	for _, e := range j.events {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LastSeq returns the sequence number of the newest event, zero if empty.
func (j *MemoryJournal) LastSeq(_ context.Context) (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if len(j.events) == 0 {
		return 0, nil
	}
	return j.events[len(j.events)-1].Seq, nil
}

// Compile-time interface check.
var _ domain.EventJournal = (*MemoryJournal)(nil)
