package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/updownlabs/updown/internal/domain"
)

// EventService exposes the engine's settlement event journal.
type EventService interface {
	Events(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error)
}

// EventHandler serves the event journal read endpoint.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler with the given service and logger.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// listEventsResponse wraps the journal page with its cursor.
type listEventsResponse struct {
	Events  []domain.Event `json:"events"`
	NextSeq uint64         `json:"next_seq"`
}

// ListEvents returns journal entries after the given sequence cursor.
// GET /api/events?after_seq=0&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var afterSeq uint64
	if v := q.Get("after_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_seq")
			return
		}
		afterSeq = n
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	events, err := h.events.Events(r.Context(), afterSeq, limit)
	if err != nil {
		writeDomainError(w, h.logger, "list events", err)
		return
	}

	nextSeq := afterSeq
	if len(events) > 0 {
		nextSeq = events[len(events)-1].Seq
	}

	if events == nil {
		events = []domain.Event{}
	}

	writeJSON(w, http.StatusOK, listEventsResponse{
		Events:  events,
		NextSeq: nextSeq,
	})
}
