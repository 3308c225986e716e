package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/progress"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventSource returns recent progress events, newest first.
type EventSource interface {
	Recent(limit, offset int) []progress.Event
}

// EventsHandler exposes the recent progress events of the run.
type EventsHandler struct {
	source EventSource
	logger *zap.Logger
}

// NewEventsHandler wires the event source and logger.
func NewEventsHandler(source EventSource, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{source: source, logger: logger}
}

// List handles GET /v1/events?limit=&offset=. It returns {"events": [...]}
// on success, 400 for invalid paging and 503 without a source.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress events unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": toEventDTOs(h.source.Recent(limit, offset)),
	})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toEventDTOs(in []progress.Event) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, evt := range in {
		out = append(out, eventDTO{
			RunID:      evt.RunUUID().String(),
			TS:         evt.TS,
			Stage:      string(evt.Stage),
			NewRecords: evt.NewRecords,
			Total:      evt.Total,
			URI:        evt.URI,
			DurationMS: evt.Dur.Milliseconds(),
			Note:       evt.Note,
		})
	}
	return out
}

type eventDTO struct {
	RunID      string    `json:"run_id"`
	TS         time.Time `json:"ts"`
	Stage      string    `json:"stage"`
	NewRecords int64     `json:"new_records"`
	Total      int64     `json:"total"`
	URI        string    `json:"uri,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Note       string    `json:"note,omitempty"`
}
