// Package handler implements the HTTP handlers of the set coaching API.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"setcoach/internal/api/respond"
	"setcoach/internal/coach"
	"setcoach/internal/insight"
	"setcoach/internal/offer"
	"setcoach/internal/repository"
)

// maxBodyBytes caps request bodies; a sample batch is a few kilobytes.
const maxBodyBytes = 1 << 20

// Archive reads sets back from the journal once the hub has dropped them.
type Archive interface {
	ListInsights(ctx context.Context, setID string) ([]*insight.Insight, error)
	GetOutcome(ctx context.Context, setID string) (*offer.Outcome, float64, error)
	ListEvents(ctx context.Context, setID string) ([]repository.Event, error)
}

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	hub       *coach.Hub
	archive   Archive // nil when the journal is disabled
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a Handler.
func New(hub *coach.Hub, archive Archive, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, archive: archive, logger: logger, startedAt: time.Now()}
}

// HealthCheck reports liveness and the number of running sets.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_sets": len(h.hub.Active()),
		"uptime_sec":  int(time.Since(h.startedAt).Seconds()),
	})
}
