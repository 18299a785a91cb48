package repository

import (
	"context"
	"database/sql"
	"fmt"

	"setcoach/internal/insight"
	"setcoach/internal/offer"
)

// DBTX - общее подмножество *sql.DB и *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository содержит все репозитории
type Repository struct {
	db DBTX

	Events   *EventRepository
	Insights *InsightRepository
	Outcomes *OutcomeRepository
}

// New создаёт новый экземпляр Repository
func New(db DBTX) *Repository {
	return &Repository{
		db:       db,
		Events:   NewEventRepository(db),
		Insights: NewInsightRepository(db),
		Outcomes: NewOutcomeRepository(db),
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS public.set_events (
		id         BIGSERIAL PRIMARY KEY,
		set_id     TEXT NOT NULL,
		name       TEXT NOT NULL,
		payload    JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS set_events_set_id_idx ON public.set_events (set_id, id)`,
	`CREATE TABLE IF NOT EXISTS public.set_insights (
		id                 TEXT PRIMARY KEY,
		set_id             TEXT NOT NULL,
		source             TEXT NOT NULL,
		phase              TEXT NOT NULL,
		type               TEXT NOT NULL,
		headline           TEXT NOT NULL,
		tip                TEXT,
		tags               TEXT[] NOT NULL DEFAULT '{}',
		actions            TEXT[] NOT NULL DEFAULT '{}',
		rest_seconds       INTEGER NOT NULL DEFAULT 0,
		confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
		cited_metric_name  TEXT,
		cited_metric_value TEXT,
		reason             TEXT,
		trigger            TEXT,
		created_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS set_insights_set_id_idx ON public.set_insights (set_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS public.set_outcomes (
		set_id              TEXT PRIMARY KEY,
		plan_followed       BOOLEAN NOT NULL,
		quality_improved    BOOLEAN NOT NULL,
		readiness_rebounded BOOLEAN NOT NULL,
		feedback            SMALLINT NOT NULL,
		dwell_sec           DOUBLE PRECISION NOT NULL,
		score               DOUBLE PRECISION NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema создаёт таблицы, если их ещё нет
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("создание схемы: %w", err)
		}
	}
	return nil
}

// ListInsights инсайты подхода из журнала
func (r *Repository) ListInsights(ctx context.Context, setID string) ([]*insight.Insight, error) {
	return r.Insights.ListBySet(ctx, setID)
}

// GetOutcome итог подхода из журнала; nil, если итога нет
func (r *Repository) GetOutcome(ctx context.Context, setID string) (*offer.Outcome, float64, error) {
	return r.Outcomes.Get(ctx, setID)
}

// ListEvents события конвейера подхода
func (r *Repository) ListEvents(ctx context.Context, setID string) ([]Event, error) {
	return r.Events.ListBySet(ctx, setID)
}
