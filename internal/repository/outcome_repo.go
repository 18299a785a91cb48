package repository

import (
	"context"
	"database/sql"
	"fmt"

	"setcoach/internal/offer"
)

// OutcomeRepository итоги подходов и их оценка
type OutcomeRepository struct {
	db DBTX
}

// NewOutcomeRepository создаёт новый репозиторий итогов
func NewOutcomeRepository(db DBTX) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Save сохраняет итог подхода, повторный вызов перезаписывает его
func (r *OutcomeRepository) Save(ctx context.Context, setID string, o offer.Outcome, score float64) error {
	query := `
		INSERT INTO public.set_outcomes (
			set_id, plan_followed, quality_improved, readiness_rebounded, feedback, dwell_sec, score
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (set_id) DO UPDATE SET
			plan_followed = EXCLUDED.plan_followed,
			quality_improved = EXCLUDED.quality_improved,
			readiness_rebounded = EXCLUDED.readiness_rebounded,
			feedback = EXCLUDED.feedback,
			dwell_sec = EXCLUDED.dwell_sec,
			score = EXCLUDED.score`

	_, err := r.db.ExecContext(ctx, query,
		setID, o.PlanFollowed, o.QualityImproved, o.ReadinessRebounded, o.Feedback, o.DwellSec, score,
	)
	if err != nil {
		return fmt.Errorf("сохранение итога %s: %w", setID, err)
	}
	return nil
}

// Get возвращает итог подхода или nil, если его нет
func (r *OutcomeRepository) Get(ctx context.Context, setID string) (*offer.Outcome, float64, error) {
	query := `
		SELECT plan_followed, quality_improved, readiness_rebounded, feedback, dwell_sec, score
		FROM public.set_outcomes
		WHERE set_id = $1`

	var o offer.Outcome
	var score float64
	err := r.db.QueryRowContext(ctx, query, setID).Scan(
		&o.PlanFollowed, &o.QualityImproved, &o.ReadinessRebounded, &o.Feedback, &o.DwellSec, &score,
	)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return &o, score, nil
}
