package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"setcoach/internal/fatigue"
	"setcoach/internal/insight"
)

// InsightRepository репозиторий выданных инсайтов
type InsightRepository struct {
	db DBTX
}

// NewInsightRepository создаёт новый репозиторий инсайтов
func NewInsightRepository(db DBTX) *InsightRepository {
	return &InsightRepository{db: db}
}

// Save сохраняет инсайт. Повторное сохранение того же ID ничего не меняет.
func (r *InsightRepository) Save(ctx context.Context, setID string, in *insight.Insight) error {
	var metricName, metricValue sql.NullString
	if in.CitedMetric != nil {
		metricName = sql.NullString{String: string(in.CitedMetric.Name), Valid: true}
		metricValue = sql.NullString{String: in.CitedMetric.Value, Valid: true}
	}

	query := `
		INSERT INTO public.set_insights (
			id, set_id, source, phase, type, headline, tip, tags, actions,
			rest_seconds, confidence, cited_metric_name, cited_metric_value,
			reason, trigger, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		in.ID, setID, string(in.Source), in.Phase.String(), string(in.Type), in.Headline, in.Tip,
		pq.Array(tagStrings(in.Tags)), pq.Array(actionStrings(in.Actions)),
		in.RestSeconds, in.Confidence, metricName, metricValue,
		string(in.Reason), in.Trigger, in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("сохранение инсайта %s: %w", in.ID, err)
	}
	return nil
}

// Deliver сохраняет инсайт как получатель уведомлений
func (r *InsightRepository) Deliver(ctx context.Context, setID string, in *insight.Insight) error {
	return r.Save(ctx, setID, in)
}

// ListBySet возвращает инсайты подхода по времени создания
func (r *InsightRepository) ListBySet(ctx context.Context, setID string) ([]*insight.Insight, error) {
	query := `
		SELECT id, source, phase, type, headline, COALESCE(tip, ''), tags, actions,
		       rest_seconds, confidence, cited_metric_name, cited_metric_value,
		       COALESCE(reason, ''), COALESCE(trigger, ''), created_at
		FROM public.set_insights
		WHERE set_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*insight.Insight
	for rows.Next() {
		var (
			in                      insight.Insight
			source, phase, typ      string
			reason                  string
			tags, actions           []string
			metricName, metricValue sql.NullString
		)
		err := rows.Scan(
			&in.ID, &source, &phase, &typ, &in.Headline, &in.Tip,
			pq.Array(&tags), pq.Array(&actions),
			&in.RestSeconds, &in.Confidence, &metricName, &metricValue,
			&reason, &in.Trigger, &in.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		in.Source = insight.Source(source)
		in.Phase = fatigue.ParsePhase(phase)
		in.Type = insight.Type(typ)
		in.Reason = insight.Reason(reason)
		in.Tags = make([]insight.Tag, 0, len(tags))
		for _, t := range tags {
			in.Tags = append(in.Tags, insight.Tag(t))
		}
		in.Actions = make([]insight.Action, 0, len(actions))
		for _, a := range actions {
			in.Actions = append(in.Actions, insight.Action(a))
		}
		if metricName.Valid {
			in.CitedMetric = &insight.CitedMetric{Name: insight.MetricName(metricName.String), Value: metricValue.String}
		}
		result = append(result, &in)
	}
	return result, rows.Err()
}

func tagStrings(tags []insight.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

func actionStrings(actions []insight.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
