package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"setcoach/internal/insight"
)

// EventRepository журнал событий подхода
type EventRepository struct {
	db DBTX
}

// NewEventRepository создаёт новый репозиторий событий
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// Event одна запись журнала
type Event struct {
	ID        int64          `json:"id"`
	SetID     string         `json:"set_id"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Insert записывает событие
func (r *EventRepository) Insert(ctx context.Context, setID, name string, payload map[string]any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("событие %s: %w", name, err)
	}

	query := `INSERT INTO public.set_events (set_id, name, payload) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, setID, name, data); err != nil {
		return fmt.Errorf("запись события %s: %w", name, err)
	}
	return nil
}

// ListBySet возвращает события подхода в порядке записи
func (r *EventRepository) ListBySet(ctx context.Context, setID string) ([]Event, error) {
	query := `
		SELECT id, set_id, name, payload, created_at
		FROM public.set_events
		WHERE set_id = $1
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.SetID, &e.Name, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &e.Payload); err != nil {
			return nil, fmt.Errorf("событие %d: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Logger возвращает insight.Logger, пишущий события подхода в журнал.
// Ошибки записи не мешают конвейеру и уходят в slog.
func (r *EventRepository) Logger(setID string, fallback *slog.Logger) insight.Logger {
	if fallback == nil {
		fallback = slog.Default()
	}
	return insight.LoggerFunc(func(name string, payload map[string]any) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Insert(ctx, setID, name, payload); err != nil {
			fallback.Warn("журнал событий недоступен", "set_id", setID, "event", name, "error", err)
		}
	})
}

// encodePayload приводит значения к JSON. Неподдерживаемые типы
// записываются строкой, чтобы событие не терялось целиком.
func encodePayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	if data, err := json.Marshal(payload); err == nil {
		return data, nil
	}

	safe := make(map[string]any, len(payload))
	for k, v := range payload {
		if _, err := json.Marshal(v); err != nil {
			safe[k] = fmt.Sprint(v)
			continue
		}
		safe[k] = v
	}
	return json.Marshal(safe)
}
