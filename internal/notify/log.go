package notify

import (
	"context"
	"log/slog"
	"strings"

	"setcoach/internal/insight"
)

// LogSink пишет инсайты в slog; используется, когда Telegram не настроен
type LogSink struct {
	L *slog.Logger
}

// Deliver реализует coach.Sink
func (s LogSink) Deliver(_ context.Context, setID string, in *insight.Insight) error {
	l := s.L
	if l == nil {
		l = slog.Default()
	}

	actions := make([]string, len(in.Actions))
	for i, a := range in.Actions {
		actions[i] = string(a)
	}
	l.Info("insight delivered",
		"set_id", setID,
		"id", in.ID,
		"type", string(in.Type),
		"headline", in.Headline,
		"actions", strings.Join(actions, ","),
		"rest_seconds", in.RestSeconds,
	)
	return nil
}
