package insight

import (
	"log/slog"
	"sort"
)

// Имена событий, которые пайплайн отдаёт в логгер
const (
	EventPolicyEvaluated = "insight_policy_evaluated"
	EventDegraded        = "insight_degraded"
)

// Logger принимает пары (событие, данные). Доставка не гарантируется.
type Logger interface {
	LogEvent(name string, payload map[string]any)
}

// LoggerFunc позволяет использовать функцию как Logger
type LoggerFunc func(name string, payload map[string]any)

// LogEvent реализует Logger
func (f LoggerFunc) LogEvent(name string, payload map[string]any) {
	f(name, payload)
}

// SlogLogger пишет события в slog
type SlogLogger struct {
	L *slog.Logger
}

// LogEvent реализует Logger
func (s SlogLogger) LogEvent(name string, payload map[string]any) {
	l := s.L
	if l == nil {
		l = slog.Default()
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, payload[k])
	}
	l.Info(name, args...)
}

// MultiLogger рассылает события всем логгерам по очереди
type MultiLogger []Logger

// LogEvent реализует Logger
func (m MultiLogger) LogEvent(name string, payload map[string]any) {
	for _, l := range m {
		if l != nil {
			l.LogEvent(name, payload)
		}
	}
}

type nopLogger struct{}

func (nopLogger) LogEvent(string, map[string]any) {}
