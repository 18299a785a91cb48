package coach

import (
	"context"
	"errors"

	"setcoach/internal/insight"
)

// Sink получатель готовых инсайтов (уведомления, журнал)
type Sink interface {
	Deliver(ctx context.Context, setID string, in *insight.Insight) error
}

// SinkFunc позволяет использовать функцию как Sink
type SinkFunc func(ctx context.Context, setID string, in *insight.Insight) error

// Deliver реализует Sink
func (f SinkFunc) Deliver(ctx context.Context, setID string, in *insight.Insight) error {
	return f(ctx, setID, in)
}

// MultiSink рассылает инсайт всем получателям, ошибки собираются вместе
type MultiSink []Sink

// Deliver реализует Sink
func (m MultiSink) Deliver(ctx context.Context, setID string, in *insight.Insight) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, setID, in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
