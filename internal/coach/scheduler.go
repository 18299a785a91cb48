package coach

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron"
)

// DefaultCheckpointSchedule расписание контрольных точек по умолчанию
const DefaultCheckpointSchedule = "@every 5s"

// Scheduler периодически запускает контрольные точки всех подходов
type Scheduler struct {
	hub    *Hub
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler проверяет расписание и регистрирует задачу
func NewScheduler(hub *Hub, spec string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultCheckpointSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		hub:    hub,
		cron:   cron.New(),
		logger: logger.With("component", "scheduler"),
	}
	if err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("расписание %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	if n := s.hub.CheckpointAll(context.Background()); n > 0 {
		s.logger.Debug("checkpoints started", "sets", n)
	}
}

// Run запускает планировщик и останавливает его при отмене ctx
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	s.cron.Stop()
}
