// Package coach держит активные подходы: принимает показания, запускает
// генерацию инсайтов и раздаёт их получателям.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"setcoach/internal/config"
	"setcoach/internal/insight"
	"setcoach/internal/offer"
	"setcoach/internal/report"
)

var (
	// ErrSetNotFound - подход с таким ID неизвестен
	ErrSetNotFound = errors.New("coach: set not found")
	// ErrSetClosed - подход уже завершён
	ErrSetClosed = errors.New("coach: set closed")
)

// DefaultRetention сколько хранится завершённый подход
const DefaultRetention = 30 * time.Minute

// OutcomeStore сохраняет итог подхода
type OutcomeStore interface {
	Save(ctx context.Context, setID string, o offer.Outcome, score float64) error
}

// Options зависимости Hub
type Options struct {
	// Tuning возвращает актуальные настройки; nil - значения по умолчанию
	Tuning func() *config.Tuning
	// NewGenerator создаёт генератор при первом обращении
	NewGenerator func() (insight.Generator, error)
	// Events даёт журнал событий конвейера для подхода
	Events   func(setID string) insight.Logger
	Sinks    []Sink
	Outcomes OutcomeStore
	Logger   *slog.Logger
	Clock    insight.Clock
	// Retention 0 - DefaultRetention
	Retention time.Duration
	// Archive получает отчёт каждого завершённого подхода
	Archive func(report.SetReport) error
	// SyncTriggers обрабатывает смену фазы внутри Push (повтор записей с
	// имитацией часов)
	SyncTriggers bool
}

// Hub - реестр подходов
type Hub struct {
	opts   Options
	logger *slog.Logger
	clock  insight.Clock
	sink   Sink

	genMu sync.Mutex
	gen   insight.Generator

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub создаёт реестр
func NewHub(opts Options) *Hub {
	h := &Hub{
		opts:     opts,
		logger:   opts.Logger,
		clock:    opts.Clock,
		sessions: make(map[string]*Session),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	if h.opts.Tuning == nil {
		def := config.DefaultTuning()
		h.opts.Tuning = func() *config.Tuning { return def }
	}
	if h.opts.Retention <= 0 {
		h.opts.Retention = DefaultRetention
	}
	if len(opts.Sinks) > 0 {
		h.sink = MultiSink(opts.Sinks)
	}
	return h
}

// generator общий для всех подходов; неудача не запоминается
func (h *Hub) generator() (insight.Generator, error) {
	h.genMu.Lock()
	defer h.genMu.Unlock()

	if h.gen != nil {
		return h.gen, nil
	}
	if h.opts.NewGenerator == nil {
		return nil, insight.ErrNoGenerator
	}
	g, err := h.opts.NewGenerator()
	if err != nil {
		return nil, err
	}
	h.gen = g
	return g, nil
}

// StartSet начинает подход с настройками, актуальными на этот момент
func (h *Hub) StartSet(cfg SetConfig) (*Session, error) {
	if cfg.Limits != nil && cfg.Limits.MaxMessagesPerSet < 0 {
		return nil, fmt.Errorf("coach: max_messages_per_set must not be negative")
	}

	id := uuid.NewString()
	tun := h.opts.Tuning()
	logger := h.logger.With("set_id", id)

	var events insight.Logger = insight.SlogLogger{L: logger}
	if h.opts.Events != nil {
		events = insight.MultiLogger{events, h.opts.Events(id)}
	}

	s := newSession(id, cfg, sessionDeps{
		fatigue:   tun.Fatigue,
		limits:    tun.Limits,
		rorWindow: tun.RoRWindowSec,
		pipeline: insight.Options{
			NewGenerator:          h.generator,
			Logger:                events,
			Clock:                 h.clock,
			Timeout:               tun.ResponseTimeout(),
			SuppressLowConfidence: tun.Pipeline.SuppressLowConfidence,
		},
		logger: logger,
		sink:   h.sink,
		now:    h.clock(),
		sync:   h.opts.SyncTriggers,
	})

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()

	logger.Info("set started", "exercise", cfg.Exercise.Name, "athlete_id", cfg.AthleteID)
	return s, nil
}

// Session возвращает подход по ID
func (h *Hub) Session(setID string) (*Session, error) {
	h.mu.RLock()
	s, ok := h.sessions[setID]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrSetNotFound
	}
	return s, nil
}

// Push передаёт показание в подход
func (h *Hub) Push(ctx context.Context, setID string, r Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := h.Session(setID)
	if err != nil {
		return err
	}
	return s.Push(ctx, r)
}

// Checkpoint синхронная контрольная точка подхода
func (h *Hub) Checkpoint(ctx context.Context, setID string) (*insight.Insight, error) {
	s, err := h.Session(setID)
	if err != nil {
		return nil, err
	}
	return s.Checkpoint(ctx)
}

// CheckpointAll запускает контрольные точки всех активных подходов в фоне
// и удаляет давно завершённые. Возвращает число запущенных точек.
func (h *Hub) CheckpointAll(ctx context.Context) int {
	h.prune()

	n := 0
	for _, s := range h.sessionList() {
		if ctx.Err() != nil {
			break
		}
		if s.checkpointAsync() {
			n++
		}
	}
	return n
}

// EndSet завершает подход, отменяет идущие генерации и сохраняет итог
func (h *Hub) EndSet(ctx context.Context, setID string, o *offer.Outcome) (float64, error) {
	s, err := h.Session(setID)
	if err != nil {
		return 0, err
	}
	score, err := s.end(o, h.clock())
	if err != nil {
		return 0, err
	}
	h.archive(s)

	if o != nil && h.opts.Outcomes != nil {
		if err := h.opts.Outcomes.Save(ctx, setID, *o, score); err != nil {
			return score, fmt.Errorf("coach: save outcome: %w", err)
		}
	}
	s.logger.Info("set ended", "score", score)
	return score, nil
}

// Snapshot состояние подхода
func (h *Hub) Snapshot(setID string) (SetStatus, error) {
	s, err := h.Session(setID)
	if err != nil {
		return SetStatus{}, err
	}
	return s.Status(), nil
}

// Insights выданные подходу инсайты
func (h *Hub) Insights(setID string) ([]*insight.Insight, error) {
	s, err := h.Session(setID)
	if err != nil {
		return nil, err
	}
	return s.Insights(), nil
}

// Report данные отчёта по подходу
func (h *Hub) Report(setID string) (report.SetReport, error) {
	s, err := h.Session(setID)
	if err != nil {
		return report.SetReport{}, err
	}
	return s.Report(), nil
}

// Active статусы незавершённых подходов, старые первыми
func (h *Hub) Active() []SetStatus {
	var out []SetStatus
	for _, s := range h.sessionList() {
		if st := s.Status(); st.Active {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Close завершает все активные подходы без итога
func (h *Hub) Close() {
	for _, s := range h.sessionList() {
		if _, err := s.end(nil, h.clock()); err == nil {
			s.logger.Info("set closed on shutdown")
			h.archive(s)
		}
	}
}

func (h *Hub) archive(s *Session) {
	if h.opts.Archive == nil {
		return
	}
	if err := h.opts.Archive(s.Report()); err != nil {
		s.logger.Warn("report not archived", "error", err)
	}
}

func (h *Hub) sessionList() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) prune() {
	cutoff := h.clock().Add(-h.opts.Retention)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		if s.endedBefore(cutoff) {
			delete(h.sessions, id)
		}
	}
}
