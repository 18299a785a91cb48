package coach

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"setcoach/internal/fatigue"
	"setcoach/internal/insight"
	"setcoach/internal/offer"
	"setcoach/internal/report"
)

// Триггеры генерации
const (
	TriggerStateChanged = "state-changed"
	TriggerCheckpoint   = "periodic-checkpoint"
)

const (
	// maxReportSamples ограничивает память под отчёт (примерно 30 минут при 10 Гц)
	maxReportSamples = 18000
	sinkTimeout      = 5 * time.Second
)

// Reading одно показание датчика
type Reading struct {
	TimeSec  float64  `json:"t" msgpack:"t"`
	Raw      float64  `json:"raw" msgpack:"raw"`
	MDF      *float64 `json:"mdf,omitempty" msgpack:"mdf,omitempty"`
	Artifact float64  `json:"artifact,omitempty" msgpack:"artifact,omitempty"`
	Symmetry *float64 `json:"symmetry,omitempty" msgpack:"symmetry,omitempty"`
}

// SetConfig параметры нового подхода
type SetConfig struct {
	AthleteID string           `json:"athlete_id"`
	Exercise  insight.Exercise `json:"exercise"`
	// Limits переопределяет лимиты из настроек
	Limits *insight.Limits `json:"limits,omitempty"`
}

// SetStatus состояние подхода для API
type SetStatus struct {
	SetID     string               `json:"set_id"`
	AthleteID string               `json:"athlete_id,omitempty"`
	Exercise  string               `json:"exercise"`
	Active    bool                 `json:"active"`
	StartedAt time.Time            `json:"started_at"`
	Estimator fatigue.Snapshot     `json:"estimator"`
	Pipeline  insight.SessionState `json:"pipeline"`
	Limits    insight.Limits       `json:"limits"`
}

// Session связывает оценщик усталости и конвейер инсайтов одного подхода
type Session struct {
	id     string
	cfg    SetConfig
	limits insight.Limits
	logger *slog.Logger
	sink   Sink

	estimator *fatigue.Estimator
	pipeline  *insight.Pipeline

	// ctx живёт до EndSet; его отмена - отмена со стороны вызывающего
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// genMu: не больше одной генерации одновременно, иначе лимиты гонятся
	genMu sync.Mutex

	// syncTriggers: смена фазы обрабатывается внутри Push, а не в горутине
	syncTriggers bool

	mu          sync.Mutex
	pending     []insight.Context
	window      *MetricsWindow
	artifact    float64
	symmetry    *float64
	lastRaw     float64
	closed      bool
	startedAt   time.Time
	endedAt     time.Time
	samples     []report.SampleRow
	transitions []report.Transition
	insights    []*insight.Insight
	outcome     *offer.Outcome
	score       float64
}

type sessionDeps struct {
	fatigue   fatigue.Config
	limits    insight.Limits
	rorWindow float64
	pipeline  insight.Options
	logger    *slog.Logger
	sink      Sink
	now       time.Time
	sync      bool
}

func newSession(id string, cfg SetConfig, deps sessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		cfg:       cfg,
		limits:    deps.limits,
		logger:    deps.logger,
		sink:      deps.sink,
		estimator: fatigue.New(deps.fatigue),
		pipeline:  insight.NewPipeline(deps.pipeline),
		ctx:       ctx,
		cancel:    cancel,
		window:    NewMetricsWindow(deps.rorWindow),
		startedAt: deps.now,
	}
	if cfg.Limits != nil {
		s.limits = *cfg.Limits
	}
	s.syncTriggers = deps.sync
	s.pipeline.ResetForNewSet()

	// слушатели вызываются внутри Update, то есть под s.mu
	s.estimator.OnStateChange(s.onStateChange)
	s.estimator.OnDebug(s.onDebug)
	return s
}

// ID идентификатор подхода
func (s *Session) ID() string {
	return s.id
}

// Push передаёт показание в оценщик. Смена фазы запускает генерацию в фоне,
// а в синхронном режиме - до возврата из Push.
func (s *Session) Push(ctx context.Context, r Reading) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSetClosed
	}
	if math.IsNaN(r.Artifact) || math.IsInf(r.Artifact, 0) {
		r.Artifact = 0
	}

	s.window.Add(r.TimeSec, r.Raw)
	s.artifact = r.Artifact
	s.symmetry = r.Symmetry
	s.lastRaw = r.Raw

	s.estimator.Update(fatigue.Sample{TimeSec: r.TimeSec, RawValue: r.Raw, SecondaryValue: r.MDF})

	pending := s.pending
	s.pending = nil
	if len(pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	for _, ic := range pending {
		if _, err := s.generateNow(ctx, ic, TriggerStateChanged); err != nil {
			break
		}
	}
	return nil
}

func (s *Session) onStateChange(ev fatigue.StateEvent) {
	s.transitions = append(s.transitions, report.Transition{
		TimeSec:    s.estimator.Snapshot().LastTimeSec,
		StateEvent: ev,
	})
	s.logger.Debug("phase changed",
		"phase", ev.Phase.String(),
		"previous", ev.PreviousPhase.String(),
		"time_in_previous_sec", ev.TimeInPreviousPhaseSec,
	)
	if s.syncTriggers {
		s.pending = append(s.pending, s.contextLocked())
		return
	}
	s.spawnLocked(s.contextLocked(), TriggerStateChanged)
}

func (s *Session) onDebug(ev fatigue.DebugEvent) {
	if len(s.samples) >= maxReportSamples {
		return
	}
	snap := s.estimator.Snapshot()
	s.samples = append(s.samples, report.SampleRow{
		TimeSec:   snap.LastTimeSec,
		Raw:       s.lastRaw,
		Smoothed:  snap.Smoothed,
		Slope:     ev.Slope,
		Curvature: ev.Curvature,
		Phase:     snap.Phase,
	})
}

// contextLocked собирает контекст инсайта; вызывается под s.mu
func (s *Session) contextLocked() insight.Context {
	snap := s.estimator.Snapshot()
	return insight.Context{
		Phase:      snap.Phase,
		Confidence: snap.Confidence,
		Metrics: insight.Metrics{
			MotionArtifact:    s.artifact,
			RoRPercent:        s.window.RoRPercent(),
			MDFTrend:          snap.SecondarySlope,
			SymmetryDeviation: s.symmetry,
		},
		Limits:   s.limits,
		Exercise: s.cfg.Exercise,
	}
}

// spawnLocked запускает генерацию в фоне; вызывается под s.mu
func (s *Session) spawnLocked(ic insight.Context, trigger string) {
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.generate(s.ctx, ic, trigger)
	}()
}

// Checkpoint синхронно запрашивает инсайт. Отмена ctx или конец подхода
// прерывают ожидание.
func (s *Session) Checkpoint(ctx context.Context) (*insight.Insight, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSetClosed
	}
	ic := s.contextLocked()
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	return s.generateNow(ctx, ic, TriggerCheckpoint)
}

// generateNow генерирует в вызывающей горутине; конец подхода отменяет ожидание
func (s *Session) generateNow(ctx context.Context, ic insight.Context, trigger string) (*insight.Insight, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.generate(ctx, ic, trigger)
}

// checkpointAsync - контрольная точка по расписанию
func (s *Session) checkpointAsync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.spawnLocked(s.contextLocked(), TriggerCheckpoint)
	return true
}

func (s *Session) generate(ctx context.Context, ic insight.Context, trigger string) (*insight.Insight, error) {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	in, err := s.pipeline.GenerateInsight(ctx, ic, trigger)
	if err != nil {
		if errors.Is(err, insight.ErrCancelled) {
			s.logger.Debug("insight cancelled", "trigger", trigger, "error", err)
		}
		return nil, err
	}
	if in == nil {
		return nil, nil
	}

	s.mu.Lock()
	s.insights = append(s.insights, in)
	s.mu.Unlock()

	s.logger.Info("insight",
		"id", in.ID,
		"trigger", trigger,
		"source", string(in.Source),
		"phase", in.Phase.String(),
		"headline", in.Headline,
	)

	if s.sink != nil {
		// доставка переживает конец подхода
		dctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), sinkTimeout)
		defer cancel()
		if err := s.sink.Deliver(dctx, s.id, in); err != nil {
			s.logger.Warn("insight delivery failed", "id", in.ID, "error", err)
		}
	}
	return in, nil
}

// end закрывает подход: новые показания отклоняются, генерации отменяются
func (s *Session) end(o *offer.Outcome, now time.Time) (float64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSetClosed
	}
	s.closed = true
	s.endedAt = now
	if o != nil {
		oc := *o
		s.outcome = &oc
		s.score = offer.Score(oc)
	}
	score := s.score
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return score, nil
}

// Status текущее состояние подхода
func (s *Session) Status() SetStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SetStatus{
		SetID:     s.id,
		AthleteID: s.cfg.AthleteID,
		Exercise:  s.cfg.Exercise.Name,
		Active:    !s.closed,
		StartedAt: s.startedAt,
		Estimator: s.estimator.Snapshot(),
		Pipeline:  s.pipeline.State(),
		Limits:    s.limits,
	}
}

// Insights копия выданных инсайтов
func (s *Session) Insights() []*insight.Insight {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*insight.Insight, len(s.insights))
	copy(out, s.insights)
	return out
}

// Report данные для отчёта
func (s *Session) Report() report.SetReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := report.SetReport{
		SetID:       s.id,
		AthleteID:   s.cfg.AthleteID,
		Exercise:    s.cfg.Exercise,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		Samples:     append([]report.SampleRow(nil), s.samples...),
		Transitions: append([]report.Transition(nil), s.transitions...),
		Insights:    append([]*insight.Insight(nil), s.insights...),
		Score:       s.score,
	}
	if s.outcome != nil {
		oc := *s.outcome
		r.Outcome = &oc
	}
	return r
}

func (s *Session) endedBefore(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && s.endedAt.Before(t)
}
