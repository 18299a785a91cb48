// Package fatigue estimates the fatigue trajectory of a working set from a
// live, noisy signal: EWMA smoothing, slope and curvature over a bounded
// history window, and a hysteresis state machine over three live phases.
package fatigue

import "math"

const (
	epsilon = 1e-6
	// secondaryLookbackSec is fixed; the secondary (MDF) channel is sampled
	// more coarsely than the primary one.
	secondaryLookbackSec = 8.0
)

// Sample is one timestamped reading. SecondaryValue is optional.
type Sample struct {
	TimeSec        float64
	RawValue       float64
	SecondaryValue *float64
}

// HistoryPoint is an accepted sample together with its smoothed value.
type HistoryPoint struct {
	Time      float64
	RawValue  float64
	Smoothed  float64
	Secondary *float64
}

// StateEvent is emitted only when the phase actually changes.
type StateEvent struct {
	Phase                  Phase
	Confidence             float64
	PreviousPhase          Phase
	TimeInPreviousPhaseSec float64
}

// DebugEvent is emitted for every processed sample.
type DebugEvent struct {
	Slope          float64
	Curvature      float64
	SecondarySlope *float64
}

// Snapshot is a pull-style view of the estimator.
type Snapshot struct {
	Phase          Phase    `json:"phase"`
	Confidence     float64  `json:"confidence"`
	TimeInPhaseSec float64  `json:"time_in_phase_sec"`
	LastTimeSec    float64  `json:"last_time_sec"`
	Smoothed       float64  `json:"smoothed"`
	Slope          float64  `json:"slope"`
	Curvature      float64  `json:"curvature"`
	SecondarySlope *float64 `json:"secondary_slope"`
	Points         int      `json:"points"`
}

// Estimator is not safe for concurrent Update calls; callers serialise
// samples. Listener registration is safe from any goroutine.
type Estimator struct {
	cfg Config

	history  []HistoryPoint
	hasLast  bool
	lastTime float64
	smoothed float64

	// slope bookkeeping; curvature needs two prior slopes
	priorSlopes int
	prevSlope   float64

	lastSlope          float64
	lastCurvature      float64
	lastSecondarySlope *float64

	riseAcc    float64
	plateauAcc float64
	fallAcc    float64

	phase          Phase
	phaseEnteredAt float64

	stateListeners registry[StateEvent]
	debugListeners registry[DebugEvent]
}

// New creates an estimator. The config is normalised first.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg.Normalize()}
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// OnStateChange registers a transition listener and returns its unsubscribe func.
func (e *Estimator) OnStateChange(fn func(StateEvent)) func() {
	return e.stateListeners.add(fn)
}

// OnDebug registers a per-sample metrics listener and returns its unsubscribe func.
func (e *Estimator) OnDebug(fn func(DebugEvent)) func() {
	return e.debugListeners.add(fn)
}

// Phase returns the current phase.
func (e *Estimator) Phase() Phase {
	return e.phase
}

// TimeInPhase returns seconds spent in the current phase, measured at the
// last accepted sample.
func (e *Estimator) TimeInPhase() float64 {
	if !e.hasLast {
		return 0
	}
	return e.lastTime - e.phaseEnteredAt
}

// History returns a copy of the retained window, oldest first.
func (e *Estimator) History() []HistoryPoint {
	out := make([]HistoryPoint, len(e.history))
	copy(out, e.history)
	return out
}

// Snapshot returns the current state and the latest derived metrics.
func (e *Estimator) Snapshot() Snapshot {
	return Snapshot{
		Phase:          e.phase,
		Confidence:     e.phase.Confidence(),
		TimeInPhaseSec: e.TimeInPhase(),
		LastTimeSec:    e.lastTime,
		Smoothed:       e.smoothed,
		Slope:          e.lastSlope,
		Curvature:      e.lastCurvature,
		SecondarySlope: e.lastSecondarySlope,
		Points:         len(e.history),
	}
}

// Reset clears history, phase and accumulators. Listeners stay registered.
func (e *Estimator) Reset() {
	e.history = nil
	e.hasLast = false
	e.lastTime = 0
	e.smoothed = 0
	e.priorSlopes = 0
	e.prevSlope = 0
	e.lastSlope = 0
	e.lastCurvature = 0
	e.lastSecondarySlope = nil
	e.riseAcc = 0
	e.plateauAcc = 0
	e.fallAcc = 0
	e.phase = PhaseUnknown
	e.phaseEnteredAt = 0
}

// Update feeds one sample. Out-of-order and non-finite samples are ignored.
func (e *Estimator) Update(s Sample) {
	if !finite(s.TimeSec) || !finite(s.RawValue) {
		return
	}
	if e.hasLast && s.TimeSec < e.lastTime {
		return
	}

	var secondary *float64
	if s.SecondaryValue != nil && finite(*s.SecondaryValue) {
		v := *s.SecondaryValue
		secondary = &v
	}

	now := s.TimeSec
	elapsed := 0.0
	if e.hasLast {
		elapsed = now - e.lastTime
		e.smoothed += e.cfg.Alpha * (s.RawValue - e.smoothed)
	} else {
		e.smoothed = s.RawValue
		e.phaseEnteredAt = now
	}
	e.lastTime = now
	e.hasLast = true

	e.history = append(e.history, HistoryPoint{
		Time:      now,
		RawValue:  s.RawValue,
		Smoothed:  e.smoothed,
		Secondary: secondary,
	})
	e.evict(now)

	if len(e.history) < 2 {
		return
	}

	latest := e.history[len(e.history)-1]
	ref := e.pointAtOrBefore(now - e.cfg.SlopeLookbackSec)
	slope := (latest.Smoothed - ref.Smoothed) / math.Max(epsilon, latest.Time-ref.Time) * 100

	curvature := 0.0
	if e.priorSlopes >= 2 {
		before := e.history[len(e.history)-2]
		curvature = (slope - e.prevSlope) / math.Max(epsilon, latest.Time-before.Time)
	}
	e.prevSlope = slope
	if e.priorSlopes < 2 {
		e.priorSlopes++
	}

	var secondarySlope *float64
	if secondary != nil {
		secondarySlope = e.secondarySlope(latest)
	}

	e.lastSlope = slope
	e.lastCurvature = curvature
	e.lastSecondarySlope = secondarySlope

	effective := slope
	if math.Abs(latest.Smoothed-ref.Smoothed) < e.cfg.NoiseThreshold {
		effective = 0
	}

	rising := effective >= e.cfg.RiseSlopeThreshold
	plateau := math.Abs(effective) <= e.cfg.PlateauSlopeThreshold &&
		math.Abs(curvature) <= e.cfg.PlateauCurvatureThreshold
	falling := effective <= e.cfg.FallSlopeThreshold

	e.riseAcc = accumulate(e.riseAcc, rising, elapsed)
	e.plateauAcc = accumulate(e.plateauAcc, plateau, elapsed)
	e.fallAcc = accumulate(e.fallAcc, falling, elapsed)

	next := e.decide(latest, rising, plateau, falling, secondarySlope)
	if next != e.phase {
		ev := StateEvent{
			Phase:                  next,
			Confidence:             next.Confidence(),
			PreviousPhase:          e.phase,
			TimeInPreviousPhaseSec: now - e.phaseEnteredAt,
		}
		e.phase = next
		e.phaseEnteredAt = now
		e.stateListeners.emit(ev)
	}

	e.debugListeners.emit(DebugEvent{
		Slope:          slope,
		Curvature:      curvature,
		SecondarySlope: secondarySlope,
	})
}

// decide applies the window guard, then falling > rising > plateauing.
func (e *Estimator) decide(latest HistoryPoint, rising, plateau, falling bool, secondarySlope *float64) Phase {
	oldest := e.history[0]
	if math.Abs(latest.Smoothed-oldest.Smoothed) < e.cfg.NoiseThreshold {
		return e.phase
	}

	switch {
	case falling && e.fallAcc >= e.cfg.FallMinDurationSec && e.secondaryConfirms(secondarySlope):
		return PhaseFalling
	case rising && e.riseAcc >= e.cfg.RiseMinDurationSec:
		return PhaseRising
	case plateau && e.plateauAcc >= e.cfg.PlateauMinDurationSec:
		return PhasePlateauing
	default:
		return e.phase
	}
}

func (e *Estimator) secondaryConfirms(secondarySlope *float64) bool {
	if !e.cfg.RequireMDFConfirmation || secondarySlope == nil {
		return true
	}
	return *secondarySlope <= e.cfg.MDFSlopeThreshold
}

func (e *Estimator) evict(now float64) {
	cut := 0
	for cut < len(e.history) && now-e.history[cut].Time > e.cfg.HistoryWindowSec {
		cut++
	}
	if cut > 0 {
		e.history = append(e.history[:0], e.history[cut:]...)
	}
}

// pointAtOrBefore returns the most recent point with Time <= t, or the
// oldest point when none qualifies.
func (e *Estimator) pointAtOrBefore(t float64) HistoryPoint {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].Time <= t {
			return e.history[i]
		}
	}
	return e.history[0]
}

// secondarySlope is computed over the fixed lookback on raw secondary values.
// It is nil when no earlier point carries a secondary value.
func (e *Estimator) secondarySlope(latest HistoryPoint) *float64 {
	target := latest.Time - secondaryLookbackSec
	var ref *HistoryPoint
	for i := len(e.history) - 2; i >= 0; i-- {
		p := &e.history[i]
		if p.Secondary == nil {
			continue
		}
		if p.Time <= target {
			ref = p
			break
		}
		// keep the oldest candidate as a fallback
		ref = p
	}
	if ref == nil {
		return nil
	}
	v := (*latest.Secondary - *ref.Secondary) / math.Max(epsilon, latest.Time-ref.Time) * 100
	return &v
}

func accumulate(acc float64, holds bool, elapsed float64) float64 {
	if !holds {
		return 0
	}
	return acc + elapsed
}
