package insight

import (
	"math"
	"time"

	"setcoach/internal/fatigue"
)

// DecisionKind итог оценки политики
type DecisionKind string

const (
	DecisionSkip     DecisionKind = "skip"
	DecisionFallback DecisionKind = "fallback"
	DecisionCall     DecisionKind = "call"
)

// Decision решение политики с причиной
type Decision struct {
	Kind   DecisionKind
	Reason Reason
}

// Пороги уверенности по фазам
var confidenceThresholds = map[fatigue.Phase]float64{
	fatigue.PhaseRising:     0.60,
	fatigue.PhasePlateauing: 0.60,
	fatigue.PhaseFalling:    0.70,
}

const (
	defaultConfidenceThreshold = 0.60
	// noiseFloorPercent изменения RoR меньше этого считаются шумом
	noiseFloorPercent = 7.0
)

// ConfidenceThreshold возвращает порог уверенности для фазы
func ConfidenceThreshold(p fatigue.Phase) float64 {
	if t, ok := confidenceThresholds[p]; ok {
		return t
	}
	return defaultConfidenceThreshold
}

// evaluate - чистая функция от контекста, состояния и времени.
// Порядок проверок: skip, затем fallback, иначе call.
func evaluate(ic Context, st SessionState, now time.Time, suppressLowConfidence bool) Decision {
	if !ic.Exercise.InWorkingSet {
		return Decision{Kind: DecisionSkip, Reason: ReasonNotInSet}
	}
	if r := overBudget(ic.Limits, st, now); r != "" {
		return Decision{Kind: DecisionSkip, Reason: r}
	}

	// порог <= 0 отключает проверку артефактов
	if ic.Limits.ArtifactThreshold > 0 && ic.Metrics.MotionArtifact >= ic.Limits.ArtifactThreshold {
		return Decision{Kind: DecisionFallback, Reason: ReasonArtifact}
	}
	if ic.Confidence < ConfidenceThreshold(ic.Phase) {
		if suppressLowConfidence {
			return Decision{Kind: DecisionSkip, Reason: ReasonLowConfidence}
		}
		return Decision{Kind: DecisionFallback, Reason: ReasonLowConfidence}
	}
	if ic.Metrics.RoRPercent == nil || math.IsNaN(*ic.Metrics.RoRPercent) || math.IsInf(*ic.Metrics.RoRPercent, 0) {
		return Decision{Kind: DecisionFallback, Reason: ReasonNoSignal}
	}
	if math.Abs(*ic.Metrics.RoRPercent) < noiseFloorPercent {
		return Decision{Kind: DecisionFallback, Reason: ReasonNoise}
	}

	return Decision{Kind: DecisionCall}
}

// overBudget проверяет лимит сообщений и минимальный интервал
func overBudget(l Limits, st SessionState, now time.Time) Reason {
	if st.Count >= max(l.MaxMessagesPerSet, 0) {
		return ReasonCapReached
	}
	if !st.LastInsightAt.IsZero() {
		gap := time.Duration(l.SpeakMinGapSec * float64(time.Second))
		if now.Sub(st.LastInsightAt) < gap {
			return ReasonMinGap
		}
	}
	return ""
}
