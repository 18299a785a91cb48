package insight

import (
	"time"

	"setcoach/internal/fatigue"
)

// Source откуда взялся инсайт
type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Type тип сообщения
type Type string

const (
	TypeInfo       Type = "info"
	TypeSuggestion Type = "suggestion"
	TypeCaution    Type = "caution"
)

// Tag метка инсайта (закрытый набор)
type Tag string

const (
	TagRising      Tag = "Rising"
	TagPlateauing  Tag = "Plateauing"
	TagFalling     Tag = "Falling"
	TagSymmetryOff Tag = "SymmetryOff"
	TagNoFatigue   Tag = "NoFatigue"
)

var validTags = map[Tag]bool{
	TagRising:      true,
	TagPlateauing:  true,
	TagFalling:     true,
	TagSymmetryOff: true,
	TagNoFatigue:   true,
}

// Action действие, которое можно предложить атлету
type Action string

const (
	ActionContinueAnyway Action = "continue_anyway"
	ActionEndSet         Action = "end_set"
)

var validActions = map[Action]bool{
	ActionContinueAnyway: true,
	ActionEndSet:         true,
}

// MetricName метрика, на которую ссылается сообщение
type MetricName string

const (
	MetricRMS      MetricName = "RMS"
	MetricMDF      MetricName = "MDF"
	MetricRoR      MetricName = "RoR"
	MetricSymmetry MetricName = "Symmetry"
)

var validMetrics = map[MetricName]bool{
	MetricRMS:      true,
	MetricMDF:      true,
	MetricRoR:      true,
	MetricSymmetry: true,
}

// CitedMetric метрика с текстовым значением
type CitedMetric struct {
	Name  MetricName `json:"name"`
	Value string     `json:"value"`
}

// Reason причина решения политики
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotInSet      Reason = "not_in_set"
	ReasonCapReached    Reason = "cap_reached"
	ReasonMinGap        Reason = "min_gap"
	ReasonArtifact      Reason = "artifact"
	ReasonLowConfidence Reason = "low_confidence"
	ReasonNoSignal      Reason = "no_signal"
	ReasonNoise         Reason = "noise"
	ReasonTimeout       Reason = "timeout"
	ReasonError         Reason = "error"
)

// signalQuality причины, связанные с качеством сигнала
func (r Reason) signalQuality() bool {
	switch r {
	case ReasonArtifact, ReasonLowConfidence, ReasonNoSignal, ReasonNoise:
		return true
	}
	return false
}

// Insight - готовое к показу сообщение. Создаётся заново на каждый вызов.
type Insight struct {
	ID          string        `json:"id"`
	Source      Source        `json:"source"`
	Phase       fatigue.Phase `json:"phase"`
	Type        Type          `json:"type"`
	Headline    string        `json:"headline"`
	Tip         string        `json:"tip,omitempty"`
	Tags        []Tag         `json:"tags"`
	Actions     []Action      `json:"actions"`
	RestSeconds int           `json:"rest_seconds"`
	Confidence  float64       `json:"confidence"`
	CitedMetric *CitedMetric  `json:"cited_metric,omitempty"`
	Reason      Reason        `json:"reason,omitempty"`
	Trigger     string        `json:"trigger,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Metrics метрики сигнала, посчитанные вне оценщика
type Metrics struct {
	MotionArtifact    float64  `json:"motion_artifact"`
	RoRPercent        *float64 `json:"ror_pct"`      // изменение сигнала за короткое окно, %
	MDFTrend          *float64 `json:"mdf_trend"`    // тренд вторичного канала
	SymmetryDeviation *float64 `json:"symmetry_dev"` // отклонение симметрии
}

// Limits ограничения на подход
type Limits struct {
	MaxMessagesPerSet int     `json:"max_messages_per_set" yaml:"max_messages_per_set"`
	SpeakMinGapSec    float64 `json:"speak_min_gap_sec" yaml:"speak_min_gap_sec"`
	ArtifactThreshold float64 `json:"artifact_threshold" yaml:"artifact_threshold"`
}

// DefaultLimits лимиты по умолчанию
func DefaultLimits() Limits {
	return Limits{
		MaxMessagesPerSet: 3,
		SpeakMinGapSec:    6,
		ArtifactThreshold: 0.6,
	}
}

// Exercise данные упражнения для формулировки сообщения
type Exercise struct {
	Name         string   `json:"name"`
	InWorkingSet bool     `json:"in_working_set"`
	RestSeconds  float64  `json:"rest_seconds"`
	RIR          *float64 `json:"rir"` // повторы в запасе
	Notes        string   `json:"notes"`
}

// Context контекст запроса инсайта
type Context struct {
	Phase      fatigue.Phase
	Confidence float64
	Metrics    Metrics
	Limits     Limits
	Exercise   Exercise
}

// SessionState состояние пайплайна в рамках подхода
type SessionState struct {
	LastInsightAt time.Time     `json:"last_insight_at"`
	Count         int           `json:"count"`
	LastPhase     fatigue.Phase `json:"last_phase"`
	LastReason    Reason        `json:"last_reason"`
}
