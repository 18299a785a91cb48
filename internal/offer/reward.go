// Package offer scores how a coaching offer played out once the set is over.
package offer

import "math"

// Outcome is what happened after the athlete saw an offer.
type Outcome struct {
	PlanFollowed       bool    `json:"plan_followed"`
	QualityImproved    bool    `json:"quality_improved"`
	ReadinessRebounded bool    `json:"readiness_rebounded"`
	Feedback           int     `json:"feedback"` // -1, 0 or +1
	DwellSec           float64 `json:"dwell_sec"`
}

// Reward weights. They sum to 1 so Score stays in [0,1].
const (
	WeightPlanFollowed       = 0.35
	WeightQualityImproved    = 0.25
	WeightReadinessRebounded = 0.15
	WeightFeedback           = 0.15
	WeightDwell              = 0.10

	// DwellThresholdSec is how long an offer has to stay on screen to count as read.
	DwellThresholdSec = 20
)

// Score is a weighted sum of non-negative terms, so turning any positive
// signal on never lowers it. Negative feedback earns nothing rather than
// subtracting.
func Score(o Outcome) float64 {
	var s float64
	if o.PlanFollowed {
		s += WeightPlanFollowed
	}
	if o.QualityImproved {
		s += WeightQualityImproved
	}
	if o.ReadinessRebounded {
		s += WeightReadinessRebounded
	}
	if o.Feedback > 0 {
		s += WeightFeedback
	}
	if o.DwellSec > DwellThresholdSec {
		s += WeightDwell
	}
	return math.Min(s, 1)
}
