package insight

import "setcoach/internal/fatigue"

// Шаблоны fallback: сначала по причине, затем по фазе
const (
	lowSignalHeadline  = "Not enough signal yet. Hold steady and keep your tempo."
	risingHeadline     = "Effort is building. Keep each rep tight and controlled."
	plateauingHeadline = "Output is holding steady. Stay smooth and finish strong."
	fallingHeadline    = "Fatigue is setting in. Consider ending the set to protect form."
	unknownHeadline    = "Reading your set. Keep moving with good form."
)

// Fallback детерминированно собирает инсайт без обращения к сети
func Fallback(ic Context, reason Reason) *Insight {
	headline := unknownHeadline
	switch {
	case reason.signalQuality():
		headline = lowSignalHeadline
	case ic.Phase == fatigue.PhaseRising:
		headline = risingHeadline
	case ic.Phase == fatigue.PhasePlateauing:
		headline = plateauingHeadline
	case ic.Phase == fatigue.PhaseFalling:
		headline = fallingHeadline
	}

	actions := []Action{}
	typ := TypeSuggestion
	switch {
	case ic.Phase == fatigue.PhaseFalling:
		actions = []Action{ActionEndSet}
		typ = TypeCaution
	case reason.signalQuality():
		typ = TypeInfo
	}

	return &Insight{
		Source:      SourceFallback,
		Phase:       ic.Phase,
		Type:        typ,
		Headline:    headline,
		Tags:        phaseTags(ic.Phase),
		Actions:     actions,
		RestSeconds: restSeconds(ic.Exercise.RestSeconds),
		Confidence:  clamp01(ic.Confidence),
		Reason:      reason,
	}
}
