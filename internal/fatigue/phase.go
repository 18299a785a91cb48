package fatigue

// Phase is the fatigue trajectory of the current working set.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseRising
	PhasePlateauing
	PhaseFalling
)

// String returns the label used in prompts, tags and logs.
func (p Phase) String() string {
	switch p {
	case PhaseRising:
		return "Rising"
	case PhasePlateauing:
		return "Plateauing"
	case PhaseFalling:
		return "Falling"
	default:
		return "Unknown"
	}
}

// Confidence is a fixed property of the phase, not of the estimate quality.
func (p Phase) Confidence() float64 {
	switch p {
	case PhaseRising:
		return 0.75
	case PhasePlateauing:
		return 0.70
	case PhaseFalling:
		return 0.80
	default:
		return 0
	}
}

// ParsePhase maps a label back to a Phase. Unrecognised labels yield PhaseUnknown.
func ParsePhase(label string) Phase {
	switch label {
	case "Rising":
		return PhaseRising
	case "Plateauing":
		return PhasePlateauing
	case "Falling":
		return PhaseFalling
	default:
		return PhaseUnknown
	}
}

// MarshalText lets phases appear as labels in JSON and yaml.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	*p = ParsePhase(string(b))
	return nil
}
