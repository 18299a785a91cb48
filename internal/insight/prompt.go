package insight

import (
	"fmt"
	"math"
	"strings"

	"setcoach/internal/fatigue"
)

// Request - один запрос к сервису генерации
type Request struct {
	System   string
	Examples []Example
	Context  string
}

// Example - пример пары "контекст -> ответ"
type Example struct {
	Context  string
	Response string
}

// SystemPrompt фиксированная инструкция для модели
const SystemPrompt = `You are a strength coach speaking to an athlete in the middle of a working set.
You receive a snapshot of their live muscle signal and must answer with ONE short coaching message.

Reply with a single JSON object and nothing else:
{
  "headline": "main sentence, max 8 words",
  "subline": "optional second sentence",
  "tip": "optional very short cue",
  "tags": ["Rising" | "Plateauing" | "Falling" | "SymmetryOff" | "NoFatigue"],
  "actions": ["continue_anyway" | "end_set"],
  "rest_seconds": number,
  "type": "info" | "suggestion" | "caution",
  "cited_metric": {"name": "RMS" | "MDF" | "RoR" | "Symmetry", "value": "text"} or null
}

Rules:
- Never diagnose or mention injury.
- Suggest "end_set" only when the phase is Falling.
- Keep rest_seconds close to the planned rest unless fatigue is clearly high.`

// fewShot фиксированные примеры
var fewShot = buildFewShot()

func buildFewShot() []Example {
	ror := func(v float64) *float64 { return &v }
	return []Example{
		{
			Context: RenderContext(Context{
				Phase:      fatigue.PhaseRising,
				Confidence: 0.75,
				Metrics:    Metrics{MotionArtifact: 0.1, RoRPercent: ror(12.4)},
				Exercise:   Exercise{Name: "Back squat", InWorkingSet: true, RestSeconds: 120, RIR: ror(3)},
			}),
			Response: `{"headline":"Good drive, effort is climbing.","subline":"Keep the bar path steady.","tags":["Rising"],"actions":[],"rest_seconds":120,"type":"suggestion","cited_metric":{"name":"RoR","value":"+12%"}}`,
		},
		{
			Context: RenderContext(Context{
				Phase:      fatigue.PhasePlateauing,
				Confidence: 0.70,
				Metrics:    Metrics{MotionArtifact: 0.05, RoRPercent: ror(-7.8), SymmetryDeviation: ror(0.18)},
				Exercise:   Exercise{Name: "Bench press", InWorkingSet: true, RestSeconds: 90, RIR: ror(2)},
			}),
			Response: `{"headline":"Output is holding.","subline":"Press evenly with both arms.","tags":["Plateauing","SymmetryOff"],"actions":[],"rest_seconds":90,"type":"suggestion","cited_metric":{"name":"Symmetry","value":"18% off"}}`,
		},
		{
			Context: RenderContext(Context{
				Phase:      fatigue.PhaseFalling,
				Confidence: 0.80,
				Metrics:    Metrics{MotionArtifact: 0.12, RoRPercent: ror(-18.5), MDFTrend: ror(-4.2)},
				Exercise:   Exercise{Name: "Deadlift", InWorkingSet: true, RestSeconds: 150},
			}),
			Response: `{"headline":"Fatigue is building fast.","subline":"End the set if form slips.","tags":["Falling"],"actions":["end_set"],"rest_seconds":180,"type":"caution","cited_metric":{"name":"MDF","value":"dropping"}}`,
		},
	}
}

// BuildRequest собирает запрос: инструкция, примеры, свежий контекст
func BuildRequest(ic Context) Request {
	examples := make([]Example, len(fewShot))
	copy(examples, fewShot)
	return Request{
		System:   SystemPrompt,
		Examples: examples,
		Context:  RenderContext(ic),
	}
}

// Text склеивает запрос в один текстовый промпт
func (r Request) Text() string {
	var sb strings.Builder
	sb.WriteString(r.System)
	sb.WriteString("\n\n")
	for i, ex := range r.Examples {
		sb.WriteString(fmt.Sprintf("EXAMPLE %d\nCONTEXT:\n%s\nRESPONSE:\n%s\n\n", i+1, ex.Context, ex.Response))
	}
	sb.WriteString("CONTEXT:\n")
	sb.WriteString(r.Context)
	sb.WriteString("\nRESPONSE:\n")
	return sb.String()
}

// RenderContext выводит контекст построчно: числа с 2 знаками, null для
// отсутствующих значений, булевы в нижнем регистре
func RenderContext(ic Context) string {
	var sb strings.Builder
	line := func(key, value string) {
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	line("phase", ic.Phase.String())
	line("confidence", num(ic.Confidence))
	line("motion_artifact", num(ic.Metrics.MotionArtifact))
	line("ror_pct", optNum(ic.Metrics.RoRPercent))
	line("mdf_trend", optNum(ic.Metrics.MDFTrend))
	line("symmetry_dev", optNum(ic.Metrics.SymmetryDeviation))
	line("exercise", optText(ic.Exercise.Name))
	line("in_working_set", fmt.Sprintf("%t", ic.Exercise.InWorkingSet))
	line("rest_seconds", fmt.Sprintf("%d", restSeconds(ic.Exercise.RestSeconds)))
	line("rir", optNum(ic.Exercise.RIR))
	line("notes", optText(ic.Exercise.Notes))

	return strings.TrimRight(sb.String(), "\n")
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "null"
	}
	return fmt.Sprintf("%.2f", v)
}

func optNum(v *float64) string {
	if v == nil {
		return "null"
	}
	return num(*v)
}

func optText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "null"
	}
	return fmt.Sprintf("%q", s)
}
