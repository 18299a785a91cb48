package insight

import (
	"encoding/json"
	"math"
	"strings"

	"setcoach/internal/fatigue"
)

// DefaultHeadline используется, если из ответа не удалось собрать текст
const DefaultHeadline = "Stay steady and keep your form."

// Parsed - разобранный ответ модели до нормализации
type Parsed struct {
	Headline    string
	Subline     string
	Tip         string
	Tags        []Tag
	Actions     []Action
	RestSeconds *float64
	Type        Type
	CitedMetric *CitedMetric
}

// Кандидаты полей в порядке приоритета
var (
	headlineKeys = []string{"headline", "primary", "text"}
	sublineKeys  = []string{"subline", "secondary"}
	restKeys     = []string{"rest_seconds", "restSeconds"}
	metricKeys   = []string{"cited_metric", "citedMetric"}
)

// ParseResponse разбирает ответ в два этапа: сначала как JSON, при неудаче
// весь текст становится заголовком. nil означает "непригодный ответ".
func ParseResponse(raw string) *Parsed {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	var v any
	if err := json.Unmarshal([]byte(extractJSON(text)), &v); err == nil {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return &Parsed{Headline: s}
			}
			return nil
		case map[string]any:
			return parseObject(t)
		}
	}

	return &Parsed{Headline: text}
}

func parseObject(obj map[string]any) *Parsed {
	headline := firstString(obj, headlineKeys)
	if headline == "" {
		return nil
	}

	p := &Parsed{
		Headline: headline,
		Subline:  firstString(obj, sublineKeys),
		Tip:      firstString(obj, []string{"tip"}),
		Tags:     filterTags(obj["tags"]),
		Actions:  filterActions(obj["actions"]),
	}

	for _, k := range restKeys {
		if n, ok := obj[k].(float64); ok && !math.IsNaN(n) && !math.IsInf(n, 0) && n >= 0 {
			p.RestSeconds = &n
			break
		}
	}

	if s, ok := obj["type"].(string); ok {
		switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
		case TypeInfo, TypeSuggestion, TypeCaution:
			p.Type = t
		}
	}

	for _, k := range metricKeys {
		raw, present := obj[k]
		if !present {
			continue
		}
		// явный null допустим и означает "без метрики"
		if m, ok := raw.(map[string]any); ok {
			p.CitedMetric = parseMetric(m)
		}
		break
	}

	return p
}

func parseMetric(m map[string]any) *CitedMetric {
	name, _ := m["name"].(string)
	value, _ := m["value"].(string)
	value = strings.TrimSpace(value)
	if !validMetrics[MetricName(name)] || value == "" {
		return nil
	}
	return &CitedMetric{Name: MetricName(name), Value: value}
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func filterTags(v any) []Tag {
	var out []Tag
	for _, s := range stringList(v) {
		t := Tag(s)
		if validTags[t] && !containsTag(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func filterActions(v any) []Action {
	var out []Action
	for _, s := range stringList(v) {
		a := Action(s)
		if validActions[a] && !containsAction(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// Normalize превращает разобранный ответ в готовый инсайт
func Normalize(p *Parsed, ic Context) *Insight {
	headline := strings.Join(strings.Fields(p.Headline+" "+p.Subline), " ")
	if headline == "" {
		headline = DefaultHeadline
	}

	tags := p.Tags
	if len(tags) == 0 {
		tags = phaseTags(ic.Phase)
	}

	rest := restSeconds(ic.Exercise.RestSeconds)
	if p.RestSeconds != nil {
		rest = restSeconds(*p.RestSeconds)
	}

	var actions []Action
	for _, a := range p.Actions {
		if validActions[a] && !containsAction(actions, a) {
			actions = append(actions, a)
		}
	}
	if actions == nil {
		actions = []Action{}
	}

	typ := p.Type
	if typ == "" {
		typ = TypeSuggestion
		if containsAction(actions, ActionEndSet) {
			typ = TypeCaution
		}
	}

	return &Insight{
		Source:      SourceGenerated,
		Phase:       ic.Phase,
		Type:        typ,
		Headline:    headline,
		Tip:         strings.TrimSpace(p.Tip),
		Tags:        tags,
		Actions:     actions,
		RestSeconds: rest,
		Confidence:  clamp01(ic.Confidence),
		CitedMetric: p.CitedMetric,
	}
}

// phaseTags метка по умолчанию. У Unknown нет метки в закрытом наборе.
func phaseTags(phase fatigue.Phase) []Tag {
	switch phase {
	case fatigue.PhaseRising:
		return []Tag{TagRising}
	case fatigue.PhasePlateauing:
		return []Tag{TagPlateauing}
	case fatigue.PhaseFalling:
		return []Tag{TagFalling}
	default:
		return []Tag{}
	}
}

func restSeconds(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return int(math.Round(v))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func containsTag(list []Tag, t Tag) bool {
	for _, x := range list {
		if x == t {
			return true
		}
	}
	return false
}

func containsAction(list []Action, a Action) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

// extractJSON вырезает JSON из ответа модели: убирает markdown-блоки
// и комментарии в стиле JavaScript
func extractJSON(s string) string {
	if idx := strings.Index(s, "```json"); idx != -1 {
		s = s[idx+7:]
	} else if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end == -1 || end <= start {
		return s
	}

	lines := strings.Split(s[start:end+1], "\n")
	for i, line := range lines {
		lines[i] = removeLineComment(line)
	}
	return strings.Join(lines, "\n")
}

// removeLineComment убирает // комментарий, не трогая содержимое строк
func removeLineComment(line string) string {
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case ch == '/' && !inString && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}
