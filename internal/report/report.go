package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"setcoach/internal/fatigue"
	"setcoach/internal/insight"
	"setcoach/internal/offer"
)

// Названия листов отчёта
const (
	SheetSummary  = "Summary"
	SheetSamples  = "Samples"
	SheetPhases   = "Phases"
	SheetInsights = "Insights"
)

// SampleRow одна точка сигнала с производными метриками
type SampleRow struct {
	TimeSec   float64       `json:"t"`
	Raw       float64       `json:"raw"`
	Smoothed  float64       `json:"smoothed"`
	Slope     float64       `json:"slope"`
	Curvature float64       `json:"curvature"`
	Phase     fatigue.Phase `json:"phase"`
}

// Transition смена фазы с моментом перехода
type Transition struct {
	TimeSec float64 `json:"t"`
	fatigue.StateEvent
}

// SetReport - всё, что нужно для отчёта по подходу
type SetReport struct {
	SetID       string
	AthleteID   string
	Exercise    insight.Exercise
	StartedAt   time.Time
	EndedAt     time.Time // нулевое - подход ещё идёт
	Samples     []SampleRow
	Transitions []Transition
	Insights    []*insight.Insight
	Outcome     *offer.Outcome
	Score       float64
}

// WriteSetReport пишет отчёт в формате xlsx
func WriteSetReport(w io.Writer, r SetReport) error {
	f, err := build(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("ошибка записи отчёта: %w", err)
	}
	return nil
}

// SaveSetReport сохраняет отчёт в файл
func SaveSetReport(path string, r SetReport) error {
	f, err := build(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("ошибка сохранения отчёта: %w", err)
	}
	return nil
}

func build(r SetReport) (*excelize.File, error) {
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", SheetSummary)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#2E75B6"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка создания стиля: %w", err)
	}

	steps := []func(*excelize.File, SetReport, int) error{
		writeSummary,
		writeSamples,
		writePhases,
		writeInsights,
	}
	for _, step := range steps {
		if err := step(f, r, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

type column struct {
	title string
	width float64
}

// writeTable создаёт лист (если нужно) с заголовками и строками
func writeTable(f *excelize.File, sheet string, style int, cols []column, rows [][]any) error {
	if idx, _ := f.GetSheetIndex(sheet); idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("лист %s: %w", sheet, err)
		}
	}

	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c.title
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, c.width); err != nil {
			return err
		}
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("лист %s: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(cols), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("лист %s, строка %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, r SetReport, style int) error {
	ended := "in progress"
	if !r.EndedAt.IsZero() {
		ended = r.EndedAt.UTC().Format(time.RFC3339)
	}
	rows := [][]any{
		{"set_id", r.SetID},
		{"athlete_id", r.AthleteID},
		{"exercise", r.Exercise.Name},
		{"planned_rest_sec", r.Exercise.RestSeconds},
		{"started_at", r.StartedAt.UTC().Format(time.RFC3339)},
		{"ended_at", ended},
		{"samples", len(r.Samples)},
		{"transitions", len(r.Transitions)},
		{"insights", len(r.Insights)},
	}
	if r.Outcome != nil {
		rows = append(rows,
			[]any{"plan_followed", r.Outcome.PlanFollowed},
			[]any{"quality_improved", r.Outcome.QualityImproved},
			[]any{"readiness_rebounded", r.Outcome.ReadinessRebounded},
			[]any{"feedback", r.Outcome.Feedback},
			[]any{"dwell_sec", r.Outcome.DwellSec},
			[]any{"score", r.Score},
		)
	}
	return writeTable(f, SheetSummary, style, []column{{"field", 22}, {"value", 40}}, rows)
}

func writeSamples(f *excelize.File, r SetReport, style int) error {
	rows := make([][]any, 0, len(r.Samples))
	for _, s := range r.Samples {
		rows = append(rows, []any{s.TimeSec, s.Raw, s.Smoothed, s.Slope, s.Curvature, s.Phase.String()})
	}
	cols := []column{{"t_sec", 10}, {"raw", 12}, {"smoothed", 12}, {"slope", 12}, {"curvature", 12}, {"phase", 14}}
	return writeTable(f, SheetSamples, style, cols, rows)
}

func writePhases(f *excelize.File, r SetReport, style int) error {
	rows := make([][]any, 0, len(r.Transitions))
	for _, t := range r.Transitions {
		rows = append(rows, []any{t.TimeSec, t.PreviousPhase.String(), t.Phase.String(), t.Confidence, t.TimeInPreviousPhaseSec})
	}
	cols := []column{{"t_sec", 10}, {"from", 14}, {"to", 14}, {"confidence", 12}, {"time_in_previous_sec", 22}}
	return writeTable(f, SheetPhases, style, cols, rows)
}

func writeInsights(f *excelize.File, r SetReport, style int) error {
	rows := make([][]any, 0, len(r.Insights))
	for _, in := range r.Insights {
		metric := ""
		if in.CitedMetric != nil {
			metric = string(in.CitedMetric.Name) + ": " + in.CitedMetric.Value
		}
		rows = append(rows, []any{
			in.CreatedAt.UTC().Format(time.RFC3339),
			in.Trigger,
			string(in.Source),
			in.Phase.String(),
			string(in.Type),
			in.Headline,
			joinTags(in.Tags),
			joinActions(in.Actions),
			in.RestSeconds,
			in.Confidence,
			metric,
			string(in.Reason),
		})
	}
	cols := []column{
		{"created_at", 22}, {"trigger", 20}, {"source", 10}, {"phase", 12}, {"type", 12}, {"headline", 50},
		{"tags", 24}, {"actions", 18}, {"rest_sec", 10}, {"confidence", 12}, {"cited_metric", 20}, {"reason", 16},
	}
	return writeTable(f, SheetInsights, style, cols, rows)
}

func joinTags(tags []insight.Tag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func joinActions(actions []insight.Action) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}
