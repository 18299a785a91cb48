// Package replay feeds recorded sensor data through the coaching hub on a
// simulated clock.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tormoder/fit"

	"setcoach/internal/coach"
)

// Channels a FIT activity can be replayed from.
const (
	ChannelPower     = "power"
	ChannelHeartRate = "hr"
)

// ReadCSV parses a recording with a header row. Columns t and raw are
// required; mdf, artifact and symmetry are optional. Empty cells in
// optional columns stay unset.
func ReadCSV(r io.Reader) ([]coach.Reading, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("replay: empty csv")
		}
		return nil, fmt.Errorf("replay: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, req := range []string{"t", "raw"} {
		if _, ok := col[req]; !ok {
			return nil, fmt.Errorf("replay: csv has no %q column", req)
		}
	}

	var out []coach.Reading
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}

		var rd coach.Reading
		if rd.TimeSec, err = number(rec, col, "t"); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if rd.Raw, err = number(rec, col, "raw"); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if rd.MDF, err = optional(rec, col, "mdf"); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if rd.Symmetry, err = optional(rec, col, "symmetry"); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		art, err := optional(rec, col, "artifact")
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if art != nil {
			rd.Artifact = *art
		}
		out = append(out, rd)
	}
	return out, nil
}

func number(rec []string, col map[string]int, name string) (float64, error) {
	v, err := optional(rec, col, name)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%s is empty", name)
	}
	return *v, nil
}

func optional(rec []string, col map[string]int, name string) (*float64, error) {
	i, ok := col[name]
	if !ok || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &v, nil
}

// ReadFIT extracts one channel of a FIT activity as readings. Time is
// seconds since the first record; records without the channel are skipped.
func ReadFIT(r io.Reader, channel string) ([]coach.Reading, error) {
	if channel != ChannelPower && channel != ChannelHeartRate {
		return nil, fmt.Errorf("replay: unknown channel %q", channel)
	}
	decoded, err := fit.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("replay: decode fit: %w", err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("replay: fit is not an activity: %w", err)
	}

	var out []coach.Reading
	var start time.Time
	for _, rec := range activity.Records {
		if rec == nil || rec.Timestamp.IsZero() {
			continue
		}
		v := math.NaN()
		switch channel {
		case ChannelPower:
			if rec.Power != 0xFFFF {
				v = float64(rec.Power)
			}
		case ChannelHeartRate:
			if rec.HeartRate != 0xFF {
				v = float64(rec.HeartRate)
			}
		}
		if math.IsNaN(v) {
			continue
		}
		if start.IsZero() {
			start = rec.Timestamp
		}
		out = append(out, coach.Reading{TimeSec: rec.Timestamp.Sub(start).Seconds(), Raw: v})
	}
	return out, nil
}
