package fatigue

import "math"

// Config holds the estimator tuning. Slopes are in percent of the smoothed
// signal per second, curvature in percent per second squared.
type Config struct {
	// Alpha is the EWMA smoothing factor, in (0, 1]. 1 disables smoothing.
	Alpha float64 `yaml:"alpha"`

	SlopeLookbackSec float64 `yaml:"slope_lookback_sec"`
	// CurvatureLookbackSec is accepted for tuning-file compatibility.
	// Curvature is taken between consecutive slope estimates.
	CurvatureLookbackSec float64 `yaml:"curvature_lookback_sec"`
	HistoryWindowSec     float64 `yaml:"history_window_sec"`

	// NoiseThreshold is in absolute units of the smoothed signal.
	NoiseThreshold float64 `yaml:"noise_threshold"`

	RiseSlopeThreshold float64 `yaml:"rise_slope_threshold"`
	RiseMinDurationSec float64 `yaml:"rise_min_duration_sec"`

	PlateauSlopeThreshold     float64 `yaml:"plateau_slope_threshold"`
	PlateauCurvatureThreshold float64 `yaml:"plateau_curvature_threshold"`
	PlateauMinDurationSec     float64 `yaml:"plateau_min_duration_sec"`

	// FallSlopeThreshold is negative: the slope must be at or below it.
	FallSlopeThreshold float64 `yaml:"fall_slope_threshold"`
	FallMinDurationSec float64 `yaml:"fall_min_duration_sec"`

	// MDFSlopeThreshold applies to the secondary channel slope.
	MDFSlopeThreshold      float64 `yaml:"mdf_slope_threshold"`
	RequireMDFConfirmation bool    `yaml:"require_mdf_confirmation"`
}

// DefaultConfig returns the tuning used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		Alpha:                     0.3,
		SlopeLookbackSec:          3,
		CurvatureLookbackSec:      2,
		HistoryWindowSec:          30,
		NoiseThreshold:            0.02,
		RiseSlopeThreshold:        2.0,
		RiseMinDurationSec:        1.5,
		PlateauSlopeThreshold:     1.0,
		PlateauCurvatureThreshold: 1.5,
		PlateauMinDurationSec:     2.0,
		FallSlopeThreshold:        -2.0,
		FallMinDurationSec:        1.5,
		MDFSlopeThreshold:         -0.5,
		RequireMDFConfirmation:    false,
	}
}

// Normalize replaces out-of-range values with their defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if !finite(c.Alpha) || c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = d.Alpha
	}
	if !finite(c.SlopeLookbackSec) || c.SlopeLookbackSec <= 0 {
		c.SlopeLookbackSec = d.SlopeLookbackSec
	}
	if !finite(c.CurvatureLookbackSec) || c.CurvatureLookbackSec <= 0 {
		c.CurvatureLookbackSec = d.CurvatureLookbackSec
	}
	if !finite(c.HistoryWindowSec) || c.HistoryWindowSec <= 0 {
		c.HistoryWindowSec = d.HistoryWindowSec
	}
	if !finite(c.NoiseThreshold) || c.NoiseThreshold < 0 {
		c.NoiseThreshold = d.NoiseThreshold
	}
	if !finite(c.RiseSlopeThreshold) {
		c.RiseSlopeThreshold = d.RiseSlopeThreshold
	}
	if !finite(c.RiseMinDurationSec) || c.RiseMinDurationSec < 0 {
		c.RiseMinDurationSec = d.RiseMinDurationSec
	}
	if !finite(c.PlateauSlopeThreshold) || c.PlateauSlopeThreshold < 0 {
		c.PlateauSlopeThreshold = d.PlateauSlopeThreshold
	}
	if !finite(c.PlateauCurvatureThreshold) || c.PlateauCurvatureThreshold < 0 {
		c.PlateauCurvatureThreshold = d.PlateauCurvatureThreshold
	}
	if !finite(c.PlateauMinDurationSec) || c.PlateauMinDurationSec < 0 {
		c.PlateauMinDurationSec = d.PlateauMinDurationSec
	}
	if !finite(c.FallSlopeThreshold) || c.FallSlopeThreshold > 0 {
		c.FallSlopeThreshold = d.FallSlopeThreshold
	}
	if !finite(c.FallMinDurationSec) || c.FallMinDurationSec < 0 {
		c.FallMinDurationSec = d.FallMinDurationSec
	}
	if !finite(c.MDFSlopeThreshold) {
		c.MDFSlopeThreshold = d.MDFSlopeThreshold
	}
	return c
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
