package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"setcoach/internal/fatigue"
	"setcoach/internal/insight"
)

// Tuning - параметры алгоритмов, которые можно менять без перезапуска
type Tuning struct {
	Fatigue  fatigue.Config `yaml:"fatigue"`
	Limits   insight.Limits `yaml:"limits"`
	Pipeline PipelineTuning `yaml:"pipeline"`
	// RoRWindowSec окно процентного изменения сигнала
	RoRWindowSec float64 `yaml:"ror_window_sec"`
}

// PipelineTuning параметры конвейера инсайтов
type PipelineTuning struct {
	SuppressLowConfidence bool `yaml:"suppress_low_confidence"`
	// ResponseTimeoutMS 0 - стандартный потолок ответа
	ResponseTimeoutMS int `yaml:"response_timeout_ms"`
}

const defaultRoRWindowSec = 5

// DefaultTuning значения по умолчанию
func DefaultTuning() *Tuning {
	return &Tuning{
		Fatigue:      fatigue.DefaultConfig(),
		Limits:       insight.DefaultLimits(),
		RoRWindowSec: defaultRoRWindowSec,
	}
}

// LoadTuning читает yaml поверх значений по умолчанию. Пустой путь - только
// значения по умолчанию.
func LoadTuning(path string) (*Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение настроек %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("разбор настроек %s: %w", path, err)
	}
	t.normalize()
	return t, nil
}

// Marshal сериализует настройки в yaml
func (t *Tuning) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}

// ResponseTimeout потолок ответа сервиса генерации
func (t *Tuning) ResponseTimeout() time.Duration {
	if t.Pipeline.ResponseTimeoutMS <= 0 {
		return insight.ResponseTimeout
	}
	return time.Duration(t.Pipeline.ResponseTimeoutMS) * time.Millisecond
}

func (t *Tuning) normalize() {
	t.Fatigue = t.Fatigue.Normalize()

	def := insight.DefaultLimits()
	if t.Limits.MaxMessagesPerSet < 0 {
		t.Limits.MaxMessagesPerSet = def.MaxMessagesPerSet
	}
	if t.Limits.SpeakMinGapSec < 0 {
		t.Limits.SpeakMinGapSec = def.SpeakMinGapSec
	}
	if t.RoRWindowSec <= 0 {
		t.RoRWindowSec = defaultRoRWindowSec
	}
}
