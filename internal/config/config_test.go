package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"setcoach/internal/fatigue"
	"setcoach/internal/insight"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"DATABASE_URL", "API_PORT", "MQTT_CODEC", "BOT_TOKEN", "TELEGRAM_CHAT_ID", "LOG_LEVEL", "CORS_ALLOW_ORIGINS", "API_HOST", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if cfg.MQTTCodec != "json" || cfg.CheckpointSchedule != "@every 5s" {
		t.Errorf("MQTTCodec/CheckpointSchedule = %q/%q", cfg.MQTTCodec, cfg.CheckpointSchedule)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if got := cfg.RateLimitRPS(); got != 10 {
		t.Errorf("RateLimitRPS() = %v, want 10", got)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("API_PORT", "9000")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MQTT_CODEC", "MsgPack")
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != 9000 {
		t.Errorf("APIPort = %d", cfg.APIPort)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "https://b.example" {
		t.Errorf("CORSAllowOrigins = %v", cfg.CORSAllowOrigins)
	}
	if cfg.MQTTCodec != "msgpack" {
		t.Errorf("MQTTCodec = %q", cfg.MQTTCodec)
	}
	if cfg.TelegramChatID != -100123 {
		t.Errorf("TelegramChatID = %d", cfg.TelegramChatID)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown codec", map[string]string{"MQTT_CODEC": "xml"}},
		{"bad chat id", map[string]string{"TELEGRAM_CHAT_ID": "abc"}},
		{"token without chat", map[string]string{"BOT_TOKEN": "t", "TELEGRAM_CHAT_ID": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("MQTT_CODEC", "")
			t.Setenv("BOT_TOKEN", "")
			t.Setenv("TELEGRAM_CHAT_ID", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("API_PORT=\"7000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("API_PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != 9000 {
		t.Errorf("APIPort = %d, want env value 9000", cfg.APIPort)
	}
}

func TestLoadTuning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	data := []byte(`
fatigue:
  alpha: 0.5
  noise_threshold: -1
limits:
  max_messages_per_set: 5
pipeline:
  suppress_low_confidence: true
  response_timeout_ms: 250
ror_window_sec: 0
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	tun, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning() error = %v", err)
	}
	def := fatigue.DefaultConfig()
	if tun.Fatigue.Alpha != 0.5 {
		t.Errorf("Alpha = %v, want 0.5", tun.Fatigue.Alpha)
	}
	if tun.Fatigue.NoiseThreshold != def.NoiseThreshold {
		t.Errorf("NoiseThreshold = %v, want default %v", tun.Fatigue.NoiseThreshold, def.NoiseThreshold)
	}
	if tun.Fatigue.RiseSlopeThreshold != def.RiseSlopeThreshold {
		t.Errorf("RiseSlopeThreshold = %v, want untouched default", tun.Fatigue.RiseSlopeThreshold)
	}
	if tun.Limits.MaxMessagesPerSet != 5 || tun.Limits.SpeakMinGapSec != insight.DefaultLimits().SpeakMinGapSec {
		t.Errorf("Limits = %+v", tun.Limits)
	}
	if !tun.Pipeline.SuppressLowConfidence || tun.ResponseTimeout() != 250*time.Millisecond {
		t.Errorf("Pipeline = %+v", tun.Pipeline)
	}
	if tun.RoRWindowSec != defaultRoRWindowSec {
		t.Errorf("RoRWindowSec = %v", tun.RoRWindowSec)
	}
}

func TestLoadTuning_Errors(t *testing.T) {
	if _, err := LoadTuning(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: error = nil")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("fatigue: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuning(path); err == nil {
		t.Error("bad yaml: error = nil")
	}
}

func TestTuning_MarshalRoundTrip(t *testing.T) {
	def := DefaultTuning()
	if def.ResponseTimeout() != insight.ResponseTimeout {
		t.Errorf("ResponseTimeout() = %v", def.ResponseTimeout())
	}
	data, err := def.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "t.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning() error = %v", err)
	}
	if *got != *def {
		t.Errorf("round trip = %+v, want %+v", got, def)
	}
}

func TestTuningWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte("limits:\n  max_messages_per_set: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan *Tuning, 4)
	w, err := NewTuningWatcher(path, slog.New(slog.NewTextHandler(os.Stderr, nil)), func(t *Tuning) { changed <- t })
	if err != nil {
		t.Fatalf("NewTuningWatcher() error = %v", err)
	}
	w.debounce = 20 * time.Millisecond
	if w.Current().Limits.MaxMessagesPerSet != 2 {
		t.Fatalf("initial MaxMessagesPerSet = %d", w.Current().Limits.MaxMessagesPerSet)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// наблюдатель стартует асинхронно, пишем пока не увидим перечитку
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-changed:
			// запись может попасть между усечением и данными
			if got.Limits.MaxMessagesPerSet != 4 {
				continue
			}
			if w.Current() != got {
				t.Error("Current() does not return the reloaded tuning")
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, []byte("limits:\n  max_messages_per_set: 4\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("tuning was not reloaded")
		}
	}
}
