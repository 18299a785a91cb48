package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит конфигурацию приложения
type Config struct {
	// База данных, пустая строка - журнал не ведётся
	DatabaseURL string

	// HTTP API
	APIHost          string
	APIPort          int
	CORSAllowOrigins []string

	// Ограничение запросов к API
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Генерация инсайтов
	AIProvider          string // auto, groq, openrouter, ollama
	GroqAPIKey          string
	OpenRouterAPIKey    string
	OllamaURL           string // URL Ollama, например http://localhost:11434
	AIModel             string // пусто - модель провайдера по умолчанию
	AIRequestsPerMinute int

	// MQTT, пустой брокер - приём датчиков выключен
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTCodec    string // json или msgpack

	// Telegram, пустой токен - уведомления выключены
	BotToken       string
	TelegramChatID int64

	// Планировщик контрольных точек (формат robfig/cron)
	CheckpointSchedule string

	TuningPath string
	ReportDir  string
	LogLevel   slog.Level
}

// Load загружает конфигурацию из переменных окружения. Файл .env, если есть,
// подгружается заранее и не перекрывает уже заданные переменные.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	chatID, err := envInt64("TELEGRAM_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL: envOr("DATABASE_URL", ""),

		APIHost:          envOr("API_HOST", "0.0.0.0"),
		APIPort:          envInt("API_PORT", 8080),
		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		AIProvider:          strings.ToLower(envOr("AI_PROVIDER", "auto")),
		GroqAPIKey:          envOr("GROQ_API_KEY", ""),
		OpenRouterAPIKey:    envOr("OPENROUTER_API_KEY", ""),
		OllamaURL:           envOr("OLLAMA_URL", "http://localhost:11434"),
		AIModel:             envOr("AI_MODEL", ""),
		AIRequestsPerMinute: envInt("AI_REQUESTS_PER_MINUTE", 30),

		MQTTBroker:   envOr("MQTT_BROKER", ""),
		MQTTClientID: envOr("MQTT_CLIENT_ID", "setcoach"),
		MQTTTopic:    envOr("MQTT_TOPIC", "setcoach/+/samples"),
		MQTTCodec:    strings.ToLower(envOr("MQTT_CODEC", "json")),

		BotToken:       envOr("BOT_TOKEN", ""),
		TelegramChatID: chatID,

		CheckpointSchedule: envOr("CHECKPOINT_SCHEDULE", "@every 5s"),

		TuningPath: envOr("TUNING_PATH", ""),
		ReportDir:  envOr("REPORT_DIR", "reports"),
		LogLevel:   parseLevel(envOr("LOG_LEVEL", "info")),
	}

	if cfg.MQTTCodec != "json" && cfg.MQTTCodec != "msgpack" {
		return nil, fmt.Errorf("MQTT_CODEC: неизвестный формат %q", cfg.MQTTCodec)
	}
	if cfg.BotToken != "" && cfg.TelegramChatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID не задан")
	}

	return cfg, nil
}

// Addr адрес HTTP сервера
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

// RateLimitRPS переводит лимит окна в запросы в секунду
func (c *Config) RateLimitRPS() float64 {
	if c.RateLimitWindow <= 0 {
		return float64(c.RateLimitRequests)
	}
	return float64(c.RateLimitRequests) / c.RateLimitWindow.Seconds()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
