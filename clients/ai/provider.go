package ai

import (
	"fmt"
	"strings"
)

// Provider тип AI провайдера
type Provider string

const (
	ProviderAuto       Provider = "auto"
	ProviderGroq       Provider = "groq"
	ProviderOllama     Provider = "ollama"
	ProviderOpenRouter Provider = "openrouter"
)

const (
	OpenRouterBaseURL  = "https://openrouter.ai/api/v1"
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
	OpenRouterModel    = "meta-llama/llama-3.1-8b-instruct"
)

// ProviderConfig конфигурация провайдера
type ProviderConfig struct {
	Provider         Provider
	GroqAPIKey       string
	OpenRouterAPIKey string
	OllamaURL        string

	// Model переопределяет модель провайдера по умолчанию
	Model             string
	RequestsPerMinute int
}

// ParseProvider разбирает имя провайдера, пустое значение - auto
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProviderAuto, nil
	case ProviderAuto, ProviderGroq, ProviderOllama, ProviderOpenRouter:
		return p, nil
	default:
		return "", fmt.Errorf("неизвестный AI провайдер %q", s)
	}
}

// Resolve выбирает конкретного провайдера для auto:
// Groq, затем OpenRouter, иначе локальная Ollama
func (cfg ProviderConfig) Resolve() Provider {
	if cfg.Provider != ProviderAuto && cfg.Provider != "" {
		return cfg.Provider
	}
	switch {
	case cfg.GroqAPIKey != "":
		return ProviderGroq
	case cfg.OpenRouterAPIKey != "":
		return ProviderOpenRouter
	default:
		return ProviderOllama
	}
}

// NewClientForProvider создаёт AI клиент на основе конфигурации
func NewClientForProvider(cfg ProviderConfig) (*Client, error) {
	cc := ClientConfig{RequestsPerMinute: cfg.RequestsPerMinute}

	switch p := cfg.Resolve(); p {
	case ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY не задан")
		}
		cc.BaseURL = GroqBaseURL
		cc.APIKey = cfg.GroqAPIKey
		cc.Model = DefaultModel
		cc.FallbackModel = FallbackModel
	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY не задан")
		}
		cc.BaseURL = OpenRouterBaseURL
		cc.APIKey = cfg.OpenRouterAPIKey
		cc.Model = OpenRouterModel
	case ProviderOllama:
		base := cfg.OllamaURL
		if base == "" {
			base = DefaultOllamaURL
		}
		// у Ollama OpenAI-совместимый API живёт под /v1
		cc.BaseURL = strings.TrimRight(base, "/") + "/v1"
		cc.Model = DefaultOllamaModel
	default:
		return nil, fmt.Errorf("неизвестный AI провайдер %q", p)
	}

	if cfg.Model != "" {
		cc.Model = cfg.Model
		cc.FallbackModel = ""
	}
	return NewClient(cc), nil
}

// GetProviderName возвращает название провайдера
func GetProviderName(p Provider) string {
	switch p {
	case ProviderGroq:
		return "Groq"
	case ProviderOllama:
		return "Ollama (локальный)"
	case ProviderOpenRouter:
		return "OpenRouter"
	default:
		return "Auto"
	}
}
