package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	GroqBaseURL = "https://api.groq.com/openai/v1"
	// Модели Groq, подходящие для коротких ответов:
	// - "llama-3.3-70b-versatile" - Llama 3.3 70B
	// - "llama-3.1-8b-instant" - самая быстрая
	DefaultModel  = "llama-3.1-8b-instant"
	FallbackModel = "llama-3.3-70b-versatile"

	defaultMaxTokens = 256
)

// Client - клиент OpenAI-совместимого chat completions API
type Client struct {
	baseURL       string
	apiKey        string
	model         string
	fallbackModel string
	maxTokens     int
	httpClient    *http.Client
	limiter       *rate.Limiter
}

// ClientConfig параметры клиента
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int

	// RequestsPerMinute 0 - без ограничения
	RequestsPerMinute int
	HTTPClient        *http.Client
}

// Message - сообщение для чата
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest - запрос к API
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse - ответ от API
type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient создаёт новый клиент
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		maxTokens:     cfg.MaxTokens,
		httpClient:    cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = GroqBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.httpClient == nil {
		// общий потолок; дедлайн ответа задаёт контекст вызывающего
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1)
	}
	return c
}

// Model текущая основная модель
func (c *Client) Model() string {
	return c.model
}

// Chat отправляет сообщения и получает ответ
func (c *Client) Chat(ctx context.Context, messages []Message, temperature float64) (string, error) {
	// Пробуем основную модель, при ошибке - fallback
	models := []string{c.model}
	if c.fallbackModel != "" && c.fallbackModel != c.model {
		models = append(models, c.fallbackModel)
	}

	var lastErr error
	for _, model := range models {
		result, err := c.chatWithModel(ctx, messages, temperature, model)
		if err == nil {
			return result, nil
		}
		lastErr = err
		// отменённый запрос не повторяем
		if ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

// chatWithModel выполняет запрос к конкретной модели
func (c *Client) chatWithModel(ctx context.Context, messages []Message, temperature float64, model string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("ограничение запросов: %w", err)
		}
	}

	req := ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("ошибка создания запроса: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ошибка запроса: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("ошибка парсинга ответа (HTTP %d): %w", resp.StatusCode, err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("ошибка API: %s", chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ошибка API: HTTP %d", resp.StatusCode)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("пустой ответ от API")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// SimpleChat - простой запрос с одним сообщением
func (c *Client) SimpleChat(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage},
	}
	return c.Chat(ctx, messages, 0.7)
}
