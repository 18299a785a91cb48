package ai

import (
	"context"

	"setcoach/internal/insight"
)

// Низкая температура: ответ должен держаться схемы
const insightTemperature = 0.3

// InsightGenerator адаптирует Client к insight.Generator
type InsightGenerator struct {
	client      *Client
	temperature float64
}

// NewInsightGenerator создаёт генератор инсайтов поверх клиента
func NewInsightGenerator(client *Client) *InsightGenerator {
	return &InsightGenerator{client: client, temperature: insightTemperature}
}

// Generate реализует insight.Generator
func (g *InsightGenerator) Generate(ctx context.Context, req insight.Request) (string, error) {
	return g.client.Chat(ctx, Messages(req), g.temperature)
}

// Messages раскладывает запрос в сообщения чата: инструкция как system,
// каждый пример как пара user/assistant, свежий контекст последним
func Messages(req insight.Request) []Message {
	messages := make([]Message, 0, 2+2*len(req.Examples))
	messages = append(messages, Message{Role: "system", Content: req.System})
	for _, ex := range req.Examples {
		messages = append(messages,
			Message{Role: "user", Content: ex.Context},
			Message{Role: "assistant", Content: ex.Response},
		)
	}
	return append(messages, Message{Role: "user", Content: req.Context})
}
