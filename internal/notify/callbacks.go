package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"setcoach/internal/coach"
	"setcoach/internal/insight"
	"setcoach/internal/offer"
)

// Requester - часть *tgbotapi.BotAPI для ответов на нажатия
type Requester interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// SetEnder завершает подход по кнопке
type SetEnder interface {
	EndSet(ctx context.Context, setID string, o *offer.Outcome) (float64, error)
}

// Callbacks обрабатывает нажатия кнопок под инсайтами
type Callbacks struct {
	api    Requester
	sets   SetEnder
	logger *slog.Logger
}

// NewCallbacks создаёт обработчик кнопок
func NewCallbacks(api Requester, sets SetEnder, logger *slog.Logger) *Callbacks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Callbacks{api: api, sets: sets, logger: logger}
}

// Run читает обновления до отмены ctx или закрытия канала
func (c *Callbacks) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				c.Handle(ctx, update.CallbackQuery)
			}
		}
	}
}

// Handle выполняет действие кнопки и отвечает на callback
func (c *Callbacks) Handle(ctx context.Context, q *tgbotapi.CallbackQuery) {
	action, setID, ok := parseCallback(q.Data)

	var text string
	switch {
	case !ok:
		text = "Unknown action"
	case action == insight.ActionEndSet:
		text = c.endSet(ctx, setID)
	case action == insight.ActionContinueAnyway:
		// подход продолжается, отвечаем только чтобы убрать "часики"
		text = "Keep going"
	default:
		text = "Unknown action"
	}

	if _, err := c.api.Request(tgbotapi.NewCallback(q.ID, text)); err != nil {
		c.logger.Warn("callback answer failed", "set_id", setID, "error", err)
	}
}

func (c *Callbacks) endSet(ctx context.Context, setID string) string {
	_, err := c.sets.EndSet(ctx, setID, nil)
	switch {
	case err == nil:
		c.logger.Info("set ended from telegram", "set_id", setID)
		return "Set ended"
	case errors.Is(err, coach.ErrSetClosed), errors.Is(err, coach.ErrSetNotFound):
		return "Set already ended"
	default:
		c.logger.Error("end set from telegram failed", "set_id", setID, "error", err)
		return "Could not end the set"
	}
}

// parseCallback разбирает callback_data вида "<action>:<setID>"
func parseCallback(data string) (insight.Action, string, bool) {
	action, setID, ok := strings.Cut(data, ":")
	if !ok || action == "" || setID == "" {
		return "", "", false
	}
	return insight.Action(action), setID, true
}
