package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"setcoach/internal/insight"
)

// Sender - часть *tgbotapi.BotAPI, нужная для отправки
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink отправляет инсайты в чат тренера или атлета
type TelegramSink struct {
	api    Sender
	chatID int64
}

// NewTelegramSink создаёт получателя для чата
func NewTelegramSink(api Sender, chatID int64) *TelegramSink {
	return &TelegramSink{api: api, chatID: chatID}
}

// NewBotAPI подключается к Telegram по токену
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к Telegram: %w", err)
	}
	return api, nil
}

// Deliver реализует coach.Sink
func (t *TelegramSink) Deliver(ctx context.Context, setID string, in *insight.Insight) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, FormatInsight(in))
	if kb, ok := actionKeyboard(setID, in.Actions); ok {
		msg.ReplyMarkup = kb
	}
	// звук только для предупреждений
	msg.DisableNotification = in.Type != insight.TypeCaution

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("ошибка отправки в Telegram: %w", err)
	}
	return nil
}

// FormatInsight текст сообщения: заголовок, совет, отдых и метрика
func FormatInsight(in *insight.Insight) string {
	var sb strings.Builder
	sb.WriteString(typeIcon(in.Type))
	sb.WriteString(" ")
	sb.WriteString(in.Headline)

	if in.Tip != "" {
		sb.WriteString("\n💡 ")
		sb.WriteString(in.Tip)
	}
	if in.RestSeconds > 0 {
		sb.WriteString(fmt.Sprintf("\n⏱ Rest %d s", in.RestSeconds))
	}
	if in.CitedMetric != nil {
		sb.WriteString(fmt.Sprintf("\n📈 %s: %s", in.CitedMetric.Name, in.CitedMetric.Value))
	}
	return sb.String()
}

func typeIcon(t insight.Type) string {
	switch t {
	case insight.TypeCaution:
		return "⚠️"
	case insight.TypeInfo:
		return "ℹ️"
	default:
		return "💪"
	}
}

// actionKeyboard кнопки действий. callback_data: "<action>:<setID>"
func actionKeyboard(setID string, actions []insight.Action) (tgbotapi.InlineKeyboardMarkup, bool) {
	var row []tgbotapi.InlineKeyboardButton
	for _, a := range actions {
		switch a {
		case insight.ActionEndSet:
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("End set", string(a)+":"+setID))
		case insight.ActionContinueAnyway:
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("Continue", string(a)+":"+setID))
		}
	}
	if len(row) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), true
}
