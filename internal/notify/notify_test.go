package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"setcoach/internal/coach"
	"setcoach/internal/insight"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramSink_Deliver(t *testing.T) {
	api := &fakeSender{}
	sink := NewTelegramSink(api, 42)

	in := &insight.Insight{
		Type:        insight.TypeCaution,
		Headline:    "Fatigue is setting in.",
		Tip:         "Brace",
		Actions:     []insight.Action{insight.ActionEndSet},
		RestSeconds: 150,
		CitedMetric: &insight.CitedMetric{Name: insight.MetricMDF, Value: "-6%"},
	}
	if err := sink.Deliver(context.Background(), "set-1", in); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	if msg.ChatID != 42 || msg.DisableNotification {
		t.Errorf("ChatID = %d, DisableNotification = %v", msg.ChatID, msg.DisableNotification)
	}
	for _, want := range []string{"⚠️ Fatigue is setting in.", "Brace", "Rest 150 s", "MDF: -6%"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text %q missing %q", msg.Text, want)
		}
	}

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 1 {
		t.Fatalf("ReplyMarkup = %#v", msg.ReplyMarkup)
	}
	if data := kb.InlineKeyboard[0][0].CallbackData; data == nil || *data != "end_set:set-1" {
		t.Errorf("callback data = %v", data)
	}
}

func TestTelegramSink_NoKeyboardWithoutActions(t *testing.T) {
	api := &fakeSender{}
	in := &insight.Insight{Type: insight.TypeSuggestion, Headline: "Nice."}
	if err := NewTelegramSink(api, 1).Deliver(context.Background(), "s", in); err != nil {
		t.Fatal(err)
	}
	msg := api.sent[0].(tgbotapi.MessageConfig)
	if msg.ReplyMarkup != nil {
		t.Errorf("ReplyMarkup = %#v, want nil", msg.ReplyMarkup)
	}
	if !msg.DisableNotification {
		t.Error("suggestion should be silent")
	}
	if msg.Text != "💪 Nice." {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestTelegramSink_Errors(t *testing.T) {
	api := &fakeSender{err: errors.New("flood")}
	sink := NewTelegramSink(api, 1)
	if err := sink.Deliver(context.Background(), "s", &insight.Insight{}); err == nil {
		t.Error("Deliver() error = nil, want send error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Deliver(ctx, "s", &insight.Insight{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Deliver(cancelled) error = %v", err)
	}
	if len(api.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(api.sent))
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{L: slog.New(slog.NewTextHandler(&buf, nil))}
	in := &insight.Insight{ID: "i1", Headline: "Hold.", Actions: []insight.Action{insight.ActionContinueAnyway}}
	if err := sink.Deliver(context.Background(), "set-3", in); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"set_id=set-3", "id=i1", "actions=continue_anyway"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

type fakeRequester struct {
	answers []tgbotapi.CallbackConfig
}

func (f *fakeRequester) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.answers = append(f.answers, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestCallbacks_EndSetButton(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := coach.NewHub(coach.Options{Logger: logger})
	defer hub.Close()

	s, err := hub.StartSet(coach.SetConfig{Exercise: insight.Exercise{Name: "Squat", InWorkingSet: true}})
	if err != nil {
		t.Fatal(err)
	}

	api := &fakeRequester{}
	cb := NewCallbacks(api, hub, logger)

	tests := []struct {
		name string
		data string
		want string
	}{
		{"continue keeps the set", "continue_anyway:" + s.ID(), "Keep going"},
		{"end set", "end_set:" + s.ID(), "Set ended"},
		{"second press", "end_set:" + s.ID(), "Set already ended"},
		{"unknown set", "end_set:nope", "Set already ended"},
		{"garbage", "end_set", "Unknown action"},
		{"unknown action", "pause:" + s.ID(), "Unknown action"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb.Handle(context.Background(), &tgbotapi.CallbackQuery{ID: tt.name, Data: tt.data})
			if len(api.answers) != i+1 {
				t.Fatalf("answers = %d, want %d", len(api.answers), i+1)
			}
			got := api.answers[i]
			if got.CallbackQueryID != tt.name || got.Text != tt.want {
				t.Errorf("answer = %q/%q, want %q/%q", got.CallbackQueryID, got.Text, tt.name, tt.want)
			}
		})
		if i == 0 && !s.Status().Active {
			t.Fatal("continue_anyway ended the set")
		}
	}
	if s.Status().Active {
		t.Error("set still active after end_set")
	}
}

func TestCallbacks_RunStopsOnClosedChannel(t *testing.T) {
	api := &fakeRequester{}
	hub := coach.NewHub(coach.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	defer hub.Close()

	updates := make(chan tgbotapi.Update, 3)
	updates <- tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi"}}
	updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q1", Data: "end_set:missing"}}
	close(updates)

	done := make(chan struct{})
	go func() {
		NewCallbacks(api, hub, nil).Run(context.Background(), updates)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	if len(api.answers) != 1 || api.answers[0].CallbackQueryID != "q1" {
		t.Errorf("answers = %+v", api.answers)
	}
}
