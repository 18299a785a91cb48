// Package insight решает, когда и как показать атлету сообщение во время
// подхода: вызвать внешнюю модель, собрать детерминированный fallback или
// промолчать.
package insight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResponseTimeout потолок времени ответа внешнего сервиса
const ResponseTimeout = 600 * time.Millisecond

var (
	// ErrCancelled - вызов отменён вызывающей стороной. Всегда пробрасывается наружу.
	ErrCancelled = errors.New("insight: cancelled")
	// ErrNoGenerator - не задан генератор
	ErrNoGenerator = errors.New("insight: generator not configured")

	errResponseTimeout = errors.New("insight: response timeout")
)

// Generator - внешний сервис генерации. Получает запрос, возвращает сырой текст.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc позволяет использовать функцию как Generator
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate реализует Generator
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Clock источник текущего времени
type Clock func() time.Time

// Options параметры пайплайна
type Options struct {
	// Generator используется напрямую, если задан
	Generator Generator
	// NewGenerator вызывается лениво при первом обращении к сервису
	NewGenerator func() (Generator, error)
	Logger       Logger
	Clock        Clock
	// Timeout переопределяет ResponseTimeout (нужно для тестов)
	Timeout time.Duration
	// SuppressLowConfidence превращает fallback по низкой уверенности в тишину
	SuppressLowConfidence bool
}

// Pipeline - политика и генерация инсайтов для одного атлета
type Pipeline struct {
	logger                Logger
	clock                 Clock
	timeout               time.Duration
	suppressLowConfidence bool

	genMu  sync.Mutex
	gen    Generator
	newGen func() (Generator, error)

	mu    sync.Mutex
	state SessionState
}

// NewPipeline создаёт пайплайн
func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{
		logger:                opts.Logger,
		clock:                 opts.Clock,
		timeout:               opts.Timeout,
		suppressLowConfidence: opts.SuppressLowConfidence,
		gen:                   opts.Generator,
		newGen:                opts.NewGenerator,
	}
	if p.logger == nil {
		p.logger = nopLogger{}
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.timeout <= 0 {
		p.timeout = ResponseTimeout
	}
	return p
}

// ResetForNewSet сбрасывает состояние в начале рабочего подхода
func (p *Pipeline) ResetForNewSet() {
	p.mu.Lock()
	p.state = SessionState{}
	p.mu.Unlock()
}

// State возвращает копию состояния
func (p *Pipeline) State() SessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Evaluate оценивает политику для контекста на текущий момент
func (p *Pipeline) Evaluate(ic Context) Decision {
	return evaluate(ic, p.State(), p.clock(), p.suppressLowConfidence)
}

// GenerateInsight возвращает инсайт или nil. Ошибка возвращается только при
// отмене ctx вызывающей стороной (errors.Is(err, ErrCancelled)).
func (p *Pipeline) GenerateInsight(ctx context.Context, ic Context, trigger string) (*Insight, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	st := p.State()
	d := evaluate(ic, st, p.clock(), p.suppressLowConfidence)
	p.logger.LogEvent(EventPolicyEvaluated, map[string]any{
		"trigger":    trigger,
		"decision":   string(d.Kind),
		"reason":     string(d.Reason),
		"phase":      ic.Phase.String(),
		"confidence": ic.Confidence,
		"count":      st.Count,
	})

	var ins *Insight
	switch d.Kind {
	case DecisionSkip:
		return nil, nil
	case DecisionFallback:
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		ins = Fallback(ic, d.Reason)
	default:
		var err error
		ins, err = p.generate(ctx, ic)
		if err != nil {
			return nil, err
		}
	}

	if !p.commit(ins, ic.Limits, trigger) {
		return nil, nil
	}
	return ins, nil
}

// generate вызывает внешний сервис и при любой ошибке, кроме отмены,
// деградирует до fallback
func (p *Pipeline) generate(ctx context.Context, ic Context) (*Insight, error) {
	gen, err := p.generator()
	if err != nil {
		return p.degrade(ctx, ic, ReasonError, err)
	}

	raw, err := p.call(ctx, gen, BuildRequest(ic))
	switch {
	case errors.Is(err, ErrCancelled):
		return nil, err
	case errors.Is(err, errResponseTimeout):
		return p.degrade(ctx, ic, ReasonTimeout, err)
	case err != nil:
		return p.degrade(ctx, ic, ReasonError, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	parsed := ParseResponse(raw)
	if parsed == nil {
		return p.degrade(ctx, ic, ReasonError, errors.New("unusable response"))
	}
	return Normalize(parsed, ic), nil
}

// call выполняет запрос с собственным таймером. Таймер снимается на любом выходе.
func (p *Pipeline) call(ctx context.Context, gen Generator, req Request) (string, error) {
	callCtx, cancel := context.WithTimeoutCause(ctx, p.timeout, errResponseTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := gen.Generate(callCtx, req)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", classify(callCtx, r.err)
		}
		return r.text, nil
	case <-callCtx.Done():
		return "", classify(callCtx, context.Cause(callCtx))
	}
}

// classify различает отмену вызывающей стороной, таймаут и прочие ошибки
func classify(callCtx context.Context, err error) error {
	if callCtx.Err() != nil {
		cause := context.Cause(callCtx)
		if errors.Is(cause, errResponseTimeout) {
			return fmt.Errorf("%w: %w", errResponseTimeout, err)
		}
		return cancelled(cause)
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return err
	case errors.Is(err, context.Canceled):
		return cancelled(err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", errResponseTimeout, err)
	}
	return err
}

func (p *Pipeline) degrade(ctx context.Context, ic Context, reason Reason, cause error) (*Insight, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	p.logger.LogEvent(EventDegraded, map[string]any{
		"reason": string(reason),
		"error":  cause.Error(),
		"phase":  ic.Phase.String(),
	})
	return Fallback(ic, reason), nil
}

// generator лениво создаёт клиента один раз. Неудачная попытка не запоминается.
func (p *Pipeline) generator() (Generator, error) {
	p.genMu.Lock()
	defer p.genMu.Unlock()

	if p.gen != nil {
		return p.gen, nil
	}
	if p.newGen == nil {
		return nil, ErrNoGenerator
	}
	g, err := p.newGen()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания генератора: %w", err)
	}
	if g == nil {
		return nil, ErrNoGenerator
	}
	p.gen = g
	return g, nil
}

// commit атомарно перепроверяет лимиты и обновляет состояние. Параллельный
// вызов мог выдать инсайт, пока этот ждал сервис; тогда инсайт отбрасывается.
func (p *Pipeline) commit(ins *Insight, limits Limits, trigger string) bool {
	now := p.clock()

	p.mu.Lock()
	if r := overBudget(limits, p.state, now); r != "" {
		count := p.state.Count
		p.mu.Unlock()
		p.logger.LogEvent(EventPolicyEvaluated, map[string]any{
			"trigger":  trigger,
			"decision": string(DecisionSkip),
			"reason":   string(r),
			"phase":    ins.Phase.String(),
			"count":    count,
			"stage":    "commit",
		})
		return false
	}
	p.state.LastInsightAt = now
	p.state.Count++
	p.state.LastPhase = ins.Phase
	p.state.LastReason = ins.Reason
	p.mu.Unlock()

	ins.ID = uuid.NewString()
	ins.Trigger = trigger
	ins.CreatedAt = now
	return true
}

func cancelled(cause error) error {
	if errors.Is(cause, ErrCancelled) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
