package insight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"setcoach/internal/fatigue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubGenerator struct {
	calls    atomic.Int32
	response string
	err      error
	// block ждёт отмены ctx
	block bool
	// sleep игнорирует ctx
	sleep time.Duration
}

func (g *stubGenerator) Generate(ctx context.Context, req Request) (string, error) {
	g.calls.Add(1)
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.sleep > 0 {
		time.Sleep(g.sleep)
	}
	return g.response, g.err
}

type recordingLogger struct {
	mu     sync.Mutex
	events []map[string]any
	names  []string
}

func (l *recordingLogger) LogEvent(name string, payload map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
	l.events = append(l.events, payload)
}

func ptr(v float64) *float64 { return &v }

func callContext() Context {
	return Context{
		Phase:      fatigue.PhaseFalling,
		Confidence: 0.8,
		Metrics:    Metrics{MotionArtifact: 0.1, RoRPercent: ptr(-12)},
		Limits:     Limits{MaxMessagesPerSet: 3, SpeakMinGapSec: 6, ArtifactThreshold: 0.6},
		Exercise:   Exercise{Name: "Squat", InWorkingSet: true, RestSeconds: 90},
	}
}

const goodResponse = `{"headline":"Fatigue is rising.","subline":"Finish with control.","actions":["end_set"],"rest_seconds":150}`

func TestGenerateInsight_LowConfidenceMakesNoCalls(t *testing.T) {
	ic := callContext()
	ic.Phase = fatigue.PhasePlateauing
	ic.Confidence = 0.50

	t.Run("fallback by default", func(t *testing.T) {
		gen := &stubGenerator{response: goodResponse}
		p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now})

		ins, err := p.GenerateInsight(context.Background(), ic, "state-changed")
		if err != nil {
			t.Fatalf("GenerateInsight() error = %v", err)
		}
		if ins == nil || ins.Source != SourceFallback || ins.Reason != ReasonLowConfidence {
			t.Fatalf("GenerateInsight() = %+v, want low_confidence fallback", ins)
		}
		if n := gen.calls.Load(); n != 0 {
			t.Errorf("generator called %d times, want 0", n)
		}
	})

	t.Run("silent when suppressed", func(t *testing.T) {
		gen := &stubGenerator{response: goodResponse}
		p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now, SuppressLowConfidence: true})

		ins, err := p.GenerateInsight(context.Background(), ic, "state-changed")
		if err != nil || ins != nil {
			t.Fatalf("GenerateInsight() = %+v, %v; want nil, nil", ins, err)
		}
		if n := gen.calls.Load(); n != 0 {
			t.Errorf("generator called %d times, want 0", n)
		}
		if st := p.State(); st.Count != 0 {
			t.Errorf("state count = %d, want 0", st.Count)
		}
	})
}

func TestGenerateInsight_MinGap(t *testing.T) {
	clock := newFakeClock()
	gen := &stubGenerator{response: goodResponse}
	p := NewPipeline(Options{Generator: gen, Clock: clock.Now})
	ic := callContext()

	first, err := p.GenerateInsight(context.Background(), ic, "state-changed")
	if err != nil || first == nil {
		t.Fatalf("first GenerateInsight() = %+v, %v", first, err)
	}

	clock.Advance(time.Second)
	second, err := p.GenerateInsight(context.Background(), ic, "periodic-checkpoint")
	if err != nil || second != nil {
		t.Fatalf("second GenerateInsight() = %+v, %v; want nil, nil", second, err)
	}
	if n := gen.calls.Load(); n != 1 {
		t.Errorf("generator called %d times, want 1", n)
	}

	clock.Advance(6 * time.Second)
	third, err := p.GenerateInsight(context.Background(), ic, "periodic-checkpoint")
	if err != nil || third == nil {
		t.Fatalf("third GenerateInsight() after gap = %+v, %v", third, err)
	}
}

func TestGenerateInsight_MessageCap(t *testing.T) {
	clock := newFakeClock()
	gen := &stubGenerator{response: goodResponse}
	p := NewPipeline(Options{Generator: gen, Clock: clock.Now})
	ic := callContext()
	ic.Limits.MaxMessagesPerSet = 2
	ic.Limits.SpeakMinGapSec = 0

	var got int
	for i := 0; i < 4; i++ {
		ins, err := p.GenerateInsight(context.Background(), ic, "periodic-checkpoint")
		if err != nil {
			t.Fatalf("GenerateInsight() error = %v", err)
		}
		if ins != nil {
			got++
		}
		clock.Advance(time.Second)
	}
	if got != 2 {
		t.Errorf("issued %d insights, want 2", got)
	}

	p.ResetForNewSet()
	if ins, _ := p.GenerateInsight(context.Background(), ic, "periodic-checkpoint"); ins == nil {
		t.Errorf("no insight after ResetForNewSet")
	}
}

func TestGenerateInsight_SkipNotInSet(t *testing.T) {
	gen := &stubGenerator{response: goodResponse}
	logger := &recordingLogger{}
	p := NewPipeline(Options{Generator: gen, Logger: logger, Clock: newFakeClock().Now})
	ic := callContext()
	ic.Exercise.InWorkingSet = false

	ins, err := p.GenerateInsight(context.Background(), ic, "state-changed")
	if ins != nil || err != nil {
		t.Fatalf("GenerateInsight() = %+v, %v; want nil, nil", ins, err)
	}
	if len(logger.events) != 1 {
		t.Fatalf("logged %d events, want 1", len(logger.events))
	}
	ev := logger.events[0]
	if ev["decision"] != "skip" || ev["reason"] != "not_in_set" || ev["trigger"] != "state-changed" {
		t.Errorf("logged payload = %v", ev)
	}
	for _, key := range []string{"phase", "confidence", "count"} {
		if _, ok := ev[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
}

func TestGenerateInsight_GeneratorCancellationPropagates(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"context canceled", context.Canceled},
		{"wrapped context canceled", errors.Join(errors.New("transport"), context.Canceled)},
		{"insight cancelled", ErrCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{err: tt.err}
			p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now})

			ins, err := p.GenerateInsight(context.Background(), callContext(), "state-changed")
			if !errors.Is(err, ErrCancelled) {
				t.Fatalf("GenerateInsight() error = %v, want ErrCancelled", err)
			}
			if ins != nil {
				t.Errorf("GenerateInsight() returned insight %+v on cancellation", ins)
			}
			if st := p.State(); st.Count != 0 {
				t.Errorf("state count = %d after cancellation, want 0", st.Count)
			}
		})
	}
}

func TestGenerateInsight_CallerCancelledBeforeEntry(t *testing.T) {
	gen := &stubGenerator{response: goodResponse}
	p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.GenerateInsight(ctx, callContext(), "state-changed")
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("GenerateInsight() error = %v, want ErrCancelled wrapping context.Canceled", err)
	}
	if n := gen.calls.Load(); n != 0 {
		t.Errorf("generator called %d times, want 0", n)
	}

	// fallback path checks cancellation too
	ic := callContext()
	ic.Metrics.RoRPercent = nil
	if _, err := p.GenerateInsight(ctx, ic, "state-changed"); !errors.Is(err, ErrCancelled) {
		t.Errorf("fallback path error = %v, want ErrCancelled", err)
	}
}

func TestGenerateInsight_CallerCancelledDuringCall(t *testing.T) {
	gen := &stubGenerator{block: true}
	p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	ins, err := p.GenerateInsight(ctx, callContext(), "state-changed")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("GenerateInsight() = %+v, %v; want ErrCancelled", ins, err)
	}
}

func TestGenerateInsight_TimeoutBecomesFallback(t *testing.T) {
	tests := []struct {
		name string
		gen  *stubGenerator
	}{
		{"generator honours ctx", &stubGenerator{block: true}},
		{"generator ignores ctx", &stubGenerator{sleep: 300 * time.Millisecond, response: goodResponse}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(Options{Generator: tt.gen, Clock: newFakeClock().Now, Timeout: 30 * time.Millisecond})

			start := time.Now()
			ins, err := p.GenerateInsight(context.Background(), callContext(), "state-changed")
			if err != nil {
				t.Fatalf("GenerateInsight() error = %v, want fallback", err)
			}
			if ins == nil || ins.Source != SourceFallback || ins.Reason != ReasonTimeout {
				t.Fatalf("GenerateInsight() = %+v, want timeout fallback", ins)
			}
			if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
				t.Errorf("GenerateInsight() took %v, ceiling not enforced", elapsed)
			}
		})
	}
}

func TestGenerateInsight_TransportErrorBecomesFallback(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection refused")}
	logger := &recordingLogger{}
	p := NewPipeline(Options{Generator: gen, Logger: logger, Clock: newFakeClock().Now})

	ins, err := p.GenerateInsight(context.Background(), callContext(), "state-changed")
	if err != nil {
		t.Fatalf("GenerateInsight() error = %v", err)
	}
	if ins.Source != SourceFallback || ins.Reason != ReasonError {
		t.Errorf("GenerateInsight() = %+v, want error fallback", ins)
	}
	if st := p.State(); st.Count != 1 || st.LastReason != ReasonError {
		t.Errorf("state = %+v, want count 1 with reason error", st)
	}
	if logger.names[len(logger.names)-1] != EventDegraded {
		t.Errorf("last event = %q, want %q", logger.names[len(logger.names)-1], EventDegraded)
	}
}

func TestGenerateInsight_PlainTextResponse(t *testing.T) {
	const text = "Keep the tempo, two more clean reps."
	gen := &stubGenerator{response: "  " + text + "\n"}
	p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now})

	ins, err := p.GenerateInsight(context.Background(), callContext(), "state-changed")
	if err != nil {
		t.Fatalf("GenerateInsight() error = %v", err)
	}
	if ins.Source != SourceGenerated {
		t.Errorf("Source = %q, want generated", ins.Source)
	}
	if ins.Headline != text {
		t.Errorf("Headline = %q, want %q", ins.Headline, text)
	}
}

func TestGenerateInsight_UnusableResponseFallsBack(t *testing.T) {
	gen := &stubGenerator{response: `{"tags":["Falling"]}`}
	p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now})

	ins, err := p.GenerateInsight(context.Background(), callContext(), "state-changed")
	if err != nil {
		t.Fatalf("GenerateInsight() error = %v", err)
	}
	if ins.Source != SourceFallback || ins.Reason != ReasonError {
		t.Errorf("GenerateInsight() = %+v, want error fallback", ins)
	}
}

func TestGenerateInsight_GeneratedInsight(t *testing.T) {
	clock := newFakeClock()
	gen := &stubGenerator{response: goodResponse}
	p := NewPipeline(Options{Generator: gen, Clock: clock.Now})

	ins, err := p.GenerateInsight(context.Background(), callContext(), "state-changed")
	if err != nil {
		t.Fatalf("GenerateInsight() error = %v", err)
	}
	if ins.Headline != "Fatigue is rising. Finish with control." {
		t.Errorf("Headline = %q", ins.Headline)
	}
	if ins.Type != TypeCaution {
		t.Errorf("Type = %q, want caution (end_set present)", ins.Type)
	}
	if ins.RestSeconds != 150 {
		t.Errorf("RestSeconds = %d, want 150", ins.RestSeconds)
	}
	if ins.ID == "" || ins.Trigger != "state-changed" || !ins.CreatedAt.Equal(clock.Now()) {
		t.Errorf("bookkeeping fields not set: %+v", ins)
	}
	st := p.State()
	if st.Count != 1 || st.LastPhase != fatigue.PhaseFalling || !st.LastInsightAt.Equal(clock.Now()) {
		t.Errorf("state = %+v", st)
	}
}

func TestPipeline_LazyGenerator(t *testing.T) {
	clock := newFakeClock()
	gen := &stubGenerator{response: goodResponse}
	var built int
	fail := true
	p := NewPipeline(Options{
		Clock: clock.Now,
		NewGenerator: func() (Generator, error) {
			built++
			if fail {
				return nil, errors.New("no api key")
			}
			return gen, nil
		},
	})
	ic := callContext()
	ic.Limits.SpeakMinGapSec = 0

	ins, err := p.GenerateInsight(context.Background(), ic, "state-changed")
	if err != nil || ins.Reason != ReasonError {
		t.Fatalf("GenerateInsight() with failing factory = %+v, %v", ins, err)
	}

	fail = false
	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
		if _, err := p.GenerateInsight(context.Background(), ic, "state-changed"); err != nil {
			t.Fatalf("GenerateInsight() error = %v", err)
		}
	}

	if built != 2 {
		t.Errorf("factory called %d times, want 2 (failure is not memoized)", built)
	}
	if n := gen.calls.Load(); n != 2 {
		t.Errorf("generator called %d times, want 2", n)
	}
}

func TestPipeline_ConcurrentCommits(t *testing.T) {
	gen := &stubGenerator{response: goodResponse}
	p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now})
	ic := callContext()
	ic.Limits.MaxMessagesPerSet = 1000
	ic.Limits.SpeakMinGapSec = 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.GenerateInsight(context.Background(), ic, "periodic-checkpoint")
		}()
	}
	wg.Wait()

	if st := p.State(); st.Count != 20 {
		t.Errorf("state count = %d, want 20", st.Count)
	}
}

func TestPipeline_OverlappingCallsRespectLimits(t *testing.T) {
	tests := []struct {
		name    string
		maxMsgs int
		gapSec  float64
	}{
		{"message cap", 1, 0},
		{"min gap", 5, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{response: goodResponse, sleep: 50 * time.Millisecond}
			p := NewPipeline(Options{Generator: gen, Clock: newFakeClock().Now, Timeout: 5 * time.Second})
			ic := callContext()
			ic.Limits.MaxMessagesPerSet = tt.maxMsgs
			ic.Limits.SpeakMinGapSec = tt.gapSec

			var issued atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					in, err := p.GenerateInsight(context.Background(), ic, "state-changed")
					if err != nil {
						t.Errorf("GenerateInsight() error = %v", err)
					}
					if in != nil {
						issued.Add(1)
					}
				}()
			}
			wg.Wait()

			if n := issued.Load(); n != 1 {
				t.Errorf("issued %d insights, want 1", n)
			}
			if st := p.State(); st.Count != 1 {
				t.Errorf("state count = %d, want 1", st.Count)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	base := callContext()

	tests := []struct {
		name   string
		modify func(*Context)
		state  SessionState
		want   Decision
	}{
		{"call", func(*Context) {}, SessionState{}, Decision{Kind: DecisionCall}},
		{"not in set", func(c *Context) { c.Exercise.InWorkingSet = false }, SessionState{}, Decision{DecisionSkip, ReasonNotInSet}},
		{"cap reached", func(*Context) {}, SessionState{Count: 3}, Decision{DecisionSkip, ReasonCapReached}},
		{"min gap", func(*Context) {}, SessionState{Count: 1, LastInsightAt: now.Add(-5 * time.Second)}, Decision{DecisionSkip, ReasonMinGap}},
		{"gap elapsed", func(*Context) {}, SessionState{Count: 1, LastInsightAt: now.Add(-6 * time.Second)}, Decision{Kind: DecisionCall}},
		{"artifact", func(c *Context) { c.Metrics.MotionArtifact = 0.6 }, SessionState{}, Decision{DecisionFallback, ReasonArtifact}},
		{"artifact check disabled", func(c *Context) { c.Limits.ArtifactThreshold = 0; c.Metrics.MotionArtifact = 5 }, SessionState{}, Decision{Kind: DecisionCall}},
		{"falling below 0.70", func(c *Context) { c.Confidence = 0.69 }, SessionState{}, Decision{DecisionFallback, ReasonLowConfidence}},
		{"rising at 0.60", func(c *Context) { c.Phase = fatigue.PhaseRising; c.Confidence = 0.60 }, SessionState{}, Decision{Kind: DecisionCall}},
		{"no signal", func(c *Context) { c.Metrics.RoRPercent = nil }, SessionState{}, Decision{DecisionFallback, ReasonNoSignal}},
		{"noise", func(c *Context) { c.Metrics.RoRPercent = ptr(6.9) }, SessionState{}, Decision{DecisionFallback, ReasonNoise}},
		{"negative RoR above floor", func(c *Context) { c.Metrics.RoRPercent = ptr(-7) }, SessionState{}, Decision{Kind: DecisionCall}},
		{"skip beats fallback", func(c *Context) { c.Metrics.MotionArtifact = 1 }, SessionState{Count: 3}, Decision{DecisionSkip, ReasonCapReached}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic := base
			tt.modify(&ic)
			if got := evaluate(ic, tt.state, now, false); got != tt.want {
				t.Errorf("evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
