package replay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"setcoach/internal/coach"
	"setcoach/internal/insight"
	"setcoach/internal/offer"
	"setcoach/internal/report"
)

// Clock is a simulated wall clock driven by sample time.
type Clock struct {
	base   time.Time
	offset atomic.Int64
}

// NewClock starts the simulated clock at base.
func NewClock(base time.Time) *Clock {
	return &Clock{base: base}
}

// Now implements insight.Clock.
func (c *Clock) Now() time.Time {
	return c.base.Add(time.Duration(c.offset.Load()))
}

// Set moves the clock to base + sec. The clock never goes backwards.
func (c *Clock) Set(sec float64) {
	next := int64(sec * float64(time.Second))
	for {
		cur := c.offset.Load()
		if next <= cur || c.offset.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Options control one replay.
type Options struct {
	Set coach.SetConfig
	// CheckpointEverySec asks for an insight on this sample-time interval; 0 disables
	CheckpointEverySec float64
	Outcome            *offer.Outcome
}

// Result is what a replayed set produced.
type Result struct {
	SetID    string
	Samples  int
	Insights []*insight.Insight
	Score    float64
	Report   report.SetReport
}

// Run replays readings as one set. The hub must be built with clock.Now and
// SyncTriggers, so phase changes and checkpoints are evaluated at the sample
// time that triggered them.
func Run(ctx context.Context, hub *coach.Hub, clock *Clock, readings []coach.Reading, opts Options) (Result, error) {
	s, err := hub.StartSet(opts.Set)
	if err != nil {
		return Result{}, err
	}
	id := s.ID()

	next := opts.CheckpointEverySec
	for _, rd := range readings {
		if err := ctx.Err(); err != nil {
			return Result{SetID: id}, err
		}
		clock.Set(rd.TimeSec)
		if err := hub.Push(ctx, id, rd); err != nil {
			return Result{SetID: id}, fmt.Errorf("replay: push t=%.2f: %w", rd.TimeSec, err)
		}
		if opts.CheckpointEverySec > 0 && rd.TimeSec >= next {
			next = rd.TimeSec + opts.CheckpointEverySec
			if _, err := hub.Checkpoint(ctx, id); err != nil && !errors.Is(err, insight.ErrCancelled) {
				return Result{SetID: id}, fmt.Errorf("replay: checkpoint t=%.2f: %w", rd.TimeSec, err)
			}
		}
	}

	score, err := hub.EndSet(ctx, id, opts.Outcome)
	if err != nil {
		return Result{SetID: id}, err
	}
	rep, err := hub.Report(id)
	if err != nil {
		return Result{SetID: id}, err
	}
	return Result{
		SetID:    id,
		Samples:  len(readings),
		Insights: rep.Insights,
		Score:    score,
		Report:   rep,
	}, nil
}
