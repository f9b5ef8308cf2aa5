package source

import (
	"context"

	"github.com/torosent/perfwatch/internal/metrics"
)

// FirstContentfulPaint records the start time of the last entry of the first
// paint batch, then unsubscribes.
type FirstContentfulPaint struct{}

func (*FirstContentfulPaint) Name() string { return "fcp" }

func (*FirstContentfulPaint) Start(ctx context.Context, env Env) error {
	shot := &oneShot{}
	sub, err := subscribe(env, EntryPaint, func(batch []metrics.Observation) {
		last, ok := lastPaint(batch)
		if !ok || shot.taken() {
			return
		}
		if shot.finish() {
			env.Sink.SetFCP(last.StartTime)
		}
	})
	if err != nil {
		return err
	}
	shot.set(sub)
	context.AfterFunc(ctx, func() { shot.finish() })
	return nil
}

// LargestContentfulPaint overwrites LCP with the last entry of every batch
// for the whole session. The final value is whatever the last batch said.
type LargestContentfulPaint struct{}

func (*LargestContentfulPaint) Name() string { return "lcp" }

func (*LargestContentfulPaint) Start(ctx context.Context, env Env) error {
	sub, err := subscribe(env, EntryLCP, func(batch []metrics.Observation) {
		if last, ok := lastPaint(batch); ok {
			env.Sink.SetLCP(last.StartTime)
		}
	})
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, sub.Disconnect)
	return nil
}

func lastPaint(batch []metrics.Observation) (metrics.Paint, bool) {
	for i := len(batch) - 1; i >= 0; i-- {
		if p, ok := batch[i].(metrics.Paint); ok {
			return p, true
		}
	}
	return metrics.Paint{}, false
}

// FirstInput records the delay of the first "first-input" entry once.
type FirstInput struct{}

func (*FirstInput) Name() string { return "fid" }

func (*FirstInput) Start(ctx context.Context, env Env) error {
	shot := &oneShot{}
	sub, err := subscribe(env, EntryFirstInput, func(batch []metrics.Observation) {
		for _, obs := range batch {
			fi, ok := obs.(metrics.FirstInput)
			if !ok || fi.Name != EntryFirstInput {
				continue
			}
			if shot.finish() {
				env.Sink.SetFID(fi.Delay())
			}
			return
		}
	})
	if err != nil {
		return err
	}
	shot.set(sub)
	context.AfterFunc(ctx, func() { shot.finish() })
	return nil
}
