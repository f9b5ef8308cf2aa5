package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/torosent/perfwatch/internal/metrics"
)

// Sink receives what adapters observe. *metrics.Store implements it.
type Sink interface {
	Record(kind metrics.Kind, batch []metrics.Observation)
	SetNavigation(n metrics.Navigation)
	SettleNavigation(n metrics.Navigation)
	SetFCP(ms float64)
	SetLCP(ms float64)
	SetFID(ms float64)
	SetMemory(sample metrics.MemorySample)
}

// Env is what an adapter gets to work with.
type Env struct {
	Host   Host
	Sink   Sink
	Logger *slog.Logger
	// Workers tracks goroutines started by adapters so the owner can wait for
	// them after cancelling the session context. May be nil.
	Workers *sync.WaitGroup
}

func (e Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Env) spawn(fn func()) {
	if e.Workers != nil {
		e.Workers.Go(fn)
		return
	}
	go fn()
}

// after runs fn once d has passed on the host clock, unless ctx ends first.
func (e Env) after(ctx context.Context, d time.Duration, fn func()) {
	if s, ok := e.Host.(Scheduler); ok {
		s.AfterFunc(d, func() {
			if ctx.Err() == nil {
				fn()
			}
		})
		return
	}
	e.spawn(func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			fn()
		}
	})
}

// every runs fn each interval until ctx ends.
func (e Env) every(ctx context.Context, interval time.Duration, fn func()) {
	if _, ok := e.Host.(Scheduler); ok {
		var arm func()
		arm = func() {
			e.after(ctx, interval, func() {
				fn()
				arm()
			})
		}
		arm()
		return
	}
	e.spawn(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	})
}

// Adapter subscribes one category of observations. Start must not block;
// continuous work ends when ctx is cancelled.
type Adapter interface {
	Name() string
	Start(ctx context.Context, env Env) error
}

// Options tunes the default adapter set.
type Options struct {
	// SettleDelay is the wait between the load signal and the second
	// navigation timing read.
	SettleDelay time.Duration
	// MemoryInterval is the heap sampling period.
	MemoryInterval time.Duration
	// OnSettled runs after the settled navigation timing was stored.
	OnSettled func()
}

const (
	DefaultSettleDelay    = time.Second
	DefaultMemoryInterval = 10 * time.Second
)

// Defaults returns every adapter in start order.
func Defaults(opts Options) []Adapter {
	return []Adapter{
		&Navigation{SettleDelay: opts.SettleDelay, OnSettled: opts.OnSettled},
		Resources(),
		LayoutShifts(),
		LongTasks(),
		&FirstContentfulPaint{},
		&LargestContentfulPaint{},
		&FirstInput{},
		&Memory{Interval: opts.MemoryInterval},
		&FrameRate{},
	}
}

func unavailable(capability string) error {
	return fmt.Errorf("%s: %w", capability, metrics.ErrCapabilityUnavailable)
}

func subscribe(env Env, entryType string, fn func([]metrics.Observation)) (Subscription, error) {
	obs, ok := env.Host.(Observer)
	if !ok {
		return nil, unavailable("performance observer")
	}
	sub, err := obs.Observe(entryType, fn)
	if err != nil {
		return nil, fmt.Errorf("observe %s: %w: %w", entryType, metrics.ErrSubscriptionFailure, err)
	}
	return sub, nil
}

// continuous records every batch of one entry type until ctx ends.
type continuous struct {
	name      string
	entryType string
	kind      metrics.Kind
}

// Resources appends every resource-timing entry.
func Resources() Adapter {
	return &continuous{name: "resources", entryType: EntryResource, kind: metrics.KindResource}
}

// LayoutShifts appends layout shifts and keeps CLS current.
func LayoutShifts() Adapter {
	return &continuous{name: "layout-shifts", entryType: EntryLayoutShift, kind: metrics.KindLayoutShift}
}

// LongTasks appends long tasks and keeps TBT current.
func LongTasks() Adapter {
	return &continuous{name: "long-tasks", entryType: EntryLongTask, kind: metrics.KindLongTask}
}

func (c *continuous) Name() string { return c.name }

func (c *continuous) Start(ctx context.Context, env Env) error {
	sub, err := subscribe(env, c.entryType, func(batch []metrics.Observation) {
		env.Sink.Record(c.kind, batch)
	})
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, sub.Disconnect)
	return nil
}

// oneShot disconnects a subscription exactly once, even when the first batch
// arrives before Observe has returned the subscription.
type oneShot struct {
	mu   sync.Mutex
	sub  Subscription
	done bool
}

func (o *oneShot) set(sub Subscription) {
	o.mu.Lock()
	o.sub = sub
	done := o.done
	o.mu.Unlock()
	if done {
		sub.Disconnect()
	}
}

// finish reports false when the shot was already taken.
func (o *oneShot) finish() bool {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return false
	}
	o.done = true
	sub := o.sub
	o.mu.Unlock()
	if sub != nil {
		sub.Disconnect()
	}
	return true
}

func (o *oneShot) taken() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
