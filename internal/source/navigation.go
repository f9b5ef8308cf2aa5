package source

import (
	"context"
	"time"
)

// Navigation stores the navigation timeline and TTFB at start, and the load
// phase durations SettleDelay after the load signal. A zero SettleDelay reads
// the settled timings as soon as the page has loaded.
type Navigation struct {
	SettleDelay time.Duration
	OnSettled   func()
}

func (*Navigation) Name() string { return "navigation" }

func (a *Navigation) Start(ctx context.Context, env Env) error {
	timer, ok := env.Host.(NavigationTimer)
	if !ok {
		return unavailable("navigation timing")
	}
	nav, err := timer.NavigationTiming()
	if err != nil {
		return err
	}
	env.Sink.SetNavigation(nav)

	lc, ok := env.Host.(Lifecycle)
	if !ok {
		env.logger().Debug("navigation: no load signal, settled timings skipped")
		return nil
	}
	lc.OnLoad(func() {
		if ctx.Err() != nil {
			return
		}
		if a.SettleDelay <= 0 {
			a.settle(env, timer)
			return
		}
		env.after(ctx, a.SettleDelay, func() { a.settle(env, timer) })
	})
	return nil
}

func (a *Navigation) settle(env Env, timer NavigationTimer) {
	nav, err := timer.NavigationTiming()
	if err != nil {
		env.logger().Warn("navigation: settled read failed", "error", err)
		return
	}
	env.Sink.SettleNavigation(nav)
	if a.OnSettled != nil {
		a.OnSettled()
	}
}
