package source

import (
	"context"
	"math"
	"time"

	"github.com/torosent/perfwatch/internal/metrics"
)

// Memory samples the heap immediately and then every Interval. Each sample
// replaces the previous one.
type Memory struct {
	Interval time.Duration
}

func (*Memory) Name() string { return "memory" }

func (m *Memory) Start(ctx context.Context, env Env) error {
	reader, ok := env.Host.(MemoryReader)
	if !ok {
		return unavailable("memory")
	}
	first, err := reader.ReadMemory()
	if err != nil {
		return err
	}
	env.Sink.SetMemory(first)

	interval := m.Interval
	if interval <= 0 {
		interval = DefaultMemoryInterval
	}
	env.every(ctx, interval, func() {
		sample, err := reader.ReadMemory()
		if err != nil {
			env.logger().Debug("memory: sample failed", "error", err)
			return
		}
		env.Sink.SetMemory(sample)
	})
	return nil
}

// FrameRate counts frames and emits one FrameSample per window of at least
// one second.
type FrameRate struct{}

// FrameWindow is the minimum span of a frame-rate sample, in milliseconds.
const FrameWindow = 1000.0

func (*FrameRate) Name() string { return "frame-rate" }

func (*FrameRate) Start(ctx context.Context, env Env) error {
	sched, ok := env.Host.(FrameScheduler)
	if !ok {
		return unavailable("frame scheduler")
	}

	last := env.Host.Now()
	frames := 0
	var tick func(now float64)
	tick = func(now float64) {
		if ctx.Err() != nil {
			return
		}
		frames++
		if delta := now - last; delta >= FrameWindow {
			fps := int(math.Round(float64(frames) * 1000 / delta))
			env.Sink.Record(metrics.KindFrame, []metrics.Observation{
				metrics.FrameSample{Timestamp: now, FPS: fps},
			})
			frames = 0
			last = now
		}
		sched.RequestFrame(tick)
	}
	sched.RequestFrame(tick)
	return nil
}
