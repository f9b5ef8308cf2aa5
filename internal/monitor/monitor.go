// Package monitor runs one monitored session: it decides activation, starts
// the event-source adapters against a host, owns the metric store, and
// exports at settle and teardown.
package monitor

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/perfwatch/internal/export"
	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/source"
	"github.com/torosent/perfwatch/internal/timing"
)

// Metrics is the result of GetAllMetrics.
type Metrics struct {
	Metrics      metrics.DerivedMetrics `json:"metrics"`
	Resources    []metrics.Resource     `json:"resources"`
	LongTasks    []metrics.LongTask     `json:"longTasks"`
	LayoutShifts []metrics.LayoutShift  `json:"layoutShifts"`
	Measures     map[string]float64     `json:"measures"`
	FPSData      []metrics.FrameSample  `json:"fpsData"`
}

// AdapterFailure records an adapter that could not start.
type AdapterFailure struct {
	Adapter string
	Err     error
}

// Monitor is one session. All methods are safe for concurrent use and none of
// them fails the caller.
type Monitor struct {
	host      source.Host
	opts      options
	store     *metrics.Store
	timing    *timing.Registry
	exporter  *export.Exporter
	sessionID string
	active    bool
	logger    *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	mu       sync.Mutex
	failures []AdapterFailure

	teardownOnce sync.Once
	closeOnce    sync.Once
}

// New creates a session on host. The activation draw happens once, here;
// an inactive session records nothing and exports nothing, but marks and
// measures still work. Adapter failures are logged and the remaining
// adapters keep running.
func New(ctx context.Context, host source.Host, opts ...Option) *Monitor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	m := &Monitor{
		host:      host,
		opts:      o,
		store:     metrics.NewStore(),
		sessionID: ulid.MustNew(ulid.Now(), rand.Reader).String(),
		logger:    o.logger,
	}
	m.logger = m.logger.With("session", m.sessionID)
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.timing = timing.New(host, m.store, m.logger)
	m.active = o.random()*100 < o.sampleRate
	m.exporter = m.newExporter()

	if !m.active {
		m.logger.Debug("monitor: session not sampled", "sample_rate", o.sampleRate)
		return m
	}

	m.start()
	return m
}

func (m *Monitor) newExporter() *export.Exporter {
	cfg := export.Config{
		Include:   m.opts.include,
		Meta:      export.Meta{URL: m.opts.url, UserAgent: m.opts.userAgent, SessionID: m.sessionID},
		Client:    m.opts.client,
		Timeout:   m.opts.exportTimeout,
		RateLimit: m.opts.rateLimit,
		Burst:     m.opts.burst,
		Tracer:    m.opts.tracer,
		Propagate: m.opts.propagate,
		Logger:    m.logger,
	}
	if m.active && m.opts.reportURL != "" {
		cfg.URL = m.opts.reportURL
		cfg.Transport = m.opts.transport
	}

	e, err := export.New(m.store, cfg)
	if err != nil {
		m.logger.Warn("monitor: export disabled", "kind", metrics.FailureKind(err), "error", err)
		cfg.URL, cfg.Transport = "", nil
		e, _ = export.New(m.store, cfg)
	}
	return e
}

func (m *Monitor) start() {
	adapters := m.opts.adapters
	if adapters == nil {
		adapters = source.Defaults(source.Options{
			SettleDelay:    m.opts.settleDelay,
			MemoryInterval: m.opts.memoryInterval,
			OnSettled:      m.onSettled,
		})
	}

	env := source.Env{Host: m.host, Sink: m.store, Logger: m.logger, Workers: &m.workers}
	for _, a := range adapters {
		if err := a.Start(m.ctx, env); err != nil {
			m.recordFailure(a.Name(), err)
		}
	}

	if lc, ok := m.host.(source.Lifecycle); ok {
		lc.OnTeardown(m.Teardown)
	}
}

func (m *Monitor) recordFailure(adapter string, err error) {
	m.mu.Lock()
	m.failures = append(m.failures, AdapterFailure{Adapter: adapter, Err: err})
	m.mu.Unlock()

	level := slog.LevelWarn
	if errors.Is(err, metrics.ErrCapabilityUnavailable) {
		level = slog.LevelInfo
	}
	m.logger.Log(m.ctx, level, "monitor: adapter not started",
		"adapter", adapter,
		"kind", metrics.FailureKind(err),
		"error", err)
}

func (m *Monitor) onSettled() {
	if m.opts.autoSend {
		m.exporter.Send(m.ctx, export.ModeAsync)
	}
}

// Active reports whether the session was sampled in.
func (m *Monitor) Active() bool { return m.active }

// SessionID identifies the session in payloads and logs.
func (m *Monitor) SessionID() string { return m.sessionID }

// Failures lists adapters that did not start.
func (m *Monitor) Failures() []AdapterFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AdapterFailure(nil), m.failures...)
}

// Mark records a named point on the session timeline.
func (m *Monitor) Mark(name string) string {
	return m.timing.Mark(name)
}

// Measure records the duration between two marks.
func (m *Monitor) Measure(name, startMark, endMark string) string {
	return m.timing.Measure(name, startMark, endMark)
}

// Snapshot returns the current state without finalizing.
func (m *Monitor) Snapshot() metrics.Snapshot {
	return m.store.Snapshot()
}

// GetAllMetrics finalizes the store and returns everything collected so far.
// Repeated calls give the same result unless new observations arrived.
func (m *Monitor) GetAllMetrics() Metrics {
	m.finalize()
	snap := m.store.Snapshot()
	return Metrics{
		Metrics:      snap.Metrics,
		Resources:    snap.Resources,
		LongTasks:    snap.LongTasks,
		LayoutShifts: snap.LayoutShifts,
		Measures:     snap.Measures,
		FPSData:      snap.FPSData,
	}
}

// Payload returns what Send would deliver now.
func (m *Monitor) Payload() export.Payload {
	return m.exporter.Payload()
}

func (m *Monitor) finalize() {
	if !m.active {
		return
	}
	var doc *metrics.Document
	if dr, ok := m.host.(source.DocumentReader); ok {
		d, err := dr.ReadDocument()
		if err != nil {
			m.logger.Debug("monitor: document unavailable", "kind", metrics.FailureKind(err), "error", err)
		} else {
			doc = d
		}
	}
	m.store.Finalize(doc)
}

// Send exports the current snapshot. Without a report URL it does nothing.
func (m *Monitor) Send(ctx context.Context, mode export.Mode) {
	m.exporter.Send(ctx, mode)
}

// Teardown finalizes the store and, with auto send enabled, delivers the
// final payload before returning. Later calls do nothing. Hosts with a
// lifecycle call it on their own teardown signal.
func (m *Monitor) Teardown() {
	m.teardownOnce.Do(func() {
		if !m.active {
			return
		}
		m.finalize()
		if m.opts.autoSend {
			m.exporter.Send(m.ctx, export.ModeTeardown)
		}
		m.logger.Debug("monitor: torn down", "observations", m.store.Observations())
	})
}

// Close tears the session down if that has not happened, stops all adapters
// and waits for background work, bounded by ctx.
func (m *Monitor) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.Teardown()
		m.cancel()

		done := make(chan struct{})
		go func() {
			m.workers.Wait()
			m.exporter.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// ExportStats reports delivery counters.
func (m *Monitor) ExportStats() export.Stats {
	return m.exporter.Stats()
}
