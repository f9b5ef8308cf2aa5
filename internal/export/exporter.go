package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/tracing"
)

// Mode selects how a payload is delivered.
type Mode int

const (
	// ModeAsync delivers in the background; failures are logged and the
	// payload is dropped.
	ModeAsync Mode = iota
	// ModeTeardown delivers before returning, detached from session
	// cancellation, like a page-unload beacon.
	ModeTeardown
)

func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 5 * time.Second

// Source provides the snapshot a payload is built from. *metrics.Store
// implements it.
type Source interface {
	Snapshot() metrics.Snapshot
}

type Config struct {
	// URL is the report endpoint. Empty disables exporting.
	URL       string
	Include   Include
	Meta      Meta
	Client    *http.Client
	Transport Transport // overrides the transport derived from URL
	Timeout   time.Duration
	// RateLimit caps async sends per second; 0 means unlimited.
	RateLimit float64
	Burst     int
	Tracer    trace.Tracer
	Propagate bool
	Logger    *slog.Logger
}

// Exporter builds and delivers payloads for one session.
type Exporter struct {
	src       Source
	cfg       Config
	transport Transport
	limiter   *rate.Limiter
	tracer    trace.Tracer
	logger    *slog.Logger
	wg        sync.WaitGroup
	stats     counters
}

// New builds an exporter reading from src. An unusable URL is an error; an
// empty URL yields a disabled exporter.
func New(src Source, cfg Config) (*Exporter, error) {
	e := &Exporter{src: src, cfg: cfg, tracer: cfg.Tracer, logger: cfg.Logger}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("perfwatch")
	}
	if e.cfg.Timeout <= 0 {
		e.cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	switch {
	case cfg.Transport != nil:
		e.transport = cfg.Transport
	case cfg.URL != "":
		t, err := NewTransport(cfg.URL, cfg.Client, cfg.Propagate)
		if err != nil {
			return nil, err
		}
		e.transport = t
	}
	return e, nil
}

// Enabled reports whether payloads go anywhere.
func (e *Exporter) Enabled() bool {
	return e.transport != nil
}

// Payload builds the payload of the current snapshot.
func (e *Exporter) Payload() Payload {
	return BuildPayload(e.src.Snapshot(), e.cfg.Meta, e.cfg.Include)
}

// Send delivers the current snapshot and never fails the caller: errors are
// logged. Async sends return immediately and may be dropped by the rate
// limiter.
func (e *Exporter) Send(ctx context.Context, mode Mode) {
	if !e.Enabled() {
		return
	}

	if mode == ModeTeardown {
		if err := e.Deliver(ctx, mode); err != nil {
			e.logFailure(mode, err)
		}
		return
	}

	if e.limiter != nil && !e.limiter.Allow() {
		e.stats.dropped()
		e.logger.Debug("export: async send dropped by rate limit")
		return
	}
	body, err := json.Marshal(e.Payload())
	if err != nil {
		e.logFailure(mode, err)
		return
	}
	detached := context.WithoutCancel(ctx)
	e.wg.Go(func() {
		if err := e.deliver(detached, mode, body); err != nil {
			e.logFailure(mode, err)
		}
	})
}

// Deliver builds and delivers the current snapshot, returning the outcome.
// Delivery is detached from ctx cancellation and bounded by the configured
// timeout. A disabled exporter returns nil.
func (e *Exporter) Deliver(ctx context.Context, mode Mode) error {
	if !e.Enabled() {
		return nil
	}
	body, err := json.Marshal(e.Payload())
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return e.deliver(context.WithoutCancel(ctx), mode, body)
}

func (e *Exporter) deliver(ctx context.Context, mode Mode, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	ctx, span := tracing.StartExportSpan(ctx, e.tracer, e.cfg.Meta.SessionID, mode.String(), redact(e.cfg.URL))
	err := e.transport.Send(ctx, mode, body)
	tracing.EndSpan(span, err, attribute.Int("perfwatch.export.bytes", len(body)))

	if err != nil {
		e.stats.failed(err)
		return fmt.Errorf("export %s: %w: %w", mode, metrics.ErrTransmission, err)
	}
	e.stats.sent(len(body))
	e.logger.Debug("export: delivered", "mode", mode.String(), "bytes", len(body))
	return nil
}

func (e *Exporter) logFailure(mode Mode, err error) {
	e.logger.Warn("export: delivery failed",
		"mode", mode.String(),
		"kind", metrics.FailureKind(err),
		"error", err)
}

// Wait blocks until in-flight async sends finish.
func (e *Exporter) Wait() {
	e.wg.Wait()
}

// Stats returns delivery counters.
func (e *Exporter) Stats() Stats {
	return e.stats.snapshot()
}

// redact strips credentials and query strings from span attributes.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
