package monitor

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/perfwatch/internal/export"
	"github.com/torosent/perfwatch/internal/source"
)

type options struct {
	sampleRate     float64
	reportURL      string
	autoSend       bool
	include        export.Include
	settleDelay    time.Duration
	memoryInterval time.Duration
	url            string
	userAgent      string
	logger         *slog.Logger
	tracer         trace.Tracer
	propagate      bool
	random         func() float64
	adapters       []source.Adapter
	client         *http.Client
	transport      export.Transport
	exportTimeout  time.Duration
	rateLimit      float64
	burst          int
}

func defaultOptions() options {
	return options{
		sampleRate:     100,
		settleDelay:    source.DefaultSettleDelay,
		memoryInterval: source.DefaultMemoryInterval,
		random:         rand.Float64,
	}
}

// Option configures a Monitor.
type Option func(*options)

// WithSampleRate sets the percentage (0-100) of sessions that activate.
func WithSampleRate(percent float64) Option {
	return func(o *options) { o.sampleRate = percent }
}

// WithReportURL sets the export destination. Without one, Send does nothing.
func WithReportURL(url string) Option {
	return func(o *options) { o.reportURL = url }
}

// WithAutoSend exports once navigation timing settles and again at teardown.
func WithAutoSend(enabled bool) Option {
	return func(o *options) { o.autoSend = enabled }
}

func WithIncludeResources(enabled bool) Option {
	return func(o *options) { o.include.Resources = enabled }
}

func WithIncludeLongTasks(enabled bool) Option {
	return func(o *options) { o.include.LongTasks = enabled }
}

func WithIncludeLayoutShifts(enabled bool) Option {
	return func(o *options) { o.include.LayoutShifts = enabled }
}

func WithSettleDelay(d time.Duration) Option {
	return func(o *options) { o.settleDelay = d }
}

func WithMemoryInterval(d time.Duration) Option {
	return func(o *options) { o.memoryInterval = d }
}

// WithPage sets the url and userAgent reported in payloads.
func WithPage(url, userAgent string) Option {
	return func(o *options) {
		o.url = url
		o.userAgent = userAgent
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracer traces exports; propagate adds W3C trace headers to them.
func WithTracer(tracer trace.Tracer, propagate bool) Option {
	return func(o *options) {
		o.tracer = tracer
		o.propagate = propagate
	}
}

// WithRandom replaces the source of the activation draw. fn returns values
// in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(o *options) { o.random = fn }
}

// WithAdapters replaces the default adapter set.
func WithAdapters(adapters ...source.Adapter) Option {
	return func(o *options) { o.adapters = adapters }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// WithTransport overrides the transport derived from the report URL.
func WithTransport(t export.Transport) Option {
	return func(o *options) { o.transport = t }
}

func WithExportTimeout(d time.Duration) Option {
	return func(o *options) { o.exportTimeout = d }
}

// WithRateLimit caps async exports per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = perSecond
		o.burst = burst
	}
}
