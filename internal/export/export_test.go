package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/torosent/perfwatch/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type request struct {
	contentType string
	mode        string
	traceparent string
	body        []byte
}

type collector struct {
	mu       sync.Mutex
	requests []request
	status   int
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.requests = append(c.requests, request{
		contentType: r.Header.Get("Content-Type"),
		mode:        r.Header.Get(ModeHeader),
		traceparent: r.Header.Get("Traceparent"),
		body:        body,
	})
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (c *collector) received() []request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]request(nil), c.requests...)
}

func newCollector(t *testing.T, status int) (*collector, *httptest.Server, *http.Client) {
	t.Helper()
	c := &collector{status: status}
	srv := httptest.NewServer(c)
	client := NewHTTPClient(0)
	t.Cleanup(func() {
		client.CloseIdleConnections()
		srv.Close()
	})
	return c, srv, client
}

func sampleStore() *metrics.Store {
	store := metrics.NewStore()
	store.Record(metrics.KindLongTask, []metrics.Observation{
		metrics.LongTask{Name: "self", Duration: 120, StartTime: 10},
	})
	store.Record(metrics.KindResource, []metrics.Observation{
		metrics.Resource{Name: "/app.js", Type: "script", TransferSize: 2048},
	})
	store.SetMeasure("checkout", 42)
	return store
}

func TestBuildPayloadIncludes(t *testing.T) {
	snap := metrics.NewStore().Snapshot()
	snap.CapturedAt = time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name    string
		inc     Include
		present []string
		absent  []string
	}{
		{"nothing", Include{}, nil, []string{`"resources"`, `"longTasks"`, `"layoutShifts"`}},
		{"resources", Include{Resources: true}, []string{`"resources":[]`}, []string{`"longTasks"`, `"layoutShifts"`}},
		{"all", Include{Resources: true, LongTasks: true, LayoutShifts: true},
			[]string{`"resources":[]`, `"longTasks":[]`, `"layoutShifts":[]`}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(BuildPayload(snap, Meta{URL: "https://example.com", UserAgent: "test"}, tt.inc))
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			got := string(data)
			for _, want := range append(tt.present, `"timestamp":1700000000000`, `"measures":{}`, `"url":"https://example.com"`) {
				if !strings.Contains(got, want) {
					t.Errorf("payload %s missing %s", got, want)
				}
			}
			for _, unwanted := range append(tt.absent, `"sessionId"`) {
				if strings.Contains(got, unwanted) {
					t.Errorf("payload %s contains %s", got, unwanted)
				}
			}
		})
	}
}

func TestSendWithoutURLIsNoop(t *testing.T) {
	e, err := New(sampleStore(), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Enabled() {
		t.Fatal("Enabled() = true without URL")
	}
	e.Send(context.Background(), ModeAsync)
	e.Send(context.Background(), ModeTeardown)
	e.Wait()
	if err := e.Deliver(context.Background(), ModeTeardown); err != nil {
		t.Fatalf("Deliver() error = %v, want nil", err)
	}
	if s := e.Stats(); s != (Stats{}) {
		t.Fatalf("Stats() = %+v, want zero", s)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"ftp://collector/x", "/relative", "http://"} {
		if _, err := New(sampleStore(), Config{URL: raw}); err == nil {
			t.Errorf("New(%q) error = nil", raw)
		}
	}
}

func TestSendAsync(t *testing.T) {
	c, srv, client := newCollector(t, 0)
	e, err := New(sampleStore(), Config{
		URL:     srv.URL + "/collect",
		Client:  client,
		Include: Include{LongTasks: true},
		Meta:    Meta{URL: "https://shop.example.com", UserAgent: "perfwatch-test", SessionID: "01HZX"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	e.Send(context.Background(), ModeAsync)
	e.Wait()

	reqs := c.received()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].contentType != ContentTypeJSON || reqs[0].mode != "async" {
		t.Errorf("content type %q mode %q", reqs[0].contentType, reqs[0].mode)
	}

	var p Payload
	if err := json.Unmarshal(reqs[0].body, &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.SessionID != "01HZX" || p.UserAgent != "perfwatch-test" {
		t.Errorf("payload meta = %q %q", p.SessionID, p.UserAgent)
	}
	if p.Metrics.TBT == nil || *p.Metrics.TBT != 70 {
		t.Errorf("TBT = %v, want 70", p.Metrics.TBT)
	}
	if len(p.LongTasks) != 1 || p.Resources != nil {
		t.Errorf("long tasks = %d resources = %v", len(p.LongTasks), p.Resources)
	}
	if p.Measures["checkout"] != 42 {
		t.Errorf("measures = %v", p.Measures)
	}

	s := e.Stats()
	if s.Sent != 1 || s.Failed != 0 || s.BytesSent != int64(len(reqs[0].body)) {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestSendTeardownSurvivesCancellation(t *testing.T) {
	c, srv, client := newCollector(t, 0)
	e, err := New(sampleStore(), Config{URL: srv.URL, Client: client})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Send(ctx, ModeTeardown)

	reqs := c.received()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1 after cancelled teardown", len(reqs))
	}
	if reqs[0].contentType != ContentTypeJSON || reqs[0].mode != "teardown" {
		t.Errorf("content type %q mode %q", reqs[0].contentType, reqs[0].mode)
	}
}

func TestDeliverFailure(t *testing.T) {
	_, srv, client := newCollector(t, http.StatusServiceUnavailable)
	e, err := New(sampleStore(), Config{URL: srv.URL, Client: client})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = e.Deliver(context.Background(), ModeAsync)
	if !errors.Is(err, metrics.ErrTransmission) {
		t.Fatalf("Deliver() error = %v, want ErrTransmission", err)
	}
	var status *StatusError
	if !errors.As(err, &status) || status.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Deliver() error = %v, want StatusError 503", err)
	}
	if got := metrics.FailureKind(err); got != "transmission_failure" {
		t.Errorf("FailureKind() = %q", got)
	}

	e.Send(context.Background(), ModeAsync)
	e.Wait()
	if s := e.Stats(); s.Failed != 2 || s.Sent != 0 || s.LastError == "" {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestAsyncRateLimit(t *testing.T) {
	c, srv, client := newCollector(t, 0)
	e, err := New(sampleStore(), Config{URL: srv.URL, Client: client, RateLimit: 0.001, Burst: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for range 3 {
		e.Send(context.Background(), ModeAsync)
	}
	e.Send(context.Background(), ModeTeardown)
	e.Wait()

	if got := len(c.received()); got != 2 {
		t.Fatalf("requests = %d, want 2 (one async, one teardown)", got)
	}
	if s := e.Stats(); s.Dropped != 2 || s.Sent != 2 {
		t.Fatalf("Stats() = %+v", s)
	}
}

func TestDeliverSpanAndTraceHeaders(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c, srv, client := newCollector(t, 0)
	e, err := New(sampleStore(), Config{
		URL:       srv.URL + "/collect?token=secret",
		Client:    client,
		Tracer:    tp.Tracer("test"),
		Propagate: true,
		Meta:      Meta{SessionID: "01HZX"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Deliver(context.Background(), ModeTeardown); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	got := spans.GetSpans()
	if len(got) != 1 {
		t.Fatalf("spans = %d, want 1", len(got))
	}
	if got[0].Name != "perfwatch.export teardown" || got[0].Status.Code != codes.Ok {
		t.Errorf("span = %q status %v", got[0].Name, got[0].Status.Code)
	}
	session := ""
	for _, attr := range got[0].Attributes {
		if attr.Key == "perfwatch.export.destination" && strings.Contains(attr.Value.AsString(), "secret") {
			t.Errorf("destination attribute leaks query: %s", attr.Value.AsString())
		}
		if attr.Key == "perfwatch.session.id" {
			session = attr.Value.AsString()
		}
	}
	if session != "01HZX" {
		t.Errorf("session attribute = %q, want 01HZX", session)
	}
	if reqs := c.received(); len(reqs) != 1 || len(reqs[0].traceparent) < 55 {
		t.Fatalf("traceparent not propagated: %+v", reqs)
	}
}

func TestWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(ModeHeader) != "teardown" {
			http.Error(w, "missing mode", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		kind, data, err := conn.ReadMessage()
		if err == nil && kind == websocket.BinaryMessage {
			received <- data
		}
	}))
	t.Cleanup(srv.Close)

	e, err := New(sampleStore(), Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Deliver(context.Background(), ModeTeardown); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	select {
	case data := <-received:
		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if p.Measures["checkout"] != 42 {
			t.Errorf("measures = %v", p.Measures)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("websocket payload not received")
	}
}

func TestModeString(t *testing.T) {
	if ModeAsync.String() != "async" || ModeTeardown.String() != "teardown" || Mode(7).String() != "mode(7)" {
		t.Fatal("unexpected mode names")
	}
}
