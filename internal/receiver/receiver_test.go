package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/torosent/perfwatch/internal/export"
)

func payload(session string, tbt float64) []byte {
	return []byte(fmt.Sprintf(`{"timestamp":1700000000000,"sessionId":%q,"url":"https://shop.example/","metrics":{"TBT":%v},"measures":{}}`, session, tbt))
}

func newServer(t *testing.T, opts Options) (*Receiver, *httptest.Server) {
	t.Helper()
	rc := New(opts)
	srv := httptest.NewServer(rc.Routes())
	t.Cleanup(srv.Close)
	return rc, srv
}

func TestCollectViaHTTPTransport(t *testing.T) {
	rc, srv := newServer(t, Options{})

	tr, err := export.NewTransport(srv.URL+"/collect", srv.Client(), false)
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	if err := tr.Send(context.Background(), export.ModeTeardown, payload("s1", 70)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	records := rc.Records()
	if len(records) != 1 {
		t.Fatalf("Records() = %d, want 1", len(records))
	}
	got := records[0]
	if got.SessionID != "s1" || got.Mode != "teardown" || got.Transport != "http" {
		t.Errorf("record = %+v", got)
	}
}

func TestCollectRejectsInvalidPayloads(t *testing.T) {
	rc, srv := newServer(t, Options{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"metrics":`},
		{"missing metrics", `{"timestamp":1}`},
		{"metrics not object", `{"metrics":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/collect", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if n := len(rc.Records()); n != 0 {
		t.Fatalf("Records() = %d after rejects", n)
	}

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["rejected"] != 3 || health["received"] != 0 {
		t.Fatalf("health = %v", health)
	}
}

func TestCollectViaWebSocketTransport(t *testing.T) {
	received := make(chan Record, 1)
	_, srv := newServer(t, Options{OnPayload: func(r Record) { received <- r }})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/collect/ws"
	tr, err := export.NewTransport(wsURL, nil, false)
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	if err := tr.Send(context.Background(), export.ModeAsync, payload("ws-session", 10)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case rec := <-received:
		if rec.SessionID != "ws-session" || rec.Transport != "websocket" || rec.Mode != "async" {
			t.Fatalf("record = %+v", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("websocket payload not received")
	}
}

func TestRingKeepsNewest(t *testing.T) {
	rc := New(Options{MaxPayloads: 2})
	for i := range 5 {
		if _, err := rc.accept(context.Background(), payload(fmt.Sprintf("s%d", i), 0), "", "http"); err != nil {
			t.Fatal(err)
		}
	}

	records := rc.Records()
	if len(records) != 2 || records[0].SessionID != "s3" || records[1].SessionID != "s4" {
		t.Fatalf("Records() = %+v", records)
	}
}

func TestPayloadQueries(t *testing.T) {
	_, srv := newServer(t, Options{})
	for _, s := range []string{"a", "b", "a"} {
		resp, err := http.Post(srv.URL+"/collect", "application/json", bytes.NewReader(payload(s, 1)))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}

	tests := []struct {
		path       string
		wantStatus int
		wantCount  int
	}{
		{"/payloads", http.StatusOK, 3},
		{"/payloads?limit=1", http.StatusOK, 1},
		{"/payloads?limit=-1", http.StatusBadRequest, 0},
		{"/payloads/a", http.StatusOK, 2},
		{"/payloads/missing", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var records []Record
			if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
				t.Fatal(err)
			}
			if len(records) != tt.wantCount {
				t.Fatalf("got %d records, want %d", len(records), tt.wantCount)
			}
		})
	}
}

func TestCollectContinuesTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, srv := newServer(t, Options{Tracer: tp.Tracer("test")})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/collect", bytes.NewReader(payload("traced", 1)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace id = %s", got)
	}
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	rc := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rc.ServeListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not ready: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("ServeListener did not return after cancel")
	}
}
