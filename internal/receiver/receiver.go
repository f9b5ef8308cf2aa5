// Package receiver is a collection endpoint for exported payloads. It keeps
// the most recent payloads in memory and serves them back for inspection.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/perfwatch/internal/export"
	"github.com/torosent/perfwatch/internal/tracing"
)

// DefaultMaxPayloads bounds the in-memory history.
const DefaultMaxPayloads = 1000

const maxBodyBytes = 4 << 20

var errInvalidPayload = errors.New("invalid payload")

// Record is one received payload.
type Record struct {
	ReceivedAt time.Time       `json:"receivedAt"`
	Mode       string          `json:"mode,omitempty"`
	Transport  string          `json:"transport"`
	SessionID  string          `json:"sessionId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Options configures a Receiver.
type Options struct {
	MaxPayloads int
	Logger      *slog.Logger
	Tracer      trace.Tracer
	// OnPayload is called after each accepted payload.
	OnPayload func(Record)
}

// Receiver accepts payloads over HTTP POST and websocket messages.
type Receiver struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	onPayload func(Record)
	upgrader  websocket.Upgrader

	mu       sync.RWMutex
	records  []Record
	next     int
	total    int64
	rejected int64
	max      int
}

// New creates a receiver.
func New(opts Options) *Receiver {
	if opts.MaxPayloads <= 0 {
		opts.MaxPayloads = DefaultMaxPayloads
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("perfwatch")
	}
	return &Receiver{
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		onPayload: opts.OnPayload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		max: opts.MaxPayloads,
	}
}

// Routes returns the receiver's HTTP handler.
func (rc *Receiver) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/collect", rc.handleCollect)
	r.Get("/collect/ws", rc.handleWebSocket)
	r.Get("/payloads", rc.handleList)
	r.Get("/payloads/{sessionID}", rc.handleSession)
	r.Get("/healthz", rc.handleHealth)
	return r
}

// Serve listens on addr until ctx is cancelled.
func (rc *Receiver) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return rc.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down
// gracefully.
func (rc *Receiver) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           rc.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rc.logger.Warn("receiver: shutdown", "error", err)
		}
	})
	defer stop()

	rc.logger.Info("receiver: listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (rc *Receiver) handleCollect(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartCollectSpan(r.Context(), rc.tracer, r.Header)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		tracing.EndSpan(span, err)
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	rec, err := rc.accept(ctx, body, r.Header.Get(export.ModeHeader), "http")
	tracing.EndSpan(span, err,
		attribute.String("perfwatch.collect.mode", rec.Mode),
		attribute.Int("perfwatch.collect.bytes", len(body)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": rec.SessionID})
}

func (rc *Receiver) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	mode := r.Header.Get(export.ModeHeader)
	conn, err := rc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rc.logger.Debug("receiver: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	for {
		_, body, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rc.logger.Debug("receiver: websocket read", "error", err)
			}
			return
		}
		ctx, span := tracing.StartCollectSpan(r.Context(), rc.tracer, r.Header)
		_, err = rc.accept(ctx, body, mode, "websocket")
		tracing.EndSpan(span, err, attribute.String("perfwatch.collect.transport", "websocket"))
	}
}

func (rc *Receiver) accept(ctx context.Context, body []byte, mode, transport string) (Record, error) {
	rec := Record{ReceivedAt: time.Now(), Mode: mode, Transport: transport}
	if !gjson.ValidBytes(body) {
		rc.reject(ctx, "malformed json")
		return rec, fmt.Errorf("%w: malformed json", errInvalidPayload)
	}
	if !gjson.GetBytes(body, "metrics").IsObject() {
		rc.reject(ctx, "missing metrics")
		return rec, fmt.Errorf("%w: missing metrics object", errInvalidPayload)
	}

	rec.SessionID = gjson.GetBytes(body, "sessionId").String()
	rec.Payload = json.RawMessage(append([]byte(nil), body...))
	rc.store(rec)

	rc.logger.LogAttrs(ctx, slog.LevelInfo, "receiver: payload accepted",
		slog.String("session", rec.SessionID),
		slog.String("mode", mode),
		slog.String("transport", transport),
		slog.Int("bytes", len(body)))
	if rc.onPayload != nil {
		rc.onPayload(rec)
	}
	return rec, nil
}

func (rc *Receiver) reject(ctx context.Context, reason string) {
	rc.mu.Lock()
	rc.rejected++
	rc.mu.Unlock()
	rc.logger.LogAttrs(ctx, slog.LevelWarn, "receiver: payload rejected", slog.String("reason", reason))
}

// store appends rec to the ring, overwriting the oldest record when full.
func (rc *Receiver) store(rec Record) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.total++
	if len(rc.records) < rc.max {
		rc.records = append(rc.records, rec)
		return
	}
	rc.records[rc.next] = rec
	rc.next = (rc.next + 1) % rc.max
}

// Records returns the retained payloads, oldest first.
func (rc *Receiver) Records() []Record {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]Record, 0, len(rc.records))
	out = append(out, rc.records[rc.next:]...)
	out = append(out, rc.records[:rc.next]...)
	return out
}

func (rc *Receiver) handleList(w http.ResponseWriter, r *http.Request) {
	records := rc.Records()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if limit < len(records) {
			records = records[len(records)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, records)
}

func (rc *Receiver) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var matched []Record
	for _, rec := range rc.Records() {
		if rec.SessionID == id {
			matched = append(matched, rec)
		}
	}
	if len(matched) == 0 {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, matched)
}

func (rc *Receiver) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rc.mu.RLock()
	status := map[string]int64{
		"received": rc.total,
		"retained": int64(len(rc.records)),
		"rejected": rc.rejected,
	}
	rc.mu.RUnlock()
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
