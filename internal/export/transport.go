package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/perfwatch/internal/tracing"
)

// ModeHeader carries the delivery mode on HTTP exports.
const ModeHeader = "X-Perfwatch-Mode"

// ContentTypeJSON is sent with every HTTP delivery.
const ContentTypeJSON = "application/json"

const maxErrorBody = 512

// Transport delivers one encoded payload.
type Transport interface {
	Send(ctx context.Context, mode Mode, body []byte) error
}

// NewTransport picks a transport for the scheme of rawURL: HTTP POST for
// http and https, a websocket message for ws and wss.
func NewTransport(rawURL string, client *http.Client, propagate bool) (Transport, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("report url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("report url %q has no host", rawURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if client == nil {
			client = NewHTTPClient(0)
		}
		return &HTTPTransport{URL: u.String(), Client: client, Propagate: propagate}, nil
	case "ws", "wss":
		return NewWebSocketTransport(u.String(), 0), nil
	default:
		return nil, fmt.Errorf("report url scheme %q is not supported", u.Scheme)
	}
}

// NewHTTPClient returns a client tuned for small, infrequent POSTs.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// HTTPTransport posts payloads to URL.
type HTTPTransport struct {
	URL       string
	Client    *http.Client
	Propagate bool
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector responded %d", e.StatusCode)
	}
	return fmt.Sprintf("collector responded %d: %s", e.StatusCode, e.Body)
}

func (t *HTTPTransport) Send(ctx context.Context, mode Mode, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set(ModeHeader, mode.String())
	if t.Propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// WebSocketTransport dials URL for every delivery and writes the payload as
// one binary message.
type WebSocketTransport struct {
	URL    string
	dialer *websocket.Dialer
}

func NewWebSocketTransport(rawURL string, handshakeTimeout time.Duration) *WebSocketTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WebSocketTransport{
		URL: rawURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (t *WebSocketTransport) Send(ctx context.Context, mode Mode, body []byte) error {
	header := http.Header{}
	header.Set(ModeHeader, mode.String())

	conn, resp, err := t.dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, body); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	return nil
}
