// Package cdp runs a monitoring session against a real Chrome page over the
// DevTools protocol. An injected script bridges PerformanceObserver entries,
// animation frames and the load event to Go through a runtime binding.
package cdp

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/source"
)

//go:embed observer.js
var observerJS string

const bindingName = "__perfwatch"

var observedTypes = []string{
	source.EntryResource,
	source.EntryLayoutShift,
	source.EntryLongTask,
	source.EntryPaint,
	source.EntryLCP,
	source.EntryFirstInput,
}

// Config configures the browser connection.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local one.
	RemoteURL string
	// Headful shows the browser window of a launched Chrome.
	Headful bool
	// Stealth hides the usual automation fingerprints.
	Stealth bool
	// NavigateTimeout bounds Navigate. Default: 30s.
	NavigateTimeout time.Duration
	// FrameFlush is how often the page reports frame times. Default: 250ms.
	FrameFlush time.Duration
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.FrameFlush <= 0 {
		c.FrameFlush = 250 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Host is a Chrome page implementing the source capabilities.
type Host struct {
	cfg     Config
	logger  *slog.Logger
	browser *rod.Browser
	lnch    *launcher.Launcher
	page    *rod.Page
	opened  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	origin      float64
	subs        map[string]*subscription
	missed      map[string][]metrics.Observation
	unsupported map[string]bool
	frames      []func(float64)
	navigated   bool
	loaded      bool
	tornDown    bool
	onLoad      []func()
	onTeardown  []func()
}

var (
	_ source.Observer        = (*Host)(nil)
	_ source.NavigationTimer = (*Host)(nil)
	_ source.MemoryReader    = (*Host)(nil)
	_ source.FrameScheduler  = (*Host)(nil)
	_ source.Lifecycle       = (*Host)(nil)
	_ source.DocumentReader  = (*Host)(nil)
	_ source.UserTiming      = (*Host)(nil)
)

// Open starts or connects to Chrome and prepares a blank page with the
// observer script installed. Call Navigate to load the page under test.
func Open(ctx context.Context, cfg Config) (*Host, error) {
	cfg.defaults()
	h := &Host{
		cfg:         cfg,
		logger:      cfg.Logger,
		opened:      time.Now(),
		done:        make(chan struct{}),
		subs:        make(map[string]*subscription),
		missed:      make(map[string][]metrics.Observation),
		unsupported: make(map[string]bool),
	}

	if err := h.connect(); err != nil {
		return nil, err
	}
	if err := h.preparePage(ctx); err != nil {
		h.shutdown()
		return nil, err
	}
	return h, nil
}

func (h *Host) connect() error {
	wsURL := h.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(!h.cfg.Headful)
		if h.cfg.Stealth {
			l = l.Set("disable-blink-features", "AutomationControlled")
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("cdp: launch: %w", err)
		}
		wsURL = u
		h.lnch = l
		h.logger.Info("cdp: launched local chrome", "url", wsURL)
	} else {
		h.logger.Info("cdp: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("cdp: connect: %w", err)
	}
	h.browser = b
	return nil
}

func (h *Host) preparePage(ctx context.Context) error {
	var (
		page *rod.Page
		err  error
	)
	if h.cfg.Stealth {
		page, err = stealth.Page(h.browser)
	} else {
		page, err = h.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return fmt.Errorf("cdp: create page: %w", err)
	}
	h.page = page

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return fmt.Errorf("cdp: add binding: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	wait := page.Context(listenCtx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			h.handle(e.Payload)
		}
	})
	go func() {
		defer close(h.done)
		wait()
	}()

	if _, err := page.EvalOnNewDocument(h.script()); err != nil {
		return fmt.Errorf("cdp: install observer: %w", err)
	}
	return nil
}

func (h *Host) script() string {
	types, _ := json.Marshal(observedTypes)
	return strings.NewReplacer(
		"__PERFWATCH_ENTRY_TYPES__", string(types),
		"__PERFWATCH_FRAME_FLUSH__", strconv.FormatInt(h.cfg.FrameFlush.Milliseconds(), 10),
	).Replace(observerJS)
}

// Navigate loads url and waits for the load event, bounded by the
// navigation timeout. A load timeout is logged, not returned.
func (h *Host) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, h.cfg.NavigateTimeout)
	defer cancel()

	if err := h.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("cdp: navigate %s: %w", url, err)
	}
	h.mu.Lock()
	h.navigated = true
	h.mu.Unlock()
	if err := h.page.Context(navCtx).WaitLoad(); err != nil {
		h.logger.Warn("cdp: wait load", "url", url, "error", err)
	}
	return nil
}

// PageInfo returns the page URL and the browser user agent.
func (h *Host) PageInfo() (url, userAgent string, err error) {
	res, err := h.page.Eval(`() => JSON.stringify([location.href, navigator.userAgent])`)
	if err != nil {
		return "", "", fmt.Errorf("cdp: page info: %w", err)
	}
	var info [2]string
	if err := decode(res.Value, &info); err != nil {
		return "", "", fmt.Errorf("cdp: page info: %w", err)
	}
	return info[0], info[1], nil
}

// Now is milliseconds since the page time origin.
func (h *Host) Now() float64 {
	h.mu.Lock()
	origin := h.origin
	h.mu.Unlock()
	if origin == 0 {
		return float64(time.Since(h.opened).Microseconds()) / 1000
	}
	return float64(time.Now().UnixMicro())/1000 - origin
}

type message struct {
	Type       string         `json:"type"`
	Entries    []source.Entry `json:"entries"`
	EntryType  string         `json:"entryType"`
	Times      []float64      `json:"times"`
	TimeOrigin float64        `json:"timeOrigin"`
}

func (h *Host) handle(payload string) {
	var msg message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		h.logger.Warn("cdp: parse binding payload", "error", err)
		return
	}

	switch msg.Type {
	case "origin":
		h.mu.Lock()
		h.origin = msg.TimeOrigin
		h.mu.Unlock()
	case "unsupported":
		h.mu.Lock()
		h.unsupported[msg.EntryType] = true
		h.mu.Unlock()
		h.logger.Debug("cdp: entry type unsupported", "entry_type", msg.EntryType)
	case "frames":
		h.frameTimes(msg.Times)
	case "load":
		h.fireLoad()
	default:
		if source.KnownEntryType(msg.Type) {
			h.dispatch(msg.Type, msg.Entries)
		}
	}
}

func (h *Host) dispatch(entryType string, entries []source.Entry) {
	batch := make([]metrics.Observation, 0, len(entries))
	for _, e := range entries {
		if obs, err := e.Observation(entryType); err == nil {
			batch = append(batch, obs)
		}
	}

	h.mu.Lock()
	sub := h.subs[entryType]
	if sub == nil {
		h.missed[entryType] = append(h.missed[entryType], batch...)
	}
	h.mu.Unlock()
	if sub != nil {
		sub.deliver(batch)
	}
}

type subscription struct {
	host      *Host
	entryType string
	fn        func([]metrics.Observation)

	// delivering keeps batches in arrival order.
	delivering sync.Mutex
	mu         sync.Mutex
	closed     bool
}

func (s *subscription) deliver(batch []metrics.Observation) {
	s.delivering.Lock()
	defer s.delivering.Unlock()
	s.deliverLocked(batch)
}

func (s *subscription) deliverLocked(batch []metrics.Observation) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.fn(batch)
	}
}

func (s *subscription) Disconnect() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.host.mu.Lock()
	if s.host.subs[s.entryType] == s {
		delete(s.host.subs, s.entryType)
	}
	s.host.mu.Unlock()
}

// Observe subscribes to an entry type. Entries the page reported before the
// subscription are delivered first.
func (h *Host) Observe(entryType string, fn func([]metrics.Observation)) (source.Subscription, error) {
	if !source.KnownEntryType(entryType) {
		return nil, fmt.Errorf("entry type %s: %w", entryType, metrics.ErrCapabilityUnavailable)
	}

	h.mu.Lock()
	if h.unsupported[entryType] {
		h.mu.Unlock()
		return nil, fmt.Errorf("entry type %s: %w", entryType, metrics.ErrCapabilityUnavailable)
	}
	sub := &subscription{host: h, entryType: entryType, fn: fn}
	h.subs[entryType] = sub
	buffered := h.missed[entryType]
	delete(h.missed, entryType)
	sub.delivering.Lock()
	h.mu.Unlock()

	defer sub.delivering.Unlock()
	if len(buffered) > 0 {
		sub.deliverLocked(buffered)
	}
	return sub, nil
}

func (h *Host) RequestFrame(fn func(now float64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, fn)
}

func (h *Host) frameTimes(times []float64) {
	for _, t := range times {
		h.mu.Lock()
		pending := h.frames
		h.frames = nil
		h.mu.Unlock()
		for _, fn := range pending {
			fn(t)
		}
	}
}

func (h *Host) OnLoad(fn func()) {
	h.mu.Lock()
	if !h.loaded {
		h.onLoad = append(h.onLoad, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn()
}

func (h *Host) fireLoad() {
	h.mu.Lock()
	if h.loaded {
		h.mu.Unlock()
		return
	}
	h.loaded = true
	callbacks := h.onLoad
	h.onLoad = nil
	h.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (h *Host) OnTeardown(fn func()) {
	h.mu.Lock()
	if !h.tornDown {
		h.onTeardown = append(h.onTeardown, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn()
}

// errNotNavigated is returned by page reads before Navigate, when the tab
// still shows the blank page it was created with.
var errNotNavigated = fmt.Errorf("cdp: no page loaded: %w", metrics.ErrCapabilityUnavailable)

func (h *Host) hasPage() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.navigated
}

// NavigationTiming reads performance.timing.
func (h *Host) NavigationTiming() (metrics.Navigation, error) {
	var nav metrics.Navigation
	if !h.hasPage() {
		return nav, errNotNavigated
	}
	res, err := h.page.Eval(`() => JSON.stringify(performance.timing.toJSON())`)
	if err != nil {
		return nav, fmt.Errorf("cdp: navigation timing: %w", err)
	}
	if err := decode(res.Value, &nav); err != nil {
		return nav, fmt.Errorf("cdp: navigation timing: %w", err)
	}
	return nav, nil
}

// ReadMemory reads performance.memory, which only Chromium exposes.
func (h *Host) ReadMemory() (metrics.MemorySample, error) {
	var sample metrics.MemorySample
	if !h.hasPage() {
		return sample, errNotNavigated
	}
	res, err := h.page.Eval(`() => performance.memory ? JSON.stringify({
		totalJSHeapSize: performance.memory.totalJSHeapSize,
		usedJSHeapSize: performance.memory.usedJSHeapSize,
		jsHeapSizeLimit: performance.memory.jsHeapSizeLimit,
	}) : ""`)
	if err != nil {
		return sample, fmt.Errorf("cdp: memory: %w", err)
	}
	if res.Value.Str() == "" {
		return sample, fmt.Errorf("cdp: memory: %w", metrics.ErrCapabilityUnavailable)
	}
	if err := decode(res.Value, &sample); err != nil {
		return sample, fmt.Errorf("cdp: memory: %w", err)
	}
	sample.Timestamp = h.Now()
	return sample, nil
}

// ReadDocument fetches the full DOM tree and the serialized markup size.
func (h *Host) ReadDocument() (*metrics.Document, error) {
	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth}.Call(h.page)
	if err != nil {
		return nil, fmt.Errorf("cdp: DOM.getDocument: %w", err)
	}
	res, err := h.page.Eval(`() => document.documentElement ? document.documentElement.outerHTML.length : 0`)
	if err != nil {
		return nil, fmt.Errorf("cdp: document size: %w", err)
	}
	return &metrics.Document{Root: convertTree(doc.Root), SerializedSize: res.Value.Int()}, nil
}

type nodePair struct {
	src *proto.DOMNode
	dst *metrics.Node
}

// convertTree copies a DevTools node tree without recursion.
func convertTree(root *proto.DOMNode) *metrics.Node {
	if root == nil {
		return nil
	}
	out := &metrics.Node{Type: metrics.NodeType(root.NodeType), Name: strings.ToLower(root.NodeName)}
	stack := []nodePair{{src: root, dst: out}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range top.src.Children {
			n := &metrics.Node{Type: metrics.NodeType(child.NodeType), Name: strings.ToLower(child.NodeName)}
			top.dst.Children = append(top.dst.Children, n)
			stack = append(stack, nodePair{src: child, dst: n})
		}
	}
	return out
}

func (h *Host) Mark(name string) error {
	if _, err := h.page.Eval(`(n) => { performance.mark(n) }`, name); err != nil {
		return fmt.Errorf("cdp: mark %s: %w", name, err)
	}
	return nil
}

func (h *Host) Measure(name, startMark, endMark string) error {
	if _, err := h.page.Eval(`(n, s, e) => { performance.measure(n, s, e) }`, name, startMark, endMark); err != nil {
		return fmt.Errorf("cdp: measure %s: %w", name, err)
	}
	return nil
}

// Close fires the teardown callbacks while the page is still alive, then
// closes the page and the browser.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.tornDown {
		h.mu.Unlock()
		return nil
	}
	h.tornDown = true
	callbacks := h.onTeardown
	h.onTeardown = nil
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return h.shutdown()
}

func (h *Host) shutdown() error {
	var errs []error
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	if h.page != nil {
		if err := h.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cdp: close page: %w", err))
		}
	}
	if h.browser != nil {
		if err := h.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cdp: close browser: %w", err))
		}
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
	}
	return errors.Join(errs...)
}

// decode unmarshals a JSON string returned by page evaluation.
func decode(v gson.JSON, dst any) error {
	return json.Unmarshal([]byte(v.Str()), dst)
}
