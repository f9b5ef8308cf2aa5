package replay

import (
	"container/heap"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/source"
)

// Host plays a Scenario on a virtual clock. It implements every optional
// host capability; capabilities the scenario leaves out report
// metrics.ErrCapabilityUnavailable.
type Host struct {
	scenario *Scenario
	// Speed scales simulated time to wall time. Zero plays as fast as
	// possible, 1 plays in real time.
	Speed float64

	mu         sync.Mutex
	now        float64
	seq        int
	queue      eventQueue
	subs       map[string]*subscription
	missed     map[string][]metrics.Observation
	loaded     bool
	tornDown   bool
	onLoad     []func()
	onTeardown []func()
	marks      map[string]float64
	measures   []Measure
}

// Measure is a measure mirrored into the replay timeline.
type Measure struct {
	Name     string
	Start    float64
	Duration float64
}

var (
	_ source.Observer        = (*Host)(nil)
	_ source.NavigationTimer = (*Host)(nil)
	_ source.MemoryReader    = (*Host)(nil)
	_ source.FrameScheduler  = (*Host)(nil)
	_ source.Lifecycle       = (*Host)(nil)
	_ source.DocumentReader  = (*Host)(nil)
	_ source.UserTiming      = (*Host)(nil)
	_ source.Scheduler       = (*Host)(nil)
)

// NewHost prepares s for playing.
func NewHost(s *Scenario) *Host {
	return &Host{
		scenario: s,
		subs:     make(map[string]*subscription),
		missed:   make(map[string][]metrics.Observation),
		marks:    make(map[string]float64),
	}
}

// Scenario returns the scenario being played.
func (h *Host) Scenario() *Scenario { return h.scenario }

// Now returns the virtual time in milliseconds.
func (h *Host) Now() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

type subscription struct {
	host      *Host
	entryType string
	fn        func([]metrics.Observation)
	closed    bool
}

func (s *subscription) Disconnect() {
	s.host.mu.Lock()
	defer s.host.mu.Unlock()
	s.closed = true
	if s.host.subs[s.entryType] == s {
		delete(s.host.subs, s.entryType)
	}
}

func (h *Host) supports(entryType string) bool {
	if !source.KnownEntryType(entryType) {
		return false
	}
	return len(h.scenario.Supports) == 0 || slices.Contains(h.scenario.Supports, entryType)
}

// Observe subscribes to an entry type. Entries played before anyone
// subscribed are delivered first, as one buffered batch.
func (h *Host) Observe(entryType string, fn func([]metrics.Observation)) (source.Subscription, error) {
	if !h.supports(entryType) {
		return nil, fmt.Errorf("entry type %s: %w", entryType, metrics.ErrCapabilityUnavailable)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscription{host: h, entryType: entryType, fn: fn}
	h.subs[entryType] = sub
	if buffered := h.missed[entryType]; len(buffered) > 0 {
		delete(h.missed, entryType)
		h.pushLocked(h.now, func() { h.deliver(sub, buffered) })
	}
	return sub, nil
}

func (h *Host) deliver(sub *subscription, batch []metrics.Observation) {
	h.mu.Lock()
	closed := sub.closed
	h.mu.Unlock()
	if !closed {
		sub.fn(batch)
	}
}

func (h *Host) NavigationTiming() (metrics.Navigation, error) {
	if h.scenario.Navigation == nil {
		return metrics.Navigation{}, fmt.Errorf("navigation: %w", metrics.ErrCapabilityUnavailable)
	}
	nav := *h.scenario.Navigation
	h.mu.Lock()
	loaded := h.loaded
	h.mu.Unlock()
	if !loaded {
		// The load event timestamps are not final until load fired.
		nav.LoadEventStart, nav.LoadEventEnd = 0, 0
	}
	return nav, nil
}

// ReadMemory returns the latest memory step at or before the virtual time.
func (h *Host) ReadMemory() (metrics.MemorySample, error) {
	if len(h.scenario.Memory) == 0 {
		return metrics.MemorySample{}, fmt.Errorf("memory: %w", metrics.ErrCapabilityUnavailable)
	}
	now := h.Now()
	sample := h.scenario.Memory[0].Sample
	for _, m := range h.scenario.Memory {
		if m.At <= now {
			sample = m.Sample
		}
	}
	sample.Timestamp = now
	return sample, nil
}

// RequestFrame schedules fn for the next frame of the current frame segment.
// Outside every segment no more frames are painted.
func (h *Host) RequestFrame(fn func(now float64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, seg := range h.scenario.Frames {
		if h.now < seg.Until {
			at := h.now + seg.Interval
			h.pushLocked(at, func() { fn(at) })
			return
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

func (h *Host) ReadDocument() (*metrics.Document, error) {
	doc := h.scenario.Document
	if doc == nil {
		return nil, fmt.Errorf("document: %w", metrics.ErrCapabilityUnavailable)
	}
	return &metrics.Document{Root: doc.Root, SerializedSize: doc.Size}, nil
}

// Mark records a mark on the replay timeline.
func (h *Host) Mark(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marks[name] = h.now
	return nil
}

// Measure fails like a browser would when a mark is missing.
func (h *Host) Measure(name, startMark, endMark string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	start, ok := h.marks[startMark]
	if !ok {
		return fmt.Errorf("measure %s: no mark named %q", name, startMark)
	}
	end, ok := h.marks[endMark]
	if !ok {
		return fmt.Errorf("measure %s: no mark named %q", name, endMark)
	}
	h.measures = append(h.measures, Measure{Name: name, Start: start, Duration: end - start})
	return nil
}

// Measures returns the measures mirrored so far.
func (h *Host) Measures() []Measure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.measures)
}

// AfterFunc schedules fn d after the current virtual time.
func (h *Host) AfterFunc(d time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushLocked(h.now+float64(d)/float64(time.Millisecond), fn)
}

func (h *Host) pushLocked(at float64, fn func()) {
	h.seq++
	heap.Push(&h.queue, &event{at: at, seq: h.seq, fn: fn})
}

func (h *Host) end() float64 {
	if h.scenario.Duration > 0 {
		return h.scenario.Duration
	}
	end := max(h.scenario.LoadAt, 0)
	for _, st := range h.scenario.Steps {
		end = max(end, st.At)
	}
	for _, m := range h.scenario.Memory {
		end = max(end, m.At)
	}
	return end
}

// Play runs the scenario to its end and then fires the teardown callbacks.
// Events scheduled by callbacks, such as frames and timers, are played as
// long as they fall inside the session. Play returns ctx.Err() when
// cancelled; teardown callbacks still run.
func (h *Host) Play(ctx context.Context) error {
	h.mu.Lock()
	for _, st := range h.scenario.Steps {
		h.pushLocked(st.At, func() { h.step(st) })
	}
	if h.scenario.LoadAt >= 0 {
		h.pushLocked(h.scenario.LoadAt, h.fireLoad)
	}
	end := h.end()
	h.mu.Unlock()

	err := h.run(ctx, end)
	h.fireTeardown(end)
	return err
}

func (h *Host) run(ctx context.Context, end float64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		h.mu.Lock()
		if h.queue.Len() == 0 || h.queue[0].at > end {
			h.mu.Unlock()
			return nil
		}
		ev := heap.Pop(&h.queue).(*event)
		wait := ev.at - h.now
		h.now = max(h.now, ev.at)
		h.mu.Unlock()

		if h.Speed > 0 && wait > 0 {
			if err := sleep(ctx, time.Duration(wait/h.Speed*float64(time.Millisecond))); err != nil {
				return err
			}
		}
		ev.fn()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (h *Host) step(st Step) {
	batch := make([]metrics.Observation, 0, len(st.Entries))
	for _, e := range st.Entries {
		obs, err := e.Observation(st.Type)
		if err != nil {
			continue
		}
		batch = append(batch, obs)
	}

	h.mu.Lock()
	sub := h.subs[st.Type]
	if sub == nil {
		h.missed[st.Type] = append(h.missed[st.Type], batch...)
	}
	h.mu.Unlock()
	if sub != nil {
		h.deliver(sub, batch)
	}
}

func (h *Host) fireLoad() {
	h.mu.Lock()
	h.loaded = true
	callbacks := h.onLoad
	h.onLoad = nil
	h.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (h *Host) fireTeardown(end float64) {
	h.mu.Lock()
	if h.tornDown {
		h.mu.Unlock()
		return
	}
	h.tornDown = true
	h.now = max(h.now, end)
	callbacks := h.onTeardown
	h.onTeardown = nil
	h.queue = nil
	h.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

type event struct {
	at  float64
	seq int
	fn  func()
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at == q[j].at {
		return q[i].seq < q[j].seq
	}
	return q[i].at < q[j].at
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	*q = old[:n-1]
	return ev
}
