package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torosent/perfwatch/internal/metrics"
)

type clockOnly struct{}

func (clockOnly) Now() float64 { return 0 }

type fakeSub struct {
	mu           sync.Mutex
	fn           func([]metrics.Observation)
	disconnected int
}

func (s *fakeSub) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected++
}

func (s *fakeSub) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected > 0
}

type fakeHost struct {
	mu         sync.Mutex
	now        float64
	subs       map[string]*fakeSub
	observeErr error
	nav        metrics.Navigation
	mem        metrics.MemorySample
	memReads   int
	loads      []func()
	pending    []func(float64)
}

func newFakeHost() *fakeHost {
	return &fakeHost{subs: make(map[string]*fakeSub)}
}

func (h *fakeHost) Now() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *fakeHost) Observe(entryType string, fn func([]metrics.Observation)) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.observeErr != nil {
		return nil, h.observeErr
	}
	sub := &fakeSub{fn: fn}
	h.subs[entryType] = sub
	return sub, nil
}

// deliver hands a batch to the subscriber unless it disconnected.
func (h *fakeHost) deliver(entryType string, batch ...metrics.Observation) {
	h.mu.Lock()
	sub := h.subs[entryType]
	h.mu.Unlock()
	if sub == nil || sub.closed() {
		return
	}
	sub.fn(batch)
}

func (h *fakeHost) NavigationTiming() (metrics.Navigation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nav, nil
}

func (h *fakeHost) ReadMemory() (metrics.MemorySample, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.memReads++
	sample := h.mem
	sample.UsedJSHeapSize += int64(h.memReads)
	return sample, nil
}

func (h *fakeHost) OnLoad(fn func()) {
	h.mu.Lock()
	h.loads = append(h.loads, fn)
	h.mu.Unlock()
}

func (h *fakeHost) OnTeardown(func()) {}

func (h *fakeHost) fireLoad() {
	h.mu.Lock()
	loads := h.loads
	h.mu.Unlock()
	for _, fn := range loads {
		fn()
	}
}

func (h *fakeHost) RequestFrame(fn func(float64)) {
	h.mu.Lock()
	h.pending = append(h.pending, fn)
	h.mu.Unlock()
}

func (h *fakeHost) frame(now float64) {
	h.mu.Lock()
	h.now = now
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()
	for _, fn := range pending {
		fn(now)
	}
}

func newEnv(host Host) (Env, *metrics.Store, *sync.WaitGroup) {
	store := metrics.NewStore()
	wg := &sync.WaitGroup{}
	return Env{Host: host, Sink: store, Workers: wg}, store, wg
}

func TestAdaptersDegradeWithoutCapabilities(t *testing.T) {
	env, store, _ := newEnv(clockOnly{})
	for _, a := range Defaults(Options{}) {
		err := a.Start(context.Background(), env)
		if !errors.Is(err, metrics.ErrCapabilityUnavailable) {
			t.Errorf("%s: error = %v, want capability unavailable", a.Name(), err)
		}
	}
	if store.Observations() != 0 {
		t.Fatal("expected no observations")
	}
}

func TestSubscriptionFailure(t *testing.T) {
	host := newFakeHost()
	host.observeErr = errors.New("unsupported entry type")
	env, _, _ := newEnv(host)

	err := Resources().Start(context.Background(), env)
	if !errors.Is(err, metrics.ErrSubscriptionFailure) {
		t.Fatalf("error = %v, want subscription failure", err)
	}
	if !errors.Is(err, host.observeErr) {
		t.Fatalf("error = %v, want cause preserved", err)
	}
}

func TestContinuousAdapters(t *testing.T) {
	host := newFakeHost()
	env, store, _ := newEnv(host)
	ctx, cancel := context.WithCancel(context.Background())

	for _, a := range []Adapter{Resources(), LayoutShifts(), LongTasks()} {
		if err := a.Start(ctx, env); err != nil {
			t.Fatalf("%s: %v", a.Name(), err)
		}
	}

	host.deliver(EntryResource,
		metrics.Resource{Name: "a.js", Type: "script", TransferSize: 1000},
		metrics.Resource{Name: "b.js", Type: "script", TransferSize: 2000},
	)
	host.deliver(EntryResource, metrics.Resource{Name: "c.png", Type: "img", TransferSize: 500})
	host.deliver(EntryLayoutShift, metrics.LayoutShift{Value: 0.1}, metrics.LayoutShift{Value: 0.05})
	host.deliver(EntryLongTask, metrics.LongTask{Duration: 90})

	snap := store.Snapshot()
	if got := []string{snap.Resources[0].Name, snap.Resources[1].Name, snap.Resources[2].Name}; got[0] != "a.js" || got[1] != "b.js" || got[2] != "c.png" {
		t.Fatalf("resources out of order: %v", got)
	}
	if *snap.Metrics.TBT != 40 {
		t.Errorf("TBT = %v, want 40", *snap.Metrics.TBT)
	}
	if snap.Metrics.ResourceCounts["script"] != 2 {
		t.Errorf("resourceCounts = %v", snap.Metrics.ResourceCounts)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for !host.subs[EntryResource].closed() {
		if time.Now().After(deadline) {
			t.Fatal("resource subscription not disconnected after cancel")
		}
		time.Sleep(time.Millisecond)
	}
	host.deliver(EntryResource, metrics.Resource{Name: "late.js", Type: "script"})
	if n := len(store.Snapshot().Resources); n != 3 {
		t.Fatalf("resources = %d after teardown, want 3", n)
	}
}

func TestFirstContentfulPaint(t *testing.T) {
	host := newFakeHost()
	env, store, _ := newEnv(host)
	if err := (&FirstContentfulPaint{}).Start(context.Background(), env); err != nil {
		t.Fatal(err)
	}

	host.deliver(EntryPaint)
	if store.Snapshot().Metrics.FCP != nil {
		t.Fatal("FCP set from an empty batch")
	}

	host.deliver(EntryPaint,
		metrics.Paint{Name: "first-paint", StartTime: 100},
		metrics.Paint{Name: "first-contentful-paint", StartTime: 120},
	)
	host.deliver(EntryPaint, metrics.Paint{Name: "first-contentful-paint", StartTime: 999})

	fcp := store.Snapshot().Metrics.FCP
	if fcp == nil || *fcp != 120 {
		t.Fatalf("FCP = %v, want 120", fcp)
	}
	if sub := host.subs[EntryPaint]; sub.disconnected != 1 {
		t.Fatalf("disconnected %d times, want 1", sub.disconnected)
	}
}

func TestLargestContentfulPaintLastBatchWins(t *testing.T) {
	host := newFakeHost()
	env, store, _ := newEnv(host)
	if err := (&LargestContentfulPaint{}).Start(context.Background(), env); err != nil {
		t.Fatal(err)
	}

	host.deliver(EntryLCP, metrics.Paint{StartTime: 300}, metrics.Paint{StartTime: 800})
	host.deliver(EntryLCP, metrics.Paint{StartTime: 650})

	if lcp := store.Snapshot().Metrics.LCP; lcp == nil || *lcp != 650 {
		t.Fatalf("LCP = %v, want 650", lcp)
	}
	if host.subs[EntryLCP].closed() {
		t.Fatal("LCP subscription closed early")
	}
}

func TestFirstInput(t *testing.T) {
	host := newFakeHost()
	env, store, _ := newEnv(host)
	if err := (&FirstInput{}).Start(context.Background(), env); err != nil {
		t.Fatal(err)
	}

	host.deliver(EntryFirstInput, metrics.FirstInput{Name: "pointerdown", StartTime: 10, ProcessingStart: 50})
	if store.Snapshot().Metrics.FID != nil || host.subs[EntryFirstInput].closed() {
		t.Fatal("FID recorded from a non first-input entry")
	}

	host.deliver(EntryFirstInput, metrics.FirstInput{Name: EntryFirstInput, StartTime: 1000, ProcessingStart: 1016.5})
	host.deliver(EntryFirstInput, metrics.FirstInput{Name: EntryFirstInput, StartTime: 0, ProcessingStart: 500})

	if fid := store.Snapshot().Metrics.FID; fid == nil || *fid != 16.5 {
		t.Fatalf("FID = %v, want 16.5", fid)
	}
	if !host.subs[EntryFirstInput].closed() {
		t.Fatal("first-input subscription left open")
	}
}

func TestNavigationSettles(t *testing.T) {
	host := newFakeHost()
	host.nav = metrics.Navigation{NavigationStart: 1000, ResponseStart: 1100}
	env, store, wg := newEnv(host)

	settled := make(chan struct{})
	nav := &Navigation{SettleDelay: 5 * time.Millisecond, OnSettled: func() { close(settled) }}
	if err := nav.Start(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if ttfb := store.Snapshot().Metrics.TTFB; ttfb == nil || *ttfb != 100 {
		t.Fatalf("TTFB = %v, want 100", ttfb)
	}

	host.mu.Lock()
	host.nav.LoadEventEnd = 1900
	host.mu.Unlock()
	host.fireLoad()

	select {
	case <-settled:
	case <-time.After(2 * time.Second):
		t.Fatal("settled callback not invoked")
	}
	wg.Wait()
	if plt := store.Snapshot().Metrics.PageLoadTime; plt == nil || *plt != 900 {
		t.Fatalf("pageLoadTime = %v, want 900", plt)
	}
}

func TestNavigationSettleCancelled(t *testing.T) {
	host := newFakeHost()
	env, store, wg := newEnv(host)
	ctx, cancel := context.WithCancel(context.Background())

	nav := &Navigation{SettleDelay: time.Hour, OnSettled: func() { t.Error("settled after cancel") }}
	if err := nav.Start(ctx, env); err != nil {
		t.Fatal(err)
	}
	host.fireLoad()
	cancel()
	wg.Wait()

	if store.Snapshot().Metrics.PageLoadTime != nil {
		t.Fatal("pageLoadTime set after cancel")
	}
}

func TestMemorySampling(t *testing.T) {
	host := newFakeHost()
	env, store, wg := newEnv(host)
	ctx, cancel := context.WithCancel(context.Background())

	if err := (&Memory{Interval: 2 * time.Millisecond}).Start(ctx, env); err != nil {
		t.Fatal(err)
	}
	if mem := store.Snapshot().Metrics.Memory; mem == nil || mem.UsedJSHeapSize != 1 {
		t.Fatalf("memory = %+v, want immediate sample", mem)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Snapshot().Metrics.Memory.UsedJSHeapSize < 3 {
		if time.Now().After(deadline) {
			t.Fatal("memory not resampled")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()
}

func TestFrameRate(t *testing.T) {
	host := newFakeHost()
	env, store, _ := newEnv(host)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := (&FrameRate{}).Start(ctx, env); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 60; i++ {
		host.frame(float64(i) * 1000 / 60)
	}
	for i := 1; i <= 30; i++ {
		host.frame(1000 + float64(i)*1000/30)
	}

	snap := store.Snapshot()
	if len(snap.FPSData) != 2 {
		t.Fatalf("frames = %+v, want 2 samples", snap.FPSData)
	}
	if snap.FPSData[0].FPS != 60 || snap.FPSData[1].FPS != 30 {
		t.Fatalf("fps = %d, %d", snap.FPSData[0].FPS, snap.FPSData[1].FPS)
	}
	if avg := snap.Metrics.AverageFPS; avg == nil || *avg != 45 {
		t.Fatalf("averageFPS = %v, want 45", avg)
	}

	cancel()
	host.frame(5000)
	host.mu.Lock()
	pending := len(host.pending)
	host.mu.Unlock()
	if pending != 0 {
		t.Fatal("frame loop rescheduled after cancel")
	}
}
