package metrics

import (
	"maps"
	"sync"
	"time"
)

// Store holds the raw logs, derived metrics, marks and measures of one
// session. All writes go through the reducer and the derive functions.
type Store struct {
	mu       sync.Mutex
	log      RawLog
	derived  DerivedMetrics
	marks    map[string]float64
	measures map[string]float64
	now      func() time.Time
}

// Snapshot is an immutable, consistent copy of the store.
type Snapshot struct {
	CapturedAt   time.Time          `json:"-"`
	Metrics      DerivedMetrics     `json:"metrics"`
	Resources    []Resource         `json:"resources"`
	LongTasks    []LongTask         `json:"longTasks"`
	LayoutShifts []LayoutShift      `json:"layoutShifts"`
	Measures     map[string]float64 `json:"measures"`
	Marks        map[string]float64 `json:"marks"`
	FPSData      []FrameSample      `json:"fpsData"`
}

func NewStore() *Store {
	return &Store{
		marks:    make(map[string]float64),
		measures: make(map[string]float64),
		now:      time.Now,
	}
}

// Record appends a batch of observations of one continuous category and
// recomputes the metrics derived from it. Observations of another kind are
// ignored.
func (s *Store) Record(kind Kind, batch []Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obs := range batch {
		if obs == nil || obs.Kind() != kind {
			continue
		}
		s.log = Reduce(s.log, obs)
	}
	s.deriveLocked(kind)
}

func (s *Store) deriveLocked(kind Kind) {
	switch kind {
	case KindResource:
		s.derived.ResourceCounts = ResourceCounts(s.log.Resources)
		s.derived.ResourceSizes = ResourceSizes(s.log.Resources)
	case KindLayoutShift:
		s.derived.CLS = ptr(CumulativeLayoutShift(s.log.LayoutShifts))
	case KindLongTask:
		s.derived.TBT = ptr(TotalBlockingTime(s.log.LongTasks))
	case KindFrame:
		if avg, ok := AverageFPS(s.log.Frames); ok {
			s.derived.AverageFPS = ptr(avg)
		}
	}
}

// SetNavigation stores the relative navigation timeline and TTFB.
func (s *Store) SetNavigation(n Navigation) {
	timing := RelativeTiming(n)
	ttfb := TimeToFirstByte(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.derived.NavigationTiming = &timing
	s.derived.TTFB = &ttfb
}

// SettleNavigation stores the load phase durations.
func (s *Store) SettleNavigation(n Navigation) {
	t := Settle(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.derived.PageLoadTime = ptr(t.PageLoadTime)
	s.derived.DOMReadyTime = ptr(t.DOMReadyTime)
	s.derived.DNSTime = ptr(t.DNSTime)
	s.derived.TCPConnectTime = ptr(t.TCPConnectTime)
	s.derived.RequestTime = ptr(t.RequestTime)
	s.derived.ResponseTime = ptr(t.ResponseTime)
	s.derived.DOMProcessingTime = ptr(t.DOMProcessingTime)
}

func (s *Store) SetFCP(ms float64) { s.setScalar(&s.derived.FCP, ms) }
func (s *Store) SetLCP(ms float64) { s.setScalar(&s.derived.LCP, ms) }
func (s *Store) SetFID(ms float64) { s.setScalar(&s.derived.FID, ms) }

func (s *Store) setScalar(field **float64, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*field = ptr(v)
}

// SetMemory replaces the memory snapshot.
func (s *Store) SetMemory(sample MemorySample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.derived.Memory = &sample
}

// Finalize recomputes every derived metric from the full logs. doc may be nil
// when the host cannot read the document. Finalize is idempotent.
func (s *Store) Finalize(doc *Document) {
	var stats *DOMStats
	if doc != nil {
		stats = ptr(ComputeDOMStats(*doc))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if stats != nil {
		s.derived.DOMStats = stats
	}
	s.derived.ResourceCounts = ResourceCounts(s.log.Resources)
	s.derived.ResourceSizes = ResourceSizes(s.log.Resources)
	if avg, ok := AverageFPS(s.log.Frames); ok {
		s.derived.AverageFPS = ptr(avg)
	}
	if len(s.log.LayoutShifts) > 0 {
		s.derived.CLS = ptr(CumulativeLayoutShift(s.log.LayoutShifts))
	}
	if len(s.log.LongTasks) > 0 {
		s.derived.TBT = ptr(TotalBlockingTime(s.log.LongTasks))
	}
	s.derived.ResourceTiming = ResourceTimingSummary(s.log.Resources)
	s.derived.LongTaskTiming = LongTaskSummary(s.log.LongTasks)
}

// SetMark records an instant under name, replacing any earlier mark.
func (s *Store) SetMark(name string, at float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[name] = at
}

// Mark looks up a mark.
func (s *Store) Mark(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.marks[name]
	return at, ok
}

// SetMeasure records a duration under name, replacing any earlier measure.
func (s *Store) SetMeasure(name string, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.measures[name] = duration
}

// Observations returns the number of raw observations recorded so far.
func (s *Store) Observations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Total()
}

// Snapshot copies the current state. It does not finalize.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log.clone()
	return Snapshot{
		CapturedAt:   s.now(),
		Metrics:      s.derived.Clone(),
		Resources:    log.Resources,
		LongTasks:    log.LongTasks,
		LayoutShifts: log.LayoutShifts,
		Measures:     maps.Clone(s.measures),
		Marks:        maps.Clone(s.marks),
		FPSData:      log.Frames,
	}
}
