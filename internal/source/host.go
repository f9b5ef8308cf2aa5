// Package source contains the event-source adapters that feed a metrics
// store, and the optional host capabilities they are built on.
//
// A host only has to tell the time. Every other capability is an optional
// interface discovered with a type assertion; an adapter whose capability is
// missing returns an error wrapping metrics.ErrCapabilityUnavailable and
// becomes a no-op.
package source

import (
	"time"

	"github.com/torosent/perfwatch/internal/metrics"
)

// Performance entry types understood by Observer hosts.
const (
	EntryResource    = "resource"
	EntryLayoutShift = "layout-shift"
	EntryLongTask    = "longtask"
	EntryPaint       = "paint"
	EntryLCP         = "largest-contentful-paint"
	EntryFirstInput  = "first-input"
)

// Clock reports milliseconds elapsed since the session epoch.
type Clock interface {
	Now() float64
}

// Host is the minimum a session host provides.
type Host interface {
	Clock
}

// Subscription is a live observer registration.
type Subscription interface {
	// Disconnect stops delivery. It is safe to call more than once.
	Disconnect()
}

// Observer delivers batches of performance entries of one type. Buffered
// entries recorded before the call are delivered first.
type Observer interface {
	Observe(entryType string, fn func(batch []metrics.Observation)) (Subscription, error)
}

// NavigationTimer reads the lifecycle timestamps of the current page load.
type NavigationTimer interface {
	NavigationTiming() (metrics.Navigation, error)
}

// MemoryReader samples the JS heap.
type MemoryReader interface {
	ReadMemory() (metrics.MemorySample, error)
}

// FrameScheduler runs fn before the next frame is painted. now is the frame
// time on the session clock.
type FrameScheduler interface {
	RequestFrame(fn func(now float64))
}

// Lifecycle reports page lifecycle signals. OnLoad callbacks registered after
// the load event run immediately.
type Lifecycle interface {
	OnLoad(fn func())
	OnTeardown(fn func())
}

// DocumentReader returns the current document tree.
type DocumentReader interface {
	ReadDocument() (*metrics.Document, error)
}

// Scheduler runs fn once after d on the host clock. Hosts with a simulated
// clock implement it so that delays follow simulated time.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// UserTiming mirrors marks and measures into the host timeline.
type UserTiming interface {
	Mark(name string) error
	Measure(name, startMark, endMark string) error
}
