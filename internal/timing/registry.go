// Package timing implements user timing marks and measures on top of the
// metrics store.
package timing

import (
	"fmt"
	"log/slog"

	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/source"
)

// HandlePrefix namespaces marks and measures mirrored into the host timeline.
const HandlePrefix = "custom:"

// Store keeps marks and measures. *metrics.Store implements it.
type Store interface {
	SetMark(name string, at float64)
	Mark(name string) (float64, bool)
	SetMeasure(name string, duration float64)
}

// Registry records marks and measures. Neither operation ever fails the
// caller; host errors only cost the returned handle.
type Registry struct {
	clock  source.Clock
	store  Store
	host   source.UserTiming
	logger *slog.Logger
}

// New builds a registry. Marks are mirrored into host when it implements
// source.UserTiming.
func New(host source.Host, store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{clock: host, store: store, logger: logger}
	if ut, ok := host.(source.UserTiming); ok {
		r.host = ut
	}
	return r
}

// Handle returns the host timeline name of a mark or measure.
func Handle(name string) string { return HandlePrefix + name }

// Mark records the current time under name, replacing an earlier mark. It
// returns the host handle, or "" when the host has no timing interface.
func (r *Registry) Mark(name string) string {
	r.store.SetMark(name, r.clock.Now())
	if r.host == nil {
		return ""
	}

	handle := Handle(name)
	if err := r.host.Mark(handle); err != nil {
		r.logger.Debug("timing: host mark failed", "mark", name, "error", err)
		return ""
	}
	return handle
}

// Measure records the time between two marks under name. A missing start
// mark counts as 0 and a missing end mark as now. The duration is fixed at
// call time.
func (r *Registry) Measure(name, startMark, endMark string) string {
	start, ok := r.store.Mark(startMark)
	if !ok {
		r.logger.Debug("timing: start mark missing, using 0", "measure", name,
			"error", fmt.Errorf("%s: %w", startMark, metrics.ErrLookupMiss))
		start = 0
	}
	end, ok := r.store.Mark(endMark)
	if !ok {
		end = r.clock.Now()
	}
	r.store.SetMeasure(name, end-start)

	if r.host == nil {
		return ""
	}
	handle := Handle(name)
	if err := r.host.Measure(handle, Handle(startMark), Handle(endMark)); err != nil {
		r.logger.Debug("timing: host measure failed", "measure", name, "error", err)
		return ""
	}
	return handle
}
