// Package export turns metric snapshots into wire payloads and delivers them
// to a collection endpoint, asynchronously during a session or synchronously
// at teardown.
package export

import (
	"github.com/torosent/perfwatch/internal/metrics"
)

// Include selects the raw categories attached to a payload.
type Include struct {
	Resources    bool
	LongTasks    bool
	LayoutShifts bool
}

// Meta describes the monitored session.
type Meta struct {
	URL       string
	UserAgent string
	SessionID string
}

// Payload is the exported JSON document. Raw categories that were not
// included are nil and omitted; included empty ones serialize as [].
type Payload struct {
	Timestamp    int64                  `json:"timestamp"`
	SessionID    string                 `json:"sessionId,omitempty"`
	URL          string                 `json:"url"`
	UserAgent    string                 `json:"userAgent"`
	Metrics      metrics.DerivedMetrics `json:"metrics"`
	Resources    []metrics.Resource     `json:"resources,omitzero"`
	LongTasks    []metrics.LongTask     `json:"longTasks,omitzero"`
	LayoutShifts []metrics.LayoutShift  `json:"layoutShifts,omitzero"`
	Measures     map[string]float64     `json:"measures"`
}

// BuildPayload assembles a payload from snap. The timestamp is the capture
// time of the snapshot in epoch milliseconds.
func BuildPayload(snap metrics.Snapshot, meta Meta, inc Include) Payload {
	p := Payload{
		Timestamp: snap.CapturedAt.UnixMilli(),
		SessionID: meta.SessionID,
		URL:       meta.URL,
		UserAgent: meta.UserAgent,
		Metrics:   snap.Metrics,
		Measures:  snap.Measures,
	}
	if p.Measures == nil {
		p.Measures = map[string]float64{}
	}
	if inc.Resources {
		p.Resources = orEmpty(snap.Resources)
	}
	if inc.LongTasks {
		p.LongTasks = orEmpty(snap.LongTasks)
	}
	if inc.LayoutShifts {
		p.LayoutShifts = orEmpty(snap.LayoutShifts)
	}
	return p
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
