package source

import (
	"fmt"

	"github.com/torosent/perfwatch/internal/metrics"
)

// Entry is the union of the PerformanceEntry fields hosts report. Hosts
// decode entries from JSON and convert them with Observation.
type Entry struct {
	Name            string                      `json:"name"`
	InitiatorType   string                      `json:"initiatorType"`
	StartTime       float64                     `json:"startTime"`
	Duration        float64                     `json:"duration"`
	TransferSize    int64                       `json:"transferSize"`
	DecodedBodySize int64                       `json:"decodedBodySize"`
	EncodedBodySize int64                       `json:"encodedBodySize"`
	Value           float64                     `json:"value"`
	Sources         []metrics.LayoutShiftSource `json:"sources"`
	Attribution     []metrics.TaskAttribution   `json:"attribution"`
	Size            float64                     `json:"size"`
	ProcessingStart float64                     `json:"processingStart"`
	ProcessingEnd   float64                     `json:"processingEnd"`
}

var entryKinds = map[string]metrics.Kind{
	EntryResource:    metrics.KindResource,
	EntryLayoutShift: metrics.KindLayoutShift,
	EntryLongTask:    metrics.KindLongTask,
	EntryPaint:       metrics.KindPaint,
	EntryLCP:         metrics.KindPaint,
	EntryFirstInput:  metrics.KindFirstInput,
}

// Observation converts the entry to the observation of the given entry type.
func (e Entry) Observation(entryType string) (metrics.Observation, error) {
	switch entryKinds[entryType] {
	case metrics.KindResource:
		return metrics.Resource{
			Name:            e.Name,
			Type:            e.InitiatorType,
			StartTime:       e.StartTime,
			Duration:        e.Duration,
			TransferSize:    e.TransferSize,
			DecodedBodySize: e.DecodedBodySize,
			EncodedBodySize: e.EncodedBodySize,
		}, nil
	case metrics.KindLayoutShift:
		return metrics.LayoutShift{Value: e.Value, StartTime: e.StartTime, Sources: e.Sources}, nil
	case metrics.KindLongTask:
		name := e.Name
		if name == "" {
			name = "self"
		}
		return metrics.LongTask{Name: name, Duration: e.Duration, StartTime: e.StartTime, Attribution: e.Attribution}, nil
	case metrics.KindPaint:
		return metrics.Paint{Name: e.Name, StartTime: e.StartTime, Size: e.Size}, nil
	case metrics.KindFirstInput:
		name := e.Name
		if name == "" {
			name = EntryFirstInput
		}
		return metrics.FirstInput{
			Name:            name,
			StartTime:       e.StartTime,
			ProcessingStart: e.ProcessingStart,
			ProcessingEnd:   e.ProcessingEnd,
			Duration:        e.Duration,
		}, nil
	default:
		return nil, fmt.Errorf("unknown entry type %q", entryType)
	}
}

// KnownEntryType reports whether entryType is one the adapters observe.
func KnownEntryType(entryType string) bool {
	_, ok := entryKinds[entryType]
	return ok
}
