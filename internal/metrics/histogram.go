package metrics

import (
	"github.com/HdrHistogram/hdrhistogram-go"
)

// DurationSummary describes a distribution of millisecond durations.
type DurationSummary struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// Track durations from 1µs up to 10 minutes with 3 significant figures.
const (
	histLowest  = 1
	histHighest = 600_000_000
	histSigFigs = 3
)

// summarizeDurations returns nil for an empty input.
func summarizeDurations(durations []float64) *DurationSummary {
	if len(durations) == 0 {
		return nil
	}

	h := hdrhistogram.New(histLowest, histHighest, histSigFigs)
	sum := 0.0
	for _, d := range durations {
		sum += d
		us := int64(d * 1000)
		if us < h.LowestTrackableValue() {
			us = h.LowestTrackableValue()
		}
		if us > h.HighestTrackableValue() {
			us = h.HighestTrackableValue()
		}
		_ = h.RecordValue(us)
	}

	toMs := func(us int64) float64 { return float64(us) / 1000 }
	return &DurationSummary{
		Count: h.TotalCount(),
		Min:   toMs(h.Min()),
		Max:   toMs(h.Max()),
		Mean:  sum / float64(len(durations)),
		P50:   toMs(h.ValueAtQuantile(50)),
		P90:   toMs(h.ValueAtQuantile(90)),
		P99:   toMs(h.ValueAtQuantile(99)),
	}
}

// ResourceTimingSummary summarizes resource fetch durations.
func ResourceTimingSummary(resources []Resource) *DurationSummary {
	durations := make([]float64, 0, len(resources))
	for _, r := range resources {
		durations = append(durations, r.Duration)
	}
	return summarizeDurations(durations)
}

// LongTaskSummary summarizes long task durations.
func LongTaskSummary(tasks []LongTask) *DurationSummary {
	durations := make([]float64, 0, len(tasks))
	for _, t := range tasks {
		durations = append(durations, t.Duration)
	}
	return summarizeDurations(durations)
}
