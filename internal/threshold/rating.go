package threshold

import "github.com/torosent/perfwatch/internal/metrics"

// Rating is the web-vitals bucket of a metric value.
type Rating string

const (
	Good             Rating = "good"
	NeedsImprovement Rating = "needs-improvement"
	Poor             Rating = "poor"
)

// Limits are the inclusive upper bounds of the good and needs-improvement
// buckets.
type Limits struct {
	Good float64
	Poor float64
}

// Rate buckets v against l.
func (l Limits) Rate(v float64) Rating {
	switch {
	case v <= l.Good:
		return Good
	case v <= l.Poor:
		return NeedsImprovement
	default:
		return Poor
	}
}

// VitalLimits are the published web-vitals boundaries, keyed by wire name.
var VitalLimits = map[string]Limits{
	"LCP":  {Good: 2500, Poor: 4000},
	"FID":  {Good: 100, Poor: 300},
	"CLS":  {Good: 0.1, Poor: 0.25},
	"FCP":  {Good: 1800, Poor: 3000},
	"TTFB": {Good: 800, Poor: 1800},
	"TBT":  {Good: 200, Poor: 600},
}

// vitalOrder fixes report order.
var vitalOrder = []string{"LCP", "FID", "CLS", "FCP", "TTFB", "TBT"}

// VitalRating is one rated metric.
type VitalRating struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Rating Rating  `json:"rating"`
}

// Ratings rates every vital present in m. Unreported vitals are skipped.
func Ratings(m metrics.DerivedMetrics) []VitalRating {
	var out []VitalRating
	for _, name := range vitalOrder {
		v, ok := m.Value(name)
		if !ok {
			continue
		}
		out = append(out, VitalRating{Name: name, Value: v, Rating: VitalLimits[name].Rate(v)})
	}
	return out
}
