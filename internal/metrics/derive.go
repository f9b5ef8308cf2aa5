package metrics

import "math"

// BlockingThreshold is the part of a long task that does not count as blocking.
const BlockingThreshold = 50.0

// CumulativeLayoutShift sums every recorded shift value.
func CumulativeLayoutShift(shifts []LayoutShift) float64 {
	total := 0.0
	for _, s := range shifts {
		if s.Value > 0 {
			total += s.Value
		}
	}
	return total
}

// TotalBlockingTime sums the excess over BlockingThreshold of every long task.
func TotalBlockingTime(tasks []LongTask) float64 {
	total := 0.0
	for _, t := range tasks {
		total += math.Max(0, t.Duration-BlockingThreshold)
	}
	return total
}

// AverageFPS is the arithmetic mean of the sampled frame rates. ok is false
// when there are no samples.
func AverageFPS(frames []FrameSample) (avg float64, ok bool) {
	if len(frames) == 0 {
		return 0, false
	}
	sum := 0
	for _, f := range frames {
		sum += f.FPS
	}
	return float64(sum) / float64(len(frames)), true
}

// ResourceCounts groups resources by initiator type.
func ResourceCounts(resources []Resource) map[string]int {
	counts := make(map[string]int)
	for _, r := range resources {
		counts[r.Type]++
	}
	return counts
}

// ResourceSizes sums transfer sizes by initiator type.
func ResourceSizes(resources []Resource) map[string]int64 {
	sizes := make(map[string]int64)
	for _, r := range resources {
		sizes[r.Type] += max(r.TransferSize, 0)
	}
	return sizes
}

// RelativeTiming rebases every lifecycle timestamp on navigationStart. A
// missing secureConnectionStart stays 0.
func RelativeTiming(n Navigation) NavigationTiming {
	rel := func(v float64) float64 { return v - n.NavigationStart }
	secure := 0.0
	if n.SecureConnectionStart > 0 {
		secure = rel(n.SecureConnectionStart)
	}
	return NavigationTiming{
		NavigationStart:            n.NavigationStart,
		UnloadEventStart:           rel(n.UnloadEventStart),
		UnloadEventEnd:             rel(n.UnloadEventEnd),
		RedirectStart:              rel(n.RedirectStart),
		RedirectEnd:                rel(n.RedirectEnd),
		FetchStart:                 rel(n.FetchStart),
		DomainLookupStart:          rel(n.DomainLookupStart),
		DomainLookupEnd:            rel(n.DomainLookupEnd),
		ConnectStart:               rel(n.ConnectStart),
		ConnectEnd:                 rel(n.ConnectEnd),
		SecureConnectionStart:      secure,
		RequestStart:               rel(n.RequestStart),
		ResponseStart:              rel(n.ResponseStart),
		ResponseEnd:                rel(n.ResponseEnd),
		DomLoading:                 rel(n.DomLoading),
		DomInteractive:             rel(n.DomInteractive),
		DomContentLoadedEventStart: rel(n.DomContentLoadedEventStart),
		DomContentLoadedEventEnd:   rel(n.DomContentLoadedEventEnd),
		DomComplete:                rel(n.DomComplete),
		LoadEventStart:             rel(n.LoadEventStart),
		LoadEventEnd:               rel(n.LoadEventEnd),
	}
}

// TimeToFirstByte is responseStart - navigationStart.
func TimeToFirstByte(n Navigation) float64 {
	return n.ResponseStart - n.NavigationStart
}

// SettledTimings holds the phase durations read after the load event settled.
type SettledTimings struct {
	PageLoadTime      float64
	DOMReadyTime      float64
	DNSTime           float64
	TCPConnectTime    float64
	RequestTime       float64
	ResponseTime      float64
	DOMProcessingTime float64
}

// Settle computes the load phase durations.
func Settle(n Navigation) SettledTimings {
	return SettledTimings{
		PageLoadTime:      n.LoadEventEnd - n.NavigationStart,
		DOMReadyTime:      n.DomContentLoadedEventEnd - n.NavigationStart,
		DNSTime:           n.DomainLookupEnd - n.DomainLookupStart,
		TCPConnectTime:    n.ConnectEnd - n.ConnectStart,
		RequestTime:       n.ResponseStart - n.RequestStart,
		ResponseTime:      n.ResponseEnd - n.ResponseStart,
		DOMProcessingTime: n.DomComplete - n.DomLoading,
	}
}
