package metrics

import "maps"

// NavigationTiming is the lifecycle timeline rebased on navigationStart.
// NavigationStart itself stays in epoch milliseconds.
type NavigationTiming struct {
	NavigationStart            float64 `json:"navigationStart"`
	UnloadEventStart           float64 `json:"unloadEventStart"`
	UnloadEventEnd             float64 `json:"unloadEventEnd"`
	RedirectStart              float64 `json:"redirectStart"`
	RedirectEnd                float64 `json:"redirectEnd"`
	FetchStart                 float64 `json:"fetchStart"`
	DomainLookupStart          float64 `json:"domainLookupStart"`
	DomainLookupEnd            float64 `json:"domainLookupEnd"`
	ConnectStart               float64 `json:"connectStart"`
	ConnectEnd                 float64 `json:"connectEnd"`
	SecureConnectionStart      float64 `json:"secureConnectionStart"`
	RequestStart               float64 `json:"requestStart"`
	ResponseStart              float64 `json:"responseStart"`
	ResponseEnd                float64 `json:"responseEnd"`
	DomLoading                 float64 `json:"domLoading"`
	DomInteractive             float64 `json:"domInteractive"`
	DomContentLoadedEventStart float64 `json:"domContentLoadedEventStart"`
	DomContentLoadedEventEnd   float64 `json:"domContentLoadedEventEnd"`
	DomComplete                float64 `json:"domComplete"`
	LoadEventStart             float64 `json:"loadEventStart"`
	LoadEventEnd               float64 `json:"loadEventEnd"`
}

// DerivedMetrics is the metric mapping exported under "metrics". Pointer
// fields are absent until their source has reported.
type DerivedMetrics struct {
	NavigationTiming  *NavigationTiming `json:"navigationTiming,omitempty"`
	TTFB              *float64          `json:"TTFB,omitempty"`
	PageLoadTime      *float64          `json:"pageLoadTime,omitempty"`
	DOMReadyTime      *float64          `json:"domReadyTime,omitempty"`
	DNSTime           *float64          `json:"dnsTime,omitempty"`
	TCPConnectTime    *float64          `json:"tcpConnectTime,omitempty"`
	RequestTime       *float64          `json:"requestTime,omitempty"`
	ResponseTime      *float64          `json:"responseTime,omitempty"`
	DOMProcessingTime *float64          `json:"domProcessingTime,omitempty"`

	CLS *float64 `json:"CLS,omitempty"`
	TBT *float64 `json:"TBT,omitempty"`
	FCP *float64 `json:"FCP,omitempty"`
	LCP *float64 `json:"LCP,omitempty"`
	FID *float64 `json:"FID,omitempty"`

	Memory         *MemorySample    `json:"memory,omitempty"`
	DOMStats       *DOMStats        `json:"domStats,omitempty"`
	ResourceCounts map[string]int   `json:"resourceCounts,omitempty"`
	ResourceSizes  map[string]int64 `json:"resourceSizes,omitempty"`
	AverageFPS     *float64         `json:"averageFPS,omitempty"`

	ResourceTiming *DurationSummary `json:"resourceTiming,omitempty"`
	LongTaskTiming *DurationSummary `json:"longTaskTiming,omitempty"`
}

func ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a deep copy.
func (m DerivedMetrics) Clone() DerivedMetrics {
	return DerivedMetrics{
		NavigationTiming:  clonePtr(m.NavigationTiming),
		TTFB:              clonePtr(m.TTFB),
		PageLoadTime:      clonePtr(m.PageLoadTime),
		DOMReadyTime:      clonePtr(m.DOMReadyTime),
		DNSTime:           clonePtr(m.DNSTime),
		TCPConnectTime:    clonePtr(m.TCPConnectTime),
		RequestTime:       clonePtr(m.RequestTime),
		ResponseTime:      clonePtr(m.ResponseTime),
		DOMProcessingTime: clonePtr(m.DOMProcessingTime),
		CLS:               clonePtr(m.CLS),
		TBT:               clonePtr(m.TBT),
		FCP:               clonePtr(m.FCP),
		LCP:               clonePtr(m.LCP),
		FID:               clonePtr(m.FID),
		Memory:            clonePtr(m.Memory),
		DOMStats:          clonePtr(m.DOMStats),
		ResourceCounts:    maps.Clone(m.ResourceCounts),
		ResourceSizes:     maps.Clone(m.ResourceSizes),
		AverageFPS:        clonePtr(m.AverageFPS),
		ResourceTiming:    clonePtr(m.ResourceTiming),
		LongTaskTiming:    clonePtr(m.LongTaskTiming),
	}
}

// Value returns a named scalar metric, as used in budgets and ratings.
func (m DerivedMetrics) Value(name string) (float64, bool) {
	var p *float64
	switch name {
	case "TTFB":
		p = m.TTFB
	case "pageLoadTime":
		p = m.PageLoadTime
	case "domReadyTime":
		p = m.DOMReadyTime
	case "CLS":
		p = m.CLS
	case "TBT":
		p = m.TBT
	case "FCP":
		p = m.FCP
	case "LCP":
		p = m.LCP
	case "FID":
		p = m.FID
	case "averageFPS":
		p = m.AverageFPS
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}
