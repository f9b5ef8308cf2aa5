package metrics

// Kind identifies the category of an Observation.
type Kind string

const (
	KindNavigation  Kind = "navigation"
	KindResource    Kind = "resource"
	KindLayoutShift Kind = "layout-shift"
	KindLongTask    Kind = "longtask"
	KindPaint       Kind = "paint"
	KindFirstInput  Kind = "first-input"
	KindMemory      Kind = "memory"
	KindFrame       Kind = "frame"
)

// Observation is a single timed event reported by a source. All timestamps
// are milliseconds relative to the session epoch.
type Observation interface {
	Kind() Kind
	Time() float64
}

// Navigation carries the one-shot lifecycle timestamps of the page load, in
// epoch milliseconds, as reported by the host.
type Navigation struct {
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

func (Navigation) Kind() Kind { return KindNavigation }
func (Navigation) Time() float64 { return 0 }
func (n Navigation) Loaded() bool { return n.LoadEventEnd > 0 }

// Resource is one resource-timing entry.
type Resource struct {
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	StartTime       float64 `json:"startTime"`
	Duration        float64 `json:"duration"`
	TransferSize    int64   `json:"transferSize"`
	DecodedBodySize int64   `json:"decodedBodySize"`
	EncodedBodySize int64   `json:"encodedBodySize"`
}

func (Resource) Kind() Kind { return KindResource }
func (r Resource) Time() float64 { return r.StartTime }

// Rect is a layout rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LayoutShiftSource attributes part of a shift to a DOM node.
type LayoutShiftSource struct {
	Node         string `json:"node,omitempty"`
	PreviousRect Rect   `json:"previousRect"`
	CurrentRect  Rect   `json:"currentRect"`
}

// LayoutShift is one unexpected layout-shift entry. Value is never negative.
type LayoutShift struct {
	Value     float64             `json:"value"`
	StartTime float64             `json:"startTime"`
	Sources   []LayoutShiftSource `json:"sources"`
}

func (LayoutShift) Kind() Kind { return KindLayoutShift }
func (s LayoutShift) Time() float64 { return s.StartTime }

// TaskAttribution names the container a long task ran in.
type TaskAttribution struct {
	Name          string `json:"name"`
	ContainerType string `json:"containerType,omitempty"`
	ContainerSrc  string `json:"containerSrc,omitempty"`
	ContainerID   string `json:"containerId,omitempty"`
	ContainerName string `json:"containerName,omitempty"`
}

// LongTask is a main-thread task of 50ms or more.
type LongTask struct {
	Name        string            `json:"name"`
	Duration    float64           `json:"duration"`
	StartTime   float64           `json:"startTime"`
	Attribution []TaskAttribution `json:"attribution"`
}

func (LongTask) Kind() Kind { return KindLongTask }
func (t LongTask) Time() float64 { return t.StartTime }

// Paint is a rendering milestone: first-paint, first-contentful-paint or
// largest-contentful-paint.
type Paint struct {
	Name      string  `json:"name"`
	StartTime float64 `json:"startTime"`
	Size      float64 `json:"size,omitempty"`
}

func (Paint) Kind() Kind { return KindPaint }
func (p Paint) Time() float64 { return p.StartTime }

// FirstInput is the event-timing entry of the first user interaction.
type FirstInput struct {
	Name            string  `json:"name"`
	StartTime       float64 `json:"startTime"`
	ProcessingStart float64 `json:"processingStart"`
	ProcessingEnd   float64 `json:"processingEnd"`
	Duration        float64 `json:"duration"`
}

func (FirstInput) Kind() Kind { return KindFirstInput }
func (f FirstInput) Time() float64 { return f.StartTime }

// Delay is the time between the interaction and the start of its handlers.
func (f FirstInput) Delay() float64 { return f.ProcessingStart - f.StartTime }

// MemorySample is a JS heap reading. Only the latest sample is kept.
type MemorySample struct {
	Timestamp       float64 `json:"-"`
	TotalJSHeapSize int64   `json:"totalJSHeapSize"`
	UsedJSHeapSize  int64   `json:"usedJSHeapSize"`
	JSHeapSizeLimit int64   `json:"jsHeapSizeLimit"`
}

func (MemorySample) Kind() Kind { return KindMemory }
func (m MemorySample) Time() float64 { return m.Timestamp }

// FrameSample is the frame rate measured over the preceding flush window.
type FrameSample struct {
	Timestamp float64 `json:"timestamp"`
	FPS       int     `json:"fps"`
}

func (FrameSample) Kind() Kind { return KindFrame }
func (f FrameSample) Time() float64 { return f.Timestamp }
