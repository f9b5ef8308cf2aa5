// Package replay implements a scripted session host. A scenario lists
// performance entries on a simulated timeline; Play delivers them in order
// on a virtual clock, which makes sessions deterministic and fast.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/source"
)

// Scenario is a scripted session.
type Scenario struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	UserAgent string `json:"userAgent"`
	// Duration is the simulated session length in milliseconds. Teardown
	// fires when it is reached. Zero means right after the last event.
	Duration float64 `json:"duration"`
	// LoadAt is when the load event fires. Negative disables it.
	LoadAt     float64             `json:"loadAt"`
	Navigation *metrics.Navigation `json:"navigation"`
	// Supports restricts the observable entry types. Empty means all.
	Supports []string        `json:"supports"`
	Steps    []Step          `json:"steps"`
	Memory   []MemoryStep    `json:"memory"`
	Frames   []FrameSegment  `json:"frames"`
	Document *DocumentScript `json:"document"`
}

// Step delivers one batch of entries of a single type.
type Step struct {
	At      float64        `json:"at"`
	Type    string         `json:"type"`
	Entries []source.Entry `json:"entries"`
}

// MemoryStep makes Sample the heap reading from At onwards.
type MemoryStep struct {
	At     float64              `json:"at"`
	Sample metrics.MemorySample `json:"sample"`
}

// FrameSegment paints a frame every Interval milliseconds until Until.
type FrameSegment struct {
	Until    float64 `json:"until"`
	Interval float64 `json:"interval"`
}

// DocumentScript is the document returned at finalization.
type DocumentScript struct {
	Size int           `json:"size"`
	Root *metrics.Node `json:"root"`
}

// Validate checks the scenario for problems Play cannot recover from.
func (s *Scenario) Validate() error {
	var errs []error
	for i, st := range s.Steps {
		if !source.KnownEntryType(st.Type) {
			errs = append(errs, fmt.Errorf("steps[%d]: unknown entry type %q", i, st.Type))
		}
		if st.At < 0 {
			errs = append(errs, fmt.Errorf("steps[%d]: at must be >= 0", i))
		}
	}
	for _, t := range s.Supports {
		if !source.KnownEntryType(t) {
			errs = append(errs, fmt.Errorf("supports: unknown entry type %q", t))
		}
	}
	for i, seg := range s.Frames {
		if seg.Interval <= 0 {
			errs = append(errs, fmt.Errorf("frames[%d]: interval must be > 0", i))
		}
	}
	if s.Duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	return errors.Join(errs...)
}

// Parse decodes a YAML or JSON scenario. YAML is converted to JSON first so
// that both formats share one set of field names.
func Parse(data []byte) (*Scenario, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if raw == nil {
		return nil, errors.New("parse scenario: empty document")
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	var s Scenario
	dec := json.NewDecoder(strings.NewReader(string(normalized)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}
