package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Threshold is a budget assertion on one numeric value of an export payload.
type Threshold struct {
	Path     string  // gjson path into the payload, e.g. "metrics.LCP", "longTasks.#"
	Operator string  // "<", "<=", ">", ">=", "==", "!="
	Value    float64 // The threshold value to compare against
	Raw      string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against payload JSON.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against an encoded payload.
func (e *Evaluator) Evaluate(payload []byte) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, payload))
	}
	return results
}

func (e *Evaluator) evaluateOne(t Threshold, payload []byte) Result {
	actual, err := extractValue(t.Path, payload)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("✗ %s: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

var thresholdPattern = regexp.MustCompile(`^([^\s<>=!]+)\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
//   - "LCP < 2500"                        (a derived metric by wire name)
//   - "metrics.resourceCounts.script <= 10"
//   - "longTasks.# < 5"                   (array length, needs --include-long-tasks)
//   - "measures.checkout < 300"
//
// A path without a dot refers to the metrics object.
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: path operator value, e.g., 'LCP < 2500')", s)
	}

	path := matches[1]
	operator := matches[2]
	valueStr := matches[3]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	if !strings.Contains(path, ".") {
		path = "metrics." + path
	}

	return Threshold{
		Path:     path,
		Operator: operator,
		Value:    value,
		Raw:      s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

func extractValue(path string, payload []byte) (float64, error) {
	res := gjson.GetBytes(payload, path)
	if !res.Exists() {
		return 0, fmt.Errorf("%s not reported", path)
	}
	switch res.Type {
	case gjson.Number:
		return res.Num, nil
	case gjson.True:
		return 1, nil
	case gjson.False:
		return 0, nil
	default:
		return 0, fmt.Errorf("%s is not numeric (%s)", path, res.Type)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}
