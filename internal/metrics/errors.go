package metrics

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Failure taxonomy. None of these ever reach the code that created a monitor;
// they are matched with errors.Is at the boundary and logged.
var (
	// ErrCapabilityUnavailable means the host lacks the interface a source needs.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	// ErrSubscriptionFailure means registering an observer failed.
	ErrSubscriptionFailure = errors.New("subscription failed")
	// ErrTransmission means an export could not be delivered.
	ErrTransmission = errors.New("transmission failed")
	// ErrLookupMiss means a measure referenced a mark that was never set.
	ErrLookupMiss = errors.New("mark not found")
)

var failureLabels = []struct {
	err   error
	label string
}{
	{ErrCapabilityUnavailable, "capability_unavailable"},
	{ErrSubscriptionFailure, "subscription_failure"},
	{ErrTransmission, "transmission_failure"},
	{ErrLookupMiss, "lookup_miss"},
}

// FailureKind returns a stable log label for err. Errors outside the taxonomy
// are labelled by their humanized Go type name.
func FailureKind(err error) string {
	if err == nil {
		return ""
	}
	for _, fl := range failureLabels {
		if errors.Is(err, fl.err) {
			return fl.label
		}
	}

	typeName := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if idx := strings.LastIndex(typeName, "."); idx != -1 {
		typeName = typeName[idx+1:]
	}
	pretty := humanizeTypeName(typeName)
	if pretty == "" {
		return "unknown"
	}
	return strings.ReplaceAll(strings.ToLower(pretty), " ", "_")
}

func humanizeTypeName(name string) string {
	if name == "" {
		return ""
	}

	var words []string
	var current []rune
	runes := []rune(name)

	appendWord := func() {
		if len(current) == 0 {
			return
		}
		words = append(words, string(current))
		current = current[:0]
	}

	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsUpper(r) && (unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower)) {
				appendWord()
			} else if unicode.IsDigit(r) && !unicode.IsDigit(prev) {
				appendWord()
			}
		}
		current = append(current, r)
	}
	appendWord()

	return strings.Join(words, " ")
}
