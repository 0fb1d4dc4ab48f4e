package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Seq, event.Op, event.ID, event.Outcome)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns one
// message per failure. resolve maps "$alias" ids to real ids.
func EvaluateAssertions(result *Result, assertions []Assertion, resolve func(string) string) []string {
	if resolve == nil {
		resolve = func(id string) string { return id }
	}
	var errs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a, resolve)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a, resolve)
		case AssertFinalState:
			err = assertFinalState(result, a, resolve)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func matches(event TraceEvent, a Assertion, resolve func(string) string) bool {
	if event.Op != a.Op {
		return false
	}
	if a.ID != "" && event.ID != resolve(a.ID) {
		return false
	}
	if a.Outcome != "" && event.Outcome != a.Outcome {
		return false
	}
	return true
}

func describe(a Assertion) string {
	parts := []string{a.Op}
	if a.ID != "" {
		parts = append(parts, "id="+a.ID)
	}
	if a.Outcome != "" {
		parts = append(parts, "outcome="+a.Outcome)
	}
	return strings.Join(parts, " ")
}

// assertTraceContains checks that at least one event matches.
func assertTraceContains(trace []TraceEvent, a Assertion, resolve func(string) string) error {
	for _, event := range trace {
		if matches(event, a, resolve) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "no matching event",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the ops appear in order, not necessarily
// adjacent.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Ops) && event.Op == a.Ops[next] {
			next++
		}
	}
	if next == len(a.Ops) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: strings.Join(a.Ops, " -> "),
		Actual:   fmt.Sprintf("only %s matched in order", strings.Join(a.Ops[:next], " -> ")),
		Trace:    trace,
	}
}

// assertTraceCount checks the exact number of matching events.
func assertTraceCount(trace []TraceEvent, a Assertion, resolve func(string) string) error {
	n := 0
	for _, event := range trace {
		if matches(event, a, resolve) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s x%d", describe(a), a.Count),
		Actual:   fmt.Sprintf("x%d", n),
		Trace:    trace,
	}
}

// assertFinalState checks record count and live ids.
func assertFinalState(result *Result, a Assertion, resolve func(string) string) error {
	state := result.State
	if a.RecordCount != nil && state.RecordCount != *a.RecordCount {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record_count %d", *a.RecordCount),
			Actual:   fmt.Sprintf("record_count %d", state.RecordCount),
			Trace:    result.Trace,
		}
	}
	if a.Live != nil {
		want := make([]string, 0, len(a.Live))
		for _, id := range a.Live {
			want = append(want, resolve(id))
		}
		got := slices.Clone(state.Live)
		slices.Sort(want)
		slices.Sort(got)
		if !slices.Equal(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("live %v", want),
				Actual:   fmt.Sprintf("live %v", got),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}
