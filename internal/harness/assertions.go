package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/shufflesync/internal/store"
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

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Type == EventInvocation {
				fmt.Fprintf(&buf, "  [%d] %s as %s %v\n", event.Step, event.Action, event.Actor, event.Args)
			}
		}
	}

	return buf.String()
}

// AssertionContext provides what non-trace assertions need.
type AssertionContext struct {
	Ctx   context.Context
	Store store.Reader

	// Resolve maps "$name" references to saved values.
	Resolve func(ref string) (string, error)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a store", i)
			} else {
				err = assertFinalState(actx, assertion)
			}
		case AssertProjection:
			err = assertProjection(result.Views, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertTraceContains checks for an invocation of the action whose
// unresolved args contain assertion.Args.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type != EventInvocation || event.Action != assertion.Action {
			continue
		}
		if len(assertion.Args) == 0 {
			return nil
		}
		actual, err := jsonValue(event.Args)
		if err != nil {
			return err
		}
		if subsetMismatch(assertion.Args, actual) == "" {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first invocation of each action appears
// in the given order. Intervening actions are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventInvocation {
			continue
		}
		if _, seen := positions[event.Action]; !seen {
			positions[event.Action] = i + 1
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the number of invocations of an action, whatever
// their outcome.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventInvocation && event.Action == assertion.Action {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState selects records from a store table and checks their
// number and that each contains assertion.Expect.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	filter := make(store.Filter, len(assertion.Where))
	for k, v := range assertion.Where {
		if actx.Resolve != nil {
			resolved, err := actx.Resolve(v)
			if err != nil {
				return &AssertionError{
					Type:     AssertFinalState,
					Expected: fmt.Sprintf("where %s=%s to resolve", k, v),
					Actual:   err.Error(),
				}
			}
			v = resolved
		}
		filter[k] = v
	}

	records, err := actx.Store.Query(actx.Ctx, assertion.Table, filter)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	where := formatWhere(assertion.Where)
	if assertion.Count != nil && len(records) != *assertion.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d records in %s where %s", *assertion.Count, assertion.Table, where),
			Actual:   fmt.Sprintf("%d records", len(records)),
		}
	}
	if len(assertion.Expect) == 0 {
		return nil
	}
	if len(records) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("records in %s where %s", assertion.Table, where),
			Actual:   "no records matched",
		}
	}

	for _, rec := range records {
		var doc any
		if err := json.Unmarshal(rec.Data, &doc); err != nil {
			return fmt.Errorf("decode %s/%s: %w", rec.Table, rec.Key, err)
		}
		if mismatch := subsetMismatch(assertion.Expect, doc); mismatch != "" {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s/%s to contain %v", rec.Table, rec.Key, assertion.Expect),
				Actual:   mismatch,
			}
		}
	}
	return nil
}

// assertProjection checks a converged view summary.
func assertProjection(views map[string]any, assertion Assertion) error {
	view, ok := views[assertion.View]
	if !ok {
		return &AssertionError{
			Type:     AssertProjection,
			Expected: fmt.Sprintf("view %s", assertion.View),
			Actual:   "no such view was followed",
		}
	}
	actual, err := jsonValue(view)
	if err != nil {
		return err
	}
	if mismatch := subsetMismatch(assertion.Expect, actual); mismatch != "" {
		return &AssertionError{
			Type:     AssertProjection,
			Expected: fmt.Sprintf("view %s to contain %v", assertion.View, assertion.Expect),
			Actual:   mismatch,
		}
	}
	return nil
}

func formatWhere(where map[string]string) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// jsonValue converts v to its generic JSON form (maps, slices, float64,
// string, bool, nil) so that YAML expectations compare against it.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return out, nil
}

// subsetMismatch reports the first key of expected that actual lacks or
// holds a different value for. Nested maps match as subsets; everything
// else must be equal after JSON normalization. Empty means a match.
func subsetMismatch(expected map[string]any, actual any) string {
	m, ok := actual.(map[string]any)
	if !ok {
		return fmt.Sprintf("expected an object, got %T", actual)
	}

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, exists := m[k]
		want, err := jsonValue(expected[k])
		if err != nil {
			return err.Error()
		}
		if nested, ok := want.(map[string]any); ok {
			if !exists {
				return fmt.Sprintf("%s missing", k)
			}
			if mismatch := subsetMismatch(nested, got); mismatch != "" {
				return k + "." + mismatch
			}
			continue
		}
		if !exists && !isZero(want) {
			return fmt.Sprintf("%s missing, want %v", k, want)
		}
		if exists && !reflect.DeepEqual(got, want) {
			return fmt.Sprintf("%s = %v, want %v", k, got, want)
		}
	}
	return ""
}

// isZero reports whether v is the JSON zero value that omitempty drops.
func isZero(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case bool:
		return !v
	case float64:
		return v == 0
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	}
	return false
}
