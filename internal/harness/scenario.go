package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against the session and list engines.
// Steps execute in order; a step with Concurrent runs its branches at the
// same time. Assertions are evaluated after the flow and after every
// followed view has converged.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Flow contains the steps to execute.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace, store, and projected views.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, projection.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep invokes one engine operation, or a group of concurrent ones.
type FlowStep struct {
	// Invoke is the operation name, e.g. "session.eliminate".
	Invoke string `yaml:"invoke,omitempty"`

	// As is the acting user id.
	As string `yaml:"as,omitempty"`

	// Via picks the replica to call through ("a" or "b"). Replicas share
	// the store but publish under different names. Defaults to "a".
	Via string `yaml:"via,omitempty"`

	// Args are the operation arguments. A string of the form "$name" or
	// "$name.field" is replaced by a value saved by an earlier step.
	Args map[string]any `yaml:"args,omitempty"`

	// Save binds the result under this name. Sessions also bind
	// name.code; lists bind name.link. Saved sessions and lists are
	// followed by a projector.
	Save string `yaml:"save,omitempty"`

	// Expect checks the outcome. Nil means the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Concurrent holds branches started together. A step with branches has
	// no Invoke of its own.
	Concurrent []FlowStep `yaml:"concurrent,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Case is "ok" or a domain error code such as "INVALID_TRANSITION".
	Case string `yaml:"case"`

	// Result is subset-matched against the JSON form of the result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace, store state, or a projected view.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is the operation name (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are subset-matched against the unresolved step args
	// (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Actions is the expected order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of invocations (trace_count) or rows
	// (final_state).
	Count *int `yaml:"count,omitempty"`

	// Table and Where select store records (final_state). Where values may
	// reference saved bindings.
	Table string            `yaml:"table,omitempty"`
	Where map[string]string `yaml:"where,omitempty"`

	// View names a saved session or list whose projection is checked
	// (projection).
	View string `yaml:"view,omitempty"`

	// Expect is subset-matched against every selected record (final_state)
	// or the view summary (projection).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertProjection    = "projection"
)

// CaseOK is the expected case of a successful step.
const CaseOK = "ok"

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// errors, which catches typos like "assertion:" for "assertions:".
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(step, false); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step FlowStep, nested bool) error {
	if len(step.Concurrent) > 0 {
		if nested {
			return fmt.Errorf("concurrent groups cannot nest")
		}
		if step.Invoke != "" {
			return fmt.Errorf("a concurrent group cannot also invoke %q", step.Invoke)
		}
		if len(step.Concurrent) < 2 {
			return fmt.Errorf("a concurrent group needs at least two branches")
		}
		for i, branch := range step.Concurrent {
			if err := validateStep(branch, true); err != nil {
				return fmt.Errorf("concurrent[%d]: %w", i, err)
			}
		}
		return nil
	}

	if step.Invoke == "" {
		return fmt.Errorf("invoke is required")
	}
	if _, ok := operations[step.Invoke]; !ok {
		return fmt.Errorf("unknown operation %q", step.Invoke)
	}
	if step.As == "" {
		return fmt.Errorf("%s: as is required", step.Invoke)
	}
	switch step.Via {
	case "", ReplicaA, ReplicaB:
	default:
		return fmt.Errorf("%s: unknown replica %q", step.Invoke, step.Via)
	}
	if nested && step.Save != "" {
		return fmt.Errorf("%s: concurrent branches cannot save", step.Invoke)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("trace_contains requires action")
		}
	case AssertTraceOrder:
		if len(a.Actions) < 2 {
			return fmt.Errorf("trace_order requires at least two actions")
		}
	case AssertTraceCount:
		if a.Action == "" || a.Count == nil {
			return fmt.Errorf("trace_count requires action and count")
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("final_state requires table")
		}
		if a.Count == nil && len(a.Expect) == 0 {
			return fmt.Errorf("final_state requires count or expect")
		}
	case AssertProjection:
		if a.View == "" || len(a.Expect) == 0 {
			return fmt.Errorf("projection requires view and expect")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
