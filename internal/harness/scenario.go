package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/blobdb/internal/store"
)

// Scenario defines a store test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Channel defaults to "demo".
	Channel string `yaml:"channel,omitempty"`

	// ChannelWidth defaults to 8.
	ChannelWidth int `yaml:"channel_width,omitempty"`

	// Mode is "indexed" (default) or "scan".
	Mode string `yaml:"mode,omitempty"`

	// StartHeight is the ledger head before the store opens. Defaults to 100.
	StartHeight uint64 `yaml:"start_height,omitempty"`

	// Flow contains the steps to execute in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// FlowStep is one operation.
type FlowStep struct {
	Op string `yaml:"op"`

	// ID is a record id, or "$alias" for an id bound by an earlier step.
	ID string `yaml:"id,omitempty"`

	Payload string `yaml:"payload,omitempty"`

	// As binds the id returned by create to an alias.
	As string `yaml:"as,omitempty"`

	// N is the argument of advance and lag.
	N uint64 `yaml:"n,omitempty"`

	// Expect is checked against the step's trace event. Nil means no check.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected step behavior.
type ExpectClause struct {
	// Outcome defaults to "ok".
	Outcome string `yaml:"outcome,omitempty"`

	Payload  *string  `yaml:"payload,omitempty"`
	Payloads []string `yaml:"payloads,omitempty"`
	Count    *int     `yaml:"count,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op, ID and Outcome select events (trace_contains, trace_count).
	Op      string `yaml:"op,omitempty"`
	ID      string `yaml:"id,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Ops is the expected op order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// RecordCount and Live are checked by final_state. Live is order-insensitive.
	RecordCount *uint64  `yaml:"record_count,omitempty"`
	Live        []string `yaml:"live,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Operation names.
const (
	OpCreate     = "create"
	OpRead       = "read"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpList       = "list"
	OpHistory    = "history"
	OpReopen     = "reopen"
	OpAdvance    = "advance"
	OpLag        = "lag"
	OpRejectNext = "reject_next_submit"
	OpFailFetch  = "fail_fetch"
)

var knownOps = map[string]bool{
	OpCreate: true, OpRead: true, OpUpdate: true, OpDelete: true,
	OpList: true, OpHistory: true, OpReopen: true, OpAdvance: true,
	OpLag: true, OpRejectNext: true, OpFailFetch: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "paylod:"
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

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
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
	if _, err := store.ParseMode(s.Mode); err != nil {
		return err
	}

	aliases := make(map[string]bool)
	for i, step := range s.Flow {
		if !knownOps[step.Op] {
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
		switch step.Op {
		case OpRead, OpUpdate, OpDelete, OpHistory, OpFailFetch:
			if step.ID == "" {
				return fmt.Errorf("flow[%d]: %s requires id", i, step.Op)
			}
		}
		if alias, ok := strings.CutPrefix(step.ID, "$"); ok && !aliases[alias] {
			return fmt.Errorf("flow[%d]: alias %q used before it is bound", i, step.ID)
		}
		if step.As != "" {
			if step.Op != OpCreate {
				return fmt.Errorf("flow[%d]: as is only valid on create", i)
			}
			aliases[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertTraceContains, AssertTraceCount:
			if a.Op == "" {
				return fmt.Errorf("assertions[%d]: %s requires op", i, a.Type)
			}
		case AssertTraceOrder:
			if len(a.Ops) == 0 {
				return fmt.Errorf("assertions[%d]: trace_order requires ops", i)
			}
		case AssertFinalState:
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
	}
	return nil
}
