package harness

import "github.com/roach88/blobdb/internal/ledger"

// Outcomes recorded in trace events.
const (
	OutcomeOK        = "ok"
	OutcomeNotFound  = "not_found"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport"
	OutcomeError     = "error"
)

// TraceEvent is one executed step.
type TraceEvent struct {
	Seq      int64         `json:"seq"`
	Op       string        `json:"op"`
	ID       string        `json:"id,omitempty"`
	Outcome  string        `json:"outcome"`
	Payload  string        `json:"payload,omitempty"`
	Payloads []string      `json:"payloads,omitempty"`
	Height   ledger.Height `json:"height,omitempty"`
	Count    int           `json:"count,omitempty"`

	// Err is the error text for failed steps. Not part of golden traces.
	Err string `json:"-"`
}

// FinalState summarizes the store after the flow.
type FinalState struct {
	RecordCount uint64        `json:"record_count"`
	StartHeight ledger.Height `json:"start_height"`
	Live        []string      `json:"live"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	State FinalState `json:"final_state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
