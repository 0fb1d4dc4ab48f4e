// Package harness runs store scenarios written in YAML against an
// in-memory ledger and checks the resulting trace.
//
// # Scenario Format
//
//	name: latest_wins
//	description: "Two writes to one id surface only the newer"
//	channel: demo
//	mode: indexed
//	start_height: 100
//	flow:
//	  - op: create
//	    payload: A
//	    as: x
//	  - op: update
//	    id: $x
//	    payload: B
//	  - op: read
//	    id: $x
//	    expect:
//	      outcome: ok
//	      payload: B
//	assertions:
//	  - type: trace_count
//	    op: update
//	    count: 1
//	  - type: final_state
//	    record_count: 1
//	    live: [$x]
//
// An id starting with "$" refers to the id bound by an earlier step's "as".
//
// # Operations
//
// Store operations: create, read, update, delete, list, history, reopen.
// Ledger manipulation: advance, lag, reject_next_submit, fail_fetch.
//
// # Assertion Types
//
//   - trace_contains: an event with the given op (and id/outcome) exists
//   - trace_order: the listed ops appear in this order
//   - trace_count: an op appears exactly N times
//   - final_state: record count and live ids after the flow
//
// # Deterministic Testing
//
// Every scenario runs against a fresh memledger with a deterministic clock
// and sequential record ids (rec-0001, rec-0002, ...), so traces are
// byte-identical across runs and can be compared against golden files.
package harness
