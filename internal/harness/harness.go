package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/ledger/memledger"
	"github.com/roach88/blobdb/internal/store"
	"github.com/roach88/blobdb/internal/testutil"
)

// DefaultStartHeight is the ledger head before a scenario's store opens.
const DefaultStartHeight = 100

// DeletedMarker stands in for a tombstone's payload in history traces.
const DeletedMarker = "[deleted]"

// Harness executes one scenario.
type Harness struct {
	ledger *memledger.Ledger
	store  *store.Store
	opts   store.Options
	logger *zap.Logger

	seq     int64
	aliases map[string]string
	heights map[string]ledger.Height
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes store logs to l. Scenarios are silent by default.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory ledger. Deterministic
// helpers ensure reproducible results. A step that fails does not stop the
// flow; its outcome is recorded and checked by expect clauses.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	ctx := context.Background()

	channel := scenario.Channel
	if channel == "" {
		channel = "demo"
	}
	width := scenario.ChannelWidth
	if width == 0 {
		width = ledger.DefaultNamespaceWidth
	}
	ns, err := ledger.NamespaceFromString(channel, width)
	if err != nil {
		return nil, fmt.Errorf("scenario channel: %w", err)
	}
	mode, err := store.ParseMode(scenario.Mode)
	if err != nil {
		return nil, err
	}
	start := scenario.StartHeight
	if start == 0 {
		start = DefaultStartHeight
	}

	h := &Harness{
		ledger:  memledger.New(ledger.Height(start)),
		logger:  zap.NewNop(),
		aliases: make(map[string]string),
		heights: make(map[string]ledger.Height),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.opts = store.Options{
		Namespace: ns,
		Mode:      mode,
		Clock:     testutil.NewDeterministicClock(),
		NewID:     testutil.NewSequentialIDGenerator("rec"),
		Logger:    h.logger,
	}

	h.store, err = store.Open(ctx, h.ledger, h.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		event := h.execute(ctx, step)
		result.Trace = append(result.Trace, event)
		if step.Expect != nil {
			for _, msg := range checkExpect(event, *step.Expect) {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
			}
		}
	}

	state, err := h.finalState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.State = state

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.resolve) {
		result.AddError(msg)
	}
	return result, nil
}

// resolve maps "$alias" to its bound id. Unbound aliases and literal ids
// are returned unchanged.
func (h *Harness) resolve(id string) string {
	if alias, ok := strings.CutPrefix(id, "$"); ok {
		if bound, ok := h.aliases[alias]; ok {
			return bound
		}
	}
	return id
}

func (h *Harness) execute(ctx context.Context, step FlowStep) TraceEvent {
	h.seq++
	event := TraceEvent{Seq: h.seq, Op: step.Op, ID: h.resolve(step.ID)}

	var err error
	switch step.Op {
	case OpCreate:
		var r store.Record
		r, err = h.store.Create(ctx, []byte(step.Payload))
		if err == nil {
			if step.As != "" {
				h.aliases[step.As] = r.ID
			}
			h.heights[r.ID] = r.Height
			event.ID, event.Payload, event.Height = r.ID, string(r.Payload), r.Height
		}

	case OpRead:
		var r store.Record
		r, err = h.store.Read(ctx, event.ID)
		if err == nil {
			event.Payload, event.Height = string(r.Payload), r.Height
		}

	case OpUpdate:
		var r store.Record
		r, err = h.store.Update(ctx, event.ID, []byte(step.Payload))
		if err == nil {
			h.heights[r.ID] = r.Height
			event.Payload, event.Height = string(r.Payload), r.Height
		}

	case OpDelete:
		err = h.store.Delete(ctx, event.ID)

	case OpList:
		var records []store.Record
		records, err = h.store.List(ctx)
		if err == nil {
			event.Payloads = make([]string, 0, len(records))
			for _, r := range records {
				event.Payloads = append(event.Payloads, string(r.Payload))
			}
			event.Count = len(records)
		}

	case OpHistory:
		var versions []store.Version
		versions, err = h.store.History(ctx, event.ID)
		if err == nil {
			for _, v := range versions {
				if v.Deleted {
					event.Payloads = append(event.Payloads, DeletedMarker)
				} else {
					event.Payloads = append(event.Payloads, string(v.Payload))
				}
			}
			event.Count = len(versions)
		}

	case OpReopen:
		var s *store.Store
		s, err = store.Open(ctx, h.ledger, h.opts)
		if err == nil {
			h.store = s
			event.Height = s.Metadata().StartHeight
		}

	case OpAdvance:
		h.ledger.Advance(step.N)

	case OpLag:
		h.ledger.SetLag(step.N)

	case OpRejectNext:
		h.ledger.RejectNextSubmit(errors.New("rejected by scenario"))

	case OpFailFetch:
		at, ok := h.heights[event.ID]
		if !ok {
			err = fmt.Errorf("fail_fetch: no known height for %s", event.ID)
			break
		}
		h.ledger.FailFetch(at, errors.New("fetch failure injected by scenario"))
		event.Height = at

	default:
		err = fmt.Errorf("unknown op %q", step.Op)
	}

	event.Outcome = outcome(err)
	if err != nil {
		event.Err = err.Error()
	}
	return event
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case store.IsNotFound(err):
		return OutcomeNotFound
	case ledger.IsRejected(err):
		return OutcomeRejected
	case ledger.IsTransport(err):
		return OutcomeTransport
	}
	return OutcomeError
}

func checkExpect(event TraceEvent, expect ExpectClause) []string {
	var msgs []string
	want := expect.Outcome
	if want == "" {
		want = OutcomeOK
	}
	if event.Outcome != want {
		msg := fmt.Sprintf("expected outcome %q, got %q", want, event.Outcome)
		if event.Err != "" {
			msg += " (" + event.Err + ")"
		}
		msgs = append(msgs, msg)
	}
	if expect.Payload != nil && event.Payload != *expect.Payload {
		msgs = append(msgs, fmt.Sprintf("expected payload %q, got %q", *expect.Payload, event.Payload))
	}
	if expect.Payloads != nil && !slices.Equal(event.Payloads, expect.Payloads) {
		msgs = append(msgs, fmt.Sprintf("expected payloads %q, got %q", expect.Payloads, event.Payloads))
	}
	if expect.Count != nil && event.Count != *expect.Count {
		msgs = append(msgs, fmt.Sprintf("expected count %d, got %d", *expect.Count, event.Count))
	}
	return msgs
}

func (h *Harness) finalState(ctx context.Context) (FinalState, error) {
	records, err := h.store.List(ctx)
	if err != nil {
		return FinalState{}, err
	}
	m := h.store.Metadata()
	state := FinalState{
		RecordCount: m.RecordCount,
		StartHeight: m.StartHeight,
		Live:        make([]string, 0, len(records)),
	}
	for _, r := range records {
		state.Live = append(state.Live, r.ID)
	}
	return state, nil
}
