package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/ledger/memledger"
	"github.com/roach88/blobdb/internal/testutil"
)

var modes = []Mode{ModeIndexed, ModeScan}

type harness struct {
	ctx    context.Context
	ledger *memledger.Ledger
	ns     ledger.Namespace
	clock  *testutil.DeterministicClock
	ids    *testutil.SequentialIDGenerator
}

// newHarness creates a fresh in-memory ledger whose head is at 100.
func newHarness(t *testing.T) *harness {
	t.Helper()
	ns, err := ledger.NamespaceFromString("demo", ledger.DefaultNamespaceWidth)
	require.NoError(t, err)
	return &harness{
		ctx:    context.Background(),
		ledger: memledger.New(100),
		ns:     ns,
		clock:  testutil.NewDeterministicClock(),
		ids:    testutil.NewSequentialIDGenerator("rec"),
	}
}

func (h *harness) options(mode Mode) Options {
	return Options{
		Namespace: h.ns,
		Mode:      mode,
		Clock:     h.clock,
		NewID:     h.ids,
	}
}

// open opens a store over the harness ledger, failing the test on error.
func (h *harness) open(t *testing.T, mode Mode, edit ...func(*Options)) *Store {
	t.Helper()
	opts := h.options(mode)
	for _, fn := range edit {
		fn(&opts)
	}
	s, err := Open(h.ctx, h.ledger, opts)
	require.NoError(t, err)
	return s
}

func (h *harness) create(t *testing.T, s *Store, payload string) Record {
	t.Helper()
	r, err := s.Create(h.ctx, []byte(payload))
	require.NoError(t, err)
	return r
}

func (h *harness) submits() int {
	n, _ := h.ledger.Stats()
	return n
}

func payloads(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, string(r.Payload))
	}
	return out
}

func recordIDs(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func requireAfter(t *testing.T, later, earlier time.Time) {
	t.Helper()
	require.True(t, later.After(earlier), "%s is not after %s", later, earlier)
}
