package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/index"
	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/testutil"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeIndexed, m)

	m, err = ParseMode("scan")
	require.NoError(t, err)
	assert.Equal(t, ModeScan, m)

	_, err = ParseMode("btree")
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "discovering", StateDiscovering.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestOpen_FreshLedger(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)

			assert.Equal(t, StateReady, s.State())
			assert.Equal(t, mode, s.Mode())
			assert.Equal(t, index.OriginMinted, s.Origin())
			assert.Equal(t, ledger.Height(101), s.Metadata().StartHeight)
			assert.Equal(t, mode == ModeIndexed, s.Metadata().Indexed)
			assert.True(t, s.Namespace().Equal(h.ns))
		})
	}
}

func TestOpen_ZeroNamespace(t *testing.T) {
	h := newHarness(t)
	_, err := Open(h.ctx, h.ledger, Options{})
	require.Error(t, err)
	assert.True(t, ledger.IsInvalidChannel(err))
}

func TestOpen_UnknownMode(t *testing.T) {
	h := newHarness(t)
	_, err := Open(h.ctx, h.ledger, Options{Namespace: h.ns, Mode: "btree"})
	assert.Error(t, err)
}

func TestOpen_Unreachable(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetUnreachable(errors.New("connection refused"))

	_, err := Open(h.ctx, h.ledger, h.options(ModeIndexed))
	require.Error(t, err)
	assert.True(t, ledger.IsTransport(err))
}

// Scenario: channel "demo", fresh log, create("hello"), read, list.
func TestDemoScenario(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)

			created := h.create(t, s, "hello")
			assert.Equal(t, "rec-0001", created.ID)

			got, err := s.Read(h.ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), got.Payload)
			assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
			assert.Nil(t, got.UpdatedAt)
			assert.Equal(t, created.Height, got.Height)

			list, err := s.List(h.ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, created.ID, list[0].ID)
			assert.Equal(t, uint64(1), s.Metadata().RecordCount)
		})
	}
}

func TestCreate_OneSubmissionPerMutation(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			require.Equal(t, 1, h.submits())

			r := h.create(t, s, "a")
			assert.Equal(t, 2, h.submits())

			_, err := s.Update(h.ctx, r.ID, []byte("b"))
			require.NoError(t, err)
			assert.Equal(t, 3, h.submits())

			require.NoError(t, s.Delete(h.ctx, r.ID))
			assert.Equal(t, 4, h.submits())

			// Data first, metadata last, in the same height.
			blobs, err := h.ledger.GetAll(h.ctx, r.Height, h.ns)
			require.NoError(t, err)
			require.Len(t, blobs, 2)
			c := codec.Default()
			assert.Equal(t, codec.KindRecord, c.Classify(blobs[0], r.Height).Kind)
			assert.Equal(t, codec.KindMetadata, c.Classify(blobs[1], r.Height).Kind)
		})
	}
}

func TestCreate_IndexPointsAtDataHeight(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetLag(3)
	s := h.open(t, ModeIndexed)

	r := h.create(t, s, "hello")
	at, ok := s.Metadata().Index[r.ID]
	require.True(t, ok)
	assert.Equal(t, r.Height, at)
	assert.Equal(t, r.Height, s.Metadata().Height)
}

func TestUpdate(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			created := h.create(t, s, "v1")

			updated, err := s.Update(h.ctx, created.ID, []byte("v2"))
			require.NoError(t, err)
			assert.Equal(t, created.ID, updated.ID)
			assert.True(t, created.CreatedAt.Equal(updated.CreatedAt), "created_at preserved")
			require.NotNil(t, updated.UpdatedAt)
			requireAfter(t, *updated.UpdatedAt, updated.CreatedAt)

			got, err := s.Read(h.ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got.Payload)
			require.NotNil(t, got.UpdatedAt)
			requireAfter(t, *got.UpdatedAt, got.CreatedAt)
			assert.Equal(t, uint64(1), s.Metadata().RecordCount, "update does not change the count")
		})
	}
}

func TestUpdate_FrozenClockStillAdvancesUpdatedAt(t *testing.T) {
	h := newHarness(t)
	h.clock = testutil.NewDeterministicClockAt(testutil.Epoch, 0)
	s := h.open(t, ModeIndexed)
	created := h.create(t, s, "v1")

	first, err := s.Update(h.ctx, created.ID, []byte("v2"))
	require.NoError(t, err)
	requireAfter(t, *first.UpdatedAt, created.CreatedAt)

	second, err := s.Update(h.ctx, created.ID, []byte("v3"))
	require.NoError(t, err)
	requireAfter(t, *second.UpdatedAt, *first.UpdatedAt)
}

func TestUpdate_Missing(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			before := h.submits()

			_, err := s.Update(h.ctx, "nope", []byte("x"))
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
			assert.Equal(t, before, h.submits())
		})
	}
}

// Scenario: two sequential writes A then B to the same id.
func TestLatestVersionWins(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			r := h.create(t, s, "A")
			_, err := s.Update(h.ctx, r.ID, []byte("B"))
			require.NoError(t, err)

			got, err := s.Read(h.ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, []byte("B"), got.Payload)

			history, err := s.History(h.ctx, r.ID)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, []byte("A"), history[0].Payload)
			assert.Equal(t, []byte("B"), history[1].Payload)
			assert.Less(t, history[0].Height, history[1].Height)

			list, err := s.List(h.ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"B"}, payloads(list))
		})
	}
}

func TestList_NoDuplicates(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			a := h.create(t, s, "a1")
			b := h.create(t, s, "b1")
			for i := 2; i <= 4; i++ {
				_, err := s.Update(h.ctx, a.ID, fmt.Appendf(nil, "a%d", i))
				require.NoError(t, err)
			}
			_, err := s.Update(h.ctx, b.ID, []byte("b2"))
			require.NoError(t, err)

			list, err := s.List(h.ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{a.ID, b.ID}, recordIDs(list))
			assert.Equal(t, []string{"a4", "b2"}, payloads(list))
		})
	}
}

func TestList_OrderedByCreatedAtThenID(t *testing.T) {
	h := newHarness(t)
	h.clock = testutil.NewDeterministicClockAt(testutil.Epoch, 0)
	gen := testutil.NewFixedIDGenerator("zeta", "alpha", "mid")
	s := h.open(t, ModeIndexed, func(o *Options) { o.NewID = gen })

	for _, p := range []string{"1", "2", "3"} {
		h.create(t, s, p)
	}
	list, err := s.List(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, recordIDs(list), "equal created_at falls back to id")
}

func TestDelete(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			keep := h.create(t, s, "keep")
			gone := h.create(t, s, "gone")
			require.Equal(t, uint64(2), s.Metadata().RecordCount)

			require.NoError(t, s.Delete(h.ctx, gone.ID))

			_, err := s.Read(h.ctx, gone.ID)
			assert.True(t, IsNotFound(err))

			list, err := s.List(h.ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{keep.ID}, recordIDs(list))
			assert.Equal(t, uint64(1), s.Metadata().RecordCount)

			if mode == ModeIndexed {
				m := s.Metadata()
				assert.True(t, m.IsDeleted(gone.ID))
				assert.NotContains(t, m.Index, gone.ID)
			}

			history, err := s.History(h.ctx, gone.ID)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.True(t, history[1].Deleted)

			// Deleting twice finds nothing to delete.
			err = s.Delete(h.ctx, gone.ID)
			assert.True(t, IsNotFound(err))
		})
	}
}

// Scenario: delete of a nonexistent id.
func TestDelete_Missing(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			h.create(t, s, "x")
			before := h.submits()

			err := s.Delete(h.ctx, "does-not-exist")
			require.Error(t, err)
			assert.True(t, IsNotFound(err))
			assert.Equal(t, uint64(1), s.Metadata().RecordCount)
			assert.Equal(t, before, h.submits(), "nothing submitted")
		})
	}
}

func TestRejectedSubmitLeavesIndexUnchanged(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			r := h.create(t, s, "a")
			before := s.Metadata()

			h.ledger.RejectNextSubmit(errors.New("insufficient fee"))
			_, err := s.Create(h.ctx, []byte("b"))
			require.Error(t, err)
			assert.True(t, ledger.IsRejected(err))

			h.ledger.RejectNextSubmit(errors.New("insufficient fee"))
			require.Error(t, s.Delete(h.ctx, r.ID))

			after := s.Metadata()
			assert.Equal(t, before.Index, after.Index)
			assert.Equal(t, before.RecordCount, after.RecordCount)
			assert.Equal(t, before.Height, after.Height)

			got, err := s.Read(h.ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, []byte("a"), got.Payload)
		})
	}
}

func TestReopen_IsIdempotent(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			h.ledger.SetLag(2)
			first := h.open(t, mode)
			a := h.create(t, first, "a")
			b := h.create(t, first, "b")
			_, err := first.Update(h.ctx, a.ID, []byte("a2"))
			require.NoError(t, err)
			require.NoError(t, first.Delete(h.ctx, b.ID))
			h.ledger.SetLag(0)

			second := h.open(t, mode)
			third := h.open(t, mode)
			assert.Equal(t, index.OriginFound, second.Origin())

			for _, s := range []*Store{second, third} {
				m := s.Metadata()
				want := first.Metadata()
				assert.Equal(t, want.StartHeight, m.StartHeight)
				assert.Equal(t, want.Index, m.Index)
				assert.Equal(t, want.Deleted, m.Deleted)
				assert.Equal(t, want.RecordCount, m.RecordCount)
			}

			got, err := second.Read(h.ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, []byte("a2"), got.Payload)
			_, err = second.Read(h.ctx, b.ID)
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestReopen_WithHint(t *testing.T) {
	h := newHarness(t)
	first := h.open(t, ModeIndexed)
	r := h.create(t, first, "hello")
	anchor := first.Metadata().Height

	h.ledger.Advance(5000)
	hint := anchor
	s := h.open(t, ModeIndexed, func(o *Options) { o.Hint = &hint })
	assert.Equal(t, index.OriginHint, s.Origin())

	got, err := s.Read(h.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload)
}

func TestCrossMode(t *testing.T) {
	t.Run("indexed log read by scan store", func(t *testing.T) {
		h := newHarness(t)
		w := h.open(t, ModeIndexed)
		a := h.create(t, w, "a")
		b := h.create(t, w, "b")
		require.NoError(t, w.Delete(h.ctx, a.ID))

		r := h.open(t, ModeScan)
		list, err := r.List(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID}, recordIDs(list))
	})

	t.Run("scan log read by indexed store rebuilds the index", func(t *testing.T) {
		h := newHarness(t)
		w := h.open(t, ModeScan)
		a := h.create(t, w, "a")
		b := h.create(t, w, "b")
		_, err := w.Update(h.ctx, b.ID, []byte("b2"))
		require.NoError(t, err)
		require.NoError(t, w.Delete(h.ctx, a.ID))

		r := h.open(t, ModeIndexed)
		m := r.Metadata()
		assert.True(t, m.Indexed)
		assert.Equal(t, []string{b.ID}, m.LiveIDs())
		assert.True(t, m.IsDeleted(a.ID))

		got, err := r.Read(h.ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("b2"), got.Payload)

		// The next write persists the rebuilt directory.
		c := h.create(t, r, "c")
		again := h.open(t, ModeIndexed)
		assert.Equal(t, []string{b.ID, c.ID}, again.Metadata().LiveIDs())
	})
}

func TestList_OmitsUnfetchableHeights(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			a := h.create(t, s, "a")
			b := h.create(t, s, "b")
			c := h.create(t, s, "c")
			h.ledger.FailFetch(b.Height, errors.New("pruned"))

			list, err := s.List(h.ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{a.ID, c.ID}, recordIDs(list))
		})
	}
}

func TestList_TransportErrorIsReturned(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			h.create(t, s, "a")
			h.ledger.SetUnreachable(errors.New("connection reset"))

			_, err := s.List(h.ctx)
			require.Error(t, err)
			assert.True(t, ledger.IsTransport(err))
		})
	}
}

func TestRead_Missing(t *testing.T) {
	for _, mode := range modes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			s := h.open(t, mode)
			_, err := s.Read(h.ctx, "nope")
			assert.True(t, IsNotFound(err))

			_, err = s.History(h.ctx, "nope")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestRead_IgnoresOtherNamespaces(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, ModeScan)
	mine := h.create(t, s, "mine")

	otherNS, err := ledger.NamespaceFromString("other", ledger.DefaultNamespaceWidth)
	require.NoError(t, err)
	other := h.open(t, ModeScan, func(o *Options) { o.Namespace = otherNS })
	h.create(t, other, "theirs")

	list, err := s.List(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, recordIDs(list))
}

func TestCBORStoreReadableByJSONStore(t *testing.T) {
	h := newHarness(t)
	cborCodec, err := codec.New(codec.Options{Format: codec.FormatCBOR, Compress: true, CompressThreshold: 16})
	require.NoError(t, err)

	w := h.open(t, ModeIndexed, func(o *Options) { o.Codec = cborCodec })
	big := make([]byte, 4096)
	r, err := w.Create(h.ctx, big)
	require.NoError(t, err)

	reader := h.open(t, ModeIndexed)
	got, err := reader.Read(h.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, big, got.Payload)
}

func TestConcurrentCreates(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, ModeIndexed)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Create(h.ctx, fmt.Appendf(nil, "v%d", i)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	m := s.Metadata()
	assert.Equal(t, uint64(n), m.RecordCount)
	assert.Len(t, m.LiveIDs(), n)

	list, err := s.List(h.ctx)
	require.NoError(t, err)
	assert.Len(t, list, n)

	// The persisted directory has every record.
	again := h.open(t, ModeIndexed)
	assert.Len(t, again.Metadata().LiveIDs(), n)
}

func TestTimestampsAreUTC(t *testing.T) {
	h := newHarness(t)
	h.clock = testutil.NewDeterministicClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600)), time.Second)
	s := h.open(t, ModeScan)
	r := h.create(t, s, "x")

	got, err := s.Read(h.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}
