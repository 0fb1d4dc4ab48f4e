package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/ledger/memledger"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	ledger *memledger.Ledger
	ns     ledger.Namespace
	codec  *codec.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ns, err := ledger.NamespaceFromString("scan", ledger.DefaultNamespaceWidth)
	require.NoError(t, err)
	return &fixture{
		ctx:    context.Background(),
		ledger: memledger.New(1),
		ns:     ns,
		codec:  codec.Default(),
	}
}

func (f *fixture) record(t *testing.T, id, payload string) []byte {
	t.Helper()
	data, err := f.codec.EncodeRecord(codec.Record{ID: id, Payload: []byte(payload), CreatedAt: t0})
	require.NoError(t, err)
	return data
}

func (f *fixture) submit(t *testing.T, blobs ...[]byte) ledger.Height {
	t.Helper()
	h, err := f.ledger.Submit(f.ctx, f.ns, blobs)
	require.NoError(t, err)
	return h
}

type seen struct {
	Height ledger.Height
	Index  int
	ID     string
}

func ids(items []Item) []seen {
	out := make([]seen, 0, len(items))
	for _, it := range items {
		s := seen{Height: it.Height, Index: it.Index}
		if it.Record != nil {
			s.ID = it.Record.ID
		}
		out = append(out, s)
	}
	return out
}

func TestRange(t *testing.T) {
	assert.True(t, Range{}.Empty())
	assert.True(t, Range{From: 5, To: 4}.Empty())
	assert.False(t, Range{From: 0, To: 1}.Empty())
	assert.Equal(t, uint64(1), Range{From: 0, To: 1}.Len())
	assert.Equal(t, uint64(10), Range{From: 3, To: 12}.Len())
	assert.Equal(t, uint64(0), Range{From: 9, To: 3}.Len())
}

func TestScanner_DescendingOrder(t *testing.T) {
	f := newFixture(t)
	h1 := f.submit(t, f.record(t, "a", "1"), f.record(t, "b", "1"))
	h2 := f.submit(t, f.record(t, "c", "1"), f.record(t, "d", "1"))

	items, err := Collect(New(f.ctx, f.ledger, f.ns, f.codec, Range{From: 1, To: h2}, Descending))
	require.NoError(t, err)
	assert.Equal(t, []seen{
		{h2, 1, "d"}, {h2, 0, "c"},
		{h1, 1, "b"}, {h1, 0, "a"},
	}, ids(items))
}

func TestScanner_AscendingOrder(t *testing.T) {
	f := newFixture(t)
	h1 := f.submit(t, f.record(t, "a", "1"), f.record(t, "b", "1"))
	f.ledger.Advance(3)
	h2 := f.submit(t, f.record(t, "c", "1"))

	items, err := Collect(New(f.ctx, f.ledger, f.ns, f.codec, Range{From: h1, To: h2}, Ascending))
	require.NoError(t, err)
	assert.Equal(t, []seen{{h1, 0, "a"}, {h1, 1, "b"}, {h2, 0, "c"}}, ids(items))
}

func TestScanner_EmptyRange(t *testing.T) {
	f := newFixture(t)
	s := New(f.ctx, f.ledger, f.ns, f.codec, Range{From: 10, To: 5}, Descending)
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())

	_, fetches := f.ledger.Stats()
	assert.Zero(t, fetches, "an empty range makes no ledger calls")
}

func TestScanner_EmptyHeightsYieldNothing(t *testing.T) {
	f := newFixture(t)
	f.ledger.Advance(5)

	s := New(f.ctx, f.ledger, f.ns, f.codec, Range{From: 1, To: 6}, Descending)
	items, err := Collect(s)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 6, s.Fetched())
	assert.Zero(t, s.Skipped())
}

func TestScanner_ClassifiesBlobs(t *testing.T) {
	f := newFixture(t)
	meta, err := f.codec.EncodeMetadata(codec.NewMetadata(0, t0))
	require.NoError(t, err)
	h := f.submit(t, f.record(t, "a", "x"), []byte("noise"), meta)

	items, err := Collect(New(f.ctx, f.ledger, f.ns, f.codec, Range{From: h, To: h}, Ascending))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, codec.KindRecord, items[0].Kind)
	assert.Equal(t, codec.KindUnrecognized, items[1].Kind)
	assert.Equal(t, []byte("noise"), items[1].Raw)
	assert.Equal(t, codec.KindMetadata, items[2].Kind)
	assert.Equal(t, h, items[2].Metadata.StartHeight, "self-anchored start resolves to the blob's height")
}

func TestScanner_SkipsFailedHeights(t *testing.T) {
	f := newFixture(t)
	h1 := f.submit(t, f.record(t, "a", "1"))
	h2 := f.submit(t, f.record(t, "b", "1"))
	h3 := f.submit(t, f.record(t, "c", "1"))
	f.ledger.FailFetch(h2, errors.New("pruned"))

	s := New(f.ctx, f.ledger, f.ns, f.codec, Range{From: h1, To: h3}, Descending)
	items, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, []seen{{h3, 0, "c"}, {h1, 0, "a"}}, ids(items))
	assert.Equal(t, 1, s.Skipped())
}

func TestScanner_TransportErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	h := f.submit(t, f.record(t, "a", "1"))
	f.ledger.SetUnreachable(errors.New("connection refused"))

	s := New(f.ctx, f.ledger, f.ns, f.codec, Range{From: 1, To: h}, Descending)
	assert.False(t, s.Next())
	require.Error(t, s.Err())
	assert.True(t, ledger.IsTransport(s.Err()))

	// Not restartable.
	f.ledger.SetUnreachable(nil)
	assert.False(t, s.Next())
}

func TestScanner_CanceledContext(t *testing.T) {
	f := newFixture(t)
	h := f.submit(t, f.record(t, "a", "1"))

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	s := New(ctx, f.ledger, f.ns, f.codec, Range{From: 1, To: h}, Ascending)
	assert.False(t, s.Next())
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestScanner_OtherNamespaceInvisible(t *testing.T) {
	f := newFixture(t)
	other, err := ledger.NamespaceFromString("other", ledger.DefaultNamespaceWidth)
	require.NoError(t, err)
	_, err = f.ledger.Submit(f.ctx, other, [][]byte{f.record(t, "x", "1")})
	require.NoError(t, err)
	h := f.submit(t, f.record(t, "mine", "1"))

	items, err := Collect(New(f.ctx, f.ledger, f.ns, f.codec, Range{From: 1, To: h}, Descending))
	require.NoError(t, err)
	assert.Equal(t, []seen{{h, 0, "mine"}}, ids(items))
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "ascending", Ascending.String())
	assert.Equal(t, "descending", Descending.String())
}
