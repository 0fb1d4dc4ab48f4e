package memledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blobdb/internal/ledger"
)

func testNamespace(t *testing.T, name string) ledger.Namespace {
	t.Helper()
	ns, err := ledger.NamespaceFromString(name, 8)
	require.NoError(t, err)
	return ns
}

func TestSubmit_NewHeightPerBatch(t *testing.T) {
	ctx := context.Background()
	l := New(10)
	ns := testNamespace(t, "demo")

	h1, err := l.Submit(ctx, ns, [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, ledger.Height(11), h1)

	h2, err := l.Submit(ctx, ns, [][]byte{[]byte("c")})
	require.NoError(t, err)
	assert.Equal(t, ledger.Height(12), h2)

	head, err := l.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, h2, head)

	blobs, err := l.GetAll(ctx, h1, ns)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, blobs)
}

func TestGetAll_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	l := New(1)
	a := testNamespace(t, "alpha")
	b := testNamespace(t, "beta")

	h, err := l.Submit(ctx, a, [][]byte{[]byte("only-a")})
	require.NoError(t, err)

	blobs, err := l.GetAll(ctx, h, b)
	require.NoError(t, err)
	assert.Nil(t, blobs)

	blobs, err = l.GetAll(ctx, 999, a)
	require.NoError(t, err)
	assert.Nil(t, blobs)
}

func TestLagAndAdvance(t *testing.T) {
	ctx := context.Background()
	l := New(5)
	ns := testNamespace(t, "demo")

	l.Advance(3)
	l.SetLag(2)
	h, err := l.Submit(ctx, ns, [][]byte{[]byte("x")})
	require.NoError(t, err)
	assert.Equal(t, ledger.Height(11), h)
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	l := New(1)
	ns := testNamespace(t, "demo")

	l.RejectNextSubmit(errors.New("fee too low"))
	_, err := l.Submit(ctx, ns, [][]byte{[]byte("x")})
	require.Error(t, err)
	assert.True(t, ledger.IsRejected(err))

	h, err := l.Submit(ctx, ns, [][]byte{[]byte("x")})
	require.NoError(t, err)

	l.FailFetch(h, errors.New("pruned"))
	_, err = l.GetAll(ctx, h, ns)
	require.Error(t, err)
	assert.True(t, ledger.IsFetch(err))

	l.ClearFailures()
	_, err = l.GetAll(ctx, h, ns)
	require.NoError(t, err)

	l.SetUnreachable(errors.New("connection refused"))
	_, err = l.Head(ctx)
	assert.True(t, ledger.IsTransport(err))
	l.SetUnreachable(nil)
	_, err = l.Head(ctx)
	require.NoError(t, err)

	submits, fetches := l.Stats()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 2, fetches)
}

func TestSubmit_EmptyBatchRejected(t *testing.T) {
	l := New(1)
	_, err := l.Submit(context.Background(), testNamespace(t, "demo"), nil)
	assert.True(t, ledger.IsRejected(err))
}
