// Package memledger provides an in-process ledger.Client.
//
// Every Submit creates a new height one above the current head. Tests can
// add empty heights, simulate inclusion lag, and inject per-height fetch
// failures or submission rejections.
package memledger

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/roach88/blobdb/internal/ledger"
)

type entry struct {
	ns   string
	data []byte
}

// Ledger is an in-memory ledger. The zero value is not usable; call New.
//
// Thread-safety: all methods are safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	heights map[ledger.Height][]entry
	head    ledger.Height

	lag         uint64
	fetchErrs   map[ledger.Height]error
	submitErr   error
	unreachable error
	submitCount int
	getAllCount int
}

var _ ledger.Client = (*Ledger)(nil)

// New creates an empty ledger whose head is at start.
// A start of 0 is treated as 1 (the first valid height).
func New(start ledger.Height) *Ledger {
	if start == 0 {
		start = 1
	}
	return &Ledger{
		heights:   make(map[ledger.Height][]entry),
		head:      start,
		fetchErrs: make(map[ledger.Height]error),
	}
}

// Submit stores blobs as one batch at a new height.
func (l *Ledger) Submit(ctx context.Context, ns ledger.Namespace, blobs [][]byte) (ledger.Height, error) {
	if err := ctx.Err(); err != nil {
		return 0, ledger.NewTransportError("submit", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unreachable != nil {
		return 0, ledger.NewTransportError("submit", l.unreachable)
	}
	if l.submitErr != nil {
		err := l.submitErr
		l.submitErr = nil
		return 0, ledger.NewRejectedError(err)
	}
	if len(blobs) == 0 {
		return 0, ledger.NewRejectedError(errors.New("empty batch"))
	}

	l.head += ledger.Height(l.lag) + 1
	key := ns.Hex()
	batch := make([]entry, 0, len(blobs))
	for _, b := range blobs {
		batch = append(batch, entry{ns: key, data: bytes.Clone(b)})
	}
	l.heights[l.head] = batch
	l.submitCount++
	return l.head, nil
}

// GetAll returns the blobs stored for ns at h in submission order.
func (l *Ledger) GetAll(ctx context.Context, h ledger.Height, ns ledger.Namespace) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.NewTransportError("get_all", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.getAllCount++
	if l.unreachable != nil {
		return nil, ledger.NewTransportError("get_all", l.unreachable)
	}
	if err, ok := l.fetchErrs[h]; ok {
		return nil, ledger.NewFetchError(h, err)
	}

	key := ns.Hex()
	var out [][]byte
	for _, e := range l.heights[h] {
		if e.ns == key {
			out = append(out, bytes.Clone(e.data))
		}
	}
	return out, nil
}

// Head returns the current highest height.
func (l *Ledger) Head(ctx context.Context) (ledger.Height, error) {
	if err := ctx.Err(); err != nil {
		return 0, ledger.NewTransportError("head", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unreachable != nil {
		return 0, ledger.NewTransportError("head", l.unreachable)
	}
	return l.head, nil
}

// Advance adds n empty heights.
func (l *Ledger) Advance(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head += ledger.Height(n)
}

// SetLag makes every later submission land n heights past the next one,
// as if other traffic was included while the submission was in flight.
func (l *Ledger) SetLag(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lag = n
}

// FailFetch makes GetAll at h fail with err until ClearFailures is called.
func (l *Ledger) FailFetch(h ledger.Height, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchErrs[h] = err
}

// RejectNextSubmit makes the next Submit fail with a rejection wrapping err.
func (l *Ledger) RejectNextSubmit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = err
}

// SetUnreachable makes every call fail with a transport error wrapping err.
// Pass nil to restore the ledger.
func (l *Ledger) SetUnreachable(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unreachable = err
}

// ClearFailures removes all injected fetch failures.
func (l *Ledger) ClearFailures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchErrs = make(map[ledger.Height]error)
}

// Stats reports how many submissions and fetches the ledger has served.
func (l *Ledger) Stats() (submits, fetches int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitCount, l.getAllCount
}
