// Package scan iterates over a closed range of ledger heights, fetching the
// namespace's blobs at each height and classifying them.
package scan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/ledger"
)

// Direction of a scan.
type Direction int

const (
	// Descending visits heights high to low and, inside a height, blobs
	// last to first. The first item seen for an id is its newest version.
	Descending Direction = iota

	// Ascending visits heights low to high and blobs in batch order.
	Ascending
)

func (d Direction) String() string {
	if d == Ascending {
		return "ascending"
	}
	return "descending"
}

// Range is a closed interval of heights. From 0 is treated as 1.
type Range struct {
	From ledger.Height
	To   ledger.Height
}

// Empty reports whether r contains no valid height.
func (r Range) Empty() bool {
	return r.To == 0 || max(r.From, 1) > r.To
}

// Len returns the number of heights in r.
func (r Range) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return uint64(r.To-max(r.From, 1)) + 1
}

// Item is one classified blob.
type Item struct {
	Height ledger.Height

	// Index is the blob's position within its height's batch.
	Index int

	Kind     codec.Kind
	Metadata *codec.Metadata
	Record   *codec.Record
	Raw      []byte
}

// Scanner is a pull iterator over classified blobs. It is not restartable;
// scan again to start over.
//
//	s := scan.New(ctx, client, ns, c, scan.Range{From: 1, To: head}, scan.Descending)
//	for s.Next() {
//		item := s.Item()
//		...
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
//
// A fetch error at a single height skips that height. A transport error
// ends the scan and is reported by Err.
type Scanner struct {
	ctx    context.Context
	client ledger.Client
	ns     ledger.Namespace
	codec  *codec.Codec
	dir    Direction
	logger *zap.Logger

	lo, hi  ledger.Height
	cur     ledger.Height
	started bool
	done    bool

	height ledger.Height
	blobs  [][]byte
	order  []int

	item    Item
	err     error
	skipped int
	fetched int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger for per-height skip messages.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a scanner. No ledger call is made until the first Next.
func New(ctx context.Context, client ledger.Client, ns ledger.Namespace, c *codec.Codec, r Range, dir Direction, opts ...Option) *Scanner {
	s := &Scanner{
		ctx:    ctx,
		client: client,
		ns:     ns,
		codec:  c,
		dir:    dir,
		logger: zap.NewNop(),
		lo:     max(r.From, 1),
		hi:     r.To,
		done:   r.Empty(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next advances to the next classified blob. It returns false when the
// range is exhausted or a fatal error occurred.
func (s *Scanner) Next() bool {
	for {
		if s.err != nil {
			return false
		}
		if len(s.order) > 0 {
			idx := s.order[0]
			s.order = s.order[1:]
			raw := s.blobs[idx]
			cl := s.codec.Classify(raw, s.height)
			s.item = Item{
				Height:   s.height,
				Index:    idx,
				Kind:     cl.Kind,
				Metadata: cl.Metadata,
				Record:   cl.Record,
				Raw:      raw,
			}
			return true
		}
		if !s.fetchNext() {
			return false
		}
	}
}

// Item returns the current blob. Valid only after Next returned true.
func (s *Scanner) Item() Item {
	return s.item
}

// Err returns the error that ended the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}

// Skipped returns the number of heights skipped because their fetch failed.
func (s *Scanner) Skipped() int {
	return s.skipped
}

// Fetched returns the number of heights fetched successfully so far.
func (s *Scanner) Fetched() int {
	return s.fetched
}

// nextHeight steps cur in the scan direction.
func (s *Scanner) nextHeight() (ledger.Height, bool) {
	if s.done {
		return 0, false
	}
	if !s.started {
		s.started = true
		if s.dir == Ascending {
			s.cur = s.lo
		} else {
			s.cur = s.hi
		}
		return s.cur, true
	}
	if s.dir == Ascending {
		if s.cur >= s.hi {
			s.done = true
			return 0, false
		}
		s.cur++
	} else {
		if s.cur <= s.lo {
			s.done = true
			return 0, false
		}
		s.cur--
	}
	return s.cur, true
}

// fetchNext loads the next height that fetches successfully. Heights with
// no blobs load an empty batch.
func (s *Scanner) fetchNext() bool {
	h, ok := s.nextHeight()
	if !ok {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}

	blobs, err := s.client.GetAll(s.ctx, h, s.ns)
	if err != nil {
		if ledger.IsTransport(err) {
			s.err = fmt.Errorf("scan height %d: %w", h, err)
			return false
		}
		s.skipped++
		s.logger.Debug("skipping height",
			zap.Uint64("height", uint64(h)),
			zap.Error(err),
		)
		s.blobs, s.order = nil, nil
		return true
	}

	s.fetched++
	s.height = h
	s.blobs = blobs
	s.order = make([]int, len(blobs))
	for i := range blobs {
		if s.dir == Descending {
			s.order[i] = len(blobs) - 1 - i
		} else {
			s.order[i] = i
		}
	}
	return true
}

// Collect drains s into a slice.
func Collect(s *Scanner) ([]Item, error) {
	var items []Item
	for s.Next() {
		items = append(items, s.Item())
	}
	return items, s.Err()
}
