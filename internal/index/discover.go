package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/blobdb/internal/clock"
	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/scan"
)

// DefaultSearchLimit is how many heights below head discovery searches when
// no limit is configured. It is a lookback bound, not a protocol guarantee:
// a store whose newest metadata is older than the window is not found.
const DefaultSearchLimit uint64 = 1000

// Options configures Discover.
type Options struct {
	// Hint is a height known to hold the store's metadata.
	Hint *ledger.Height

	// SearchLimit bounds the lookback window. Zero means DefaultSearchLimit.
	SearchLimit uint64

	// Indexed selects the shape of minted metadata.
	Indexed bool

	Clock  clock.Clock
	Logger *zap.Logger
}

// Window returns the heights searched for a given head and limit.
func Window(head ledger.Height, limit uint64) scan.Range {
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	from := ledger.Height(1)
	if uint64(head) > limit {
		from = head - ledger.Height(limit)
	}
	return scan.Range{From: from, To: head}
}

// Discover finds the newest metadata for ns or mints one.
//
// With a hint, metadata at exactly that height is adopted verbatim.
// Otherwise the window [max(1, head-limit), head] is scanned from head
// down, newest blob first, and the first metadata wins. When nothing is
// found, fresh metadata is submitted on its own. Its start height is the
// hint if one was given, otherwise the height the ledger confirms for the
// submission.
//
// Fetch failures at single heights are skipped; transport failures and
// rejected submissions are returned.
func Discover(ctx context.Context, client ledger.Client, ns ledger.Namespace, c *codec.Codec, opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	logger = logger.With(zap.Stringer("namespace", ns))

	head, err := client.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover: head: %w", err)
	}

	if opts.Hint != nil {
		m, ok, err := metadataAt(ctx, client, ns, c, *opts.Hint)
		if err != nil {
			return nil, err
		}
		if ok {
			logger.Info("adopted metadata at hint",
				zap.Uint64("height", uint64(*opts.Hint)),
				zap.Uint64("start_height", uint64(m.StartHeight)),
				zap.Uint64("record_count", m.RecordCount),
			)
			return New(m, OriginHint), nil
		}
		logger.Info("no metadata at hint, searching",
			zap.Uint64("hint", uint64(*opts.Hint)),
		)
	}

	window := Window(head, opts.SearchLimit)
	logger.Info("searching for metadata",
		zap.Uint64("from", uint64(max(window.From, 1))),
		zap.Uint64("to", uint64(window.To)),
	)
	s := scan.New(ctx, client, ns, c, window, scan.Descending, scan.WithLogger(logger))
	for s.Next() {
		item := s.Item()
		if item.Kind != codec.KindMetadata {
			continue
		}
		logger.Info("found metadata",
			zap.Uint64("height", uint64(item.Height)),
			zap.Uint64("start_height", uint64(item.Metadata.StartHeight)),
			zap.Uint64("record_count", item.Metadata.RecordCount),
			zap.Int("skipped_heights", s.Skipped()),
		)
		return New(*item.Metadata, OriginFound), nil
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	return mint(ctx, client, ns, c, opts, clk, logger)
}

// metadataAt returns the last metadata blob at h. Fetch failures count as
// "nothing there".
func metadataAt(ctx context.Context, client ledger.Client, ns ledger.Namespace, c *codec.Codec, h ledger.Height) (codec.Metadata, bool, error) {
	blobs, err := client.GetAll(ctx, h, ns)
	if err != nil {
		if ledger.IsTransport(err) {
			return codec.Metadata{}, false, fmt.Errorf("discover: hint %d: %w", h, err)
		}
		return codec.Metadata{}, false, nil
	}
	for i := len(blobs) - 1; i >= 0; i-- {
		if cl := c.Classify(blobs[i], h); cl.Kind == codec.KindMetadata {
			return *cl.Metadata, true, nil
		}
	}
	return codec.Metadata{}, false, nil
}

func mint(ctx context.Context, client ledger.Client, ns ledger.Namespace, c *codec.Codec, opts Options, clk clock.Clock, logger *zap.Logger) (*Index, error) {
	var start ledger.Height
	if opts.Hint != nil {
		start = *opts.Hint
	}
	m := codec.NewMetadata(start, clk.Now())
	m.Indexed = opts.Indexed

	blob, err := c.EncodeMetadata(m)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	h, err := client.Submit(ctx, ns, [][]byte{blob})
	if err != nil {
		return nil, fmt.Errorf("discover: submit metadata: %w", err)
	}

	x := New(m, OriginMinted)
	x.Commit(m, h)
	logger.Info("created metadata",
		zap.Uint64("height", uint64(h)),
		zap.Uint64("start_height", uint64(x.StartHeight())),
	)
	return x, nil
}

// Rebuild reconstructs the id directory of x from the log by scanning
// [start, head] in ascending order. It is used when the adopted metadata
// carries no directory. The result is kept in memory; the next mutation
// persists it.
func Rebuild(ctx context.Context, client ledger.Client, ns ledger.Namespace, c *codec.Codec, x *Index, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	head, err := client.Head(ctx)
	if err != nil {
		return fmt.Errorf("rebuild index: head: %w", err)
	}

	m := x.Snapshot()
	m.Index = make(map[string]ledger.Height)
	m.Deleted = make(map[string]struct{})

	s := scan.New(ctx, client, ns, c, scan.Range{From: m.StartHeight, To: head}, scan.Ascending, scan.WithLogger(logger))
	for s.Next() {
		item := s.Item()
		if item.Kind != codec.KindRecord {
			continue
		}
		id := item.Record.ID
		if item.Record.Deleted {
			delete(m.Index, id)
			m.Deleted[id] = struct{}{}
			continue
		}
		m.Index[id] = item.Height
		delete(m.Deleted, id)
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	m.Indexed = true
	m.RecordCount = uint64(len(m.Index))
	x.Replace(m)
	logger.Info("rebuilt index",
		zap.Int("records", len(m.Index)),
		zap.Int("deleted", len(m.Deleted)),
		zap.Int("skipped_heights", s.Skipped()),
	)
	return nil
}
