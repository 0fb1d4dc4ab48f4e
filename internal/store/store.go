package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/blobdb/internal/clock"
	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/index"
	"github.com/roach88/blobdb/internal/ledger"
)

// ErrNotFound is returned when an id is absent or deleted.
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Mode selects how records are located.
type Mode string

const (
	ModeIndexed Mode = "indexed"
	ModeScan    Mode = "scan"
)

// ParseMode validates a mode name. Empty means ModeIndexed.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIndexed:
		return ModeIndexed, nil
	case ModeScan:
		return ModeScan, nil
	}
	return "", fmt.Errorf("unknown store mode %q (want %q or %q)", s, ModeIndexed, ModeScan)
}

// State is the store lifecycle. Ready is terminal.
type State int32

const (
	StateUninitialized State = iota
	StateDiscovering
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Record is the newest live version of a stored value.
type Record struct {
	ID        string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt *time.Time

	// Height is where this version was found.
	Height ledger.Height
}

// Version is one entry in a record's history.
type Version struct {
	Record
	Deleted bool
}

func fromCodec(r *codec.Record, h ledger.Height) Record {
	return Record{
		ID:        r.ID,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Height:    h,
	}
}

// Options configures Open.
type Options struct {
	// Namespace scopes all blobs of the store. Required.
	Namespace ledger.Namespace

	// Hint is a height known to hold the store's metadata.
	Hint *ledger.Height

	// SearchLimit bounds discovery's lookback. Zero means index.DefaultSearchLimit.
	SearchLimit uint64

	// Mode defaults to ModeIndexed.
	Mode Mode

	// Codec defaults to codec.Default().
	Codec *codec.Codec

	// Clock defaults to clock.System.
	Clock clock.Clock

	// NewID defaults to clock.UUIDv7Generator.
	NewID clock.IDGenerator

	Logger *zap.Logger
}

// Store is a record store bound to one namespace.
//
// Thread-safety: all methods are safe for concurrent use. Mutations are
// serialized; reads are not blocked by them.
type Store struct {
	client ledger.Client
	ns     ledger.Namespace
	mode   Mode
	codec  *codec.Codec
	clock  clock.Clock
	ids    clock.IDGenerator
	logger *zap.Logger

	state atomic.Int32
	index *index.Index

	// writeMu serializes read-modify-submit sequences against the index.
	writeMu sync.Mutex
}

// Open discovers or creates the store's metadata in ns and returns a ready
// store. Transport failures and an unset namespace are returned as errors.
func Open(ctx context.Context, client ledger.Client, opts Options) (*Store, error) {
	if opts.Namespace.IsZero() {
		return nil, &ledger.Error{
			Code: ledger.ErrCodeInvalidChannel,
			Op:   "open",
			Err:  errors.New("namespace is required"),
		}
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	s := &Store{
		client: client,
		ns:     opts.Namespace,
		mode:   mode,
		codec:  opts.Codec,
		clock:  opts.Clock,
		ids:    opts.NewID,
		logger: opts.Logger,
	}
	if s.codec == nil {
		s.codec = codec.Default()
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.ids == nil {
		s.ids = clock.UUIDv7Generator{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(
		zap.Stringer("namespace", s.ns),
		zap.String("mode", string(s.mode)),
	)

	s.setState(StateDiscovering)
	x, err := index.Discover(ctx, client, s.ns, s.codec, index.Options{
		Hint:        opts.Hint,
		SearchLimit: opts.SearchLimit,
		Indexed:     mode == ModeIndexed,
		Clock:       s.clock,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if mode == ModeIndexed && !x.Snapshot().Indexed {
		if err := index.Rebuild(ctx, client, s.ns, s.codec, x, s.logger); err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
	}
	s.index = x
	s.setState(StateReady)
	return s, nil
}

func (s *Store) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("store state", zap.Stringer("state", st))
}

// State returns the lifecycle state.
func (s *Store) State() State {
	return State(s.state.Load())
}

// Mode returns the lookup strategy.
func (s *Store) Mode() Mode {
	return s.mode
}

// Namespace returns the store's namespace.
func (s *Store) Namespace() ledger.Namespace {
	return s.ns
}

// Origin reports how the store's metadata was obtained at open.
func (s *Store) Origin() index.Origin {
	return s.index.Origin()
}

// Metadata returns a snapshot of the current metadata.
func (s *Store) Metadata() codec.Metadata {
	return s.index.Snapshot()
}
