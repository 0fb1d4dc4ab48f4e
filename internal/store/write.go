package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/blobdb/internal/clock"
	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/ledger"
)

// Create stores payload under a freshly minted id.
func (s *Store) Create(ctx context.Context, payload []byte) (Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock.Now()
	rec := codec.Record{
		ID:        s.ids.Generate(),
		Payload:   payload,
		CreatedAt: now,
	}

	next := s.nextMetadata(now)
	if next.Indexed {
		next.Index[rec.ID] = 0
		delete(next.Deleted, rec.ID)
	}
	next.RecordCount++

	h, err := s.submit(ctx, "create", rec, next)
	if err != nil {
		return Record{}, err
	}
	return fromCodec(&rec, h), nil
}

// Update stores a new version of an existing record. The new version keeps
// the original created_at and gets an updated_at strictly after it.
func (s *Store) Update(ctx context.Context, id string, payload []byte) (Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.read(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("update %s: %w", id, err)
	}

	now := clock.After(s.clock.Now(), latest(existing))
	rec := codec.Record{
		ID:        id,
		Payload:   payload,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: &now,
	}

	next := s.nextMetadata(now)
	if next.Indexed {
		next.Index[id] = 0
	}

	h, err := s.submit(ctx, "update", rec, next)
	if err != nil {
		return Record{}, err
	}
	return fromCodec(&rec, h), nil
}

// Delete appends a tombstone for id. Deleting an absent id returns
// ErrNotFound and submits nothing.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.read(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	now := clock.After(s.clock.Now(), latest(existing))
	tomb := codec.Record{
		ID:        id,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: &now,
		Deleted:   true,
	}

	next := s.nextMetadata(now)
	if next.Indexed {
		delete(next.Index, id)
		next.Deleted[id] = struct{}{}
	}
	if next.RecordCount > 0 {
		next.RecordCount--
	}

	_, err = s.submit(ctx, "delete", tomb, next)
	return err
}

// nextMetadata copies the current metadata and stamps it for a mutation.
// In scan mode the directory is dropped.
func (s *Store) nextMetadata(now time.Time) codec.Metadata {
	next := s.index.Snapshot()
	next.LastUpdated = now
	next.Indexed = s.mode == ModeIndexed
	if !next.Indexed {
		clear(next.Index)
		clear(next.Deleted)
	}
	return next
}

// submit writes rec and next as one batch and commits next to the index
// only after the ledger accepted it.
func (s *Store) submit(ctx context.Context, op string, rec codec.Record, next codec.Metadata) (ledger.Height, error) {
	data, err := s.codec.EncodeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	meta, err := s.codec.EncodeMetadata(next)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	h, err := s.client.Submit(ctx, s.ns, [][]byte{data, meta})
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", op, rec.ID, err)
	}
	s.index.Commit(next, h)

	s.logger.Debug("submitted",
		zap.String("op", op),
		zap.String("id", rec.ID),
		zap.Uint64("height", uint64(h)),
		zap.Int("blobs", 2),
		zap.Int("bytes", len(data)+len(meta)),
	)
	return h, nil
}

func latest(r Record) time.Time {
	if r.UpdatedAt != nil && r.UpdatedAt.After(r.CreatedAt) {
		return *r.UpdatedAt
	}
	return r.CreatedAt
}
