package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/scan"
)

// Read returns the newest live version of id, or ErrNotFound.
func (s *Store) Read(ctx context.Context, id string) (Record, error) {
	r, err := s.read(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("read %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) read(ctx context.Context, id string) (Record, error) {
	if s.mode == ModeScan {
		return s.readScan(ctx, id)
	}
	return s.readIndexed(ctx, id)
}

func (s *Store) readIndexed(ctx context.Context, id string) (Record, error) {
	h, ok := s.index.Lookup(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	blobs, err := s.client.GetAll(ctx, h, s.ns)
	if err != nil {
		return Record{}, err
	}
	if r, found := newestIn(s.codec, blobs, h, id); found {
		if r.Deleted {
			return Record{}, ErrNotFound
		}
		return fromCodec(r, h), nil
	}
	s.logger.Warn("index points at a height without the record",
		zap.String("id", id),
		zap.Uint64("height", uint64(h)),
	)
	return Record{}, ErrNotFound
}

func (s *Store) readScan(ctx context.Context, id string) (Record, error) {
	head, err := s.client.Head(ctx)
	if err != nil {
		return Record{}, err
	}
	sc := s.scanner(ctx, head, scan.Descending)
	for sc.Next() {
		item := sc.Item()
		if item.Kind != codec.KindRecord || item.Record.ID != id {
			continue
		}
		if item.Record.Deleted {
			return Record{}, ErrNotFound
		}
		return fromCodec(item.Record, item.Height), nil
	}
	if err := sc.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, ErrNotFound
}

// List returns every live record, each at its newest version, ordered by
// created_at then id. Records whose height cannot be fetched are omitted.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var (
		out []Record
		err error
	)
	if s.mode == ModeScan {
		out, err = s.listScan(ctx)
	} else {
		out, err = s.listIndexed(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) listIndexed(ctx context.Context) ([]Record, error) {
	m := s.index.Snapshot()

	byHeight := make(map[ledger.Height][]string)
	for _, id := range m.LiveIDs() {
		h := m.Index[id]
		byHeight[h] = append(byHeight[h], id)
	}

	out := make([]Record, 0, len(m.Index))
	for _, h := range slices.Sorted(maps.Keys(byHeight)) {
		blobs, err := s.client.GetAll(ctx, h, s.ns)
		if err != nil {
			if ledger.IsTransport(err) {
				return nil, err
			}
			s.logger.Debug("omitting records at unfetchable height",
				zap.Uint64("height", uint64(h)),
				zap.Strings("ids", byHeight[h]),
				zap.Error(err),
			)
			continue
		}
		for _, id := range byHeight[h] {
			r, found := newestIn(s.codec, blobs, h, id)
			if !found || r.Deleted {
				s.logger.Debug("omitting record missing at indexed height",
					zap.String("id", id),
					zap.Uint64("height", uint64(h)),
				)
				continue
			}
			out = append(out, fromCodec(r, h))
		}
	}
	return out, nil
}

func (s *Store) listScan(ctx context.Context) ([]Record, error) {
	head, err := s.client.Head(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []Record
	sc := s.scanner(ctx, head, scan.Descending)
	for sc.Next() {
		item := sc.Item()
		if item.Kind != codec.KindRecord || seen[item.Record.ID] {
			continue
		}
		seen[item.Record.ID] = true
		if !item.Record.Deleted {
			out = append(out, fromCodec(item.Record, item.Height))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns every version of id written since the store's start
// height, oldest first, including tombstones. Unfetchable heights are
// skipped.
func (s *Store) History(ctx context.Context, id string) ([]Version, error) {
	head, err := s.client.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	var out []Version
	sc := s.scanner(ctx, head, scan.Ascending)
	for sc.Next() {
		item := sc.Item()
		if item.Kind != codec.KindRecord || item.Record.ID != id {
			continue
		}
		out = append(out, Version{
			Record:  fromCodec(item.Record, item.Height),
			Deleted: item.Record.Deleted,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("history %s: %w", id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("history %s: %w", id, ErrNotFound)
	}
	return out, nil
}

func (s *Store) scanner(ctx context.Context, head ledger.Height, dir scan.Direction) *scan.Scanner {
	r := scan.Range{From: s.index.StartHeight(), To: head}
	return scan.New(ctx, s.client, s.ns, s.codec, r, dir, scan.WithLogger(s.logger))
}

// newestIn returns the last record for id in a batch.
func newestIn(c *codec.Codec, blobs [][]byte, h ledger.Height, id string) (*codec.Record, bool) {
	for i := len(blobs) - 1; i >= 0; i-- {
		cl := c.Classify(blobs[i], h)
		if cl.Kind == codec.KindRecord && cl.Record.ID == id {
			return cl.Record, true
		}
	}
	return nil, false
}
