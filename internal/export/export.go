// Package export writes a point-in-time snapshot of a store's live records
// to a local file or an S3-compatible bucket.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/ledger"
	"github.com/roach88/blobdb/internal/store"
)

// CompressedSuffix selects zstd compression of the snapshot file.
const CompressedSuffix = ".zst"

// Snapshot is the exported document.
type Snapshot struct {
	Namespace   string           `json:"namespace"`
	Mode        string           `json:"mode"`
	StartHeight ledger.Height    `json:"start_height"`
	Height      ledger.Height    `json:"metadata_height"`
	RecordCount uint64           `json:"record_count"`
	ExportedAt  time.Time        `json:"exported_at"`
	Records     []SnapshotRecord `json:"records"`
}

// SnapshotRecord is one live record.
type SnapshotRecord struct {
	ID        string        `json:"id"`
	Payload   []byte        `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
	Height    ledger.Height `json:"height"`
}

// NewSnapshot assembles a snapshot from a listing and the metadata it was
// taken under.
func NewSnapshot(ns ledger.Namespace, mode store.Mode, meta codec.Metadata, records []store.Record, at time.Time) Snapshot {
	snap := Snapshot{
		Namespace:   ns.String(),
		Mode:        string(mode),
		StartHeight: meta.StartHeight,
		Height:      meta.Height,
		RecordCount: meta.RecordCount,
		ExportedAt:  at.UTC(),
		Records:     make([]SnapshotRecord, 0, len(records)),
	}
	for _, r := range records {
		snap.Records = append(snap.Records, SnapshotRecord{
			ID:        r.ID,
			Payload:   r.Payload,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
			Height:    r.Height,
		})
	}
	return snap
}

// Encode writes snap as indented JSON, zstd-compressed if compress is set.
func Encode(w io.Writer, snap Snapshot, compress bool) error {
	if !compress {
		return encodeJSON(w, snap)
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := encodeJSON(zw, snap); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

func encodeJSON(w io.Writer, snap Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader, compressed bool) (Snapshot, error) {
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// WriteFile writes snap to path atomically: readers see either the old
// file or the complete new one. A path ending in CompressedSuffix is
// zstd-compressed.
func WriteFile(path string, snap Snapshot) error {
	f, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	defer f.Cleanup()

	if err := Encode(f, snap, strings.HasSuffix(path, CompressedSuffix)); err != nil {
		return err
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}

// Marshal returns the encoded snapshot.
func Marshal(snap Snapshot, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap, compress); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
