package codec

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/blobdb/internal/ledger"
)

// Kind classifies a blob found in the ledger.
type Kind string

const (
	KindUnrecognized Kind = "unrecognized"
	KindMetadata     Kind = "metadata"
	KindRecord       Kind = "record"
)

// Record is one version of a stored value. Records are immutable once
// written; updates and deletes are new records with the same ID.
type Record struct {
	ID        string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt *time.Time

	// Deleted marks a tombstone. A tombstone hides every older version of ID.
	Deleted bool
}

// Metadata is the bootstrap anchor of a store. The newest metadata blob in
// a namespace is authoritative; older ones are superseded, never merged.
type Metadata struct {
	// StartHeight is the first height that can hold data for the store.
	StartHeight ledger.Height

	// RecordCount is the number of live (non-deleted) records.
	RecordCount uint64

	LastUpdated time.Time

	// Indexed is true when Index and Deleted are maintained. Metadata
	// written by the scan strategy, or by older writers, leaves it false.
	Indexed bool

	// Index maps a record id to the height of its newest version.
	Index map[string]ledger.Height

	// Deleted holds tombstoned ids. A tombstone wins over Index.
	Deleted map[string]struct{}

	// Height is where this metadata was read from or submitted at.
	// Zero when not yet known. Not persisted.
	Height ledger.Height
}

// NewMetadata returns empty indexed metadata.
func NewMetadata(start ledger.Height, now time.Time) Metadata {
	return Metadata{
		StartHeight: start,
		LastUpdated: now,
		Indexed:     true,
		Index:       make(map[string]ledger.Height),
		Deleted:     make(map[string]struct{}),
	}
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	out := m
	out.Index = maps.Clone(m.Index)
	out.Deleted = maps.Clone(m.Deleted)
	if out.Index == nil {
		out.Index = make(map[string]ledger.Height)
	}
	if out.Deleted == nil {
		out.Deleted = make(map[string]struct{})
	}
	return out
}

// Lookup returns the height of the newest version of id.
// Tombstoned ids are reported as absent.
func (m Metadata) Lookup(id string) (ledger.Height, bool) {
	if _, dead := m.Deleted[id]; dead {
		return 0, false
	}
	h, ok := m.Index[id]
	return h, ok
}

// IsDeleted reports whether id carries a tombstone.
func (m Metadata) IsDeleted(id string) bool {
	_, dead := m.Deleted[id]
	return dead
}

// LiveIDs returns the ids present in Index and not tombstoned, sorted.
func (m Metadata) LiveIDs() []string {
	ids := make([]string, 0, len(m.Index))
	for id := range m.Index {
		if _, dead := m.Deleted[id]; !dead {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// DeletedIDs returns the tombstoned ids, sorted.
func (m Metadata) DeletedIDs() []string {
	ids := slices.Collect(maps.Keys(m.Deleted))
	slices.Sort(ids)
	return ids
}

// Classified is the outcome of classifying one blob.
type Classified struct {
	Kind     Kind
	Metadata *Metadata
	Record   *Record
}
