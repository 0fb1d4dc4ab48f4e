// Package index discovers a store's bootstrap metadata in the ledger, or
// mints it, and guards the in-memory copy.
//
// The Index mutex covers in-memory reads and writes only. It is never held
// across a ledger call.
package index

import (
	"sync"

	"github.com/roach88/blobdb/internal/codec"
	"github.com/roach88/blobdb/internal/ledger"
)

// Origin records how the metadata was obtained.
type Origin string

const (
	// OriginHint means the metadata was adopted from the hint height.
	OriginHint Origin = "hint"

	// OriginFound means the metadata was found in the search window.
	OriginFound Origin = "found"

	// OriginMinted means no metadata existed and a fresh one was submitted.
	OriginMinted Origin = "minted"
)

// Index is the authoritative in-memory metadata of one store.
type Index struct {
	mu     sync.Mutex
	meta   codec.Metadata
	origin Origin
}

// New wraps m. Discover is the usual constructor.
func New(m codec.Metadata, origin Origin) *Index {
	return &Index{meta: m.Clone(), origin: origin}
}

// Origin reports how the metadata was obtained.
func (x *Index) Origin() Origin {
	return x.origin
}

// Snapshot returns a deep copy of the current metadata.
func (x *Index) Snapshot() codec.Metadata {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.meta.Clone()
}

// StartHeight returns the first height that can hold data for the store.
func (x *Index) StartHeight() ledger.Height {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.meta.StartHeight
}

// Lookup returns the height of the newest version of id.
func (x *Index) Lookup(id string) (ledger.Height, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.meta.Lookup(id)
}

// Commit replaces the metadata with m, which the caller has just persisted
// at height h. Zero heights in m (self-references in the submitted blob)
// are resolved to h.
func (x *Index) Commit(m codec.Metadata, h ledger.Height) {
	m = m.Clone()
	if m.StartHeight == 0 {
		m.StartHeight = h
	}
	for id, at := range m.Index {
		if at == 0 {
			m.Index[id] = h
		}
	}
	m.Height = h

	x.mu.Lock()
	defer x.mu.Unlock()
	x.meta = m
}

// Replace swaps in m without persisting it.
func (x *Index) Replace(m codec.Metadata) {
	m = m.Clone()
	x.mu.Lock()
	defer x.mu.Unlock()
	x.meta = m
}
