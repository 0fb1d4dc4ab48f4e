package codec

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/roach88/blobdb/internal/ledger"
)

// Untagged shapes written by the first generation of this store. They have
// no discriminant, so they are recognized by strict trial decoding: unknown
// fields are rejected and the identifying fields must be present.

type legacyMetadata struct {
	RecordCount *uint64    `json:"record_count"`
	LastUpdated *time.Time `json:"last_updated"`
	StartHeight *uint64    `json:"start_height"`
}

type legacyRecord struct {
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	Data      []byte     `json:"data"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	ID        string     `json:"id"`
}

func strictJSON(data []byte, v any) bool {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v) == nil
}

func decodeLegacyMetadata(data []byte) (Metadata, bool) {
	var w legacyMetadata
	if !strictJSON(data, &w) {
		return Metadata{}, false
	}
	if w.RecordCount == nil || w.LastUpdated == nil || w.StartHeight == nil {
		return Metadata{}, false
	}
	return Metadata{
		StartHeight: ledger.Height(*w.StartHeight),
		RecordCount: *w.RecordCount,
		LastUpdated: *w.LastUpdated,
		Index:       make(map[string]ledger.Height),
		Deleted:     make(map[string]struct{}),
	}, true
}

// decodeLegacyRecord accepts both the key-value shape ({key, value, ...})
// and the id shape ({id, data, ...}). In the key-value shape the key is the
// record identity.
func decodeLegacyRecord(data []byte) (Record, bool) {
	var w legacyRecord
	if !strictJSON(data, &w) {
		return Record{}, false
	}
	if w.CreatedAt == nil {
		return Record{}, false
	}
	r := Record{CreatedAt: *w.CreatedAt, UpdatedAt: w.UpdatedAt}
	switch {
	case w.Key != "":
		r.ID = w.Key
		r.Payload = []byte(w.Value)
	case w.ID != "":
		r.ID = w.ID
		r.Payload = w.Data
	default:
		return Record{}, false
	}
	return r, true
}
