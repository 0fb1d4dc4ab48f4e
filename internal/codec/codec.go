// Package codec serializes the two blob shapes blobdb writes to the ledger:
// metadata and data records.
//
// Every blob carries a "type" discriminant so the two schemas can never be
// confused. Blobs are self-describing: JSON (default) or CBOR, detected from
// the first byte, so a namespace written with either format stays readable.
// Blobs without a discriminant are tried against the untagged shapes older
// writers produced (metadata first, then record). Anything else is
// unrecognized and skipped by scanners.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/blobdb/internal/ledger"
)

// ErrSerialization is wrapped by every encode and decode failure.
var ErrSerialization = errors.New("serialization error")

// Format selects the encoding of newly written blobs.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

const (
	typeMetadata = "metadata"
	typeRecord   = "record"

	modeIndexed = "indexed"
	modeScan    = "scan"
)

// Options configures a Codec.
type Options struct {
	// Format of written blobs. Defaults to FormatJSON.
	Format Format

	// Compress enables zstd compression of record payloads of at least
	// CompressThreshold bytes, kept only when it actually shrinks them.
	Compress bool

	// CompressThreshold defaults to DefaultCompressThreshold.
	CompressThreshold int
}

// Codec encodes and classifies blobs. Safe for concurrent use.
type Codec struct {
	format    Format
	compress  bool
	threshold int
	cborEnc   cbor.EncMode
}

// New creates a codec.
func New(opts Options) (*Codec, error) {
	format := opts.Format
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCBOR {
		return nil, fmt.Errorf("unknown codec format %q", format)
	}

	encMode, err := cbor.EncOptions{
		Sort: cbor.SortCoreDeterministic,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}

	threshold := opts.CompressThreshold
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	return &Codec{
		format:    format,
		compress:  opts.Compress,
		threshold: threshold,
		cborEnc:   encMode,
	}, nil
}

// Default returns a JSON codec without compression.
func Default() *Codec {
	c, err := New(Options{})
	if err != nil {
		panic(err)
	}
	return c
}

// Format returns the format used for writing.
func (c *Codec) Format() Format {
	return c.format
}

type recordWire struct {
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	Payload   []byte     `json:"payload"`
	Encoding  string     `json:"encoding,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
}

// metadataWire stores heights as plain integers. A zero height means
// "the height this blob was included at".
type metadataWire struct {
	Type        string            `json:"type"`
	Mode        string            `json:"mode"`
	StartHeight uint64            `json:"start_height"`
	RecordCount uint64            `json:"record_count"`
	LastUpdated time.Time         `json:"last_updated"`
	Index       map[string]uint64 `json:"index,omitempty"`
	Deleted     []string          `json:"deleted,omitempty"`
}

type probe struct {
	Type string `json:"type"`
}

// EncodeRecord serializes r.
func (c *Codec) EncodeRecord(r Record) ([]byte, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("%w: encode record: empty id", ErrSerialization)
	}
	w := recordWire{
		Type:      typeRecord,
		ID:        r.ID,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt.UTC(),
		Deleted:   r.Deleted,
	}
	if r.UpdatedAt != nil {
		u := r.UpdatedAt.UTC()
		w.UpdatedAt = &u
	}
	if c.compress && len(r.Payload) >= c.threshold {
		if packed := compressPayload(r.Payload); len(packed) < len(r.Payload) {
			w.Payload = packed
			w.Encoding = encodingZstd
		}
	}
	return c.marshal(w, "record")
}

// EncodeMetadata serializes m. A zero StartHeight or index height is kept
// as zero on the wire and resolves to the blob's own inclusion height.
func (c *Codec) EncodeMetadata(m Metadata) ([]byte, error) {
	w := metadataWire{
		Type:        typeMetadata,
		Mode:        modeScan,
		StartHeight: uint64(m.StartHeight),
		RecordCount: m.RecordCount,
		LastUpdated: m.LastUpdated.UTC(),
	}
	if m.Indexed {
		w.Mode = modeIndexed
		w.Index = make(map[string]uint64, len(m.Index))
		for id, h := range m.Index {
			w.Index[id] = uint64(h)
		}
		w.Deleted = m.DeletedIDs()
	}
	return c.marshal(w, "metadata")
}

func (c *Codec) marshal(v any, what string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch c.format {
	case FormatCBOR:
		data, err = c.cborEnc.Marshal(v)
	default:
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrSerialization, what, err)
	}
	return data, nil
}

type wireFormat int

const (
	wireUnknown wireFormat = iota
	wireJSON
	wireCBOR
)

func detect(data []byte) wireFormat {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return wireUnknown
	}
	if trimmed[0] == '{' {
		return wireJSON
	}
	// CBOR major type 5 (map)
	if trimmed[0]>>5 == 5 {
		return wireCBOR
	}
	return wireUnknown
}

func unmarshal(f wireFormat, data []byte, v any) error {
	if f == wireCBOR {
		return cbor.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// Classify decodes data found at height at. Metadata is tried before
// records. Blobs matching neither schema are KindUnrecognized; that is not
// an error.
func (c *Codec) Classify(data []byte, at ledger.Height) Classified {
	f := detect(data)
	if f == wireUnknown {
		return Classified{Kind: KindUnrecognized}
	}

	var p probe
	if err := unmarshal(f, data, &p); err != nil {
		return Classified{Kind: KindUnrecognized}
	}

	switch p.Type {
	case typeMetadata:
		if m, err := decodeMetadata(f, data, at); err == nil {
			return Classified{Kind: KindMetadata, Metadata: &m}
		}
	case typeRecord:
		if r, err := decodeRecord(f, data); err == nil {
			return Classified{Kind: KindRecord, Record: &r}
		}
	case "":
		if f != wireJSON {
			break
		}
		if m, ok := decodeLegacyMetadata(data); ok {
			m.Height = at
			return Classified{Kind: KindMetadata, Metadata: &m}
		}
		if r, ok := decodeLegacyRecord(data); ok {
			return Classified{Kind: KindRecord, Record: &r}
		}
	}
	return Classified{Kind: KindUnrecognized}
}

// DecodeMetadata decodes a tagged metadata blob found at height at.
func (c *Codec) DecodeMetadata(data []byte, at ledger.Height) (Metadata, error) {
	cl := c.Classify(data, at)
	if cl.Kind != KindMetadata {
		return Metadata{}, fmt.Errorf("%w: blob is %s, not metadata", ErrSerialization, cl.Kind)
	}
	return *cl.Metadata, nil
}

// DecodeRecord decodes a record blob.
func (c *Codec) DecodeRecord(data []byte) (Record, error) {
	cl := c.Classify(data, 0)
	if cl.Kind != KindRecord {
		return Record{}, fmt.Errorf("%w: blob is %s, not a record", ErrSerialization, cl.Kind)
	}
	return *cl.Record, nil
}

func decodeMetadata(f wireFormat, data []byte, at ledger.Height) (Metadata, error) {
	var w metadataWire
	if err := unmarshal(f, data, &w); err != nil {
		return Metadata{}, err
	}
	resolve := func(h uint64) ledger.Height {
		if h == 0 {
			return at
		}
		return ledger.Height(h)
	}

	m := Metadata{
		StartHeight: resolve(w.StartHeight),
		RecordCount: w.RecordCount,
		LastUpdated: w.LastUpdated,
		Indexed:     w.Mode == modeIndexed,
		Index:       make(map[string]ledger.Height, len(w.Index)),
		Deleted:     make(map[string]struct{}, len(w.Deleted)),
		Height:      at,
	}
	for id, h := range w.Index {
		m.Index[id] = resolve(h)
	}
	for _, id := range w.Deleted {
		m.Deleted[id] = struct{}{}
	}
	return m, nil
}

func decodeRecord(f wireFormat, data []byte) (Record, error) {
	var w recordWire
	if err := unmarshal(f, data, &w); err != nil {
		return Record{}, err
	}
	if w.ID == "" {
		return Record{}, errors.New("record without id")
	}
	payload := w.Payload
	switch w.Encoding {
	case "":
	case encodingZstd:
		var err error
		payload, err = decompressPayload(w.Payload)
		if err != nil {
			return Record{}, err
		}
	default:
		return Record{}, fmt.Errorf("unknown payload encoding %q", w.Encoding)
	}
	return Record{
		ID:        w.ID,
		Payload:   slices.Clip(payload),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		Deleted:   w.Deleted,
	}, nil
}
