package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Allowed namespace widths. Deployments pick one and keep it.
const (
	DefaultNamespaceWidth = 8
	MaxNamespaceWidth     = 10
)

// Namespace scopes every blob of one logical store. Distinct stores never
// share a namespace. The zero value is not a valid namespace.
type Namespace struct {
	id []byte
}

// NewNamespace returns a namespace for id, which must be exactly width bytes.
func NewNamespace(id []byte, width int) (Namespace, error) {
	if err := checkWidth(width); err != nil {
		return Namespace{}, err
	}
	if len(id) != width {
		return Namespace{}, &Error{
			Code: ErrCodeInvalidChannel,
			Err:  fmt.Errorf("namespace must be exactly %d bytes, got %d", width, len(id)),
		}
	}
	return Namespace{id: bytes.Clone(id)}, nil
}

// NamespaceFromString builds a namespace from a human-readable name.
//
// The name is NFC normalized so visually identical names map to the same
// bytes, then right-padded with zero bytes to width. Names longer than
// width bytes are rejected.
func NamespaceFromString(name string, width int) (Namespace, error) {
	if err := checkWidth(width); err != nil {
		return Namespace{}, err
	}
	normalized := norm.NFC.String(name)
	if normalized == "" {
		return Namespace{}, &Error{Code: ErrCodeInvalidChannel, Err: fmt.Errorf("namespace name is empty")}
	}
	if len(normalized) > width {
		return Namespace{}, &Error{
			Code: ErrCodeInvalidChannel,
			Err:  fmt.Errorf("namespace %q is %d bytes, at most %d allowed", name, len(normalized), width),
		}
	}
	id := make([]byte, width)
	copy(id, normalized)
	return Namespace{id: id}, nil
}

func checkWidth(width int) error {
	if width != DefaultNamespaceWidth && width != MaxNamespaceWidth {
		return &Error{
			Code: ErrCodeInvalidChannel,
			Err:  fmt.Errorf("namespace width must be %d or %d, got %d", DefaultNamespaceWidth, MaxNamespaceWidth, width),
		}
	}
	return nil
}

// Bytes returns a copy of the namespace id.
func (n Namespace) Bytes() []byte {
	return bytes.Clone(n.id)
}

// Len returns the namespace width in bytes.
func (n Namespace) Len() int {
	return len(n.id)
}

// IsZero reports whether n is the zero Namespace.
func (n Namespace) IsZero() bool {
	return len(n.id) == 0
}

// Equal reports whether n and other identify the same namespace.
func (n Namespace) Equal(other Namespace) bool {
	return bytes.Equal(n.id, other.id)
}

// Hex returns the namespace id hex encoded. Used as a map and table key.
func (n Namespace) Hex() string {
	return hex.EncodeToString(n.id)
}

// String returns the printable prefix of the id, or the hex form when the id
// is not printable.
func (n Namespace) String() string {
	trimmed := bytes.TrimRight(n.id, "\x00")
	for _, b := range trimmed {
		if b < 0x20 || b > 0x7e {
			return n.Hex()
		}
	}
	return string(trimmed)
}
