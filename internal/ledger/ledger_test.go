package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceFromString_PadsToWidth(t *testing.T) {
	ns, err := NamespaceFromString("demo", 8)
	require.NoError(t, err)

	assert.Equal(t, []byte("demo\x00\x00\x00\x00"), ns.Bytes())
	assert.Equal(t, 8, ns.Len())
	assert.Equal(t, "demo", ns.String())
	assert.Equal(t, "64656d6f00000000", ns.Hex())
}

func TestNamespaceFromString_TenBytes(t *testing.T) {
	ns, err := NamespaceFromString("chessgame1", 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("chessgame1"), ns.Bytes())
}

func TestNamespaceFromString_NFC(t *testing.T) {
	// "é" as e + combining acute vs precomposed U+00E9
	decomposed, err := NamespaceFromString("cafe\u0301", 8)
	require.NoError(t, err)
	composed, err := NamespaceFromString("caf\u00e9", 8)
	require.NoError(t, err)

	assert.True(t, decomposed.Equal(composed))
}

func TestNamespaceFromString_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
	}{
		{"too long", "waytoolongname", 8},
		{"empty", "", 8},
		{"bad width", "demo", 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NamespaceFromString(tt.input, tt.width)
			require.Error(t, err)
			assert.True(t, IsInvalidChannel(err))
		})
	}
}

func TestNewNamespace_WidthMismatch(t *testing.T) {
	_, err := NewNamespace([]byte("short"), 8)
	require.Error(t, err)
	assert.True(t, IsInvalidChannel(err))
	assert.Contains(t, err.Error(), "exactly 8 bytes")

	ns, err := NewNamespace([]byte("12345678"), 8)
	require.NoError(t, err)
	assert.False(t, ns.IsZero())
}

func TestNamespace_BytesIsCopy(t *testing.T) {
	ns, err := NewNamespace([]byte("12345678"), 8)
	require.NoError(t, err)

	b := ns.Bytes()
	b[0] = 'x'
	assert.Equal(t, byte('1'), ns.Bytes()[0])
}

func TestNamespace_StringNonPrintable(t *testing.T) {
	ns, err := NewNamespace([]byte{0x01, 0x02, 0, 0, 0, 0, 0, 0}, 8)
	require.NoError(t, err)
	assert.Equal(t, "0102000000000000", ns.String())
}

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("connection refused")

	transport := fmt.Errorf("head: %w", NewTransportError("head", cause))
	assert.True(t, IsTransport(transport))
	assert.False(t, IsRejected(transport))
	assert.ErrorIs(t, transport, cause)

	rejected := NewRejectedError(errors.New("insufficient fee"))
	assert.True(t, IsRejected(rejected))
	assert.Contains(t, rejected.Error(), "REJECTED: submit")

	fetch := NewFetchError(42, errors.New("pruned"))
	assert.True(t, IsFetch(fetch))
	assert.Contains(t, fetch.Error(), "at height 42")

	assert.False(t, IsTransport(nil))
	assert.False(t, IsTransport(cause))
}
