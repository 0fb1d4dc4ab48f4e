package ledger

import "context"

// Height identifies a position in the ledger. Valid heights start at 1.
type Height uint64

// Client is the only ledger surface the store depends on.
//
// Implementations own transport, authentication, retries, and timeouts.
// Callers never retry on their own.
type Client interface {
	// Submit appends blobs to ns as one batch and returns the height the
	// batch was included at. Blobs of a batch keep their relative order.
	Submit(ctx context.Context, ns Namespace, blobs [][]byte) (Height, error)

	// GetAll returns every blob stored for ns at height h, in submission
	// order. A height with nothing for ns returns (nil, nil).
	GetAll(ctx context.Context, h Height, ns Namespace) ([][]byte, error)

	// Head returns the current highest height.
	Head(ctx context.Context) (Height, error)
}
