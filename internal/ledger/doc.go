// Package ledger defines the narrow client surface blobdb needs from an
// append-only, height-ordered blob ledger.
//
// A ledger accepts batches of opaque blobs for a namespace, assigns each
// batch a height, and serves every blob stored at a height back on request.
// Heights are totally ordered and Head never decreases. Nothing stored at an
// existing height ever changes.
//
// # Implementations
//
//   - memledger: in-process ledger used by tests and the interactive shell
//   - sqliteledger: single-node durable ledger backed by SQLite
//   - celestia: JSON-RPC client for a Celestia data-availability node
//
// The ledger is not searchable by content. Everything above this package
// (discovery, indexing, latest-wins resolution) is built by scanning heights.
package ledger
