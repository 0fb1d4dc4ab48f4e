// Package store is a key-value record store layered on an append-only blob
// ledger.
//
// Every mutation is one ledger submission holding the new data blob
// followed by the new metadata blob. Nothing already in the ledger is ever
// changed: updates append a newer version, deletes append a tombstone, and
// each submission supersedes the previous metadata.
//
// # Modes
//
// ModeIndexed keeps an id -> height directory in the metadata. Reads are
// one fetch; every mutation rewrites the directory.
//
// ModeScan keeps only the start height and a record count. Reads scan the
// ledger from head down to the start height; the first version seen for an
// id is its newest.
//
// Both modes write the same blobs, so a namespace written in one mode can
// be opened in the other. An indexed store that adopts metadata without a
// directory rebuilds it from the log before it is ready.
//
// # Consistency
//
// Writers inside one process are serialized by the store. Writers in
// different processes are not coordinated: the newest metadata blob wins,
// and directory entries written concurrently by another process can be
// lost. There is no compare-and-swap on the ledger to prevent this.
package store
