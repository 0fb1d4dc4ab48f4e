// Package clock supplies the two sources of nondeterminism the store
// depends on: wall-clock timestamps and record ids.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock stamps records with wall-clock time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock, in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// IDGenerator mints record ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 record ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids minted by
// one writer sort by creation time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// After returns the later of now and prev plus one nanosecond. Used where a
// timestamp must strictly follow an earlier one even if the wall clock has
// not moved or stepped backwards.
func After(now, prev time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
