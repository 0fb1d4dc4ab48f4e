package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ledger errors.
type ErrorCode string

const (
	// ErrCodeTransport indicates the ledger could not be reached at all
	// (network failure, authentication failure). Always fatal to the caller.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeRejected indicates the ledger refused a submission (fees,
	// authorization, size limits). The submission had no effect.
	ErrCodeRejected ErrorCode = "REJECTED"

	// ErrCodeFetch indicates a single height could not be served.
	// Scanners treat it as "nothing here".
	ErrCodeFetch ErrorCode = "FETCH"

	// ErrCodeInvalidChannel indicates a namespace of the wrong width.
	ErrCodeInvalidChannel ErrorCode = "INVALID_CHANNEL"
)

// Error is the error type returned by ledger clients.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the client operation that failed ("submit", "get_all", "head").
	Op string

	// Height is the height involved, zero when not applicable.
	Height Height

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Height != 0 {
		return fmt.Sprintf("%s: %s at height %d: %v", e.Code, e.Op, e.Height, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a transport failure of op.
func NewTransportError(op string, err error) *Error {
	return &Error{Code: ErrCodeTransport, Op: op, Err: err}
}

// NewRejectedError wraps err as a refused submission.
func NewRejectedError(err error) *Error {
	return &Error{Code: ErrCodeRejected, Op: "submit", Err: err}
}

// NewFetchError wraps err as a failure to serve height h.
func NewFetchError(h Height, err error) *Error {
	return &Error{Code: ErrCodeFetch, Op: "get_all", Height: h, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

// IsTransport returns true if err is a transport failure.
// Uses errors.As to handle wrapped errors.
func IsTransport(err error) bool {
	return hasCode(err, ErrCodeTransport)
}

// IsRejected returns true if err is a refused submission.
func IsRejected(err error) bool {
	return hasCode(err, ErrCodeRejected)
}

// IsFetch returns true if err is a per-height fetch failure.
func IsFetch(err error) bool {
	return hasCode(err, ErrCodeFetch)
}

// IsInvalidChannel returns true if err reports a namespace of the wrong width.
func IsInvalidChannel(err error) bool {
	return hasCode(err, ErrCodeInvalidChannel)
}
