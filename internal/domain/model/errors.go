package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing component boundaries so callers can
// react without string matching: reject before a network call (format), prompt
// for reconnection (auth), back off (rate limit), or require a re-link
// (encryption).
type ErrorKind string

const (
	KindFormat         ErrorKind = "format"          // Malformed handle, DID, or app password.
	KindAuth           ErrorKind = "auth"            // Invalid credential or confirmation required.
	KindRateLimited    ErrorKind = "rate_limited"    // Upstream throttled the request.
	KindSessionExpired ErrorKind = "session_expired" // Access token no longer accepted.
	KindEncryption     ErrorKind = "encryption"      // Malformed stored blob or failed integrity check.
	KindLengthExceeded ErrorKind = "length_exceeded" // Internal invariant violation; never user-facing.
	KindNotFound       ErrorKind = "not_found"       // Unknown handle, thread, or record.
	KindUnknown        ErrorKind = "unknown"
)

// FlowError carries an ErrorKind across component boundaries. Expected
// failures (rate limit, invalid credential, format errors) travel as
// FlowError values; plain wrapped errors are reserved for unexpected states.
type FlowError struct {
	Kind    ErrorKind
	Message string
	Err     error // Underlying cause, may be nil.
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError constructs a FlowError with an underlying cause.
func NewFlowError(kind ErrorKind, message string, err error) *FlowError {
	return &FlowError{Kind: kind, Message: message, Err: err}
}

// FormatError reports a malformed input rejected before any network call.
func FormatError(message string) *FlowError {
	return &FlowError{Kind: KindFormat, Message: message}
}

// AuthError reports a credential the network rejected.
func AuthError(message string, err error) *FlowError {
	return &FlowError{Kind: KindAuth, Message: message, Err: err}
}

// EncryptionError reports a corrupted stored blob or failed integrity check.
// Records carrying one must be re-linked, never retried.
func EncryptionError(message string, err error) *FlowError {
	return &FlowError{Kind: KindEncryption, Message: message, Err: err}
}

// NotFoundError reports an unknown handle, thread, or record.
func NotFoundError(message string) *FlowError {
	return &FlowError{Kind: KindNotFound, Message: message}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed.
// Returns KindUnknown for nil and for errors without a FlowError in the chain.
func KindOf(err error) ErrorKind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
