// Package embederr defines the request and startup error kinds of the gateway.
//
// Every error the gateway surfaces to a client carries a Kind. Callers match
// kinds with errors.Is against the exported sentinels:
//
//	if errors.Is(err, embederr.ErrUnknownSpace) { ... }
package embederr

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway error.
type Kind string

const (
	KindUnknownSpace        Kind = "unknown_space"
	KindUnsupportedModality Kind = "unsupported_modality"
	KindInvalidReference    Kind = "invalid_reference"
	KindNotFound            Kind = "not_found"
	KindDecode              Kind = "decode_error"
	KindDegenerateVector    Kind = "degenerate_vector"
	KindTimeout             Kind = "timeout"
	KindConfiguration       Kind = "configuration_error"
	KindBadRequest          Kind = "bad_request"
	KindTooLarge            Kind = "payload_too_large"
	KindInternal            Kind = "internal_error"
)

// Error is a gateway error with a kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrUnknownSpace        = &Error{Kind: KindUnknownSpace}
	ErrUnsupportedModality = &Error{Kind: KindUnsupportedModality}
	ErrInvalidReference    = &Error{Kind: KindInvalidReference}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrDecode              = &Error{Kind: KindDecode}
	ErrDegenerateVector    = &Error{Kind: KindDegenerateVector}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrBadRequest          = &Error{Kind: KindBadRequest}
	ErrTooLarge            = &Error{Kind: KindTooLarge}
	ErrInternal            = &Error{Kind: KindInternal}
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// UnknownSpace reports a space id that is not registered.
func UnknownSpace(id string) *Error {
	return &Error{Kind: KindUnknownSpace, Message: fmt.Sprintf("unknown embedding space %q", id)}
}

// UnsupportedModality reports a space that cannot embed the given modality.
func UnsupportedModality(space, modality string) *Error {
	return &Error{Kind: KindUnsupportedModality, Message: fmt.Sprintf("space %q does not support %s input", space, modality)}
}

// InvalidReference reports an image reference rejected before any filesystem access.
func InvalidReference(ref, reason string) *Error {
	return &Error{Kind: KindInvalidReference, Message: fmt.Sprintf("invalid image reference %q: %s", ref, reason)}
}

// NotFound reports a reference that does not resolve to a regular file.
func NotFound(ref string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("image %q not found", ref)}
}

// Decode reports image data that cannot be decoded.
func Decode(err error) *Error {
	return &Error{Kind: KindDecode, Message: "cannot decode image", Err: err}
}

// DegenerateVector reports a backend vector that cannot be normalized.
func DegenerateVector(reason string) *Error {
	return &Error{Kind: KindDegenerateVector, Message: "degenerate vector: " + reason}
}

// Timeout reports a request that ran past its deadline.
func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "embedding timed out", Err: err}
}

// Configuration reports a fatal startup configuration problem.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// BadRequest reports a malformed client request.
func BadRequest(message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message}
}

// TooLarge reports a request body over the accepted size.
func TooLarge(limit int64) *Error {
	return &Error{Kind: KindTooLarge, Message: fmt.Sprintf("request body exceeds %d bytes", limit)}
}

// Internal wraps an unexpected backend failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal embedding failure", Err: err}
}
