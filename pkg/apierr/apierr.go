// Package apierr defines the error taxonomy surfaced by the client core.
//
// Every error returned from the transport, session, mapper, feed and facade
// layers is (or wraps) an *Error carrying a Kind, so callers can branch on
// the failure class without inspecting messages:
//
//	post, err := client.GetPostDetail(ctx, service, sess, uri)
//	switch apierr.KindOf(err) {
//	case apierr.KindNotFound:
//		// render "post deleted"
//	case apierr.KindSessionExpired, apierr.KindAuthRequired:
//		// prompt for login
//	}
package apierr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindServiceUnavailable
	KindRateLimited
	// KindAuthExpired is an internal signal from the transport to the session
	// manager. It is converted to KindSessionExpired before reaching callers
	// of authenticated operations.
	KindAuthExpired
	KindInvalidCredentials
	KindSessionExpired
	KindAuthRequired
	KindValidation
	KindMalformedResponse
	KindNotFound
	KindClient
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindNetwork:            "network_error",
	KindServiceUnavailable: "service_unavailable",
	KindRateLimited:        "rate_limited",
	KindAuthExpired:        "auth_expired",
	KindInvalidCredentials: "invalid_credentials",
	KindSessionExpired:     "session_expired",
	KindAuthRequired:       "auth_required",
	KindValidation:         "validation_error",
	KindMalformedResponse:  "malformed_response",
	KindNotFound:           "not_found",
	KindClient:             "client_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether the transport may retry an attempt that failed
// with this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindRateLimited, KindServiceUnavailable:
		return true
	default:
		return false
	}
}

// Error is the structured error type of the client core.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Op names the operation that failed, e.g. "app.bsky.feed.getTimeline".
	Op string

	// Status is the HTTP status code, zero when no response was received.
	Status int

	// Code is the XRPC error name from the response body (e.g. "ExpiredToken").
	Code string

	// Message is a human-readable description.
	Message string

	// RetryAfter is the server-requested wait for rate-limited responses.
	RetryAfter time.Duration

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteString(")")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so the sentinel values below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Status == 0 && t.Code == ""
}

// Sentinels for errors.Is.
var (
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrAuthExpired        = &Error{Kind: KindAuthExpired}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrSessionExpired     = &Error{Kind: KindSessionExpired}
	ErrAuthRequired       = &Error{Kind: KindAuthRequired}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrMalformedResponse  = &Error{Kind: KindMalformedResponse}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrClient             = &Error{Kind: KindClient}
)

// New creates an *Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an *Error of the given kind around cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Validation is shorthand for a client-side validation failure.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Malformed is shorthand for a response that failed structural checks.
func Malformed(op, format string, args ...any) *Error {
	return &Error{Kind: KindMalformedResponse, Op: op, Message: fmt.Sprintf(format, args...)}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in err's chain, KindUnknown if
// there is none, and KindUnknown for nil.
func KindOf(err error) Kind {
	if apiErr, ok := As(err); ok {
		return apiErr.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Reclassify returns a copy of err's *Error with a new kind, keeping the
// original as the cause. Errors without an *Error are wrapped.
func Reclassify(err error, kind Kind, op string) *Error {
	if apiErr, ok := As(err); ok {
		return &Error{
			Kind:       kind,
			Op:         op,
			Status:     apiErr.Status,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			RetryAfter: apiErr.RetryAfter,
			Err:        err,
		}
	}
	return Wrap(kind, op, err)
}
