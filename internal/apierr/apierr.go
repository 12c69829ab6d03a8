// Package apierr defines the control plane's error taxonomy. Domain
// packages return *Error instead of ad-hoc errors so that every transport
// (HTTP handlers, webhook handlers, task handlers) maps failures to the
// right status code and retry behavior without string-matching.
package apierr

import "fmt"

// Kind is one of the fixed error categories the system recognizes.
type Kind string

const (
	ValidationError     Kind = "validation_error"
	Unauthorized        Kind = "unauthorized"
	RateLimited         Kind = "rate_limited"
	ProviderUnavailable Kind = "provider_unavailable"
	ProviderRateLimited Kind = "provider_rate_limited"
	GuardrailRejected   Kind = "guardrail_rejected"
	CircuitOpen         Kind = "circuit_open"
	NotFound            Kind = "not_found"
	StateConflict       Kind = "state_conflict"
	Internal            Kind = "internal"
)

// Error is the typed error carried through the pipeline and surfaced at the
// HTTP edge. It is never a panic/exception boundary — it is an ordinary
// returned value.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds, advisory; 0 means unset
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithRetryAfter attaches a retry-after advisory, used for RateLimited.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// HTTPStatus maps a Kind to the status code the transport layer should use.
// Only the edge (HTTP handlers) calls this — domain packages never import
// net/http.
func HTTPStatus(k Kind) int {
	switch k {
	case ValidationError:
		return 400
	case Unauthorized:
		return 403
	case RateLimited:
		return 429
	case ProviderUnavailable, ProviderRateLimited, CircuitOpen:
		return 503
	case GuardrailRejected:
		return 200
	case NotFound:
		return 404
	case StateConflict:
		return 409
	case Internal:
		return 500
	default:
		return 500
	}
}

// As reports whether err is an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
