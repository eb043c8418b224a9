package discordrb

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the semantic error taxonomy described by the gateway and REST
// contracts: no stack types, just the handful of categories callers and
// the session manager need to branch on.
type Kind int

const (
	// KindInvalidAuthentication means the credentials were rejected.
	// Fatal: surfaces to the caller of Run.
	KindInvalidAuthentication Kind = iota
	// KindNoPermission means the bot lacks rights on a resource.
	KindNoPermission
	// KindNotFound means an id did not resolve.
	KindNotFound
	// KindRateLimited means the caller must wait RetryAfter before retrying.
	KindRateLimited
	// KindTransport means a network-level failure occurred; the session
	// manager reconnects with backoff.
	KindTransport
	// KindProtocolViolation means an unexpected op code or malformed
	// frame was received; the connection is dropped and reconnect is
	// attempted.
	KindProtocolViolation
	// KindHTTPStatus wraps a REST response whose status doesn't map to
	// one of the more specific kinds above.
	KindHTTPStatus
)

func (k Kind) String() string {
	switch k {
	case KindInvalidAuthentication:
		return "invalid authentication"
	case KindNoPermission:
		return "no permission"
	case KindNotFound:
		return "not found"
	case KindRateLimited:
		return "rate limited"
	case KindTransport:
		return "transport"
	case KindProtocolViolation:
		return "protocol violation"
	case KindHTTPStatus:
		return "http status"
	default:
		return "unknown"
	}
}

// Error is the concrete type carried by every error this package returns
// through its own taxonomy. RetryAfter and StatusCode are populated only
// for the kinds that carry them.
type Error struct {
	Kind       Kind
	StatusCode int
	RetryAfter float64
	msg        string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return e.Kind.String()
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// ErrInvalidAuthentication reports rejected credentials.
func ErrInvalidAuthentication(msg string) error { return errors.WithStack(newError(KindInvalidAuthentication, msg)) }

// ErrNoPermission reports a resource the bot lacks rights on.
func ErrNoPermission(msg string) error { return errors.WithStack(newError(KindNoPermission, msg)) }

// ErrNotFound reports an id that did not resolve.
func ErrNotFound(msg string) error { return errors.WithStack(newError(KindNotFound, msg)) }

// ErrRateLimited reports a 429 response; retryAfter is in seconds.
func ErrRateLimited(retryAfter float64) error {
	return errors.WithStack(&Error{Kind: KindRateLimited, RetryAfter: retryAfter, msg: "retry later"})
}

// ErrTransport wraps a network-level failure.
func ErrTransport(cause error) error {
	return errors.Wrap(&Error{Kind: KindTransport, msg: cause.Error()}, "transport")
}

// ErrProtocolViolation reports an unexpected op code or malformed frame.
func ErrProtocolViolation(msg string) error {
	return errors.WithStack(newError(KindProtocolViolation, msg))
}

// ErrHTTPStatus wraps an HTTP response with an otherwise-unmapped status.
func ErrHTTPStatus(code int) error {
	return errors.WithStack(&Error{Kind: KindHTTPStatus, StatusCode: code, msg: fmt.Sprintf("status %d", code)})
}

// asError unwraps err down to the innermost *Error this package produced.
func asError(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		cause := errors.Cause(err)
		if cause == err {
			break
		}
		err = cause
	}
	return nil, false
}

// KindOf unwraps err down to the innermost *Error and returns its Kind.
// Returns false if err was not produced by this package.
func KindOf(err error) (Kind, bool) {
	e, ok := asError(err)
	if !ok {
		return 0, false
	}
	return e.Kind, true
}
