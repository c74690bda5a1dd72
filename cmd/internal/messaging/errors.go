package messaging

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing policy.
type Kind string

const (
	// KindNetwork covers offline state and transport failures (retryable).
	KindNetwork Kind = "network"
	// KindAuthentication covers invalid/expired sessions. Triggers the
	// global sign-out hook and is never retried locally.
	KindAuthentication Kind = "authentication"
	// KindAuthorization covers denied booking access (surfaced, not retried).
	KindAuthorization Kind = "authorization"
	// KindValidation covers rejected content, rate limits, and disallowed
	// booking statuses (surfaced, never auto-retried).
	KindValidation Kind = "validation"
	// KindServer covers backend 5xx-class failures (retryable up to the
	// send pipeline's attempt cap).
	KindServer Kind = "server"
	// KindUnknown is everything unclassified.
	KindUnknown Kind = "unknown"
)

var (
	// ErrOffline is returned when a send is attempted without connectivity.
	ErrOffline = errors.New("offline")

	// ErrEmptyBody is returned when a send carries no content.
	ErrEmptyBody = errors.New("empty message body")

	// ErrBodyTooLong is returned when content exceeds the length ceiling.
	ErrBodyTooLong = errors.New("message body too long")

	// ErrRateLimited is returned when the per-user send window is exhausted.
	ErrRateLimited = errors.New("too many messages, slow down")

	// ErrContentRejected is returned when the security validator blocks content.
	ErrContentRejected = errors.New("message content rejected")

	// ErrRetryExhausted is returned when a pending send exceeds its attempt cap.
	ErrRetryExhausted = errors.New("send retry attempts exhausted")

	// ErrSessionClosed is returned for operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNoIdentity is returned when no current user is configured.
	ErrNoIdentity = errors.New("no current user")

	// ErrNoPendingSend is returned when a retry references an unknown
	// provisional id.
	ErrNoPendingSend = errors.New("no pending send for id")
)

// Error attaches a Kind and operation to an underlying cause.
type Error struct {
	Kind Kind
	Op   string // e.g. "session.send", "poll.fetch"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation. Nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with fmt-style message construction.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies an arbitrary error. Wrapped *Error kinds win;
// context cancellation/deadline maps to network; everything else is
// unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}

	switch {
	case errors.Is(err, ErrOffline):
		return KindNetwork
	case errors.Is(err, ErrEmptyBody),
		errors.Is(err, ErrBodyTooLong),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrContentRejected):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Retryable reports whether an error class may be retried automatically.
// Only transient transport and backend failures qualify; validation and
// auth classes never do.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer:
		return true
	default:
		return false
	}
}
