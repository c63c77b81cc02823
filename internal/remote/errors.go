package remote

import "go.trai.ch/zerr"

// Failure classes produced at the client boundary.
var (
	ErrRateLimited      = zerr.New("rate limited")
	ErrServiceDeclared  = zerr.New("service declared error")
	ErrTransportFailure = zerr.New("transport failure")
	ErrAPIKeyRequired   = zerr.New("api key required")
)

// RateLimitMessage is what callers see on HTTP 429.
const RateLimitMessage = "Rate limit exceeded. Please try again later."

// Error is a classified remote failure. Error() is the user-visible message;
// Kind is one of the sentinels above and Cause holds the original transport
// or parse error, which is only ever logged.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func NewError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Cause }
