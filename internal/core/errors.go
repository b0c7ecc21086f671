package core

import "errors"

// Error codes reported to clients in operation failures.
const (
	ErrCodePersistence   = "persistence_failure"
	ErrCodeNotFound      = "not_found"
	ErrCodeForbidden     = "forbidden"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeNotRegistered = "not_registered"
	ErrCodeInternal      = "internal"
)

var (
	// ErrPersistence wraps store failures: the store was unreachable or rejected a write.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotFound is returned for unknown messages or identities.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not participate in a message.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest is returned for malformed commands.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized is returned when registration credentials are rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotRegistered is returned for commands sent before register.
	ErrNotRegistered = errors.New("not registered")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	// Context names the operation that failed.
	Context string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// toCoreError maps an error to the code reported to the client.
func toCoreError(op string, err error) *CoreError {
	var ce *CoreError
	if errors.As(err, &ce) {
		out := *ce
		if out.Context == "" {
			out.Context = op
		}
		return &out
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, ErrPersistence):
		code = ErrCodePersistence
	case errors.Is(err, ErrNotFound):
		code = ErrCodeNotFound
	case errors.Is(err, ErrForbidden):
		code = ErrCodeForbidden
	case errors.Is(err, ErrBadRequest):
		code = ErrCodeBadRequest
	case errors.Is(err, ErrUnauthorized):
		code = ErrCodeUnauthorized
	case errors.Is(err, ErrNotRegistered):
		code = ErrCodeNotRegistered
	}
	return &CoreError{Code: code, Message: err.Error(), Context: op}
}
