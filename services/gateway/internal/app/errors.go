package app

import "errors"

// Error kinds. Use errors.Is to classify an error returned by App.
var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrPersistence          = errors.New("persistence error")
	ErrExtraction           = errors.New("extraction error")
	ErrAIService            = errors.New("ai service error")
)

// Error reports which operation failed, the kind of failure and the cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + " failed: " + e.Kind.Error()
	}
	return e.Op + " failed: " + e.Err.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}
