package domain

import "errors"

var (
	ErrTransport         = errors.New("transport error")
	ErrUnauthorized      = errors.New("not authorized")
	ErrStateConflict     = errors.New("order state conflict")
	ErrNotFound          = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrBusy              = errors.New("operation already in progress")
)

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransport
	KindUnauthorized
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	default:
		return "transport"
	}
}

// ClassifyError maps any error to its handling kind. Anything not recognised
// is a transport error and therefore retryable.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrStateConflict), errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrNotFound):
		return KindConflict
	default:
		return KindTransport
	}
}

func Retryable(err error) bool { return ClassifyError(err) == KindTransport }
