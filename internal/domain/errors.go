package domain

import (
	"errors"
	"fmt"
)

// ErrNoop marks webhook events that carry no user message.
var ErrNoop = errors.New("not a user message")

// ErrorKind classifies relay failures.
type ErrorKind int

const (
	KindMalformedPayload ErrorKind = iota + 1
	KindUnsupportedContent
	KindMediaFetch
	KindMediaUpload
	KindDeliverySend
	KindMissingPhoneNumber
	KindStoreUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedPayload:
		return "malformed_payload"
	case KindUnsupportedContent:
		return "unsupported_content"
	case KindMediaFetch:
		return "media_fetch"
	case KindMediaUpload:
		return "media_upload"
	case KindDeliverySend:
		return "delivery_send"
	case KindMissingPhoneNumber:
		return "missing_phone_number"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// RelayError is the typed failure returned by adapters, the media pipeline
// and the correlation store.
type RelayError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RelayError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *RelayError) Unwrap() error { return e.Err }

// Is matches any RelayError of the same kind, so the sentinels below work
// with errors.Is.
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrMalformedPayload   = &RelayError{Kind: KindMalformedPayload}
	ErrUnsupportedContent = &RelayError{Kind: KindUnsupportedContent}
	ErrMediaFetch         = &RelayError{Kind: KindMediaFetch}
	ErrMediaUpload        = &RelayError{Kind: KindMediaUpload}
	ErrDeliverySend       = &RelayError{Kind: KindDeliverySend}
	ErrMissingPhoneNumber = &RelayError{Kind: KindMissingPhoneNumber}
	ErrStoreUnavailable   = &RelayError{Kind: KindStoreUnavailable}
)

// NewError wraps err as a RelayError of the given kind.
func NewError(kind ErrorKind, op string, err error) *RelayError {
	return &RelayError{Kind: kind, Op: op, Err: err}
}

// Errorf builds a RelayError from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *RelayError {
	return &RelayError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first RelayError in err's chain. Errors that
// are not RelayErrors are reported as KindDeliverySend.
func KindOf(err error) ErrorKind {
	if err == nil {
		return 0
	}
	var re *RelayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindDeliverySend
}
