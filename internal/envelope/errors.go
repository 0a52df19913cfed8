package envelope

import (
	"errors"
	"fmt"
)

// Kind classifies envelope failures
type Kind int

const (
	KindInvalidKey Kind = iota + 1
	KindRandomSourceFailure
	KindSealFailed
	KindTruncated
	KindAuthenticationFailed
)

func (k Kind) String() string {
	switch k {
	case KindInvalidKey:
		return "invalid key"
	case KindRandomSourceFailure:
		return "random source failure"
	case KindSealFailed:
		return "seal failed"
	case KindTruncated:
		return "envelope truncated"
	case KindAuthenticationFailed:
		return "authentication failed"
	default:
		return "unknown envelope error"
	}
}

// Sentinels for errors.Is
var (
	ErrInvalidKey           = &Error{Kind: KindInvalidKey}
	ErrRandomSourceFailure  = &Error{Kind: KindRandomSourceFailure}
	ErrSealFailed           = &Error{Kind: KindSealFailed}
	ErrTruncated            = &Error{Kind: KindTruncated}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
)

// Error is returned by Seal and Open
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so wrapped errors compare equal to the sentinels
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 if err is not an envelope error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
