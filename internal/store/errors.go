package store

import (
	"errors"
	"fmt"

	"github.com/waytous/waytous/internal/envelope"
)

// Kind classifies store failures
type Kind int

const (
	// KindNotFound means no record has ever been written at the location
	KindNotFound Kind = iota + 1
	// KindCorrupt means a record exists but cannot be opened or decoded
	KindCorrupt
	// KindIoFailure means the backing medium failed
	KindIoFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindCorrupt:
		return "corrupt"
	case KindIoFailure:
		return "i/o failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrNotFound = &Error{Kind: KindNotFound}
	ErrCorrupt  = &Error{Kind: KindCorrupt}
	ErrIO       = &Error{Kind: KindIoFailure}
)

// Error is returned by every Store and Location
type Error struct {
	Kind     Kind
	Location string
	Err      error
}

func (e *Error) Error() string {
	msg := "metadata " + e.Kind.String()
	if e.Location != "" {
		msg = fmt.Sprintf("%s at %s", msg, e.Location)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or 0 if err is not a store error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound returns true if err means no record exists
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorrupt returns true if err means the record is damaged or tampered with
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

func notFound(loc string, err error) error {
	return &Error{Kind: KindNotFound, Location: loc, Err: err}
}

func corrupt(loc string, err error) error {
	return &Error{Kind: KindCorrupt, Location: loc, Err: err}
}

func ioFailure(loc string, err error) error {
	return &Error{Kind: KindIoFailure, Location: loc, Err: err}
}

// fromEnvelope maps envelope failures: format and authentication problems
// mean the stored record is corrupt, everything else is a system failure.
func fromEnvelope(loc string, err error) error {
	switch envelope.KindOf(err) {
	case envelope.KindTruncated, envelope.KindAuthenticationFailed:
		return corrupt(loc, err)
	default:
		return ioFailure(loc, err)
	}
}
