package store

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEventNotFound      = errors.New("calendar event not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user account is disabled")
	ErrAlreadyLoggedIn    = errors.New("user is already logged in")
	ErrNotLoggedIn        = errors.New("user is not logged in")
	ErrInvalidRange       = errors.New("start date must not be after end date")
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidRecord      = errors.New("attendance record violates ledger invariants")
	ErrBusy               = errors.New("store busy")
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAuth       ErrorKind = "auth"
	KindConflict   ErrorKind = "state_conflict"
	KindNotFound   ErrorKind = "not_found"
	KindBusy       ErrorKind = "busy"
	KindInternal   ErrorKind = "internal"
)

// corruptError is satisfied by credential errors that report damaged
// stored material without importing that package here.
type corruptError interface {
	Corrupt() bool
}

// Kind classifies err into the engine's error taxonomy.
func Kind(err error) ErrorKind {
	var corrupt corruptError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidRecord),
		errors.Is(err, ErrDuplicateEmail):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveUser),
		errors.As(err, &corrupt) && corrupt.Corrupt():
		return KindAuth
	case errors.Is(err, ErrAlreadyLoggedIn), errors.Is(err, ErrNotLoggedIn):
		return KindConflict
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrEventNotFound):
		return KindNotFound
	case errors.Is(err, ErrBusy), errors.Is(err, context.DeadlineExceeded):
		return KindBusy
	default:
		return KindInternal
	}
}
