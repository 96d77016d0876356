package core

import (
	"errors"
	"strconv"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrCorruptDocument   = errors.New("corrupt document")
	ErrWriteFailure      = errors.New("write failure")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrUnsupportedMedia  = errors.New("unsupported media type")
	ErrTooLarge          = errors.New("content too large")
)

// StoreError carries the failed operation and the id it was applied to.
// errors.Is matches both Kind and the underlying cause.
type StoreError struct {
	Op   string
	ID   string
	Kind error
	Err  error
}

// NewStoreError builds a StoreError; err may be nil.
func NewStoreError(op, id string, kind, err error) error {
	return &StoreError{Op: op, ID: id, Kind: kind, Err: err}
}

func (e *StoreError) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += " " + strconv.Quote(e.ID)
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
