package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("storage: not found")
	ErrSchemaTooNew      = errors.New("storage: schema version newer than catalog")
	ErrUnknownCollection = errors.New("storage: unknown collection")
	ErrUnknownIndex      = errors.New("storage: unknown index")
	ErrMissingPrimaryKey = errors.New("storage: document is missing its primary key")
	ErrInvalidDocument   = errors.New("storage: document is not a JSON object")
	ErrClosed            = errors.New("storage: store is closed")
	ErrJournalConflict   = errors.New("storage: journal chain tip moved")
)

// OpenError reports that the store file failed to open or migrate. It is
// fatal for the attempt that produced it; the next Open call retries from
// scratch rather than replaying a cached failure.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("storage: open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// IOError reports a failed accessor operation. The shared connection remains
// valid; retry policy belongs to the caller.
type IOError struct {
	Op         string
	Collection string
	Err        error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
