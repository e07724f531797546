package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cofferdb/coffer/internal/backup"
	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/config"
	"github.com/cofferdb/coffer/internal/crypto"
	"github.com/cofferdb/coffer/internal/storage"
)

const (
	ExitCodeSuccess  = 0
	ExitCodeGeneric  = 1
	ExitCodeUsage    = 2
	ExitCodeNotFound = 3
	ExitCodeConflict = 4
	ExitCodeIO       = 5
	ExitCodeAuth     = 6
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ExitError) ExitCode() int {
	if e == nil {
		return ExitCodeGeneric
	}
	return e.Code
}

func asExitError(code int, err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}
	return &ExitError{Code: code, Err: err}
}

func mapCommandError(err error) error {
	if err == nil {
		return nil
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return err
	}

	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, backup.ErrObjectNotFound):
		return asExitError(ExitCodeNotFound, err)
	case errors.Is(err, storage.ErrUnknownCollection),
		errors.Is(err, storage.ErrUnknownIndex),
		errors.Is(err, storage.ErrMissingPrimaryKey),
		errors.Is(err, storage.ErrInvalidDocument),
		errors.Is(err, catalog.ErrInvalid),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, crypto.ErrPassphraseRequired):
		return asExitError(ExitCodeUsage, err)
	case errors.Is(err, storage.ErrSchemaTooNew),
		errors.Is(err, backup.ErrStoreExists),
		errors.Is(err, storage.ErrJournalConflict):
		return asExitError(ExitCodeConflict, err)
	case errors.Is(err, backup.ErrChecksumMismatch),
		errors.Is(err, crypto.ErrInvalidEnvelope):
		return asExitError(ExitCodeIO, err)
	case errors.Is(err, crypto.ErrAuthenticationFailed):
		return asExitError(ExitCodeAuth, err)
	}

	var openErr *storage.OpenError
	var ioErr *storage.IOError
	var pathErr *fs.PathError
	if errors.As(err, &openErr) || errors.As(err, &ioErr) ||
		errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) {
		return asExitError(ExitCodeIO, err)
	}

	return asExitError(ExitCodeGeneric, err)
}

func usageErrorf(format string, args ...any) error {
	return &ExitError{
		Code: ExitCodeUsage,
		Err:  fmt.Errorf(format, args...),
	}
}
