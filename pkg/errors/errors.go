package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an error category with a stable string for testing
// and log filtering.
type ErrorCode string

const (
	// Generation errors: a profile script could not produce a valid
	// desired state. Nothing was mutated.
	ErrFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	ErrAmbiguousMatch  ErrorCode = "AMBIGUOUS_MATCH"
	ErrInvalidOption   ErrorCode = "INVALID_OPTION"
	ErrProfileNotFound ErrorCode = "PROFILE_NOT_FOUND"
	ErrProfileCycle    ErrorCode = "PROFILE_CYCLE"
	ErrGeneration      ErrorCode = "GENERATION"

	// Integrity errors: profiles conflict with each other or with the
	// installed state. Nothing was mutated.
	ErrTargetCollision ErrorCode = "TARGET_COLLISION"
	ErrParentConflict  ErrorCode = "PARENT_CONFLICT"
	ErrBlacklisted     ErrorCode = "BLACKLISTED"
	ErrIntegrity       ErrorCode = "INTEGRITY"

	// Precondition errors: the filesystem or state file does not meet the
	// expectations of the computed operations.
	ErrUnmanagedFileExists ErrorCode = "UNMANAGED_FILE_EXISTS"
	ErrMissingDirectory    ErrorCode = "MISSING_DIRECTORY"
	ErrSchemaMismatch      ErrorCode = "SCHEMA_MISMATCH"
	ErrStateCorrupt        ErrorCode = "STATE_CORRUPT"
	ErrDynamicFileDiverged ErrorCode = "DYNAMIC_FILE_DIVERGED"
	ErrPrecondition        ErrorCode = "PRECONDITION"

	// Execution errors: an operation failed while mutating the filesystem.
	// Operations already applied are preserved in the state file.
	ErrExecution      ErrorCode = "EXECUTION"
	ErrProcessTimeout ErrorCode = "PROCESS_TIMEOUT"
	ErrPermission     ErrorCode = "PERMISSION"

	// Everything else.
	ErrUserAbort ErrorCode = "USER_ABORT"
	ErrConfig    ErrorCode = "CONFIG"
	ErrFatal     ErrorCode = "FATAL"
	ErrUnknown   ErrorCode = "UNKNOWN"
)

// Exit codes per error category, kept distinct so scripts can react to
// specific failure classes.
const (
	ExitOK           = 0
	ExitFatal        = 69
	ExitUser         = 101
	ExitIntegrity    = 102
	ExitPrecondition = 103
	ExitGeneration   = 104
	ExitUnknown      = 105
	ExitUserAbort    = 106
)

// UberdotError is a structured error with a code, a message and an
// optional wrapped cause.
type UberdotError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

func (e *UberdotError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *UberdotError) Unwrap() error {
	return e.Wrapped
}

// Is matches on the error code, so tests can compare against a bare
// New(code, "") sentinel.
func (e *UberdotError) Is(target error) bool {
	var targetErr *UberdotError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates an error with the given code and message.
func New(code ErrorCode, message string) *UberdotError {
	return &UberdotError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates an error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *UberdotError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error. Returns nil if err is nil.
func Wrap(err error, code ErrorCode, message string) *UberdotError {
	if err == nil {
		return nil
	}
	return &UberdotError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *UberdotError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithDetail attaches a key/value pair for diagnostics and returns the
// error for chaining.
func (e *UberdotError) WithDetail(key string, value interface{}) *UberdotError {
	e.Details[key] = value
	return e
}

// Code extracts the ErrorCode from any error. Unwrapped foreign errors
// report ErrUnknown.
func Code(err error) ErrorCode {
	var uerr *UberdotError
	if errors.As(err, &uerr) {
		return uerr.Code
	}
	if err != nil {
		return ErrUnknown
	}
	return ""
}

// ExitCode maps an error to the process exit code of its category.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch Code(err) {
	case ErrFileNotFound, ErrAmbiguousMatch, ErrInvalidOption,
		ErrProfileNotFound, ErrProfileCycle, ErrGeneration:
		return ExitGeneration
	case ErrTargetCollision, ErrParentConflict, ErrBlacklisted, ErrIntegrity:
		return ExitIntegrity
	case ErrUnmanagedFileExists, ErrMissingDirectory, ErrSchemaMismatch,
		ErrStateCorrupt, ErrDynamicFileDiverged, ErrPrecondition:
		return ExitPrecondition
	case ErrUserAbort:
		return ExitUserAbort
	case ErrConfig:
		return ExitUser
	case ErrFatal:
		return ExitFatal
	default:
		return ExitUnknown
	}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return Code(err) == code
}
