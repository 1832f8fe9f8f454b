package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("resource not found")

	ErrInvalidArgument = errors.New("invalid argument")

	ErrValidation = errors.New("validation failed")

	ErrAlreadyExists = errors.New("resource already exists")

	ErrDatabase = errors.New("database error")

	ErrInternalServer = errors.New("internal server error")

	ErrInvalidAmount = errors.New("transaction amount must be positive")

	ErrImmutableType = errors.New("transaction type cannot be changed")

	ErrOffline = errors.New("remote store unreachable")

	// ErrSilentRejection marks a remote write that returned success with zero
	// affected rows. Row-level security can swallow writes this way, so the
	// entry must stay queued and the condition logged as a configuration
	// problem rather than a transient outage.
	ErrSilentRejection = errors.New("remote write affected zero rows")

	ErrCorruptState = errors.New("local state corrupted")

	ErrUnauthorized = errors.New("unauthorized")

	ErrForbidden = errors.New("forbidden")

	ErrConflict = errors.New("resource conflict")
)

type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func NewValidationError(field, message string) error {

	return fmt.Errorf("%w: %w", ErrValidation, &ValidationError{Field: field, Message: message})
}

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func WrapDatabaseError(cause error, message string) error {
	return &AppError{
		Code:    "DB_ERROR",
		Message: message,
		Cause:   fmt.Errorf("%w: %w", ErrDatabase, cause),
	}
}

func WrapStorageError(cause error, message string) error {
	return &AppError{
		Code:    "LOCAL_STORE_ERROR",
		Message: message,
		Cause:   fmt.Errorf("%w: %w", ErrCorruptState, cause),
	}
}
