package apperrors

import (
	"errors"
	"testing"
)

func TestAppErrorError(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		expected string
	}{
		{
			name: "With Code",
			appError: &AppError{
				Code:    "TEST_CODE",
				Message: "This is a test error",
			},
			expected: "[TEST_CODE] This is a test error",
		},
		{
			name: "Without Code",
			appError: &AppError{
				Message: "This is a test error without code",
			},
			expected: "This is a test error without code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.appError.Error()
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestWrapDatabaseErrorUnwrapsSentinel(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapDatabaseError(cause, "saving customer failed")

	if !errors.Is(err, ErrDatabase) {
		t.Errorf("expected wrapped error to match ErrDatabase")
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped error to match original cause")
	}
}

func TestNewValidationErrorCarriesField(t *testing.T) {
	err := NewValidationError("amount", "must be positive")

	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation sentinel in chain")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError in chain")
	}
	if ve.Field != "amount" {
		t.Errorf("expected field 'amount', got %q", ve.Field)
	}
}
