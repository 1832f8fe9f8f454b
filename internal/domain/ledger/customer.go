package ledger

import (
	"fmt"
	"strings"
	"time"

	"pocket-ledger/internal/pkg/apperrors"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPaidOff  Status = "paid-off"
	StatusArchived Status = "archived"
)

type Role string

const (
	RoleBorrower Role = "borrower"
	RoleSaver    Role = "saver"
)

// Customer is a borrower or saver. A saver always has zero principal; a
// borrower's principal is normally positive. Identifiers are generated
// device-locally and must be stable across devices.
type Customer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	Location     string    `json:"location"`
	LoanDate     string    `json:"loanDate,omitempty"`
	Principal    int64     `json:"principal"`
	InterestRate float64   `json:"interestRate"`
	Installments int       `json:"installments"`
	Status       Status    `json:"status"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (c *Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return apperrors.NewValidationError("name", "cannot be empty")
	}
	switch c.Role {
	case RoleBorrower:
		if c.Principal <= 0 {
			return apperrors.NewValidationError("principal", "must be positive for a borrower")
		}
		if c.InterestRate < 0 {
			return apperrors.NewValidationError("interestRate", "cannot be negative")
		}
		if c.Installments <= 0 {
			return apperrors.NewValidationError("installments", "must be positive for a borrower")
		}
		if c.LoanDate != "" {
			if _, err := time.Parse("2006-01-02", c.LoanDate); err != nil {
				return apperrors.NewValidationError("loanDate", fmt.Sprintf("invalid calendar date %q", c.LoanDate))
			}
		}
	case RoleSaver:
		if c.Principal != 0 {
			return apperrors.NewValidationError("principal", "must be zero for a saver")
		}
	default:
		return apperrors.NewValidationError("role", fmt.Sprintf("unknown role %q", c.Role))
	}
	switch c.Status {
	case StatusActive, StatusPaidOff, StatusArchived:
	default:
		return apperrors.NewValidationError("status", fmt.Sprintf("unknown status %q", c.Status))
	}
	return nil
}

// HolidayOverride marks a calendar date as holiday (or explicitly not one),
// overriding the built-in calendar used by installment due-date display.
// Local-only: never synced to the remote store.
type HolidayOverride struct {
	Date      string `json:"date"`
	IsHoliday bool   `json:"isHoliday"`
	Note      string `json:"note,omitempty"`
}

func (h *HolidayOverride) Validate() error {
	if _, err := time.Parse("2006-01-02", h.Date); err != nil {
		return apperrors.NewValidationError("date", fmt.Sprintf("invalid calendar date %q", h.Date))
	}
	return nil
}
