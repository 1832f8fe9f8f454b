package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"pocket-ledger/internal/pkg/apperrors"
)

func validBorrower() Customer {
	return Customer{
		ID:           "cust-1",
		Name:         "Ani",
		Location:     "pasar-baru",
		LoanDate:     "2026-01-05",
		Principal:    500000,
		InterestRate: 10,
		Installments: 10,
		Status:       StatusActive,
		Role:         RoleBorrower,
	}
}

func TestCustomerValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Customer)
		wantErr bool
	}{
		{"valid borrower", func(*Customer) {}, false},
		{"empty name", func(c *Customer) { c.Name = "  " }, true},
		{"borrower with zero principal", func(c *Customer) { c.Principal = 0 }, true},
		{"borrower with negative rate", func(c *Customer) { c.InterestRate = -1 }, true},
		{"borrower without installments", func(c *Customer) { c.Installments = 0 }, true},
		{"malformed loan date", func(c *Customer) { c.LoanDate = "05/01/2026" }, true},
		{"missing loan date tolerated", func(c *Customer) { c.LoanDate = "" }, false},
		{"unknown role", func(c *Customer) { c.Role = "guarantor" }, true},
		{"unknown status", func(c *Customer) { c.Status = "dormant" }, true},
		{"saver with zero principal", func(c *Customer) {
			c.Role = RoleSaver
			c.Principal = 0
			c.Installments = 0
			c.LoanDate = ""
		}, false},
		{"saver with principal", func(c *Customer) {
			c.Role = RoleSaver
			c.Principal = 100
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validBorrower()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				var validationErr *apperrors.ValidationError
				assert.True(t, errors.As(err, &validationErr))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{
		ID:         "txn-1",
		CustomerID: "cust-1",
		Type:       TypeRepayment,
		Amount:     55000,
		Method:     MethodCash,
	}

	t.Run("valid transaction", func(t *testing.T) {
		tx := valid
		assert.NoError(t, tx.Validate())
	})

	t.Run("zero amount is an invalid amount", func(t *testing.T) {
		tx := valid
		tx.Amount = 0
		assert.ErrorIs(t, tx.Validate(), apperrors.ErrInvalidAmount)
	})

	t.Run("negative amount is an invalid amount", func(t *testing.T) {
		tx := valid
		tx.Amount = -100
		assert.ErrorIs(t, tx.Validate(), apperrors.ErrInvalidAmount)
	})

	t.Run("missing customer is rejected", func(t *testing.T) {
		tx := valid
		tx.CustomerID = ""
		assert.Error(t, tx.Validate())
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		tx := valid
		tx.Type = "refund"
		assert.Error(t, tx.Validate())
	})

	t.Run("unknown method is rejected", func(t *testing.T) {
		tx := valid
		tx.Method = "crypto"
		assert.Error(t, tx.Validate())
	})

	t.Run("only repayments affect payoff", func(t *testing.T) {
		tx := valid
		assert.True(t, tx.AffectsRepayment())
		tx.Type = TypeSavingsDeposit
		assert.False(t, tx.AffectsRepayment())
	})
}

func TestHolidayOverrideValidate(t *testing.T) {
	good := HolidayOverride{Date: "2026-08-17", IsHoliday: true, Note: "Independence Day"}
	assert.NoError(t, good.Validate())

	bad := HolidayOverride{Date: "17-08-2026"}
	assert.Error(t, bad.Validate())
}

func TestDueDates(t *testing.T) {
	c := validBorrower()
	c.LoanDate = "2026-01-05" // a Monday
	c.Installments = 3

	t.Run("weekly cadence from the loan date", func(t *testing.T) {
		dates := DueDates(c, nil)
		assert.Len(t, dates, 3)
		assert.Equal(t, "2026-01-12", dates[0].Format("2006-01-02"))
		assert.Equal(t, "2026-01-19", dates[1].Format("2006-01-02"))
		assert.Equal(t, "2026-01-26", dates[2].Format("2006-01-02"))
	})

	t.Run("holiday override shifts the due date forward", func(t *testing.T) {
		overrides := []HolidayOverride{{Date: "2026-01-12", IsHoliday: true}}
		dates := DueDates(c, overrides)
		assert.Equal(t, "2026-01-13", dates[0].Format("2006-01-02"))
		assert.Equal(t, "2026-01-19", dates[1].Format("2006-01-02"))
	})

	t.Run("sundays are skipped unless explicitly un-marked", func(t *testing.T) {
		sundayStart := c
		sundayStart.LoanDate = "2026-01-04" // a Sunday
		dates := DueDates(sundayStart, nil)
		assert.Equal(t, "2026-01-12", dates[0].Format("2006-01-02"))

		dates = DueDates(sundayStart, []HolidayOverride{{Date: "2026-01-11", IsHoliday: false}})
		assert.Equal(t, "2026-01-11", dates[0].Format("2006-01-02"))
	})

	t.Run("nil for savers and malformed loan dates", func(t *testing.T) {
		saver := Customer{Role: RoleSaver}
		assert.Nil(t, DueDates(saver, nil))

		broken := c
		broken.LoanDate = "not-a-date"
		assert.Nil(t, DueDates(broken, nil))
	})
}

func TestInstallmentAmount(t *testing.T) {
	c := validBorrower() // 500000 at 10% over 10 installments
	assert.Equal(t, int64(55000), InstallmentAmount(c))
	assert.Equal(t, int64(0), InstallmentAmount(Customer{Role: RoleSaver}))
}
