package ledger

import (
	"github.com/shopspring/decimal"
)

// RecomputePayoff derives a customer's payoff status from the transaction
// ledger: paid-off once cumulative repayments meet or exceed
// principal * (1 + rate/100). Pure; the caller decides whether a changed
// status warrants a customer update.
//
// Archived customers and zero-principal customers (savers) are never
// reclassified: their stored status is returned unchanged.
func RecomputePayoff(c Customer, transactions []Transaction) Status {
	if c.Status == StatusArchived || c.Principal == 0 {
		return c.Status
	}

	repaid := decimal.Zero
	for _, tx := range transactions {
		if tx.CustomerID == c.ID && tx.Type == TypeRepayment {
			repaid = repaid.Add(decimal.NewFromInt(tx.Amount))
		}
	}

	rate := decimal.NewFromFloat(c.InterestRate).Div(decimal.NewFromInt(100))
	totalDue := decimal.NewFromInt(c.Principal).Mul(decimal.NewFromInt(1).Add(rate))

	if repaid.GreaterThanOrEqual(totalDue) {
		return StatusPaidOff
	}
	return StatusActive
}

// TotalDue returns principal plus simple interest in whole currency units,
// rounded half-up. Used by the installment schedule helper and handlers.
func TotalDue(c Customer) int64 {
	rate := decimal.NewFromFloat(c.InterestRate).Div(decimal.NewFromInt(100))
	due := decimal.NewFromInt(c.Principal).Mul(decimal.NewFromInt(1).Add(rate))
	return due.Round(0).IntPart()
}
