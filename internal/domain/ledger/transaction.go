package ledger

import (
	"fmt"
	"strings"
	"time"

	"pocket-ledger/internal/pkg/apperrors"
)

type TransactionType string

const (
	TypeLoanDisbursement TransactionType = "loan-disbursement"
	TypeSavingsDeposit   TransactionType = "savings-deposit"
	TypeRepayment        TransactionType = "repayment"
	TypeWithdrawal       TransactionType = "withdrawal"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
)

// Transaction is a financial event linked to exactly one customer. The type
// is immutable after creation; every other field may change through an edit,
// which always sets Edited.
type Transaction struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customerId"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description,omitempty"`
	Method      PaymentMethod   `json:"method"`
	Edited      bool            `json:"edited"`
}

func (tx *Transaction) Validate() error {
	if strings.TrimSpace(tx.CustomerID) == "" {
		return apperrors.NewValidationError("customerId", "cannot be empty")
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: got %d", apperrors.ErrInvalidAmount, tx.Amount)
	}
	switch tx.Type {
	case TypeLoanDisbursement, TypeSavingsDeposit, TypeRepayment, TypeWithdrawal:
	default:
		return apperrors.NewValidationError("type", fmt.Sprintf("unknown transaction type %q", tx.Type))
	}
	switch tx.Method {
	case MethodCash, MethodTransfer:
	default:
		return apperrors.NewValidationError("method", fmt.Sprintf("unknown payment method %q", tx.Method))
	}
	return nil
}

// AffectsRepayment reports whether a mutation of this transaction can change
// a customer's payoff status.
func (tx *Transaction) AffectsRepayment() bool {
	return tx.Type == TypeRepayment
}
