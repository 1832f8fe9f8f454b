package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// The remote store speaks snake_case; memory speaks camelCase. This file is
// the single serialization boundary between the two shapes. Each entity gets
// one pure, total pair: ToWire*/FromWire*.

const wireTimeLayout = time.RFC3339

// Remote collection names.
const (
	CollectionCustomers    = "customers"
	CollectionTransactions = "transactions"
)

type CustomerWire struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Phone            string  `json:"phone,omitempty"`
	LocationTag      string  `json:"location_tag"`
	LoanDate         string  `json:"loan_date,omitempty"`
	LoanPrincipal    int64   `json:"loan_principal"`
	InterestRate     float64 `json:"interest_rate"`
	InstallmentCount int     `json:"installment_count"`
	Status           string  `json:"status"`
	Role             string  `json:"role"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type TransactionWire struct {
	ID            string `json:"id"`
	CustomerID    string `json:"customer_id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	OccurredAt    string `json:"occurred_at"`
	Description   string `json:"description,omitempty"`
	PaymentMethod string `json:"payment_method"`
	Edited        bool   `json:"edited"`
}

func ToWireCustomer(c Customer) CustomerWire {
	return CustomerWire{
		ID:               c.ID,
		Name:             c.Name,
		Phone:            c.Phone,
		LocationTag:      c.Location,
		LoanDate:         c.LoanDate,
		LoanPrincipal:    c.Principal,
		InterestRate:     c.InterestRate,
		InstallmentCount: c.Installments,
		Status:           string(c.Status),
		Role:             string(c.Role),
		CreatedAt:        c.CreatedAt.UTC().Format(wireTimeLayout),
		UpdatedAt:        c.UpdatedAt.UTC().Format(wireTimeLayout),
	}
}

func FromWireCustomer(w CustomerWire) Customer {
	return Customer{
		ID:           w.ID,
		Name:         w.Name,
		Phone:        w.Phone,
		Location:     w.LocationTag,
		LoanDate:     w.LoanDate,
		Principal:    w.LoanPrincipal,
		InterestRate: w.InterestRate,
		Installments: w.InstallmentCount,
		Status:       Status(w.Status),
		Role:         Role(w.Role),
		CreatedAt:    parseWireTime(w.CreatedAt),
		UpdatedAt:    parseWireTime(w.UpdatedAt),
	}
}

func ToWireTransaction(tx Transaction) TransactionWire {
	return TransactionWire{
		ID:            tx.ID,
		CustomerID:    tx.CustomerID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		OccurredAt:    tx.Timestamp.UTC().Format(wireTimeLayout),
		Description:   tx.Description,
		PaymentMethod: string(tx.Method),
		Edited:        tx.Edited,
	}
}

func FromWireTransaction(w TransactionWire) Transaction {
	return Transaction{
		ID:          w.ID,
		CustomerID:  w.CustomerID,
		Type:        TransactionType(w.Type),
		Amount:      w.Amount,
		Timestamp:   parseWireTime(w.OccurredAt),
		Description: w.Description,
		Method:      PaymentMethod(w.PaymentMethod),
		Edited:      w.Edited,
	}
}

// parseWireTime tolerates blank and malformed timestamps: the remote rows are
// authoritative for identity, not for clock precision, so a bad timestamp
// degrades to the zero time instead of failing the whole merge.
func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(wireTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MarshalWireCustomer encodes the wire snapshot carried in sync queue
// payloads.
func MarshalWireCustomer(c Customer) (json.RawMessage, error) {
	raw, err := json.Marshal(ToWireCustomer(c))
	if err != nil {
		return nil, fmt.Errorf("failed to encode customer %s: %w", c.ID, err)
	}
	return raw, nil
}

func MarshalWireTransaction(tx Transaction) (json.RawMessage, error) {
	raw, err := json.Marshal(ToWireTransaction(tx))
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction %s: %w", tx.ID, err)
	}
	return raw, nil
}
