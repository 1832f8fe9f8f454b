package dto

import (
	"fmt"
	"strings"
	"time"

	"pocket-ledger/internal/domain/ledger"
)

type TokenRequest struct {
	Username string `json:"username"`
}

type CreateBorrowerRequest struct {
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Location     string  `json:"location"`
	LoanDate     string  `json:"loanDate"`
	Principal    int64   `json:"principal"`
	InterestRate float64 `json:"interestRate"`
	Installments int     `json:"installments"`
	Method       string  `json:"method"`
	Description  string  `json:"description"`
}

func (r *CreateBorrowerRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if r.Principal <= 0 {
		return fmt.Errorf("principal must be a positive number")
	}
	if r.Installments <= 0 {
		return fmt.Errorf("installments must be a positive number")
	}
	return nil
}

type CreateSaverRequest struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Location       string `json:"location"`
	InitialDeposit int64  `json:"initialDeposit"`
	Method         string `json:"method"`
	Description    string `json:"description"`
}

func (r *CreateSaverRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if r.InitialDeposit <= 0 {
		return fmt.Errorf("initialDeposit must be a positive number")
	}
	return nil
}

// UpdateCustomerRequest uses pointers so omitted fields are left untouched.
type UpdateCustomerRequest struct {
	Name         *string  `json:"name"`
	Phone        *string  `json:"phone"`
	Location     *string  `json:"location"`
	LoanDate     *string  `json:"loanDate"`
	Principal    *int64   `json:"principal"`
	InterestRate *float64 `json:"interestRate"`
	Installments *int     `json:"installments"`
}

type SetArchivedRequest struct {
	Archived bool `json:"archived"`
}

type CreateTransactionRequest struct {
	CustomerID  string     `json:"customerId"`
	Type        string     `json:"type"`
	Amount      int64      `json:"amount"`
	Timestamp   *time.Time `json:"timestamp"`
	Description string     `json:"description"`
	Method      string     `json:"method"`
}

func (r *CreateTransactionRequest) Validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return fmt.Errorf("customerId cannot be empty")
	}
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("type cannot be empty")
	}
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be a positive number")
	}
	return nil
}

type UpdateTransactionRequest struct {
	Type        *string    `json:"type"`
	Amount      *int64     `json:"amount"`
	Timestamp   *time.Time `json:"timestamp"`
	Description *string    `json:"description"`
	Method      *string    `json:"method"`
}

type HolidayOverrideRequest struct {
	IsHoliday bool   `json:"isHoliday"`
	Note      string `json:"note"`
}

type CustomerResponse struct {
	CustomerID   string    `json:"customerId"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Location     string    `json:"location"`
	LoanDate     string    `json:"loanDate,omitempty"`
	Principal    int64     `json:"principal"`
	InterestRate float64   `json:"interestRate"`
	Installments int       `json:"installments"`
	TotalDue     int64     `json:"totalDue"`
	Status       string    `json:"status"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func NewCustomerResponse(cust ledger.Customer) CustomerResponse {
	return CustomerResponse{
		CustomerID:   cust.ID,
		Name:         cust.Name,
		Phone:        cust.Phone,
		Location:     cust.Location,
		LoanDate:     cust.LoanDate,
		Principal:    cust.Principal,
		InterestRate: cust.InterestRate,
		Installments: cust.Installments,
		TotalDue:     ledger.TotalDue(cust),
		Status:       string(cust.Status),
		Role:         string(cust.Role),
		CreatedAt:    cust.CreatedAt,
		UpdatedAt:    cust.UpdatedAt,
	}
}

type TransactionResponse struct {
	TransactionID string    `json:"transactionId"`
	CustomerID    string    `json:"customerId"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
	Description   string    `json:"description,omitempty"`
	Method        string    `json:"method"`
	Edited        bool      `json:"edited"`
}

func NewTransactionResponse(tx ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Timestamp:     tx.Timestamp,
		Description:   tx.Description,
		Method:        string(tx.Method),
		Edited:        tx.Edited,
	}
}

type HolidayOverrideResponse struct {
	Date      string `json:"date"`
	IsHoliday bool   `json:"isHoliday"`
	Note      string `json:"note,omitempty"`
}

func NewHolidayOverrideResponse(h ledger.HolidayOverride) HolidayOverrideResponse {
	return HolidayOverrideResponse{Date: h.Date, IsHoliday: h.IsHoliday, Note: h.Note}
}

type SyncStatusResponse struct {
	Online        bool       `json:"online"`
	QueueDepth    int        `json:"queueDepth"`
	LastDrain     *time.Time `json:"lastDrain,omitempty"`
	LastReconcile *time.Time `json:"lastReconcile,omitempty"`
}

type DrainResultResponse struct {
	Attempted        int  `json:"attempted"`
	Confirmed        int  `json:"confirmed"`
	Failed           int  `json:"failed"`
	SilentRejections int  `json:"silentRejections"`
	Skipped          bool `json:"skipped"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}
