package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pocket-ledger/internal/api/handler/dto"
	"pocket-ledger/internal/domain/ledger"
	"pocket-ledger/internal/pkg/apperrors"
)

type CustomerHandler struct {
	service ledger.LedgerService
	logger  *slog.Logger
}

func NewCustomerHandler(s ledger.LedgerService, l *slog.Logger) *CustomerHandler {
	if s == nil {
		panic("ledger service cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &CustomerHandler{
		service: s,
		logger:  l.With("component", "CustomerHandler"),
	}
}

func getCustomerIDFromURL(r *http.Request) (string, error) {
	id := chi.URLParam(r, "customerID")
	if id == "" {
		return "", fmt.Errorf("%w: customerID not found in URL path", apperrors.ErrInvalidArgument)
	}
	return id, nil
}

// CreateBorrower handles POST /customers/borrowers. The loan disbursement
// transaction is recorded atomically with the new customer.
func (h *CustomerHandler) CreateBorrower(w http.ResponseWriter, r *http.Request) {
	h.logger.DebugContext(r.Context(), "Received create borrower request")

	var req dto.CreateBorrowerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(r.Context(), "Borrower request validation failed", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	cust, disbursement, err := h.service.AddBorrower(r.Context(), ledger.BorrowerInput{
		Name:         req.Name,
		Phone:        req.Phone,
		Location:     req.Location,
		LoanDate:     req.LoanDate,
		Principal:    req.Principal,
		InterestRate: req.InterestRate,
		Installments: req.Installments,
		Method:       ledger.PaymentMethod(req.Method),
		Description:  req.Description,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Service failed to create borrower", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Borrower created successfully", slog.String("customerID", cust.ID))
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"customer":    dto.NewCustomerResponse(cust),
		"transaction": dto.NewTransactionResponse(disbursement),
	})
}

// CreateSaver handles POST /customers/savers.
func (h *CustomerHandler) CreateSaver(w http.ResponseWriter, r *http.Request) {
	h.logger.DebugContext(r.Context(), "Received create saver request")

	var req dto.CreateSaverRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(r.Context(), "Saver request validation failed", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	cust, deposit, err := h.service.AddSaver(r.Context(), ledger.SaverInput{
		Name:           req.Name,
		Phone:          req.Phone,
		Location:       req.Location,
		InitialDeposit: req.InitialDeposit,
		Method:         ledger.PaymentMethod(req.Method),
		Description:    req.Description,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Service failed to create saver", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Saver created successfully", slog.String("customerID", cust.ID))
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"customer":    dto.NewCustomerResponse(cust),
		"transaction": dto.NewTransactionResponse(deposit),
	})
}

// GetCustomer handles GET /customers/{customerID}.
func (h *CustomerHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := getCustomerIDFromURL(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get customer ID from URL", slog.Any("error", err))
		respondError(w, err)
		return
	}

	cust, err := h.service.GetCustomer(customerID)
	if err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, apperrors.ErrNotFound) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to get customer", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Customer retrieved successfully")
	respondJSON(w, http.StatusOK, dto.NewCustomerResponse(cust))
}

// ListCustomers handles GET /customers. Reads are always served from the
// local snapshot, so this works offline.
func (h *CustomerHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	h.logger.DebugContext(r.Context(), "Received list customers request")

	customers := h.service.Customers()
	resp := make([]dto.CustomerResponse, len(customers))
	for i, cust := range customers {
		resp[i] = dto.NewCustomerResponse(cust)
	}

	h.logger.InfoContext(r.Context(), "Customers listed successfully", slog.Int("count", len(resp)))
	respondJSON(w, http.StatusOK, resp)
}

// UpdateCustomer handles PUT /customers/{customerID}.
func (h *CustomerHandler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := getCustomerIDFromURL(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get customer ID from URL", slog.Any("error", err))
		respondError(w, err)
		return
	}

	var req dto.UpdateCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	cust, err := h.service.UpdateCustomer(r.Context(), customerID, ledger.CustomerUpdate{
		Name:         req.Name,
		Phone:        req.Phone,
		Location:     req.Location,
		LoanDate:     req.LoanDate,
		Principal:    req.Principal,
		InterestRate: req.InterestRate,
		Installments: req.Installments,
	})
	if err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrValidation) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to update customer", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Customer updated successfully")
	respondJSON(w, http.StatusOK, dto.NewCustomerResponse(cust))
}

// DeleteCustomer handles DELETE /customers/{customerID}. Deletion cascades to
// the customer's transaction history.
func (h *CustomerHandler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := getCustomerIDFromURL(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get customer ID from URL", slog.Any("error", err))
		respondError(w, err)
		return
	}

	if err := h.service.DeleteCustomer(r.Context(), customerID); err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, apperrors.ErrNotFound) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to delete customer", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Customer deleted successfully")
	respondJSON(w, http.StatusNoContent, nil)
}

// SetArchived handles PUT /customers/{customerID}/archive.
func (h *CustomerHandler) SetArchived(w http.ResponseWriter, r *http.Request) {
	customerID, err := getCustomerIDFromURL(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get customer ID from URL", slog.Any("error", err))
		respondError(w, err)
		return
	}

	var req dto.SetArchivedRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	cust, err := h.service.SetArchived(r.Context(), customerID, req.Archived)
	if err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, apperrors.ErrNotFound) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to toggle archive status", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Customer archive status updated successfully")
	respondJSON(w, http.StatusOK, dto.NewCustomerResponse(cust))
}

// ListCustomerTransactions handles GET /customers/{customerID}/transactions.
func (h *CustomerHandler) ListCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	customerID, err := getCustomerIDFromURL(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get customer ID from URL", slog.Any("error", err))
		respondError(w, err)
		return
	}

	if _, err := h.service.GetCustomer(customerID); err != nil {
		respondError(w, err)
		return
	}

	transactions := h.service.CustomerTransactions(customerID)
	resp := make([]dto.TransactionResponse, len(transactions))
	for i, tx := range transactions {
		resp[i] = dto.NewTransactionResponse(tx)
	}

	h.logger.InfoContext(r.Context(), "Customer transactions listed successfully", slog.Int("count", len(resp)))
	respondJSON(w, http.StatusOK, resp)
}
