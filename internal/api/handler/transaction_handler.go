package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pocket-ledger/internal/api/handler/dto"
	"pocket-ledger/internal/domain/ledger"
	"pocket-ledger/internal/pkg/apperrors"
)

type TransactionHandler struct {
	service ledger.LedgerService
	logger  *slog.Logger
}

func NewTransactionHandler(s ledger.LedgerService, l *slog.Logger) *TransactionHandler {
	if s == nil {
		panic("ledger service cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &TransactionHandler{
		service: s,
		logger:  l.With("component", "TransactionHandler"),
	}
}

func getTransactionIDFromURL(r *http.Request) (string, error) {
	id := chi.URLParam(r, "transactionID")
	if id == "" {
		return "", fmt.Errorf("%w: transactionID not found in URL path", apperrors.ErrInvalidArgument)
	}
	return id, nil
}

// CreateTransaction handles POST /transactions.
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	h.logger.DebugContext(r.Context(), "Received create transaction request")

	var req dto.CreateTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(r.Context(), "Transaction request validation failed", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	var timestamp time.Time
	if req.Timestamp != nil {
		timestamp = *req.Timestamp
	}
	tx, err := h.service.AddTransaction(r.Context(), ledger.TransactionInput{
		CustomerID:  req.CustomerID,
		Type:        ledger.TransactionType(req.Type),
		Amount:      req.Amount,
		Timestamp:   timestamp,
		Description: req.Description,
		Method:      ledger.PaymentMethod(req.Method),
	})
	if err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrValidation) &&
			!errors.Is(err, apperrors.ErrInvalidAmount) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to create transaction", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Transaction created successfully", slog.String("transactionID", tx.ID))
	respondJSON(w, http.StatusCreated, dto.NewTransactionResponse(tx))
}

// ListTransactions handles GET /transactions with an optional customer_id
// filter.
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	h.logger.DebugContext(r.Context(), "Received list transactions request")

	var transactions []ledger.Transaction
	if customerID := r.URL.Query().Get("customer_id"); customerID != "" {
		transactions = h.service.CustomerTransactions(customerID)
	} else {
		transactions = h.service.Transactions()
	}

	resp := make([]dto.TransactionResponse, len(transactions))
	for i, tx := range transactions {
		resp[i] = dto.NewTransactionResponse(tx)
	}

	h.logger.InfoContext(r.Context(), "Transactions listed successfully", slog.Int("count", len(resp)))
	respondJSON(w, http.StatusOK, resp)
}

// UpdateTransaction handles PUT /transactions/{transactionID}. The
// transaction type is immutable; an attempted change is rejected with 409.
func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID, err := getTransactionIDFromURL(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get transaction ID from URL", slog.Any("error", err))
		respondError(w, err)
		return
	}

	var req dto.UpdateTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	var txType *ledger.TransactionType
	if req.Type != nil {
		t := ledger.TransactionType(*req.Type)
		txType = &t
	}
	var method *ledger.PaymentMethod
	if req.Method != nil {
		m := ledger.PaymentMethod(*req.Method)
		method = &m
	}

	tx, err := h.service.EditTransaction(r.Context(), transactionID, ledger.TransactionEdit{
		Type:        txType,
		Amount:      req.Amount,
		Timestamp:   req.Timestamp,
		Description: req.Description,
		Method:      method,
	})
	if err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrImmutableType) &&
			!errors.Is(err, apperrors.ErrInvalidAmount) && !errors.Is(err, apperrors.ErrValidation) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to update transaction", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Transaction updated successfully")
	respondJSON(w, http.StatusOK, dto.NewTransactionResponse(tx))
}

// DeleteTransaction handles DELETE /transactions/{transactionID}.
func (h *TransactionHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID, err := getTransactionIDFromURL(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get transaction ID from URL", slog.Any("error", err))
		respondError(w, err)
		return
	}

	if err := h.service.DeleteTransaction(r.Context(), transactionID); err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, apperrors.ErrNotFound) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to delete transaction", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Transaction deleted successfully")
	respondJSON(w, http.StatusNoContent, nil)
}
