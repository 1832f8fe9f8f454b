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

type HolidayHandler struct {
	service ledger.LedgerService
	logger  *slog.Logger
}

func NewHolidayHandler(s ledger.LedgerService, l *slog.Logger) *HolidayHandler {
	if s == nil {
		panic("ledger service cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &HolidayHandler{
		service: s,
		logger:  l.With("component", "HolidayHandler"),
	}
}

// ListOverrides handles GET /holidays.
func (h *HolidayHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides := h.service.HolidayOverrides()
	resp := make([]dto.HolidayOverrideResponse, len(overrides))
	for i, o := range overrides {
		resp[i] = dto.NewHolidayOverrideResponse(o)
	}
	respondJSON(w, http.StatusOK, resp)
}

// SetOverride handles PUT /holidays/{date}. Setting an existing date replaces
// its override.
func (h *HolidayHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if date == "" {
		respondError(w, fmt.Errorf("%w: date not found in URL path", apperrors.ErrInvalidArgument))
		return
	}

	var req dto.HolidayOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	override := ledger.HolidayOverride{Date: date, IsHoliday: req.IsHoliday, Note: req.Note}
	if err := h.service.SetHolidayOverride(r.Context(), override); err != nil {
		h.logger.WarnContext(r.Context(), "Service failed to store holiday override", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Holiday override stored", slog.String("date", date))
	respondJSON(w, http.StatusOK, dto.NewHolidayOverrideResponse(override))
}

// RemoveOverride handles DELETE /holidays/{date}.
func (h *HolidayHandler) RemoveOverride(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if date == "" {
		respondError(w, fmt.Errorf("%w: date not found in URL path", apperrors.ErrInvalidArgument))
		return
	}

	if err := h.service.RemoveHolidayOverride(r.Context(), date); err != nil {
		level := slog.LevelWarn
		if !errors.Is(err, apperrors.ErrNotFound) {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to remove holiday override", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Holiday override removed", slog.String("date", date))
	respondJSON(w, http.StatusNoContent, nil)
}
