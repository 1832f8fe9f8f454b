package handler

import (
	"log/slog"
	"net/http"
	"time"

	"pocket-ledger/internal/api/handler/dto"
	"pocket-ledger/internal/domain/ledger"
	"pocket-ledger/internal/pkg/apperrors"
	"pocket-ledger/internal/syncengine"
)

type SyncHandler struct {
	queue   *syncengine.Queue
	monitor *syncengine.Monitor
	worker  *syncengine.ReplayWorker
	recon   *syncengine.Reconciler
	service ledger.LedgerService
	logger  *slog.Logger
}

func NewSyncHandler(
	queue *syncengine.Queue,
	monitor *syncengine.Monitor,
	worker *syncengine.ReplayWorker,
	recon *syncengine.Reconciler,
	service ledger.LedgerService,
	l *slog.Logger,
) *SyncHandler {
	if queue == nil || monitor == nil || worker == nil || service == nil {
		panic("sync handler dependencies cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &SyncHandler{
		queue:   queue,
		monitor: monitor,
		worker:  worker,
		recon:   recon,
		service: service,
		logger:  l.With("component", "SyncHandler"),
	}
}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Depth()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to read queue depth", slog.Any("error", err))
		respondError(w, err)
		return
	}

	resp := dto.SyncStatusResponse{
		Online:     h.monitor.IsOnline(),
		QueueDepth: depth,
	}
	if t := h.worker.LastDrain(); !t.IsZero() {
		resp.LastDrain = timePtr(t)
	}
	if h.recon != nil {
		if t := h.recon.LastRun(); !t.IsZero() {
			resp.LastReconcile = timePtr(t)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Drain handles POST /sync/drain: a synchronous, operator-triggered replay.
// While offline the queue must stay intact, so the request is rejected rather
// than silently skipped.
func (h *SyncHandler) Drain(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "Manual drain requested")
	if !h.monitor.IsOnline() {
		h.logger.WarnContext(r.Context(), "Manual drain rejected while offline")
		respondError(w, apperrors.ErrOffline)
		return
	}
	result := h.worker.Drain(r.Context())
	respondJSON(w, http.StatusOK, dto.DrainResultResponse{
		Attempted:        result.Attempted,
		Confirmed:        result.Confirmed,
		Failed:           result.Failed,
		SilentRejections: result.SilentRejections,
		Skipped:          result.Skipped,
	})
}

// Reconcile handles POST /sync/reconcile: an operator-triggered merge with the
// remote snapshot.
func (h *SyncHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "Manual reconciliation requested")
	if err := h.service.Reconcile(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "Reconciliation failed", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
