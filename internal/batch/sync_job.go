package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pocket-ledger/internal/domain/ledger"
	"pocket-ledger/internal/syncengine"
)

// SyncMaintenanceJob is the periodic safety net behind the event-driven sync
// triggers: it drains whatever the debounced replay missed and refreshes the
// local snapshot from the remote store.
type SyncMaintenanceJob struct {
	worker  *syncengine.ReplayWorker
	monitor *syncengine.Monitor
	service ledger.LedgerService
	logger  *slog.Logger
}

func NewSyncMaintenanceJob(
	worker *syncengine.ReplayWorker,
	monitor *syncengine.Monitor,
	service ledger.LedgerService,
	logger *slog.Logger,
) *SyncMaintenanceJob {
	if worker == nil || monitor == nil || service == nil || logger == nil {
		panic("SyncMaintenanceJob dependencies cannot be nil")
	}
	return &SyncMaintenanceJob{
		worker:  worker,
		monitor: monitor,
		service: service,
		logger:  logger.With("job", "SyncMaintenance"),
	}
}

func (j *SyncMaintenanceJob) Run(ctx context.Context) error {
	startTime := time.Now()
	j.logger.InfoContext(ctx, "Starting periodic sync maintenance job.")

	if !j.monitor.CheckNow(ctx) {
		j.logger.InfoContext(ctx, "Remote store unreachable, skipping maintenance run.",
			slog.Duration("duration", time.Since(startTime)))
		return nil
	}

	result := j.worker.Drain(ctx)

	var reconcileErr error
	if reconcileErr = j.service.Reconcile(ctx); reconcileErr != nil {
		j.logger.ErrorContext(ctx, "Reconciliation failed during maintenance run.", slog.Any("error", reconcileErr))
	}

	summaryLog := j.logger.With(
		slog.Duration("duration", time.Since(startTime)),
		slog.Int("entries_attempted", result.Attempted),
		slog.Int("entries_confirmed", result.Confirmed),
		slog.Int("entries_failed", result.Failed),
		slog.Int("silent_rejections", result.SilentRejections),
	)
	if result.Failed > 0 || result.SilentRejections > 0 || reconcileErr != nil {
		summaryLog.WarnContext(ctx, "Sync maintenance job finished with issues.")
	} else {
		summaryLog.InfoContext(ctx, "Sync maintenance job finished successfully.")
	}

	if reconcileErr != nil {
		return fmt.Errorf("maintenance reconciliation failed: %w", reconcileErr)
	}
	return nil
}
