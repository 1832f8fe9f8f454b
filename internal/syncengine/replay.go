package syncengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pocket-ledger/internal/infrastructure/monitoring"
	"pocket-ledger/internal/pkg/apperrors"
)

// Applier performs one queue entry's mutation against the remote store.
// Implementations must verify that INSERT/UPDATE writes affected at least one
// row and return apperrors.ErrSilentRejection otherwise; DELETE is confirmed
// by absence of error alone.
type Applier interface {
	Apply(ctx context.Context, entry Entry) error
}

// ConnectivityProvider is the subset of the monitor the worker needs.
type ConnectivityProvider interface {
	IsOnline() bool
}

// DrainResult summarizes one replay pass.
type DrainResult struct {
	Attempted        int
	Confirmed        int
	Failed           int
	SilentRejections int
	Skipped          bool
}

// ReplayWorker drains the sync queue against the remote store. It is
// single-flight: a drain requested while one is already in progress is a
// no-op, which prevents double-application of the same entries. Entries that
// fail or cannot be verified stay queued and are retried on later passes,
// indefinitely, until they succeed or a newer mutation of the same
// (recordID, action) supersedes them.
type ReplayWorker struct {
	queue    *Queue
	applier  Applier
	conn     ConnectivityProvider
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	draining bool
	timer    *time.Timer

	lastDrain   time.Time
	lastDrainMu sync.Mutex
}

func NewReplayWorker(queue *Queue, applier Applier, conn ConnectivityProvider, debounce time.Duration, logger *slog.Logger) *ReplayWorker {
	if queue == nil || applier == nil || conn == nil {
		panic("ReplayWorker dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &ReplayWorker{
		queue:    queue,
		applier:  applier,
		conn:     conn,
		logger:   logger.With("component", "ReplayWorker"),
		debounce: debounce,
	}
}

// Trigger schedules a drain after a short debounce. Rapid successive
// mutations collapse into a single drain pass.
func (w *ReplayWorker) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		w.Drain(context.Background())
	})
}

// Drain replays the pending queue in order. Returns immediately with
// Skipped=true when a drain is already running or the remote store is
// offline. Network failure on one entry aborts that entry only; subsequent
// entries are still attempted. Confirmed entries are removed at the end of
// the pass; the queue re-reads durable storage before filtering so entries
// appended during the drain survive.
func (w *ReplayWorker) Drain(ctx context.Context) DrainResult {
	w.mu.Lock()
	if w.draining {
		w.mu.Unlock()
		return DrainResult{Skipped: true}
	}
	w.draining = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.draining = false
		w.mu.Unlock()
	}()

	if !w.conn.IsOnline() {
		w.logger.DebugContext(ctx, "Skipping drain, remote store offline")
		return DrainResult{Skipped: true}
	}

	start := time.Now()
	entries, err := w.queue.Peek()
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to read sync queue for drain", slog.Any("error", err))
		return DrainResult{Skipped: true}
	}
	if len(entries) == 0 {
		return DrainResult{}
	}

	w.logger.InfoContext(ctx, "Draining sync queue", slog.Int("pending", len(entries)))

	result := DrainResult{Attempted: len(entries)}
	confirmed := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		entryLog := w.logger.With(
			slog.String("queueID", entry.QueueID),
			slog.String("recordID", entry.RecordID),
			slog.String("collection", entry.Collection),
			slog.String("action", string(entry.Action)),
		)

		if err := w.applier.Apply(ctx, entry); err != nil {
			result.Failed++
			if errors.Is(err, apperrors.ErrSilentRejection) {
				// Not a transient outage: the remote accepted the call but a
				// row policy swallowed the write. Retrying will not self-heal
				// this, so flag it loudly for the operator.
				result.SilentRejections++
				monitoring.Sync.SilentRejections.WithLabelValues(entry.Collection, string(entry.Action)).Inc()
				entryLog.ErrorContext(ctx, "Remote write silently rejected, entry retained", slog.Any("error", err))
			} else {
				monitoring.Sync.EntriesFailed.WithLabelValues(entry.Collection, string(entry.Action)).Inc()
				entryLog.WarnContext(ctx, "Replay attempt failed, entry retained", slog.Any("error", err))
			}
			continue
		}

		confirmed[entry.QueueID] = struct{}{}
		result.Confirmed++
		monitoring.Sync.EntriesReplayed.WithLabelValues(entry.Collection, string(entry.Action)).Inc()
		entryLog.DebugContext(ctx, "Replay confirmed")
	}

	if err := w.queue.Remove(confirmed); err != nil {
		w.logger.ErrorContext(ctx, "Failed to remove confirmed entries, they will replay again",
			slog.Any("error", err))
	}

	w.lastDrainMu.Lock()
	w.lastDrain = time.Now()
	w.lastDrainMu.Unlock()

	monitoring.Sync.DrainDuration.Observe(time.Since(start).Seconds())
	w.logger.InfoContext(ctx, "Drain pass complete",
		slog.Int("attempted", result.Attempted),
		slog.Int("confirmed", result.Confirmed),
		slog.Int("failed", result.Failed),
		slog.Int("silentRejections", result.SilentRejections),
		slog.Duration("duration", time.Since(start)))
	return result
}

// LastDrain returns when the last drain pass finished, zero if never.
func (w *ReplayWorker) LastDrain() time.Time {
	w.lastDrainMu.Lock()
	defer w.lastDrainMu.Unlock()
	return w.lastDrain
}
