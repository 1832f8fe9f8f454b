package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pocket-ledger/internal/infrastructure/monitoring"
)

// Record is one row of a synced collection in wire shape, keyed by the
// record identifier the queue and the remote store both use.
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Snapshot maps collection name to its records in stable order.
type Snapshot map[string][]Record

// Fetcher retrieves a full remote collection snapshot. Implementations page
// through large collections until a short page signals end-of-data.
type Fetcher interface {
	FetchAll(ctx context.Context, collection string) ([]Record, error)
}

// Reconciler merges remote snapshots with the pending queue and any orphaned
// local-only records, producing a consistent local view.
//
// Core invariant: the merged output is a superset-safe merge. The remote
// snapshot is authoritative for everything not locally pending, but no record
// with a pending or orphaned local mutation is ever lost to a remote read.
type Reconciler struct {
	queue       *Queue
	fetcher     Fetcher
	conn        ConnectivityProvider
	collections []string
	logger      *slog.Logger

	lastRunMu sync.Mutex
	lastRun   time.Time
}

func NewReconciler(queue *Queue, fetcher Fetcher, conn ConnectivityProvider, collections []string, logger *slog.Logger) *Reconciler {
	if queue == nil || fetcher == nil || conn == nil {
		panic("Reconciler dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		queue:       queue,
		fetcher:     fetcher,
		conn:        conn,
		collections: collections,
		logger:      logger.With("component", "Reconciler"),
	}
}

// Reconcile returns the merged snapshot and true when the remote store was
// consulted. Offline or on remote error, the local snapshot is returned
// unchanged with false; the last known local state always wins over a
// failed fetch.
func (r *Reconciler) Reconcile(ctx context.Context, local Snapshot) (Snapshot, bool, error) {
	if !r.conn.IsOnline() {
		r.logger.InfoContext(ctx, "Offline, keeping local snapshot unchanged")
		return local, false, nil
	}

	start := time.Now()

	remote := make(Snapshot, len(r.collections))
	for _, collection := range r.collections {
		records, err := r.fetcher.FetchAll(ctx, collection)
		if err != nil {
			r.logger.WarnContext(ctx, "Remote fetch failed, keeping local snapshot unchanged",
				slog.String("collection", collection), slog.Any("error", err))
			return local, false, nil
		}
		remote[collection] = records
	}

	pending, err := r.queue.Peek()
	if err != nil {
		return local, false, fmt.Errorf("failed to read pending queue: %w", err)
	}

	merged := r.overlayPending(remote, pending)
	orphans := r.recoverOrphans(ctx, local, merged, pending)

	r.lastRunMu.Lock()
	r.lastRun = time.Now()
	r.lastRunMu.Unlock()
	monitoring.Sync.ReconcileDuration.Observe(time.Since(start).Seconds())
	r.logger.InfoContext(ctx, "Reconciliation complete",
		slog.Int("pendingOverlaid", len(pending)),
		slog.Int("orphansRecovered", orphans),
		slog.Duration("duration", time.Since(start)))
	return merged, true, nil
}

// overlayPending reapplies every pending queue entry on top of the remote
// base in queue order, so unconfirmed local edits are never clobbered by a
// fetch that raced ahead of replay.
func (r *Reconciler) overlayPending(base Snapshot, pending []Entry) Snapshot {
	merged := make(Snapshot, len(base))
	index := make(map[string]map[string]int, len(base))
	for collection, records := range base {
		merged[collection] = append([]Record(nil), records...)
		idx := make(map[string]int, len(records))
		for i, rec := range records {
			idx[rec.ID] = i
		}
		index[collection] = idx
	}

	for _, entry := range pending {
		records := merged[entry.Collection]
		idx := index[entry.Collection]
		if idx == nil {
			idx = make(map[string]int)
			index[entry.Collection] = idx
		}

		switch entry.Action {
		case ActionInsert, ActionUpdate:
			rec := Record{ID: entry.RecordID, Data: entry.Payload}
			if i, ok := idx[entry.RecordID]; ok {
				records[i] = rec
			} else {
				records = append(records, rec)
				idx[entry.RecordID] = len(records) - 1
			}
		case ActionDelete:
			if i, ok := idx[entry.RecordID]; ok {
				records = append(records[:i], records[i+1:]...)
				delete(idx, entry.RecordID)
				for j := i; j < len(records); j++ {
					idx[records[j].ID] = j
				}
			}
		}
		merged[entry.Collection] = records
	}
	return merged
}

// recoverOrphans scans for local records absent from both the merged result
// and the pending queue, which is evidence of a lost mutation. They are re-inserted
// and re-enqueued as fresh INSERTs so they eventually reach the remote store.
func (r *Reconciler) recoverOrphans(ctx context.Context, local, merged Snapshot, pending []Entry) int {
	pendingIDs := make(map[string]struct{}, len(pending))
	for _, e := range pending {
		pendingIDs[e.Collection+"/"+e.RecordID] = struct{}{}
	}

	recovered := 0
	for collection, localRecords := range local {
		mergedIDs := make(map[string]struct{}, len(merged[collection]))
		for _, rec := range merged[collection] {
			mergedIDs[rec.ID] = struct{}{}
		}

		for _, rec := range localRecords {
			if _, ok := mergedIDs[rec.ID]; ok {
				continue
			}
			if _, ok := pendingIDs[collection+"/"+rec.ID]; ok {
				continue
			}

			r.logger.WarnContext(ctx, "Recovering orphaned local record",
				slog.String("collection", collection), slog.String("recordID", rec.ID))
			merged[collection] = append(merged[collection], rec)
			if err := r.queue.Enqueue(rec.ID, ActionInsert, collection, rec.Data); err != nil {
				r.logger.ErrorContext(ctx, "Failed to re-enqueue orphaned record",
					slog.String("recordID", rec.ID), slog.Any("error", err))
				continue
			}
			monitoring.Sync.OrphansRecovered.Inc()
			recovered++
		}
	}
	return recovered
}

// LastRun returns when reconciliation last completed against the remote
// store, zero if never.
func (r *Reconciler) LastRun() time.Time {
	r.lastRunMu.Lock()
	defer r.lastRunMu.Unlock()
	return r.lastRun
}
