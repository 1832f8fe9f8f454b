package syncengine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pocket-ledger/internal/infrastructure/localstore"
	"pocket-ledger/internal/infrastructure/monitoring"
)

type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entry wraps one pending remote mutation. QueueID identifies this replay
// attempt and is distinct from RecordID, so confirming a drain removes
// exactly the entries it replayed and nothing enqueued since.
type Entry struct {
	QueueID    string          `json:"queueId"`
	RecordID   string          `json:"recordId"`
	Action     Action          `json:"action"`
	Collection string          `json:"collection"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Queue is the ordered, deduplicated log of pending mutations. At most one
// entry exists per (recordID, action): a newer mutation of the same kind
// replaces the older payload in place, keeping the original queue position so
// replay order relative to unrelated mutations is preserved.
//
// Every operation loads from and persists to the local durable store; the
// in-memory copy is never the source of truth.
type Queue struct {
	store  *localstore.Store
	ids    *IDGenerator
	logger *slog.Logger
	mu     sync.Mutex
	now    func() time.Time
}

func NewQueue(store *localstore.Store, ids *IDGenerator, logger *slog.Logger) *Queue {
	if store == nil || ids == nil {
		panic("Queue dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  store,
		ids:    ids,
		logger: logger.With("component", "SyncQueue"),
		now:    time.Now,
	}
}

func (q *Queue) load() ([]Entry, error) {
	var entries []Entry
	if _, err := q.store.GetJSON(localstore.KeySyncQueue, &entries); err != nil {
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}
	return entries, nil
}

func (q *Queue) persist(entries []Entry) error {
	if err := q.store.SetJSON(localstore.KeySyncQueue, entries); err != nil {
		return fmt.Errorf("failed to persist sync queue: %w", err)
	}
	monitoring.Sync.QueueDepth.Set(float64(len(entries)))
	return nil
}

// Enqueue records a pending mutation durably before returning. An existing
// entry for the same (recordID, action) pair has its payload replaced in
// place; otherwise the entry is appended with a fresh queue-local identifier.
func (q *Queue) Enqueue(recordID string, action Action, collection string, payload json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range entries {
		if entries[i].RecordID == recordID && entries[i].Action == action {
			entries[i].Payload = payload
			entries[i].Collection = collection
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, Entry{
			QueueID:    q.ids.Generate("q"),
			RecordID:   recordID,
			Action:     action,
			Collection: collection,
			Payload:    payload,
			EnqueuedAt: q.now(),
		})
	}

	if err := q.persist(entries); err != nil {
		return err
	}

	q.logger.Debug("Enqueued sync entry",
		"recordID", recordID, "action", string(action), "collection", collection,
		"replaced", replaced, "depth", len(entries))
	return nil
}

// Peek returns the pending entries in replay order without mutating the
// queue.
func (q *Queue) Peek() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Remove drops the entries whose queue identifiers are in confirmed. The
// queue is reloaded from durable storage first: concurrent writers may have
// appended since the drain that produced the confirmations started, and those
// entries must survive.
func (q *Queue) Remove(confirmed map[string]struct{}) error {
	if len(confirmed) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return err
	}

	remaining := entries[:0]
	for _, e := range entries {
		if _, ok := confirmed[e.QueueID]; !ok {
			remaining = append(remaining, e)
		}
	}

	if err := q.persist(remaining); err != nil {
		return err
	}
	q.logger.Debug("Removed confirmed sync entries",
		"confirmed", len(confirmed), "remaining", len(remaining))
	return nil
}

// Depth returns the number of pending entries.
func (q *Queue) Depth() (int, error) {
	entries, err := q.Peek()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
