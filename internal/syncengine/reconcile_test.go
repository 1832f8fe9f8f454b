package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	collections map[string][]Record
	err         error
}

func (f *stubFetcher) FetchAll(_ context.Context, collection string) ([]Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.collections[collection], nil
}

func newTestReconciler(t *testing.T, q *Queue, fetcher Fetcher, online bool) *Reconciler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReconciler(q, fetcher, stubConn{online: online}, []string{"customers", "transactions"}, logger)
}

func TestReconcile(t *testing.T) {
	t.Run("should keep local snapshot while offline", func(t *testing.T) {
		q := newTestQueue(t)
		r := newTestReconciler(t, q, &stubFetcher{}, false)

		local := Snapshot{"customers": {{ID: "a", Data: json.RawMessage(`{"id":"a"}`)}}}
		merged, remoteConsulted, err := r.Reconcile(context.Background(), local)

		require.NoError(t, err)
		assert.False(t, remoteConsulted)
		assert.Equal(t, local, merged)
	})

	t.Run("should keep local snapshot when remote fetch fails", func(t *testing.T) {
		q := newTestQueue(t)
		r := newTestReconciler(t, q, &stubFetcher{err: fmt.Errorf("connection refused")}, true)

		local := Snapshot{"customers": {{ID: "a", Data: json.RawMessage(`{"id":"a"}`)}}}
		merged, remoteConsulted, err := r.Reconcile(context.Background(), local)

		require.NoError(t, err)
		assert.False(t, remoteConsulted)
		assert.Equal(t, local, merged)
	})

	t.Run("pending update wins over remote row", func(t *testing.T) {
		q := newTestQueue(t)
		require.NoError(t, q.Enqueue("a", ActionUpdate, "customers", json.RawMessage(`{"id":"a","name":"edited"}`)))

		fetcher := &stubFetcher{collections: map[string][]Record{
			"customers": {
				{ID: "a", Data: json.RawMessage(`{"id":"a","name":"stale"}`)},
				{ID: "b", Data: json.RawMessage(`{"id":"b"}`)},
			},
		}}
		r := newTestReconciler(t, q, fetcher, true)

		merged, remoteConsulted, err := r.Reconcile(context.Background(), Snapshot{})
		require.NoError(t, err)
		assert.True(t, remoteConsulted)

		customers := merged["customers"]
		require.Len(t, customers, 2)
		assert.Equal(t, "a", customers[0].ID)
		assert.JSONEq(t, `{"id":"a","name":"edited"}`, string(customers[0].Data))
		assert.Equal(t, "b", customers[1].ID)
	})

	t.Run("pending insert not yet remote is added", func(t *testing.T) {
		q := newTestQueue(t)
		require.NoError(t, q.Enqueue("new", ActionInsert, "customers", json.RawMessage(`{"id":"new"}`)))

		fetcher := &stubFetcher{collections: map[string][]Record{
			"customers": {{ID: "a", Data: json.RawMessage(`{"id":"a"}`)}},
		}}
		r := newTestReconciler(t, q, fetcher, true)

		merged, _, err := r.Reconcile(context.Background(), Snapshot{})
		require.NoError(t, err)

		customers := merged["customers"]
		require.Len(t, customers, 2)
		assert.Equal(t, "new", customers[1].ID)
	})

	t.Run("pending delete removes the remote row", func(t *testing.T) {
		q := newTestQueue(t)
		require.NoError(t, q.Enqueue("gone", ActionDelete, "customers", nil))

		fetcher := &stubFetcher{collections: map[string][]Record{
			"customers": {
				{ID: "gone", Data: json.RawMessage(`{"id":"gone"}`)},
				{ID: "kept", Data: json.RawMessage(`{"id":"kept"}`)},
			},
		}}
		r := newTestReconciler(t, q, fetcher, true)

		merged, _, err := r.Reconcile(context.Background(), Snapshot{})
		require.NoError(t, err)

		customers := merged["customers"]
		require.Len(t, customers, 1)
		assert.Equal(t, "kept", customers[0].ID)
	})

	t.Run("should recover orphaned local records and re-enqueue them", func(t *testing.T) {
		q := newTestQueue(t)

		fetcher := &stubFetcher{collections: map[string][]Record{
			"customers": {{ID: "a", Data: json.RawMessage(`{"id":"a"}`)}},
		}}
		r := newTestReconciler(t, q, fetcher, true)

		// "orphan" exists locally, is absent remotely, and has no pending
		// queue entry: its original enqueue was lost.
		local := Snapshot{"customers": {
			{ID: "a", Data: json.RawMessage(`{"id":"a"}`)},
			{ID: "orphan", Data: json.RawMessage(`{"id":"orphan"}`)},
		}}

		merged, _, err := r.Reconcile(context.Background(), local)
		require.NoError(t, err)

		customers := merged["customers"]
		require.Len(t, customers, 2)
		assert.Equal(t, "orphan", customers[1].ID)

		pending, err := q.Peek()
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "orphan", pending[0].RecordID)
		assert.Equal(t, ActionInsert, pending[0].Action)

		assert.False(t, r.LastRun().IsZero())
	})

	t.Run("LastRun is safe to read while reconciling", func(t *testing.T) {
		q := newTestQueue(t)
		fetcher := &stubFetcher{collections: map[string][]Record{
			"customers": {{ID: "a", Data: json.RawMessage(`{"id":"a"}`)}},
		}}
		r := newTestReconciler(t, q, fetcher, true)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 100; i++ {
				r.LastRun()
			}
		}()

		for i := 0; i < 20; i++ {
			_, _, err := r.Reconcile(context.Background(), Snapshot{})
			require.NoError(t, err)
		}
		<-done

		assert.False(t, r.LastRun().IsZero())
	})

	t.Run("should not treat locally-pending records as orphans", func(t *testing.T) {
		q := newTestQueue(t)
		require.NoError(t, q.Enqueue("pending", ActionInsert, "customers", json.RawMessage(`{"id":"pending"}`)))

		fetcher := &stubFetcher{collections: map[string][]Record{"customers": nil}}
		r := newTestReconciler(t, q, fetcher, true)

		local := Snapshot{"customers": {{ID: "pending", Data: json.RawMessage(`{"id":"pending"}`)}}}
		merged, _, err := r.Reconcile(context.Background(), local)
		require.NoError(t, err)

		// The pending overlay already placed it; no duplicate, no extra enqueue.
		require.Len(t, merged["customers"], 1)

		pending, err := q.Peek()
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}
