package ledger

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocket-ledger/internal/event"
	"pocket-ledger/internal/infrastructure/localstore"
	"pocket-ledger/internal/pkg/apperrors"
	"pocket-ledger/internal/syncengine"
)

type recordingTrigger struct {
	mu    sync.Mutex
	count int
}

func (t *recordingTrigger) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

func (t *recordingTrigger) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

type stubReconciler struct {
	merged          syncengine.Snapshot
	remoteConsulted bool
	got             syncengine.Snapshot
}

func (r *stubReconciler) Reconcile(_ context.Context, local syncengine.Snapshot) (syncengine.Snapshot, bool, error) {
	r.got = local
	if !r.remoteConsulted {
		return local, false, nil
	}
	return r.merged, true, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	created  []event.CustomerCreatedEvent
	payoff   []event.PayoffStatusChangedEvent
	recorded []event.TransactionRecordedEvent
}

func (p *recordingPublisher) PublishCustomerCreated(_ context.Context, e event.CustomerCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishPayoffStatusChanged(_ context.Context, e event.PayoffStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payoff = append(p.payoff, e)
	return nil
}

func (p *recordingPublisher) PublishTransactionRecorded(_ context.Context, e event.TransactionRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = append(p.recorded, e)
	return nil
}

type serviceFixture struct {
	service LedgerService
	store   *localstore.Store
	queue   *syncengine.Queue
	trigger *recordingTrigger
	recon   *stubReconciler
	pub     *recordingPublisher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := localstore.Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ids := syncengine.NewIDGenerator(store, logger)
	queue := syncengine.NewQueue(store, ids, logger)
	trigger := &recordingTrigger{}
	recon := &stubReconciler{}
	pub := &recordingPublisher{}

	service, err := NewLedgerService(store, queue, ids, trigger, recon, pub, logger)
	require.NoError(t, err)

	return &serviceFixture{
		service: service,
		store:   store,
		queue:   queue,
		trigger: trigger,
		recon:   recon,
		pub:     pub,
	}
}

func (f *serviceFixture) addBorrower(t *testing.T, name string, principal int64, rate float64, installments int) Customer {
	t.Helper()
	cust, _, err := f.service.AddBorrower(context.Background(), BorrowerInput{
		Name:         name,
		Location:     "pasar-baru",
		LoanDate:     "2026-01-05",
		Principal:    principal,
		InterestRate: rate,
		Installments: installments,
	})
	require.NoError(t, err)
	return cust
}

func TestAddBorrower(t *testing.T) {
	t.Run("creates customer with its disbursement atomically", func(t *testing.T) {
		f := newServiceFixture(t)

		cust, disbursement, err := f.service.AddBorrower(context.Background(), BorrowerInput{
			Name:         "Ani",
			Location:     "pasar-baru",
			LoanDate:     "2026-01-05",
			Principal:    500000,
			InterestRate: 10,
			Installments: 10,
		})
		require.NoError(t, err)

		assert.Equal(t, RoleBorrower, cust.Role)
		assert.Equal(t, StatusActive, cust.Status)
		assert.Equal(t, cust.ID, disbursement.CustomerID)
		assert.Equal(t, TypeLoanDisbursement, disbursement.Type)
		assert.Equal(t, int64(500000), disbursement.Amount)

		entries, err := f.queue.Peek()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, syncengine.ActionInsert, entries[0].Action)
		assert.Equal(t, CollectionCustomers, entries[0].Collection)
		assert.Equal(t, cust.ID, entries[0].RecordID)
		assert.Equal(t, CollectionTransactions, entries[1].Collection)
		assert.Equal(t, disbursement.ID, entries[1].RecordID)

		assert.Equal(t, 1, f.trigger.calls())
		require.Len(t, f.pub.created, 1)
		assert.Equal(t, cust.ID, f.pub.created[0].CustomerID)
	})

	t.Run("rejects invalid input without touching the queue", func(t *testing.T) {
		f := newServiceFixture(t)

		_, _, err := f.service.AddBorrower(context.Background(), BorrowerInput{Name: "No Loan"})
		assert.Error(t, err)

		depth, err := f.queue.Depth()
		require.NoError(t, err)
		assert.Equal(t, 0, depth)
		assert.Empty(t, f.service.Customers())
	})
}

func TestAddSaver(t *testing.T) {
	f := newServiceFixture(t)

	cust, deposit, err := f.service.AddSaver(context.Background(), SaverInput{
		Name:           "Budi",
		Location:       "pasar-lama",
		InitialDeposit: 25000,
	})
	require.NoError(t, err)

	assert.Equal(t, RoleSaver, cust.Role)
	assert.Equal(t, int64(0), cust.Principal)
	assert.Equal(t, TypeSavingsDeposit, deposit.Type)
	assert.Equal(t, int64(25000), deposit.Amount)
}

func TestUpdateCustomer(t *testing.T) {
	t.Run("applies partial updates and enqueues an update entry", func(t *testing.T) {
		f := newServiceFixture(t)
		cust := f.addBorrower(t, "Ani", 500000, 10, 10)

		newName := "Ani Rahma"
		updated, err := f.service.UpdateCustomer(context.Background(), cust.ID, CustomerUpdate{Name: &newName})
		require.NoError(t, err)
		assert.Equal(t, "Ani Rahma", updated.Name)
		assert.Equal(t, int64(500000), updated.Principal)

		entries, err := f.queue.Peek()
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, syncengine.ActionUpdate, entries[2].Action)
		assert.Equal(t, cust.ID, entries[2].RecordID)
	})

	t.Run("unknown customer yields not found", func(t *testing.T) {
		f := newServiceFixture(t)
		name := "x"
		_, err := f.service.UpdateCustomer(context.Background(), "cust-missing", CustomerUpdate{Name: &name})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("lowering the principal can flip the customer to paid-off", func(t *testing.T) {
		f := newServiceFixture(t)
		cust := f.addBorrower(t, "Ani", 500000, 10, 10)

		_, err := f.service.AddTransaction(context.Background(), TransactionInput{
			CustomerID: cust.ID, Type: TypeRepayment, Amount: 110000,
		})
		require.NoError(t, err)

		smaller := int64(100000)
		_, err = f.service.UpdateCustomer(context.Background(), cust.ID, CustomerUpdate{Principal: &smaller})
		require.NoError(t, err)

		got, err := f.service.GetCustomer(cust.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaidOff, got.Status)
	})
}

func TestPayoffLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	cust := f.addBorrower(t, "Ani", 500000, 10, 10)

	// Nine repayments leave her one installment short.
	for i := 0; i < 9; i++ {
		_, err := f.service.AddTransaction(context.Background(), TransactionInput{
			CustomerID: cust.ID,
			Type:       TypeRepayment,
			Amount:     55000,
		})
		require.NoError(t, err)
	}
	got, err := f.service.GetCustomer(cust.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)
	assert.Empty(t, f.pub.payoff)

	// The tenth crosses the 550000 threshold.
	last, err := f.service.AddTransaction(context.Background(), TransactionInput{
		CustomerID: cust.ID,
		Type:       TypeRepayment,
		Amount:     55000,
	})
	require.NoError(t, err)

	got, err = f.service.GetCustomer(cust.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaidOff, got.Status)

	require.Len(t, f.pub.payoff, 1)
	assert.Equal(t, string(StatusActive), f.pub.payoff[0].OldStatus)
	assert.Equal(t, string(StatusPaidOff), f.pub.payoff[0].NewStatus)
	assert.Len(t, f.pub.recorded, 10)

	// The status change rode the queue as a customer UPDATE.
	entries, err := f.queue.Peek()
	require.NoError(t, err)
	var customerUpdates int
	for _, e := range entries {
		if e.Collection == CollectionCustomers && e.Action == syncengine.ActionUpdate {
			customerUpdates++
		}
	}
	assert.Equal(t, 1, customerUpdates)

	// Editing the final repayment down reopens the loan.
	smaller := int64(10000)
	edited, err := f.service.EditTransaction(context.Background(), last.ID, TransactionEdit{Amount: &smaller})
	require.NoError(t, err)
	assert.True(t, edited.Edited)

	got, err = f.service.GetCustomer(cust.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	require.Len(t, f.pub.payoff, 2)
	assert.Equal(t, string(StatusPaidOff), f.pub.payoff[1].OldStatus)

	// Deleting it keeps the loan open and recalculates again.
	require.NoError(t, f.service.DeleteTransaction(context.Background(), last.ID))
	got, err = f.service.GetCustomer(cust.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestEditTransaction(t *testing.T) {
	t.Run("type is immutable", func(t *testing.T) {
		f := newServiceFixture(t)
		cust := f.addBorrower(t, "Ani", 500000, 10, 10)
		tx, err := f.service.AddTransaction(context.Background(), TransactionInput{
			CustomerID: cust.ID, Type: TypeRepayment, Amount: 55000,
		})
		require.NoError(t, err)

		withdrawal := TypeWithdrawal
		_, err = f.service.EditTransaction(context.Background(), tx.ID, TransactionEdit{Type: &withdrawal})
		assert.ErrorIs(t, err, apperrors.ErrImmutableType)

		// Restating the same type is not a change.
		repayment := TypeRepayment
		edited, err := f.service.EditTransaction(context.Background(), tx.ID, TransactionEdit{Type: &repayment})
		require.NoError(t, err)
		assert.True(t, edited.Edited)
	})

	t.Run("invalid edited amount is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		cust := f.addBorrower(t, "Ani", 500000, 10, 10)
		tx, err := f.service.AddTransaction(context.Background(), TransactionInput{
			CustomerID: cust.ID, Type: TypeRepayment, Amount: 55000,
		})
		require.NoError(t, err)

		bad := int64(-5)
		_, err = f.service.EditTransaction(context.Background(), tx.ID, TransactionEdit{Amount: &bad})
		assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	})
}

func TestAddTransaction(t *testing.T) {
	t.Run("requires an existing customer", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.service.AddTransaction(context.Background(), TransactionInput{
			CustomerID: "cust-ghost", Type: TypeRepayment, Amount: 100,
		})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("repeated amount edits keep one queue entry per record and action", func(t *testing.T) {
		f := newServiceFixture(t)
		cust := f.addBorrower(t, "Ani", 500000, 10, 10)
		tx, err := f.service.AddTransaction(context.Background(), TransactionInput{
			CustomerID: cust.ID, Type: TypeRepayment, Amount: 10000,
		})
		require.NoError(t, err)

		depthBefore, err := f.queue.Depth()
		require.NoError(t, err)

		for _, amount := range []int64{11000, 12000, 13000} {
			a := amount
			_, err = f.service.EditTransaction(context.Background(), tx.ID, TransactionEdit{Amount: &a})
			require.NoError(t, err)
		}

		depthAfter, err := f.queue.Depth()
		require.NoError(t, err)
		assert.Equal(t, depthBefore+1, depthAfter, "three edits should collapse into one UPDATE entry")
	})
}

func TestDeleteCustomer(t *testing.T) {
	f := newServiceFixture(t)
	cust := f.addBorrower(t, "Ani", 500000, 10, 10)
	other := f.addBorrower(t, "Citra", 200000, 5, 4)

	_, err := f.service.AddTransaction(context.Background(), TransactionInput{
		CustomerID: cust.ID, Type: TypeRepayment, Amount: 55000,
	})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteCustomer(context.Background(), cust.ID))

	_, err = f.service.GetCustomer(cust.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, f.service.CustomerTransactions(cust.ID))

	// The other customer's data is untouched.
	_, err = f.service.GetCustomer(other.ID)
	assert.NoError(t, err)
	assert.Len(t, f.service.CustomerTransactions(other.ID), 1)

	// Deletes ride the queue: the customer's transactions first, then the
	// customer itself.
	entries, err := f.queue.Peek()
	require.NoError(t, err)
	var deletes []syncengine.Entry
	for _, e := range entries {
		if e.Action == syncengine.ActionDelete {
			deletes = append(deletes, e)
		}
	}
	require.Len(t, deletes, 3)
	assert.Equal(t, CollectionTransactions, deletes[0].Collection)
	assert.Equal(t, CollectionTransactions, deletes[1].Collection)
	assert.Equal(t, CollectionCustomers, deletes[2].Collection)
	assert.Equal(t, cust.ID, deletes[2].RecordID)
}

func TestSetArchived(t *testing.T) {
	f := newServiceFixture(t)
	cust := f.addBorrower(t, "Ani", 100000, 10, 10)

	_, err := f.service.AddTransaction(context.Background(), TransactionInput{
		CustomerID: cust.ID, Type: TypeRepayment, Amount: 110000,
	})
	require.NoError(t, err)

	archived, err := f.service.SetArchived(context.Background(), cust.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)

	// Repayments against an archived customer never reclassify it.
	_, err = f.service.AddTransaction(context.Background(), TransactionInput{
		CustomerID: cust.ID, Type: TypeRepayment, Amount: 110000,
	})
	require.NoError(t, err)
	got, err := f.service.GetCustomer(cust.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)

	// Unarchiving restores the status the ledger implies.
	restored, err := f.service.SetArchived(context.Background(), cust.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusPaidOff, restored.Status)
}

func TestHolidayOverrides(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SetHolidayOverride(ctx, HolidayOverride{Date: "2026-08-17", IsHoliday: true, Note: "Independence Day"}))
	require.NoError(t, f.service.SetHolidayOverride(ctx, HolidayOverride{Date: "2026-01-01", IsHoliday: true}))

	// Replacing an existing date keeps one entry.
	require.NoError(t, f.service.SetHolidayOverride(ctx, HolidayOverride{Date: "2026-08-17", IsHoliday: false}))

	overrides := f.service.HolidayOverrides()
	require.Len(t, overrides, 2)
	assert.Equal(t, "2026-01-01", overrides[0].Date)
	assert.False(t, overrides[1].IsHoliday)

	require.NoError(t, f.service.RemoveHolidayOverride(ctx, "2026-01-01"))
	assert.Len(t, f.service.HolidayOverrides(), 1)

	assert.ErrorIs(t, f.service.RemoveHolidayOverride(ctx, "2026-01-01"), apperrors.ErrNotFound)

	err := f.service.SetHolidayOverride(ctx, HolidayOverride{Date: "bad"})
	assert.Error(t, err)

	// Holiday overrides are local-only and never enter the sync queue.
	depth, err := f.queue.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestReconcileThroughService(t *testing.T) {
	t.Run("keeps local state when remote was not consulted", func(t *testing.T) {
		f := newServiceFixture(t)
		cust := f.addBorrower(t, "Ani", 500000, 10, 10)

		f.recon.remoteConsulted = false
		require.NoError(t, f.service.Reconcile(context.Background()))

		_, err := f.service.GetCustomer(cust.ID)
		assert.NoError(t, err)
	})

	t.Run("swaps in the merged snapshot when remote was consulted", func(t *testing.T) {
		f := newServiceFixture(t)
		f.addBorrower(t, "Ani", 500000, 10, 10)

		remote := Customer{
			ID:           "cust-remote",
			Name:         "Dewi",
			Location:     "pasar-baru",
			Principal:    100000,
			InterestRate: 10,
			Installments: 5,
			Status:       StatusActive,
			Role:         RoleBorrower,
		}
		raw, err := MarshalWireCustomer(remote)
		require.NoError(t, err)

		f.recon.remoteConsulted = true
		f.recon.merged = syncengine.Snapshot{
			CollectionCustomers:    {{ID: remote.ID, Data: raw}},
			CollectionTransactions: nil,
		}

		require.NoError(t, f.service.Reconcile(context.Background()))

		// The merged snapshot fully replaces local state.
		customers := f.service.Customers()
		require.Len(t, customers, 1)
		assert.Equal(t, "cust-remote", customers[0].ID)
		assert.Equal(t, "Dewi", customers[0].Name)

		// And the reconciler saw the local snapshot as its input.
		assert.Len(t, f.recon.got[CollectionCustomers], 1)
	})
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := localstore.Open(path, logger)
	require.NoError(t, err)
	ids := syncengine.NewIDGenerator(store, logger)
	queue := syncengine.NewQueue(store, ids, logger)
	service, err := NewLedgerService(store, queue, ids, &recordingTrigger{}, &stubReconciler{}, &recordingPublisher{}, logger)
	require.NoError(t, err)

	cust, _, err := service.AddBorrower(context.Background(), BorrowerInput{
		Name: "Ani", Location: "pasar-baru", Principal: 500000, InterestRate: 10, Installments: 10,
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = localstore.Open(path, logger)
	require.NoError(t, err)
	defer store.Close()
	ids = syncengine.NewIDGenerator(store, logger)
	queue = syncengine.NewQueue(store, ids, logger)
	service, err = NewLedgerService(store, queue, ids, &recordingTrigger{}, &stubReconciler{}, &recordingPublisher{}, logger)
	require.NoError(t, err)

	got, err := service.GetCustomer(cust.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ani", got.Name)
	assert.Len(t, service.CustomerTransactions(cust.ID), 1)

	// Pending queue entries survived the restart as well.
	depth, err := queue.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestNewLedgerServiceUnreadableStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := localstore.Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	ids := syncengine.NewIDGenerator(store, logger)
	queue := syncengine.NewQueue(store, ids, logger)
	require.NoError(t, store.Close())

	_, err = NewLedgerService(store, queue, ids, &recordingTrigger{}, &stubReconciler{}, &recordingPublisher{}, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCorruptState)
}

type memoryApplier struct {
	mu      sync.Mutex
	applied []syncengine.Entry
}

func (a *memoryApplier) Apply(_ context.Context, entry syncengine.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, entry)
	return nil
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

// Exercises the full offline-then-reconnect flow: mutations accumulate in the
// queue while offline, then a single drain replays everything in order.
func TestOfflineSessionDrainsOnReconnect(t *testing.T) {
	f := newServiceFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cust := f.addBorrower(t, "Ani", 500000, 10, 10)
	for i := 0; i < 10; i++ {
		_, err := f.service.AddTransaction(context.Background(), TransactionInput{
			CustomerID: cust.ID, Type: TypeRepayment, Amount: 55000,
		})
		require.NoError(t, err)
	}

	got, err := f.service.GetCustomer(cust.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaidOff, got.Status)

	// customer INSERT + disbursement + 10 repayments + payoff UPDATE.
	depth, err := f.queue.Depth()
	require.NoError(t, err)
	require.Equal(t, 13, depth)

	applier := &memoryApplier{}
	worker := syncengine.NewReplayWorker(f.queue, applier, alwaysOnline{}, 1, logger)

	result := worker.Drain(context.Background())
	assert.Equal(t, 13, result.Confirmed)
	assert.Equal(t, 0, result.Failed)

	depth, err = f.queue.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	// The customer INSERT replays before any of her transactions.
	require.NotEmpty(t, applier.applied)
	assert.Equal(t, CollectionCustomers, applier.applied[0].Collection)
	assert.Equal(t, syncengine.ActionInsert, applier.applied[0].Action)
	assert.Equal(t, cust.ID, applier.applied[0].RecordID)
}
