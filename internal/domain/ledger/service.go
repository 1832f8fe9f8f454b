package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"pocket-ledger/internal/event"
	"pocket-ledger/internal/infrastructure/localstore"
	"pocket-ledger/internal/pkg/apperrors"
	"pocket-ledger/internal/syncengine"
)

// ReplayTrigger schedules a debounced queue drain after a local mutation.
type ReplayTrigger interface {
	Trigger()
}

// SnapshotReconciler merges the local snapshot with the remote store.
type SnapshotReconciler interface {
	Reconcile(ctx context.Context, local syncengine.Snapshot) (syncengine.Snapshot, bool, error)
}

type BorrowerInput struct {
	Name         string
	Phone        string
	Location     string
	LoanDate     string
	Principal    int64
	InterestRate float64
	Installments int
	Method       PaymentMethod
	Description  string
}

type SaverInput struct {
	Name           string
	Phone          string
	Location       string
	InitialDeposit int64
	Method         PaymentMethod
	Description    string
}

// CustomerUpdate carries partial edits; nil fields are left unchanged.
type CustomerUpdate struct {
	Name         *string
	Phone        *string
	Location     *string
	LoanDate     *string
	Principal    *int64
	InterestRate *float64
	Installments *int
}

type TransactionInput struct {
	CustomerID  string
	Type        TransactionType
	Amount      int64
	Timestamp   time.Time
	Description string
	Method      PaymentMethod
}

// TransactionEdit carries partial edits; nil fields are left unchanged. Type
// is present only so an attempted type change can be rejected explicitly.
type TransactionEdit struct {
	Type        *TransactionType
	Amount      *int64
	Timestamp   *time.Time
	Description *string
	Method      *PaymentMethod
}

// LedgerService is the Domain Mutation API. Every mutation validates its
// input, applies to in-memory state, persists the local snapshot
// synchronously, enqueues the corresponding sync entries, and triggers the
// debounced replay worker. No operation blocks on remote confirmation;
// sync-layer failures are never surfaced to callers.
type LedgerService interface {
	Customers() []Customer
	GetCustomer(customerID string) (Customer, error)
	Transactions() []Transaction
	CustomerTransactions(customerID string) []Transaction

	AddBorrower(ctx context.Context, in BorrowerInput) (Customer, Transaction, error)
	AddSaver(ctx context.Context, in SaverInput) (Customer, Transaction, error)
	UpdateCustomer(ctx context.Context, customerID string, in CustomerUpdate) (Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
	SetArchived(ctx context.Context, customerID string, archived bool) (Customer, error)

	AddTransaction(ctx context.Context, in TransactionInput) (Transaction, error)
	EditTransaction(ctx context.Context, transactionID string, in TransactionEdit) (Transaction, error)
	DeleteTransaction(ctx context.Context, transactionID string) error

	HolidayOverrides() []HolidayOverride
	SetHolidayOverride(ctx context.Context, override HolidayOverride) error
	RemoveHolidayOverride(ctx context.Context, date string) error

	Reconcile(ctx context.Context) error
}

var _ LedgerService = (*ledgerService)(nil)

type ledgerService struct {
	store  *localstore.Store
	queue  *syncengine.Queue
	ids    *syncengine.IDGenerator
	replay ReplayTrigger
	recon  SnapshotReconciler
	pub    event.EventPublisher
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	customers    []Customer
	transactions []Transaction
	holidays     []HolidayOverride
}

func NewLedgerService(
	store *localstore.Store,
	queue *syncengine.Queue,
	ids *syncengine.IDGenerator,
	replay ReplayTrigger,
	recon SnapshotReconciler,
	pub event.EventPublisher,
	logger *slog.Logger,
) (LedgerService, error) {
	if store == nil || queue == nil || ids == nil || replay == nil {
		panic("ledger service dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewLedgerService, using default stderr handler")
	}
	if pub == nil {
		pub = event.NoopPublisher{}
	}

	s := &ledgerService{
		store:  store,
		queue:  queue,
		ids:    ids,
		replay: replay,
		recon:  recon,
		pub:    pub,
		logger: logger.With(slog.String("component", "ledgerService")),
		now:    time.Now,
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ledgerService) loadState() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetJSON(localstore.KeyCustomers, &s.customers); err != nil {
		return apperrors.WrapStorageError(err, "failed to load customers")
	}
	if _, err := s.store.GetJSON(localstore.KeyTransactions, &s.transactions); err != nil {
		return apperrors.WrapStorageError(err, "failed to load transactions")
	}
	if _, err := s.store.GetJSON(localstore.KeyHolidayOverrides, &s.holidays); err != nil {
		return apperrors.WrapStorageError(err, "failed to load holiday overrides")
	}
	s.logger.Info("Loaded local snapshot",
		slog.Int("customers", len(s.customers)),
		slog.Int("transactions", len(s.transactions)),
		slog.Int("holidayOverrides", len(s.holidays)))
	return nil
}

// persistStateLocked writes full replacement snapshots of the mutated
// collections. Callers hold s.mu.
func (s *ledgerService) persistStateLocked() error {
	if err := s.store.SetJSON(localstore.KeyCustomers, s.customers); err != nil {
		return err
	}
	return s.store.SetJSON(localstore.KeyTransactions, s.transactions)
}

// --- reads ---

func (s *ledgerService) Customers() []Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Customer(nil), s.customers...)
}

func (s *ledgerService) GetCustomer(customerID string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.ID == customerID {
			return c, nil
		}
	}
	return Customer{}, apperrors.ErrNotFound
}

func (s *ledgerService) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transaction(nil), s.transactions...)
}

func (s *ledgerService) CustomerTransactions(customerID string) []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, tx := range s.transactions {
		if tx.CustomerID == customerID {
			out = append(out, tx)
		}
	}
	return out
}

// --- customer mutations ---

func (s *ledgerService) AddBorrower(ctx context.Context, in BorrowerInput) (Customer, Transaction, error) {
	s.logger.InfoContext(ctx, "Attempting to add borrower")

	now := s.now()
	cust := Customer{
		ID:           s.ids.Generate("cust"),
		Name:         strings.TrimSpace(in.Name),
		Phone:        strings.TrimSpace(in.Phone),
		Location:     strings.TrimSpace(in.Location),
		LoanDate:     in.LoanDate,
		Principal:    in.Principal,
		InterestRate: in.InterestRate,
		Installments: in.Installments,
		Status:       StatusActive,
		Role:         RoleBorrower,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := cust.Validate(); err != nil {
		s.logger.WarnContext(ctx, "Borrower validation failed", slog.Any("error", err))
		return Customer{}, Transaction{}, err
	}

	method := in.Method
	if method == "" {
		method = MethodCash
	}
	disbursement := Transaction{
		ID:          s.ids.Generate("txn"),
		CustomerID:  cust.ID,
		Type:        TypeLoanDisbursement,
		Amount:      in.Principal,
		Timestamp:   now,
		Description: in.Description,
		Method:      method,
	}
	if err := disbursement.Validate(); err != nil {
		s.logger.WarnContext(ctx, "Disbursement validation failed", slog.Any("error", err))
		return Customer{}, Transaction{}, err
	}

	s.mu.Lock()
	s.customers = append(s.customers, cust)
	s.transactions = append(s.transactions, disbursement)
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return Customer{}, Transaction{}, fmt.Errorf("failed to persist new borrower: %w", err)
	}

	s.enqueueCustomer(ctx, cust, syncengine.ActionInsert)
	s.enqueueTransaction(ctx, disbursement, syncengine.ActionInsert)
	s.replay.Trigger()

	s.publishCustomerCreated(ctx, cust)
	s.logger.InfoContext(ctx, "Successfully added borrower",
		slog.String("customerID", cust.ID), slog.Int64("principal", cust.Principal))
	return cust, disbursement, nil
}

func (s *ledgerService) AddSaver(ctx context.Context, in SaverInput) (Customer, Transaction, error) {
	s.logger.InfoContext(ctx, "Attempting to add saver")

	now := s.now()
	cust := Customer{
		ID:        s.ids.Generate("cust"),
		Name:      strings.TrimSpace(in.Name),
		Phone:     strings.TrimSpace(in.Phone),
		Location:  strings.TrimSpace(in.Location),
		Status:    StatusActive,
		Role:      RoleSaver,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := cust.Validate(); err != nil {
		s.logger.WarnContext(ctx, "Saver validation failed", slog.Any("error", err))
		return Customer{}, Transaction{}, err
	}

	method := in.Method
	if method == "" {
		method = MethodCash
	}
	deposit := Transaction{
		ID:          s.ids.Generate("txn"),
		CustomerID:  cust.ID,
		Type:        TypeSavingsDeposit,
		Amount:      in.InitialDeposit,
		Timestamp:   now,
		Description: in.Description,
		Method:      method,
	}
	if err := deposit.Validate(); err != nil {
		s.logger.WarnContext(ctx, "Initial deposit validation failed", slog.Any("error", err))
		return Customer{}, Transaction{}, err
	}

	s.mu.Lock()
	s.customers = append(s.customers, cust)
	s.transactions = append(s.transactions, deposit)
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return Customer{}, Transaction{}, fmt.Errorf("failed to persist new saver: %w", err)
	}

	s.enqueueCustomer(ctx, cust, syncengine.ActionInsert)
	s.enqueueTransaction(ctx, deposit, syncengine.ActionInsert)
	s.replay.Trigger()

	s.publishCustomerCreated(ctx, cust)
	s.logger.InfoContext(ctx, "Successfully added saver", slog.String("customerID", cust.ID))
	return cust, deposit, nil
}

func (s *ledgerService) UpdateCustomer(ctx context.Context, customerID string, in CustomerUpdate) (Customer, error) {
	s.logger.InfoContext(ctx, "Attempting to update customer", slog.String("customerID", customerID))

	s.mu.Lock()
	idx := s.findCustomerLocked(customerID)
	if idx < 0 {
		s.mu.Unlock()
		return Customer{}, apperrors.ErrNotFound
	}

	updated := s.customers[idx]
	if in.Name != nil {
		updated.Name = strings.TrimSpace(*in.Name)
	}
	if in.Phone != nil {
		updated.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Location != nil {
		updated.Location = strings.TrimSpace(*in.Location)
	}
	if in.LoanDate != nil {
		updated.LoanDate = *in.LoanDate
	}
	if in.Principal != nil {
		updated.Principal = *in.Principal
	}
	if in.InterestRate != nil {
		updated.InterestRate = *in.InterestRate
	}
	if in.Installments != nil {
		updated.Installments = *in.Installments
	}
	updated.UpdatedAt = s.now()

	if err := updated.Validate(); err != nil {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "Customer update validation failed", slog.Any("error", err))
		return Customer{}, err
	}

	s.customers[idx] = updated
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return Customer{}, fmt.Errorf("failed to persist customer update: %w", err)
	}

	s.enqueueCustomer(ctx, updated, syncengine.ActionUpdate)
	s.replay.Trigger()

	// Principal or rate changes move the payoff threshold.
	if in.Principal != nil || in.InterestRate != nil {
		s.recalculatePayoff(ctx, customerID)
	}

	s.logger.InfoContext(ctx, "Successfully updated customer", slog.String("customerID", customerID))
	return s.GetCustomer(customerID)
}

func (s *ledgerService) DeleteCustomer(ctx context.Context, customerID string) error {
	s.logger.InfoContext(ctx, "Attempting to delete customer", slog.String("customerID", customerID))

	s.mu.Lock()
	idx := s.findCustomerLocked(customerID)
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.ErrNotFound
	}

	s.customers = append(s.customers[:idx], s.customers[idx+1:]...)

	var removed []Transaction
	remaining := s.transactions[:0]
	for _, tx := range s.transactions {
		if tx.CustomerID == customerID {
			removed = append(removed, tx)
		} else {
			remaining = append(remaining, tx)
		}
	}
	s.transactions = remaining
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to persist customer deletion: %w", err)
	}

	// Cascade deletes are enqueued transaction-first so reconciliation never
	// resurrects customer-less transactions from a remote snapshot fetched
	// mid-replay. The remote customer delete also cascades server-side.
	for _, tx := range removed {
		s.enqueueTransactionDelete(ctx, tx.ID)
	}
	s.enqueueCustomerDelete(ctx, customerID)
	s.replay.Trigger()

	s.logger.InfoContext(ctx, "Successfully deleted customer",
		slog.String("customerID", customerID), slog.Int("cascadedTransactions", len(removed)))
	return nil
}

func (s *ledgerService) SetArchived(ctx context.Context, customerID string, archived bool) (Customer, error) {
	s.logger.InfoContext(ctx, "Attempting to toggle archive status",
		slog.String("customerID", customerID), slog.Bool("archived", archived))

	s.mu.Lock()
	idx := s.findCustomerLocked(customerID)
	if idx < 0 {
		s.mu.Unlock()
		return Customer{}, apperrors.ErrNotFound
	}

	updated := s.customers[idx]
	if archived {
		updated.Status = StatusArchived
	} else {
		// Restore to the status the ledger implies.
		restored := updated
		restored.Status = StatusActive
		updated.Status = RecomputePayoff(restored, s.transactions)
	}
	updated.UpdatedAt = s.now()
	s.customers[idx] = updated
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return Customer{}, fmt.Errorf("failed to persist archive toggle: %w", err)
	}

	s.enqueueCustomer(ctx, updated, syncengine.ActionUpdate)
	s.replay.Trigger()

	s.logger.InfoContext(ctx, "Successfully toggled archive status",
		slog.String("customerID", customerID), slog.String("status", string(updated.Status)))
	return updated, nil
}

// --- transaction mutations ---

func (s *ledgerService) AddTransaction(ctx context.Context, in TransactionInput) (Transaction, error) {
	s.logger.InfoContext(ctx, "Attempting to add transaction", slog.String("customerID", in.CustomerID))

	timestamp := in.Timestamp
	if timestamp.IsZero() {
		timestamp = s.now()
	}
	method := in.Method
	if method == "" {
		method = MethodCash
	}
	tx := Transaction{
		ID:          s.ids.Generate("txn"),
		CustomerID:  in.CustomerID,
		Type:        in.Type,
		Amount:      in.Amount,
		Timestamp:   timestamp,
		Description: in.Description,
		Method:      method,
	}
	if err := tx.Validate(); err != nil {
		s.logger.WarnContext(ctx, "Transaction validation failed", slog.Any("error", err))
		return Transaction{}, err
	}

	s.mu.Lock()
	if s.findCustomerLocked(in.CustomerID) < 0 {
		s.mu.Unlock()
		return Transaction{}, fmt.Errorf("%w: customer %s", apperrors.ErrNotFound, in.CustomerID)
	}
	s.transactions = append(s.transactions, tx)
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to persist transaction: %w", err)
	}

	s.enqueueTransaction(ctx, tx, syncengine.ActionInsert)
	s.replay.Trigger()

	if tx.AffectsRepayment() {
		s.recalculatePayoff(ctx, tx.CustomerID)
	}

	if err := s.pub.PublishTransactionRecorded(ctx, event.TransactionRecordedEvent{
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Timestamp:     tx.Timestamp,
	}); err != nil {
		s.logger.ErrorContext(ctx, "Transaction recorded, but FAILED to publish event", slog.Any("error", err))
	}

	s.logger.InfoContext(ctx, "Successfully added transaction",
		slog.String("transactionID", tx.ID), slog.String("type", string(tx.Type)))
	return tx, nil
}

func (s *ledgerService) EditTransaction(ctx context.Context, transactionID string, in TransactionEdit) (Transaction, error) {
	s.logger.InfoContext(ctx, "Attempting to edit transaction", slog.String("transactionID", transactionID))

	s.mu.Lock()
	idx := s.findTransactionLocked(transactionID)
	if idx < 0 {
		s.mu.Unlock()
		return Transaction{}, apperrors.ErrNotFound
	}

	updated := s.transactions[idx]
	if in.Type != nil && *in.Type != updated.Type {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "Rejected attempt to change transaction type",
			slog.String("from", string(updated.Type)), slog.String("to", string(*in.Type)))
		return Transaction{}, apperrors.ErrImmutableType
	}
	if in.Amount != nil {
		updated.Amount = *in.Amount
	}
	if in.Timestamp != nil {
		updated.Timestamp = *in.Timestamp
	}
	if in.Description != nil {
		updated.Description = *in.Description
	}
	if in.Method != nil {
		updated.Method = *in.Method
	}
	updated.Edited = true

	if err := updated.Validate(); err != nil {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "Transaction edit validation failed", slog.Any("error", err))
		return Transaction{}, err
	}

	s.transactions[idx] = updated
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to persist transaction edit: %w", err)
	}

	s.enqueueTransaction(ctx, updated, syncengine.ActionUpdate)
	s.replay.Trigger()

	// Always recalculate on edit: the prior amount may have been the one
	// holding the customer at paid-off.
	s.recalculatePayoff(ctx, updated.CustomerID)

	s.logger.InfoContext(ctx, "Successfully edited transaction", slog.String("transactionID", transactionID))
	return updated, nil
}

func (s *ledgerService) DeleteTransaction(ctx context.Context, transactionID string) error {
	s.logger.InfoContext(ctx, "Attempting to delete transaction", slog.String("transactionID", transactionID))

	s.mu.Lock()
	idx := s.findTransactionLocked(transactionID)
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.ErrNotFound
	}
	customerID := s.transactions[idx].CustomerID
	s.transactions = append(s.transactions[:idx], s.transactions[idx+1:]...)
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to persist transaction deletion: %w", err)
	}

	s.enqueueTransactionDelete(ctx, transactionID)
	s.replay.Trigger()

	s.recalculatePayoff(ctx, customerID)

	s.logger.InfoContext(ctx, "Successfully deleted transaction", slog.String("transactionID", transactionID))
	return nil
}

// --- holiday overrides (local-only collection) ---

func (s *ledgerService) HolidayOverrides() []HolidayOverride {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]HolidayOverride(nil), s.holidays...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (s *ledgerService) SetHolidayOverride(ctx context.Context, override HolidayOverride) error {
	if err := override.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i := range s.holidays {
		if s.holidays[i].Date == override.Date {
			s.holidays[i] = override
			replaced = true
			break
		}
	}
	if !replaced {
		s.holidays = append(s.holidays, override)
	}
	if err := s.store.SetJSON(localstore.KeyHolidayOverrides, s.holidays); err != nil {
		return fmt.Errorf("failed to persist holiday overrides: %w", err)
	}
	s.logger.InfoContext(ctx, "Stored holiday override", slog.String("date", override.Date))
	return nil
}

func (s *ledgerService) RemoveHolidayOverride(ctx context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.holidays[:0]
	found := false
	for _, h := range s.holidays {
		if h.Date == date {
			found = true
			continue
		}
		remaining = append(remaining, h)
	}
	if !found {
		return apperrors.ErrNotFound
	}
	s.holidays = remaining
	if err := s.store.SetJSON(localstore.KeyHolidayOverrides, s.holidays); err != nil {
		return fmt.Errorf("failed to persist holiday overrides: %w", err)
	}
	s.logger.InfoContext(ctx, "Removed holiday override", slog.String("date", date))
	return nil
}

// --- reconciliation ---

// Reconcile merges the remote snapshot with pending local state and swaps the
// merged result in. Offline or on remote failure the local snapshot stays in
// place untouched.
func (s *ledgerService) Reconcile(ctx context.Context) error {
	if s.recon == nil {
		return nil
	}
	s.logger.InfoContext(ctx, "Starting reconciliation")

	local, err := s.localSnapshot()
	if err != nil {
		return fmt.Errorf("failed to build local snapshot: %w", err)
	}

	merged, remoteConsulted, err := s.recon.Reconcile(ctx, local)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	if !remoteConsulted {
		s.logger.InfoContext(ctx, "Reconciliation kept local snapshot (offline or remote error)")
		return nil
	}

	customers, transactions, err := snapshotToDomain(merged)
	if err != nil {
		return fmt.Errorf("failed to decode merged snapshot: %w", err)
	}

	s.mu.Lock()
	s.customers = customers
	s.transactions = transactions
	err = s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to persist merged snapshot: %w", err)
	}

	s.logger.InfoContext(ctx, "Reconciliation applied",
		slog.Int("customers", len(customers)), slog.Int("transactions", len(transactions)))
	return nil
}

func (s *ledgerService) localSnapshot() (syncengine.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := syncengine.Snapshot{
		CollectionCustomers:    make([]syncengine.Record, 0, len(s.customers)),
		CollectionTransactions: make([]syncengine.Record, 0, len(s.transactions)),
	}
	for _, c := range s.customers {
		raw, err := MarshalWireCustomer(c)
		if err != nil {
			return nil, err
		}
		snap[CollectionCustomers] = append(snap[CollectionCustomers], syncengine.Record{ID: c.ID, Data: raw})
	}
	for _, tx := range s.transactions {
		raw, err := MarshalWireTransaction(tx)
		if err != nil {
			return nil, err
		}
		snap[CollectionTransactions] = append(snap[CollectionTransactions], syncengine.Record{ID: tx.ID, Data: raw})
	}
	return snap, nil
}

func snapshotToDomain(snap syncengine.Snapshot) ([]Customer, []Transaction, error) {
	customers := make([]Customer, 0, len(snap[CollectionCustomers]))
	for _, rec := range snap[CollectionCustomers] {
		var w CustomerWire
		if err := json.Unmarshal(rec.Data, &w); err != nil {
			return nil, nil, fmt.Errorf("invalid customer record %s: %w", rec.ID, err)
		}
		customers = append(customers, FromWireCustomer(w))
	}
	transactions := make([]Transaction, 0, len(snap[CollectionTransactions]))
	for _, rec := range snap[CollectionTransactions] {
		var w TransactionWire
		if err := json.Unmarshal(rec.Data, &w); err != nil {
			return nil, nil, fmt.Errorf("invalid transaction record %s: %w", rec.ID, err)
		}
		transactions = append(transactions, FromWireTransaction(w))
	}
	return customers, transactions, nil
}

// --- derived state ---

// recalculatePayoff recomputes the customer's payoff status from the full
// ledger and, when it changed, issues a customer UPDATE through the same
// optimistic path every other mutation takes.
func (s *ledgerService) recalculatePayoff(ctx context.Context, customerID string) {
	s.mu.Lock()
	idx := s.findCustomerLocked(customerID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	cust := s.customers[idx]
	newStatus := RecomputePayoff(cust, s.transactions)
	if newStatus == cust.Status {
		s.mu.Unlock()
		return
	}

	oldStatus := cust.Status
	cust.Status = newStatus
	cust.UpdatedAt = s.now()
	s.customers[idx] = cust
	err := s.persistStateLocked()
	s.mu.Unlock()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist payoff recalculation", slog.Any("error", err))
		return
	}

	s.enqueueCustomer(ctx, cust, syncengine.ActionUpdate)
	s.replay.Trigger()

	if err := s.pub.PublishPayoffStatusChanged(ctx, event.PayoffStatusChangedEvent{
		CustomerID: customerID,
		OldStatus:  string(oldStatus),
		NewStatus:  string(newStatus),
		Timestamp:  s.now(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "Payoff status changed, but FAILED to publish event", slog.Any("error", err))
	}

	s.logger.InfoContext(ctx, "Payoff status recalculated",
		slog.String("customerID", customerID),
		slog.String("from", string(oldStatus)), slog.String("to", string(newStatus)))
}

// --- helpers ---

func (s *ledgerService) findCustomerLocked(customerID string) int {
	for i := range s.customers {
		if s.customers[i].ID == customerID {
			return i
		}
	}
	return -1
}

func (s *ledgerService) findTransactionLocked(transactionID string) int {
	for i := range s.transactions {
		if s.transactions[i].ID == transactionID {
			return i
		}
	}
	return -1
}

func (s *ledgerService) enqueueCustomer(ctx context.Context, c Customer, action syncengine.Action) {
	payload, err := MarshalWireCustomer(c)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode customer for sync queue", slog.Any("error", err))
		return
	}
	if err := s.queue.Enqueue(c.ID, action, CollectionCustomers, payload); err != nil {
		s.logger.ErrorContext(ctx, "Failed to enqueue customer mutation", slog.Any("error", err))
	}
}

func (s *ledgerService) enqueueCustomerDelete(ctx context.Context, customerID string) {
	if err := s.queue.Enqueue(customerID, syncengine.ActionDelete, CollectionCustomers, nil); err != nil {
		s.logger.ErrorContext(ctx, "Failed to enqueue customer deletion", slog.Any("error", err))
	}
}

func (s *ledgerService) enqueueTransaction(ctx context.Context, tx Transaction, action syncengine.Action) {
	payload, err := MarshalWireTransaction(tx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to encode transaction for sync queue", slog.Any("error", err))
		return
	}
	if err := s.queue.Enqueue(tx.ID, action, CollectionTransactions, payload); err != nil {
		s.logger.ErrorContext(ctx, "Failed to enqueue transaction mutation", slog.Any("error", err))
	}
}

func (s *ledgerService) enqueueTransactionDelete(ctx context.Context, transactionID string) {
	if err := s.queue.Enqueue(transactionID, syncengine.ActionDelete, CollectionTransactions, nil); err != nil {
		s.logger.ErrorContext(ctx, "Failed to enqueue transaction deletion", slog.Any("error", err))
	}
}

func (s *ledgerService) publishCustomerCreated(ctx context.Context, cust Customer) {
	if err := s.pub.PublishCustomerCreated(ctx, event.CustomerCreatedEvent{
		CustomerID: cust.ID,
		Name:       cust.Name,
		Role:       string(cust.Role),
		Principal:  cust.Principal,
		Timestamp:  cust.CreatedAt,
	}); err != nil {
		s.logger.ErrorContext(ctx, "Customer created, but FAILED to publish creation event", slog.Any("error", err))
	}
}
