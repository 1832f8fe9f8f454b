package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pocket-ledger/internal/domain/ledger"
	"pocket-ledger/internal/pkg/apperrors"
	"pocket-ledger/internal/syncengine"
)

type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

var errMsgFormat = "%w: %w"

// RemoteStore is the request/response boundary to the authoritative
// PostgreSQL store. It implements the replay worker's Applier, the
// reconciler's Fetcher, and the connectivity monitor's Probe.
//
// The remote may enforce row-level access policies that reject a write by
// returning success with zero affected rows; Apply therefore verifies row
// counts for INSERT/UPDATE instead of trusting error absence.
type RemoteStore struct {
	db       DBPool
	pageSize int
	logger   *slog.Logger
}

var _ syncengine.Applier = (*RemoteStore)(nil)
var _ syncengine.Fetcher = (*RemoteStore)(nil)
var _ syncengine.Probe = (*RemoteStore)(nil)

func NewRemoteStore(db DBPool, pageSize int, logger *slog.Logger) *RemoteStore {
	if db == nil {
		panic("DBPool cannot be nil for RemoteStore")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewRemoteStore, using default stderr handler")
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &RemoteStore{
		db:       db,
		pageSize: pageSize,
		logger:   logger.With("component", "RemoteStore"),
	}
}

// Ping reports remote reachability for the connectivity monitor.
func (r *RemoteStore) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Apply performs one queued mutation. INSERT is upsert-by-id so that a retry
// after a false-negative failure is idempotent; UPDATE writes the full wire
// snapshot by id; DELETE removes by id (cascading transactions first for
// customers). Zero affected rows on INSERT/UPDATE becomes
// apperrors.ErrSilentRejection.
func (r *RemoteStore) Apply(ctx context.Context, entry syncengine.Entry) error {
	switch entry.Collection {
	case ledger.CollectionCustomers:
		return r.applyCustomer(ctx, entry)
	case ledger.CollectionTransactions:
		return r.applyTransaction(ctx, entry)
	default:
		return fmt.Errorf("%w: unknown collection %q", apperrors.ErrInvalidArgument, entry.Collection)
	}
}

func (r *RemoteStore) applyCustomer(ctx context.Context, entry syncengine.Entry) error {
	if entry.Action == syncengine.ActionDelete {
		// Cascade: the remote supports delete-by-foreign-key, so the
		// customer's transactions go first. Deletes legitimately affect zero
		// rows (the row may already be gone), so error absence confirms.
		if _, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE customer_id = $1`, entry.RecordID); err != nil {
			return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		if _, err := r.db.Exec(ctx, `DELETE FROM customers WHERE id = $1`, entry.RecordID); err != nil {
			return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		return nil
	}

	var w ledger.CustomerWire
	if err := json.Unmarshal(entry.Payload, &w); err != nil {
		return fmt.Errorf("%w: invalid customer payload for %s: %w", apperrors.ErrInvalidArgument, entry.RecordID, err)
	}

	var tag pgconn.CommandTag
	var err error
	switch entry.Action {
	case syncengine.ActionInsert:
		tag, err = r.db.Exec(ctx, `
			INSERT INTO customers (id, name, phone, location_tag, loan_date, loan_principal, interest_rate, installment_count, status, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				phone = EXCLUDED.phone,
				location_tag = EXCLUDED.location_tag,
				loan_date = EXCLUDED.loan_date,
				loan_principal = EXCLUDED.loan_principal,
				interest_rate = EXCLUDED.interest_rate,
				installment_count = EXCLUDED.installment_count,
				status = EXCLUDED.status,
				role = EXCLUDED.role,
				updated_at = EXCLUDED.updated_at`,
			w.ID, w.Name, w.Phone, w.LocationTag, w.LoanDate, w.LoanPrincipal,
			w.InterestRate, w.InstallmentCount, w.Status, w.Role, w.CreatedAt, w.UpdatedAt)
	case syncengine.ActionUpdate:
		tag, err = r.db.Exec(ctx, `
			UPDATE customers SET
				name = $2,
				phone = $3,
				location_tag = $4,
				loan_date = $5,
				loan_principal = $6,
				interest_rate = $7,
				installment_count = $8,
				status = $9,
				role = $10,
				updated_at = $11
			WHERE id = $1`,
			w.ID, w.Name, w.Phone, w.LocationTag, w.LoanDate, w.LoanPrincipal,
			w.InterestRate, w.InstallmentCount, w.Status, w.Role, w.UpdatedAt)
	default:
		return fmt.Errorf("%w: unknown action %q", apperrors.ErrInvalidArgument, entry.Action)
	}

	if err != nil {
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: customers/%s %s", apperrors.ErrSilentRejection, entry.RecordID, entry.Action)
	}
	return nil
}

func (r *RemoteStore) applyTransaction(ctx context.Context, entry syncengine.Entry) error {
	if entry.Action == syncengine.ActionDelete {
		if _, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, entry.RecordID); err != nil {
			return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		return nil
	}

	var w ledger.TransactionWire
	if err := json.Unmarshal(entry.Payload, &w); err != nil {
		return fmt.Errorf("%w: invalid transaction payload for %s: %w", apperrors.ErrInvalidArgument, entry.RecordID, err)
	}

	var tag pgconn.CommandTag
	var err error
	switch entry.Action {
	case syncengine.ActionInsert:
		tag, err = r.db.Exec(ctx, `
			INSERT INTO transactions (id, customer_id, type, amount, occurred_at, description, payment_method, edited)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				customer_id = EXCLUDED.customer_id,
				type = EXCLUDED.type,
				amount = EXCLUDED.amount,
				occurred_at = EXCLUDED.occurred_at,
				description = EXCLUDED.description,
				payment_method = EXCLUDED.payment_method,
				edited = EXCLUDED.edited`,
			w.ID, w.CustomerID, w.Type, w.Amount, w.OccurredAt, w.Description, w.PaymentMethod, w.Edited)
	case syncengine.ActionUpdate:
		tag, err = r.db.Exec(ctx, `
			UPDATE transactions SET
				customer_id = $2,
				type = $3,
				amount = $4,
				occurred_at = $5,
				description = $6,
				payment_method = $7,
				edited = $8
			WHERE id = $1`,
			w.ID, w.CustomerID, w.Type, w.Amount, w.OccurredAt, w.Description, w.PaymentMethod, w.Edited)
	default:
		return fmt.Errorf("%w: unknown action %q", apperrors.ErrInvalidArgument, entry.Action)
	}

	if err != nil {
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transactions/%s %s", apperrors.ErrSilentRejection, entry.RecordID, entry.Action)
	}
	return nil
}

// FetchAll pages through a collection with keyset range-selects, looping
// until a short page signals end-of-data.
func (r *RemoteStore) FetchAll(ctx context.Context, collection string) ([]syncengine.Record, error) {
	var scan func(rows pgx.Rows) (syncengine.Record, error)
	var query string

	switch collection {
	case ledger.CollectionCustomers:
		query = `
			SELECT id, name, phone, location_tag, loan_date, loan_principal, interest_rate, installment_count, status, role, created_at, updated_at
			FROM customers
			WHERE id > $1
			ORDER BY id ASC
			LIMIT $2`
		scan = scanCustomerRecord
	case ledger.CollectionTransactions:
		query = `
			SELECT id, customer_id, type, amount, occurred_at, description, payment_method, edited
			FROM transactions
			WHERE id > $1
			ORDER BY id ASC
			LIMIT $2`
		scan = scanTransactionRecord
	default:
		return nil, fmt.Errorf("%w: unknown collection %q", apperrors.ErrInvalidArgument, collection)
	}

	var records []syncengine.Record
	cursor := ""
	for {
		page, err := r.fetchPage(ctx, query, cursor, scan)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if len(page) < r.pageSize {
			break
		}
		cursor = page[len(page)-1].ID
	}

	r.logger.InfoContext(ctx, "Fetched remote collection",
		slog.String("collection", collection), slog.Int("count", len(records)))
	return records, nil
}

func (r *RemoteStore) fetchPage(ctx context.Context, query, cursor string, scan func(pgx.Rows) (syncengine.Record, error)) ([]syncengine.Record, error) {
	rows, err := r.db.Query(ctx, query, cursor, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	page := make([]syncengine.Record, 0, r.pageSize)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return page, nil
}

func scanCustomerRecord(rows pgx.Rows) (syncengine.Record, error) {
	var w ledger.CustomerWire
	err := rows.Scan(
		&w.ID, &w.Name, &w.Phone, &w.LocationTag, &w.LoanDate, &w.LoanPrincipal,
		&w.InterestRate, &w.InstallmentCount, &w.Status, &w.Role, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return syncengine.Record{}, err
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return syncengine.Record{}, err
	}
	return syncengine.Record{ID: w.ID, Data: raw}, nil
}

func scanTransactionRecord(rows pgx.Rows) (syncengine.Record, error) {
	var w ledger.TransactionWire
	err := rows.Scan(
		&w.ID, &w.CustomerID, &w.Type, &w.Amount, &w.OccurredAt,
		&w.Description, &w.PaymentMethod, &w.Edited,
	)
	if err != nil {
		return syncengine.Record{}, err
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return syncengine.Record{}, err
	}
	return syncengine.Record{ID: w.ID, Data: raw}, nil
}
