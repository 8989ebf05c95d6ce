package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"

	txAttempts = 3
)

// querier is satisfied by both pgxpool.Pool and pgx.Tx so the same query
// helpers serve pooled reads and transactional work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for billing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps fn in a repeatable-read transaction. The transaction is
// rolled back when fn returns an error. Serialization failures restart fn
// with a fresh snapshot, so fn must be safe to re-run.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		err = r.runTx(ctx, fn)
		if !retryableTxError(err) {
			return err
		}
	}
	return err
}

func (r *Repository) runTx(ctx context.Context, fn func(context.Context, TxPort) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("billing: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing: commit tx: %w", err)
	}
	return nil
}

// retryableTxError reports whether the transaction lost a concurrency race
// and should be restarted on a fresh snapshot.
func retryableTxError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
}

// GetCustomer returns the customer or nil when absent.
func (r *Repository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	return getCustomer(ctx, r.pool, id)
}

// ListActiveCustomers returns every customer eligible for recurring billing.
func (r *Repository) ListActiveCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, area_id, monthly_fee, due_balance, billing_mode, status, connection_date
		FROM customers
		WHERE status = 'ACTIVE'
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		customer, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *customer)
	}
	return customers, rows.Err()
}

// ListCustomerBills returns every bill for a customer, oldest period first.
func (r *Repository) ListCustomerBills(ctx context.Context, customerID int64) ([]Bill, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, period_year, period_month, amount, status, created_at, updated_at
		FROM bills
		WHERE customer_id = $1
		ORDER BY period_year, period_month`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	return bills, rows.Err()
}

// ListCustomerPayments returns a customer's payments, most recent first.
func (r *Repository) ListCustomerPayments(ctx context.Context, customerID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, number, customer_id, bill_id, amount, paid_at, method, collector_id, created_at
		FROM payments
		WHERE customer_id = $1
		ORDER BY paid_at DESC, id DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Number, &p.CustomerID, &p.BillID, &p.Amount, &p.PaidAt, &p.Method, &p.CollectorID, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListCustomerAllocations returns the customer's allocation rows joined with
// each bill's period.
func (r *Repository) ListCustomerAllocations(ctx context.Context, customerID int64) ([]LedgerAllocation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pa.payment_id, pa.bill_id, b.period_year, b.period_month, pa.amount
		FROM payment_allocations pa
		JOIN bills b ON b.id = pa.bill_id
		WHERE b.customer_id = $1
		ORDER BY b.period_year, b.period_month, pa.id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []LedgerAllocation
	for rows.Next() {
		var alloc LedgerAllocation
		var month int
		if err := rows.Scan(&alloc.PaymentID, &alloc.BillID, &alloc.Period.Year, &month, &alloc.Amount); err != nil {
			return nil, err
		}
		alloc.Period.Month = time.Month(month)
		allocations = append(allocations, alloc)
	}
	return allocations, rows.Err()
}

// txRepo implements TxPort on top of one pgx transaction.
type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	return getCustomer(ctx, t.tx, id)
}

func (t *txRepo) FindBill(ctx context.Context, customerID int64, period Period) (*Bill, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, customer_id, period_year, period_month, amount, status, created_at, updated_at
		FROM bills
		WHERE customer_id = $1 AND period_year = $2 AND period_month = $3`,
		customerID, period.Year, int(period.Month))
	bill, err := scanBill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// InsertBill creates the bill for (customer, period) or reuses the existing
// one when a concurrent writer got there first. The upsert resolves the race
// in a single statement: a plain INSERT followed by a re-find would run in an
// already-aborted transaction after the unique violation, and the
// repeatable-read snapshot could not see the winner's row anyway. When the
// conflicting row was committed after our snapshot the statement raises a
// serialization failure, which WithTx retries with a fresh snapshot.
func (t *txRepo) InsertBill(ctx context.Context, customerID int64, period Period, amount int64) (*Bill, bool, error) {
	var bill Bill
	var month int
	var created bool
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bills (customer_id, period_year, period_month, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (customer_id, period_year, period_month)
		DO UPDATE SET updated_at = NOW()
		RETURNING id, customer_id, period_year, period_month, amount, status, created_at, updated_at, (xmax = 0)`,
		customerID, period.Year, int(period.Month), amount, BillStatusDue,
	).Scan(&bill.ID, &bill.CustomerID, &bill.Period.Year, &month, &bill.Amount, &bill.Status, &bill.CreatedAt, &bill.UpdatedAt, &created)
	if err != nil {
		return nil, false, err
	}
	bill.Period.Month = time.Month(month)
	return &bill, created, nil
}

func (t *txRepo) GetBill(ctx context.Context, id int64) (*Bill, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, customer_id, period_year, period_month, amount, status, created_at, updated_at
		FROM bills
		WHERE id = $1`, id)
	bill, err := scanBill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("billing: bill %d not found", id)
	}
	return bill, err
}

func (t *txRepo) SumBillAllocations(ctx context.Context, billID int64) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payment_allocations
		WHERE bill_id = $1`, billID).Scan(&total)
	return total, err
}

func (t *txRepo) InsertPayment(ctx context.Context, p *Payment) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO payments (number, customer_id, bill_id, amount, paid_at, method, collector_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at`,
		p.Number, p.CustomerID, p.BillID, p.Amount, p.PaidAt, p.Method, p.CollectorID,
	).Scan(&p.ID, &p.CreatedAt)
}

func (t *txRepo) InsertAllocation(ctx context.Context, a *PaymentAllocation) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO payment_allocations (payment_id, bill_id, amount, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id`,
		a.PaymentID, a.BillID, a.Amount,
	).Scan(&a.ID)
}

func (t *txRepo) UpdateBillStatus(ctx context.Context, billID int64, status BillStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE bills SET status = $1, updated_at = NOW() WHERE id = $2`, status, billID)
	return err
}

func (t *txRepo) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	var p Payment
	err := t.tx.QueryRow(ctx, `
		SELECT id, number, customer_id, bill_id, amount, paid_at, method, collector_id, created_at
		FROM payments
		WHERE id = $1`, id,
	).Scan(&p.ID, &p.Number, &p.CustomerID, &p.BillID, &p.Amount, &p.PaidAt, &p.Method, &p.CollectorID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *txRepo) DeletePaymentAllocations(ctx context.Context, paymentID int64) ([]int64, error) {
	rows, err := t.tx.Query(ctx, `
		DELETE FROM payment_allocations
		WHERE payment_id = $1
		RETURNING bill_id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var billIDs []int64
	seen := make(map[int64]struct{})
	for rows.Next() {
		var billID int64
		if err := rows.Scan(&billID); err != nil {
			return nil, err
		}
		if _, ok := seen[billID]; ok {
			continue
		}
		seen[billID] = struct{}{}
		billIDs = append(billIDs, billID)
	}
	return billIDs, rows.Err()
}

func (t *txRepo) DeletePayment(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// --- scan helpers ---

func getCustomer(ctx context.Context, q querier, id int64) (*Customer, error) {
	row := q.QueryRow(ctx, `
		SELECT id, name, area_id, monthly_fee, due_balance, billing_mode, status, connection_date
		FROM customers
		WHERE id = $1`, id)
	customer, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return customer, nil
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	var fee pgtype.Int8
	if err := row.Scan(&c.ID, &c.Name, &c.AreaID, &fee, &c.DueBalance, &c.BillingMode, &c.Status, &c.ConnectionDate); err != nil {
		return nil, err
	}
	if fee.Valid {
		c.MonthlyFee = &fee.Int64
	}
	return &c, nil
}

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	var month int
	if err := row.Scan(&b.ID, &b.CustomerID, &b.Period.Year, &month, &b.Amount, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Period.Month = time.Month(month)
	return &b, nil
}
