package db

import (
	"context"
	"time"

	"acquiring-service/internal/notification"
	"acquiring-service/internal/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create stores a new payment together with its receipt.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO payments (order_id, amount, description, payment_id, payment_url, status, success,
	              error_code, message, details)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          RETURNING created_at, updated_at`
	err = tx.QueryRow(ctx, query, p.OrderID, p.Amount, p.Description, p.PaymentID, p.PaymentURL, string(p.Status),
		p.Success, errorCode(p), p.Message, p.Details).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert payment %s", p.OrderID)
	}

	if p.Receipt != nil {
		if err := insertReceipt(ctx, tx, p.OrderID, p.Receipt); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit")
}

func insertReceipt(ctx context.Context, tx pgx.Tx, orderID string, receipt *payment.Receipt) error {
	_, err := tx.Exec(ctx, `INSERT INTO receipts (order_id, email, phone, taxation) VALUES ($1, $2, $3, $4)`,
		orderID, receipt.Email, receipt.Phone, receipt.Taxation)
	if err != nil {
		return errors.Wrapf(err, "insert receipt %s", orderID)
	}

	batch := &pgx.Batch{}
	for i, item := range receipt.Items {
		batch.Queue(`INSERT INTO receipt_items (order_id, position, name, price, quantity, tax)
		             VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, i, item.Name, item.Price, item.Quantity, item.Tax)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "insert receipt items %s", orderID)
	}
	return nil
}

// Refresh locks the payment of orderID, passes it to call and saves what call
// left in it, all in one transaction. Notifications for the payment wait on
// the row lock meanwhile, so a gateway response can never overwrite a newer
// notification. When call fails nothing is saved and the locked payment is
// returned together with the error.
func (r *PaymentRepository) Refresh(ctx context.Context, orderID string, call func(context.Context, *payment.Payment) error) (*payment.Payment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	p, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, lookupError(err, orderID)
	}
	if p.Receipt, err = r.getReceipt(ctx, orderID); err != nil {
		return nil, err
	}

	if err := call(ctx, p); err != nil {
		return p, err
	}

	if err := saveResult(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, errors.Wrap(tx.Commit(ctx), "commit")
}

func saveResult(ctx context.Context, q querier, p *payment.Payment) error {
	query := `UPDATE payments
	          SET payment_id = $2, payment_url = $3, status = $4, success = $5, error_code = $6,
	              message = $7, details = $8, updated_at = NOW()
	          WHERE order_id = $1
	          RETURNING updated_at`
	err := q.QueryRow(ctx, query, p.OrderID, p.PaymentID, p.PaymentURL, string(p.Status), p.Success,
		errorCode(p), p.Message, p.Details).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(payment.ErrNotFound, "order %s", p.OrderID)
	}
	return errors.Wrapf(err, "update payment %s", p.OrderID)
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1 AND payment_id <> ''`, paymentID)
}

func (r *PaymentRepository) get(ctx context.Context, query, key string) (*payment.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(payment.ErrNotFound, "payment %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select payment %s", key)
	}

	p.Receipt, err = r.getReceipt(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PaymentRepository) getReceipt(ctx context.Context, orderID string) (*payment.Receipt, error) {
	var receipt payment.Receipt
	err := r.pool.QueryRow(ctx, `SELECT email, phone, taxation FROM receipts WHERE order_id = $1`, orderID).
		Scan(&receipt.Email, &receipt.Phone, &receipt.Taxation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select receipt %s", orderID)
	}

	rows, err := r.pool.Query(ctx, `SELECT name, price, quantity, tax FROM receipt_items
	                                WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "select receipt items %s", orderID)
	}
	defer rows.Close()

	for rows.Next() {
		var item payment.ReceiptItem
		if err := rows.Scan(&item.Name, &item.Price, &item.Quantity, &item.Tax); err != nil {
			return nil, errors.Wrap(err, "scan receipt item")
		}
		receipt.Items = append(receipt.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate receipt items")
	}

	return &receipt, nil
}

// Update locks the payment found by paymentID, or by orderID when paymentID
// is empty or not stored yet, and saves it when apply reports a change. The
// row lock serialises concurrent notifications for the same payment.
//
// A notification can beat the stored Init result: the gateway knows the
// PaymentId before the Init response is saved. Such a notification waits for
// the lock Refresh holds during Init and is then matched by order id.
func (r *PaymentRepository) Update(ctx context.Context, paymentID, orderID string, apply func(*payment.Payment) bool) (*payment.Payment, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	p, err := lockForNotification(ctx, tx, paymentID, orderID)
	if err != nil {
		return nil, false, err
	}

	attached := false
	if p.PaymentID == "" && paymentID != "" {
		p.PaymentID = paymentID
		attached = true
	}

	changed := apply(p)
	if !changed && !attached {
		return p, false, errors.Wrap(tx.Commit(ctx), "commit")
	}

	if err := saveResult(ctx, tx, p); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit")
	}
	return p, changed, nil
}

func lockForNotification(ctx context.Context, tx pgx.Tx, paymentID, orderID string) (*payment.Payment, error) {
	if paymentID != "" {
		p, err := scanPayment(tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1 AND payment_id <> '' FOR UPDATE`, paymentID))
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) || orderID == "" {
			return nil, lookupError(err, paymentID)
		}
	}

	p, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, lookupError(err, orderID)
	}
	if paymentID != "" && p.PaymentID != "" && p.PaymentID != paymentID {
		return nil, errors.Wrapf(payment.ErrNotFound, "payment %s of order %s", paymentID, orderID)
	}
	return p, nil
}

func lookupError(err error, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(payment.ErrNotFound, "payment %s", key)
	}
	return errors.Wrapf(err, "select payment %s for update", key)
}

// ReconcileStale passes up to limit payments still in one of statuses and not
// updated since olderThan to refresh, saving those refresh reports as
// changed. Every payment is locked in its own short transaction, so a slow
// gateway only ever delays notifications for the payment being refreshed.
// Payments locked elsewhere or moved on meanwhile are skipped. It returns the
// changed payments, including those saved before an error.
func (r *PaymentRepository) ReconcileStale(ctx context.Context, statuses []payment.Status, olderThan time.Time, limit int,
	refresh func(context.Context, *payment.Payment) bool) ([]*payment.Payment, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	rows, err := r.pool.Query(ctx, `SELECT order_id FROM payments
	                                WHERE status = ANY($1) AND payment_id <> '' AND updated_at < $2
	                                ORDER BY updated_at
	                                LIMIT $3`, names, olderThan, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select stale payments")
	}
	orderIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "collect stale payments")
	}

	var changed []*payment.Payment
	for _, orderID := range orderIDs {
		p, err := r.reconcileOne(ctx, orderID, names, olderThan, refresh)
		if err != nil {
			return changed, err
		}
		if p != nil {
			changed = append(changed, p)
		}
	}
	return changed, nil
}

// reconcileOne returns the payment when refresh changed it and nil when it
// was skipped or left as is.
func (r *PaymentRepository) reconcileOne(ctx context.Context, orderID string, names []string, olderThan time.Time,
	refresh func(context.Context, *payment.Payment) bool) (*payment.Payment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + paymentColumns + ` FROM payments
	          WHERE order_id = $1 AND status = ANY($2) AND updated_at < $3
	          FOR UPDATE SKIP LOCKED`
	p, err := scanPayment(tx.QueryRow(ctx, query, orderID, names, olderThan))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lock payment %s", orderID)
	}

	if !refresh(ctx, p) {
		return nil, nil
	}

	if err := saveResult(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return p, nil
}

func (r *PaymentRepository) SaveNotification(ctx context.Context, record notification.Record) error {
	query := `INSERT INTO notification_log (id, payment_id, order_id, status, outcome, payload, received_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, record.ID, record.PaymentID, record.OrderID, record.Status,
		string(record.Outcome), record.Payload, record.ReceivedAt)
	return errors.Wrap(err, "insert notification log")
}

func (r *PaymentRepository) CountNotifications(ctx context.Context, paymentID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_log WHERE payment_id = $1`, paymentID).Scan(&count)
	return count, errors.Wrap(err, "count notifications")
}

func errorCode(p *payment.Payment) string {
	if p.ErrorCode == "" {
		return payment.NoError
	}
	return p.ErrorCode
}
