package db

import (
	"context"

	"acquiring-service/internal/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const paymentColumns = `order_id, amount, description, payment_id, payment_url, status, success,
	error_code, message, details, created_at, updated_at`

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := row.Scan(&p.OrderID, &p.Amount, &p.Description, &p.PaymentID, &p.PaymentURL, &status, &p.Success,
		&p.ErrorCode, &p.Message, &p.Details, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = payment.Status(status)
	return &p, nil
}
