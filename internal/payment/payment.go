package payment

import (
	"errors"
	"fmt"
	"time"
)

const NoError = "0"

var ErrInvalidPayment = errors.New("invalid payment")

// Payment tracks a single merchant order through the gateway.
//
// Success reflects only the outcome of the last protocol call, it says
// nothing about whether money was captured. Status is whatever the gateway
// reported last.
type Payment struct {
	OrderID     string
	Amount      int64
	Description string
	PaymentID   string
	PaymentURL  string
	Status      Status
	Success     bool
	ErrorCode   string
	Message     string
	Details     string
	Receipt     *Receipt
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func New(orderID string, amount int64, description string) *Payment {
	return &Payment{
		OrderID:     orderID,
		Amount:      amount,
		Description: description,
		Status:      StatusNew,
		ErrorCode:   NoError,
	}
}

// Validate checks the payment can be submitted to the gateway.
func (p *Payment) Validate() error {
	if p.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidPayment)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidPayment, p.Amount)
	}
	if p.Receipt != nil {
		if err := p.Receipt.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Apply overwrites the gateway-reported state. Unknown statuses are kept
// verbatim. It reports whether anything observable changed.
func (p *Payment) Apply(status Status, success bool, errorCode string) bool {
	if errorCode == "" {
		errorCode = NoError
	}
	if p.Status == status && p.Success == success && p.ErrorCode == errorCode {
		return false
	}
	p.Status = status
	p.Success = success
	p.ErrorCode = errorCode
	return true
}

// CanRedirect reports whether the payer can be sent to the payment form.
func (p *Payment) CanRedirect() bool {
	return p.Success && p.PaymentURL != ""
}

// ErrNotFound is returned by stores when no payment matches a lookup.
var ErrNotFound = errors.New("payment not found")
