package message

import (
	"time"

	"acquiring-service/internal/payment"
)

type ReceiptItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	Tax      string `json:"tax,omitempty"`
}

type Receipt struct {
	Email    string        `json:"email,omitempty"`
	Phone    string        `json:"phone,omitempty"`
	Taxation string        `json:"taxation,omitempty"`
	Items    []ReceiptItem `json:"items"`
}

// PaymentRequest asks the service to register a payment with the gateway.
// It arrives on the payment-requests topic or as the body of POST /payments.
type PaymentRequest struct {
	OrderID     string   `json:"orderId"`
	Amount      int64    `json:"amount"`
	Description string   `json:"description,omitempty"`
	Receipt     *Receipt `json:"receipt,omitempty"`
}

// ToPayment builds a new local payment, attaching the receipt if present.
func (r PaymentRequest) ToPayment() (*payment.Payment, error) {
	p := payment.New(r.OrderID, r.Amount, r.Description)
	if r.Receipt == nil {
		return p, nil
	}

	items := make([]payment.ReceiptItem, 0, len(r.Receipt.Items))
	for _, it := range r.Receipt.Items {
		items = append(items, payment.ReceiptItem{
			Name:     it.Name,
			Price:    it.Price,
			Quantity: it.Quantity,
			Tax:      it.Tax,
		})
	}

	b := p.WithReceipt(r.Receipt.Email, r.Receipt.Phone)
	if r.Receipt.Taxation != "" {
		b = b.WithTaxation(r.Receipt.Taxation)
	}
	return b.WithItems(items)
}

// PaymentStatus is published on the payment-status topic and returned by the
// HTTP API.
type PaymentStatus struct {
	OrderID    string    `json:"orderId"`
	PaymentID  string    `json:"paymentId,omitempty"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	Success    bool      `json:"success"`
	ErrorCode  string    `json:"errorCode"`
	Message    string    `json:"message,omitempty"`
	Details    string    `json:"details,omitempty"`
	PaymentURL string    `json:"paymentUrl,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func FromPayment(p *payment.Payment) PaymentStatus {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return PaymentStatus{
		OrderID:    p.OrderID,
		PaymentID:  p.PaymentID,
		Amount:     p.Amount,
		Status:     string(p.Status),
		Success:    p.Success,
		ErrorCode:  p.ErrorCode,
		Message:    p.Message,
		Details:    p.Details,
		PaymentURL: p.PaymentURL,
		UpdatedAt:  updatedAt,
	}
}
