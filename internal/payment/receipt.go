package payment

import (
	"errors"
	"fmt"
)

const (
	DefaultTaxation = "osn"
	DefaultTax      = "none"
)

var ErrInvalidItem = errors.New("invalid receipt item")

type ReceiptItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	Tax      string `json:"tax,omitempty"`
}

// Amount is the item subtotal in minor units.
func (i ReceiptItem) Amount() int64 {
	return i.Price * i.Quantity
}

func (i ReceiptItem) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if i.Price <= 0 {
		return fmt.Errorf("%w: %q price must be positive, got %d", ErrInvalidItem, i.Name, i.Price)
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("%w: %q quantity must be positive, got %d", ErrInvalidItem, i.Name, i.Quantity)
	}
	return nil
}

// Receipt is the fiscal breakdown attached to a payment. The gateway, not
// this service, checks that item subtotals add up to the payment amount.
type Receipt struct {
	Email    string
	Phone    string
	Taxation string
	Items    []ReceiptItem
}

func (r *Receipt) Validate() error {
	if r.Email == "" && r.Phone == "" {
		return fmt.Errorf("%w: receipt needs an email or a phone", ErrInvalidPayment)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: receipt has no items", ErrInvalidItem)
	}
	for _, item := range r.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Receipt) Total() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.Amount()
	}
	return total
}

type ReceiptBuilder struct {
	payment *Payment
	receipt Receipt
}

// WithReceipt starts a receipt for the payment addressed to email or phone.
func (p *Payment) WithReceipt(email, phone string) *ReceiptBuilder {
	return &ReceiptBuilder{
		payment: p,
		receipt: Receipt{Email: email, Phone: phone, Taxation: DefaultTaxation},
	}
}

func (b *ReceiptBuilder) WithTaxation(taxation string) *ReceiptBuilder {
	b.receipt.Taxation = taxation
	return b
}

// WithItems validates items and attaches the finished receipt to the
// payment, replacing any previous one. On error the payment is untouched.
func (b *ReceiptBuilder) WithItems(items []ReceiptItem) (*Payment, error) {
	receipt := b.receipt
	receipt.Items = make([]ReceiptItem, 0, len(items))
	for _, item := range items {
		if item.Tax == "" {
			item.Tax = DefaultTax
		}
		receipt.Items = append(receipt.Items, item)
	}

	if err := receipt.Validate(); err != nil {
		return b.payment, err
	}

	b.payment.Receipt = &receipt
	return b.payment, nil
}
