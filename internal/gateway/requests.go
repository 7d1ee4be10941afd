package gateway

import (
	"bytes"
	"encoding/json"

	"acquiring-service/internal/payment"
)

// signedRequest is implemented by every outbound request. fields lists the
// scalar values that take part in the token, exactly as they go on the wire.
type signedRequest interface {
	fields() map[string]any
	setToken(token string)
}

type InitRequest struct {
	TerminalKey     string            `json:"TerminalKey"`
	Amount          int64             `json:"Amount"`
	OrderID         string            `json:"OrderId"`
	Description     string            `json:"Description,omitempty"`
	NotificationURL string            `json:"NotificationURL,omitempty"`
	SuccessURL      string            `json:"SuccessURL,omitempty"`
	FailURL         string            `json:"FailURL,omitempty"`
	Token           string            `json:"Token"`
	Receipt         *Receipt          `json:"Receipt,omitempty"`
	Data            map[string]string `json:"DATA,omitempty"`
}

func (r *InitRequest) fields() map[string]any {
	f := map[string]any{
		"TerminalKey": r.TerminalKey,
		"Amount":      r.Amount,
		"OrderId":     r.OrderID,
	}
	addOptional(f, "Description", r.Description)
	addOptional(f, "NotificationURL", r.NotificationURL)
	addOptional(f, "SuccessURL", r.SuccessURL)
	addOptional(f, "FailURL", r.FailURL)
	return f
}

func (r *InitRequest) setToken(token string) { r.Token = token }

type GetStateRequest struct {
	TerminalKey string `json:"TerminalKey"`
	PaymentID   string `json:"PaymentId"`
	Token       string `json:"Token"`
}

func (r *GetStateRequest) fields() map[string]any {
	return map[string]any{
		"TerminalKey": r.TerminalKey,
		"PaymentId":   r.PaymentID,
	}
}

func (r *GetStateRequest) setToken(token string) { r.Token = token }

// ConfirmRequest completes a two-stage payment. Amount zero confirms the
// full authorized amount.
type ConfirmRequest struct {
	TerminalKey string   `json:"TerminalKey"`
	PaymentID   string   `json:"PaymentId"`
	Amount      int64    `json:"Amount,omitempty"`
	Token       string   `json:"Token"`
	Receipt     *Receipt `json:"Receipt,omitempty"`
}

func (r *ConfirmRequest) fields() map[string]any {
	f := map[string]any{
		"TerminalKey": r.TerminalKey,
		"PaymentId":   r.PaymentID,
	}
	if r.Amount > 0 {
		f["Amount"] = r.Amount
	}
	return f
}

func (r *ConfirmRequest) setToken(token string) { r.Token = token }

// CancelRequest reverses or refunds a payment. Amount zero cancels the
// whole amount.
type CancelRequest struct {
	TerminalKey string   `json:"TerminalKey"`
	PaymentID   string   `json:"PaymentId"`
	Amount      int64    `json:"Amount,omitempty"`
	Token       string   `json:"Token"`
	Receipt     *Receipt `json:"Receipt,omitempty"`
}

func (r *CancelRequest) fields() map[string]any {
	f := map[string]any{
		"TerminalKey": r.TerminalKey,
		"PaymentId":   r.PaymentID,
	}
	if r.Amount > 0 {
		f["Amount"] = r.Amount
	}
	return f
}

func (r *CancelRequest) setToken(token string) { r.Token = token }

type Receipt struct {
	Email    string        `json:"Email,omitempty"`
	Phone    string        `json:"Phone,omitempty"`
	Taxation string        `json:"Taxation"`
	Items    []ReceiptItem `json:"Items"`
}

type ReceiptItem struct {
	Name     string `json:"Name"`
	Price    int64  `json:"Price"`
	Quantity int64  `json:"Quantity"`
	Amount   int64  `json:"Amount"`
	Tax      string `json:"Tax"`
}

// initData carries the payer contacts so the payment form is prefilled.
func initData(r *payment.Receipt) map[string]string {
	if r == nil {
		return nil
	}
	data := make(map[string]string, 2)
	if r.Email != "" {
		data["Email"] = r.Email
	}
	if r.Phone != "" {
		data["Phone"] = r.Phone
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// fullAmountReceipt returns the stored receipt when the operation covers the
// whole payment. A partial amount would not match the receipt items.
func fullAmountReceipt(p *payment.Payment, amount int64) *Receipt {
	if amount != 0 && amount != p.Amount {
		return nil
	}
	return toReceipt(p.Receipt)
}

func toReceipt(r *payment.Receipt) *Receipt {
	if r == nil {
		return nil
	}
	items := make([]ReceiptItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, ReceiptItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Amount:   item.Amount(),
			Tax:      item.Tax,
		})
	}
	return &Receipt{
		Email:    r.Email,
		Phone:    r.Phone,
		Taxation: r.Taxation,
		Items:    items,
	}
}

// Response is the common envelope of all gateway replies.
type Response struct {
	Success     bool       `json:"Success"`
	ErrorCode   string     `json:"ErrorCode"`
	TerminalKey string     `json:"TerminalKey"`
	Status      string     `json:"Status"`
	PaymentID   FlexString `json:"PaymentId"`
	OrderID     string     `json:"OrderId"`
	Amount      int64      `json:"Amount"`
	PaymentURL  string     `json:"PaymentURL"`
	Message     string     `json:"Message"`
	Details     string     `json:"Details"`
}

// FlexString accepts both JSON strings and numbers. The gateway sends
// PaymentId either way depending on the method.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

func addOptional(f map[string]any, key, value string) {
	if value != "" {
		f[key] = value
	}
}
