package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"acquiring-service/internal/payment"
	"acquiring-service/internal/signer"
)

var ErrMalformedPayload = errors.New("malformed notification")

// cardFields are never written to the notification log.
var cardFields = []string{"Pan", "CardId", "ExpDate", "RebillId"}

// Notification is a status update pushed by the gateway.
type Notification struct {
	TerminalKey string
	OrderID     string
	PaymentID   string
	Status      payment.Status
	Success     bool
	ErrorCode   string
	Token       string
	Amount      string
	// Fields holds every top-level value as received, used for signing.
	Fields map[string]any
}

// Parse decodes the raw webhook body. Numbers are kept in their textual
// form so the token can be recomputed over exactly what was sent.
func Parse(raw []byte) (*Notification, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	n := &Notification{Fields: fields}
	var err error
	if n.TerminalKey, err = stringField(fields, "TerminalKey"); err != nil {
		return nil, err
	}
	if n.OrderID, err = stringField(fields, "OrderId"); err != nil {
		return nil, err
	}
	if n.PaymentID, err = stringField(fields, "PaymentId"); err != nil {
		return nil, err
	}
	status, err := stringField(fields, "Status")
	if err != nil {
		return nil, err
	}
	n.Status = payment.Status(status)
	if n.Token, err = stringField(fields, signer.TokenField); err != nil {
		return nil, err
	}
	if n.ErrorCode, err = stringField(fields, "ErrorCode"); err != nil {
		return nil, err
	}
	if n.Amount, err = stringField(fields, "Amount"); err != nil {
		return nil, err
	}
	if n.Success, err = boolField(fields, "Success"); err != nil {
		return nil, err
	}

	switch {
	case n.TerminalKey == "":
		return nil, fmt.Errorf("%w: TerminalKey is required", ErrMalformedPayload)
	case n.OrderID == "" && n.PaymentID == "":
		return nil, fmt.Errorf("%w: OrderId or PaymentId is required", ErrMalformedPayload)
	case n.Status == "":
		return nil, fmt.Errorf("%w: Status is required", ErrMalformedPayload)
	case n.Token == "":
		return nil, fmt.Errorf("%w: Token is required", ErrMalformedPayload)
	}

	return n, nil
}

// Verify checks the token against the terminal secret.
func (n *Notification) Verify(secret string) error {
	return signer.Verify(n.Fields, n.Token, secret)
}

// RedactedPayload is the notification as received, without card data.
func (n *Notification) RedactedPayload() ([]byte, error) {
	fields := make(map[string]any, len(n.Fields))
	for key, value := range n.Fields {
		fields[key] = value
	}
	for _, key := range cardFields {
		delete(fields, key)
	}
	return json.Marshal(fields)
}

func stringField(fields map[string]any, key string) (string, error) {
	switch v := fields[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("%w: %s has unexpected type %T", ErrMalformedPayload, key, v)
	}
}

func boolField(fields map[string]any, key string) (bool, error) {
	switch v := fields[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		return strings.EqualFold(v, "true"), nil
	default:
		return false, fmt.Errorf("%w: %s has unexpected type %T", ErrMalformedPayload, key, v)
	}
}
