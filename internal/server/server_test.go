package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"acquiring-service/internal/gateway"
	"acquiring-service/internal/message"
	"acquiring-service/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayments struct {
	stored      map[string]*payment.Payment
	createErr   error
	lastAmount  int64
	lastRequest message.PaymentRequest
}

func (f *fakePayments) Create(_ context.Context, req message.PaymentRequest) (*payment.Payment, error) {
	f.lastRequest = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	p, err := req.ToPayment()
	if err != nil {
		return nil, err
	}
	p.PaymentID = "13660"
	p.PaymentURL = "https://pay.test/13660"
	p.Success = true
	f.stored[p.OrderID] = p
	return p, nil
}

func (f *fakePayments) Get(_ context.Context, orderID string) (*payment.Payment, error) {
	p, ok := f.stored[orderID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (f *fakePayments) RefreshState(ctx context.Context, orderID string) (*payment.Payment, error) {
	p, err := f.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if orderID == "unreachable" {
		return p, &gateway.TransportError{Op: "GetState", Err: errors.New("timeout")}
	}
	p.Apply(payment.StatusConfirmed, true, "0")
	return p, nil
}

func (f *fakePayments) Confirm(ctx context.Context, orderID string, amount int64) (*payment.Payment, error) {
	f.lastAmount = amount
	return f.Get(ctx, orderID)
}

func (f *fakePayments) Cancel(ctx context.Context, orderID string, amount int64) (*payment.Payment, error) {
	f.lastAmount = amount
	p, err := f.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	p.Apply(payment.StatusRefunded, true, "0")
	return p, nil
}

func newTestHandler() (http.Handler, *fakePayments) {
	payments := &fakePayments{stored: map[string]*payment.Payment{}}
	notifications := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "OK")
	})
	return NewHandler(payments, notifications, slog.New(slog.NewTextHandler(io.Discard, nil))), payments
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, message.PaymentStatus) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var status message.PaymentStatus
	if rec.Code < 300 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	}
	return rec, status
}

func TestCreatePayment(t *testing.T) {
	h, payments := newTestHandler()

	body := `{"orderId":"order-1","amount":3500,"description":"books",
	          "receipt":{"email":"buyer@example.com","items":[{"name":"a","price":3500,"quantity":1}]}}`
	rec, status := do(t, h, http.MethodPost, "/payments", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "13660", status.PaymentID)
	assert.Equal(t, "https://pay.test/13660", status.PaymentURL)
	assert.Equal(t, "NEW", status.Status)
	require.NotNil(t, payments.lastRequest.Receipt)
	assert.Len(t, payments.lastRequest.Receipt.Items, 1)
}

func TestCreatePayment_BadRequests(t *testing.T) {
	h, payments := newTestHandler()

	rec, _ := do(t, h, http.MethodPost, "/payments", `{"orderId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/payments", `{"orderId":"o","amount":1,"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/payments",
		`{"orderId":"o","amount":1,"receipt":{"email":"a@b.c","items":[{"name":"a","price":0,"quantity":1}]}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payments.createErr = &gateway.TransportError{Op: "Init", StatusCode: 503, Err: errors.New("unavailable")}
	rec, _ = do(t, h, http.MethodPost, "/payments", `{"orderId":"o","amount":1}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	payments.createErr = errors.New("db down")
	rec, _ = do(t, h, http.MethodPost, "/payments", `{"orderId":"o","amount":1}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetPayment(t *testing.T) {
	h, payments := newTestHandler()
	payments.stored["order-1"] = payment.New("order-1", 100, "")

	rec, status := do(t, h, http.MethodGet, "/payments/order-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "order-1", status.OrderID)
	assert.Equal(t, int64(100), status.Amount)

	rec, _ = do(t, h, http.MethodGet, "/payments/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshState(t *testing.T) {
	h, payments := newTestHandler()
	payments.stored["order-1"] = payment.New("order-1", 100, "")
	payments.stored["unreachable"] = payment.New("unreachable", 100, "")

	rec, status := do(t, h, http.MethodPost, "/payments/order-1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CONFIRMED", status.Status)

	rec, _ = do(t, h, http.MethodPost, "/payments/unreachable/state", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestConfirmAndCancel(t *testing.T) {
	h, payments := newTestHandler()
	payments.stored["order-1"] = payment.New("order-1", 1000, "")

	rec, _ := do(t, h, http.MethodPost, "/payments/order-1/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), payments.lastAmount)

	rec, status := do(t, h, http.MethodPost, "/payments/order-1/cancel", `{"amount":400}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(400), payments.lastAmount)
	assert.Equal(t, "REFUNDED", status.Status)
}

func TestOperationalEndpoints(t *testing.T) {
	h, _ := newTestHandler()

	rec, _ := do(t, h, http.MethodGet, "/liveness", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/notifications", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec, _ = do(t, h, http.MethodGet, "/notifications", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
