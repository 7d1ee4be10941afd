package notification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"acquiring-service/internal/payment"
	"acquiring-service/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTerminalKey = "test_key"
	testSecretKey   = "test_s_key"
)

type fakeStore struct {
	mu        sync.Mutex
	payments  map[string]*payment.Payment
	records   []Record
	saves     int
	updateErr error
}

func newFakeStore(payments ...*payment.Payment) *fakeStore {
	s := &fakeStore{payments: map[string]*payment.Payment{}}
	for _, p := range payments {
		s.payments[p.PaymentID] = p
	}
	return s
}

func (s *fakeStore) Update(_ context.Context, paymentID, orderID string, apply func(*payment.Payment) bool) (*payment.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return nil, false, s.updateErr
	}

	p, ok := s.payments[paymentID]
	if !ok {
		for _, candidate := range s.payments {
			if paymentID == "" && candidate.OrderID == orderID {
				p, ok = candidate, true
			}
		}
	}
	if !ok {
		return nil, false, payment.ErrNotFound
	}

	copied := *p
	if !apply(&copied) {
		return p, false, nil
	}
	*p = copied
	s.saves++
	return p, true, nil
}

func (s *fakeStore) SaveNotification(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *fakeStore) get(paymentID string) payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[paymentID]
}

type fakePublisher struct {
	mu        sync.Mutex
	published []payment.Payment
}

func (f *fakePublisher) PublishStatus(_ context.Context, p *payment.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, *p)
	return nil
}

func storedPayment() *payment.Payment {
	p := payment.New("12", 35000, "")
	p.PaymentID = "22461408"
	return p
}

func notificationFields() map[string]any {
	return map[string]any{
		"Success":     true,
		"TerminalKey": testTerminalKey,
		"Status":      "CONFIRMED",
		"ExpDate":     "",
		"CardId":      "number",
		"Pan":         "num",
		"Amount":      0,
		"PaymentId":   22461408,
		"OrderId":     "id",
		"ErrorCode":   "0",
	}
}

func sign(t *testing.T, fields map[string]any) []byte {
	t.Helper()

	token, err := signer.Token(fields, testSecretKey)
	require.NoError(t, err)
	fields["Token"] = token

	body, err := json.Marshal(fields)
	require.NoError(t, err)
	return body
}

func newTestHandler(store Store, publisher Publisher) *Handler {
	return NewHandler(store, StaticSecrets{testTerminalKey: testSecretKey}, publisher, slog.Default())
}

func TestHandle_AppliesVerifiedNotification(t *testing.T) {
	store := newFakeStore(storedPayment())
	publisher := &fakePublisher{}
	h := newTestHandler(store, publisher)

	res := h.Handle(context.Background(), sign(t, notificationFields()))

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "OK", res.Body)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	stored := store.get("22461408")
	assert.Equal(t, payment.StatusConfirmed, stored.Status)
	assert.True(t, stored.Success)
	assert.Equal(t, int64(35000), stored.Amount)

	require.Len(t, publisher.published, 1)
	require.Len(t, store.records, 1)
	assert.Equal(t, OutcomeApplied, store.records[0].Outcome)
	assert.Equal(t, "22461408", store.records[0].PaymentID)
}

func TestHandle_LogsPayloadWithoutCardData(t *testing.T) {
	store := newFakeStore(storedPayment())
	h := newTestHandler(store, nil)

	fields := notificationFields()
	fields["RebillId"] = 145919
	res := h.Handle(context.Background(), sign(t, fields))
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.Len(t, store.records, 1)
	var logged map[string]any
	require.NoError(t, json.Unmarshal([]byte(store.records[0].Payload), &logged))
	for _, key := range []string{"Pan", "CardId", "ExpDate", "RebillId"} {
		assert.NotContains(t, logged, key)
	}
	assert.Equal(t, "CONFIRMED", logged["Status"])
	assert.Equal(t, float64(22461408), logged["PaymentId"])
	assert.NotEmpty(t, logged["Token"])
}

func TestHandle_NullFieldIsMalformed(t *testing.T) {
	store := newFakeStore(storedPayment())
	h := newTestHandler(store, nil)

	body := []byte(`{"TerminalKey":"test_key","PaymentId":22461408,"OrderId":"12","Status":"CONFIRMED",` +
		`"Success":true,"RebillId":null,"Token":"0f1e2d"}`)
	res := h.Handle(context.Background(), body)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, OutcomeMalformed, res.Outcome)
	assert.ErrorIs(t, res.Err, signer.ErrInvalidPayload)
	assert.Equal(t, payment.StatusNew, store.get("22461408").Status)
	assert.Empty(t, store.records)
}

func TestHandle_IsIdempotent(t *testing.T) {
	store := newFakeStore(storedPayment())
	publisher := &fakePublisher{}
	h := newTestHandler(store, publisher)
	body := sign(t, notificationFields())

	first := h.Handle(context.Background(), body)
	second := h.Handle(context.Background(), body)

	assert.Equal(t, OutcomeApplied, first.Outcome)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "OK", second.Body)

	assert.Equal(t, payment.StatusConfirmed, store.get("22461408").Status)
	assert.Equal(t, 1, store.saves)
	assert.Len(t, publisher.published, 1)
}

func TestHandle_RejectsTamperedFields(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(map[string]any)
	}{
		{name: "status", tamper: func(f map[string]any) { f["Status"] = "REFUNDED" }},
		{name: "success", tamper: func(f map[string]any) { f["Success"] = false }},
		{name: "amount", tamper: func(f map[string]any) { f["Amount"] = 100 }},
		{name: "pan", tamper: func(f map[string]any) { f["Pan"] = "other" }},
		{name: "token", tamper: func(f map[string]any) { f["Token"] = strings.Repeat("0", 64) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(storedPayment())
			publisher := &fakePublisher{}
			h := newTestHandler(store, publisher)

			fields := notificationFields()
			sign(t, fields)
			tt.tamper(fields)
			body, err := json.Marshal(fields)
			require.NoError(t, err)

			res := h.Handle(context.Background(), body)

			assert.Equal(t, http.StatusForbidden, res.StatusCode)
			assert.NotEqual(t, "OK", res.Body)
			assert.Equal(t, OutcomeSignatureMismatch, res.Outcome)
			assert.ErrorIs(t, res.Err, signer.ErrSignatureMismatch)
			assert.Equal(t, payment.StatusNew, store.get("22461408").Status)
			assert.Empty(t, publisher.published)
			assert.Empty(t, store.records)
		})
	}
}

func TestHandle_UnknownTerminal(t *testing.T) {
	store := newFakeStore(storedPayment())
	h := newTestHandler(store, nil)

	fields := notificationFields()
	fields["TerminalKey"] = "other_terminal"

	res := h.Handle(context.Background(), sign(t, fields))

	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, payment.StatusNew, store.get("22461408").Status)
}

func TestHandle_UnknownPaymentIsAcknowledged(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store, nil)

	res := h.Handle(context.Background(), sign(t, notificationFields()))

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "OK", res.Body)
	assert.Equal(t, OutcomeUnknownPayment, res.Outcome)
	assert.ErrorIs(t, res.Err, payment.ErrNotFound)
	require.Len(t, store.records, 1)
	assert.Equal(t, OutcomeUnknownPayment, store.records[0].Outcome)
}

func TestHandle_FallsBackToOrderID(t *testing.T) {
	p := storedPayment()
	store := newFakeStore(p)
	h := newTestHandler(store, nil)

	fields := notificationFields()
	delete(fields, "PaymentId")
	fields["OrderId"] = "12"

	res := h.Handle(context.Background(), sign(t, fields))

	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, payment.StatusConfirmed, store.get("22461408").Status)
}

func TestHandle_UnrecognizedStatusIsStored(t *testing.T) {
	store := newFakeStore(storedPayment())
	h := newTestHandler(store, nil)

	fields := notificationFields()
	fields["Status"] = "3DS_CHECKED"

	res := h.Handle(context.Background(), sign(t, fields))

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, payment.Status("3DS_CHECKED"), store.get("22461408").Status)
}

func TestHandle_Malformed(t *testing.T) {
	withoutStatus := notificationFields()
	delete(withoutStatus, "Status")
	withoutIDs := notificationFields()
	delete(withoutIDs, "PaymentId")
	delete(withoutIDs, "OrderId")
	withoutTerminal := notificationFields()
	delete(withoutTerminal, "TerminalKey")

	tests := []struct {
		name string
		body []byte
	}{
		{name: "not json", body: []byte("Status=CONFIRMED")},
		{name: "array", body: []byte(`[1,2]`)},
		{name: "null", body: []byte(`null`)},
		{name: "missing status", body: sign(t, withoutStatus)},
		{name: "missing ids", body: sign(t, withoutIDs)},
		{name: "missing terminal", body: sign(t, withoutTerminal)},
		{name: "missing token", body: []byte(`{"TerminalKey":"test_key","PaymentId":1,"Status":"NEW"}`)},
		{name: "wrong type", body: []byte(`{"TerminalKey":"test_key","PaymentId":1,"Status":["NEW"],"Token":"x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(storedPayment())
			h := newTestHandler(store, nil)

			res := h.Handle(context.Background(), tt.body)

			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, OutcomeMalformed, res.Outcome)
			assert.ErrorIs(t, res.Err, ErrMalformedPayload)
			assert.Equal(t, payment.StatusNew, store.get("22461408").Status)
		})
	}
}

func TestHandle_StoreErrorAsksForRedelivery(t *testing.T) {
	store := newFakeStore(storedPayment())
	store.updateErr = errors.New("connection refused")
	h := newTestHandler(store, nil)

	res := h.Handle(context.Background(), sign(t, notificationFields()))

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, OutcomeStoreError, res.Outcome)
	assert.NotEqual(t, "OK", res.Body)
}

func TestHandle_ConcurrentDuplicates(t *testing.T) {
	store := newFakeStore(storedPayment())
	publisher := &fakePublisher{}
	h := newTestHandler(store, publisher)
	body := sign(t, notificationFields())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.Handle(context.Background(), body)
			assert.Equal(t, http.StatusOK, res.StatusCode)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.saves)
	assert.Len(t, publisher.published, 1)
}

func TestServeHTTP(t *testing.T) {
	store := newFakeStore(storedPayment())
	h := newTestHandler(store, nil)

	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(string(sign(t, notificationFields()))))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, payment.StatusConfirmed, store.get("22461408").Status)
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(newFakeStore(), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
