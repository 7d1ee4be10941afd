package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"acquiring-service/internal/payment"
	"acquiring-service/internal/signer"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const contentType = "application/json"

// error codes the real gateway answers with
const (
	codeInvalidToken   = "204"
	codeUnknownPayment = "7"
	codeBadRequest     = "9999"
	codeInvalidState   = "8"
)

type mockPayment struct {
	ID              int64
	OrderID         string
	Amount          int64
	Status          payment.Status
	NotificationURL string
}

// fakeGateway mimics the acquiring gateway closely enough to drive the
// service end to end: tokens are verified, payments move through
// NEW → AUTHORIZED → CONFIRMED and signed notifications are delivered.
type fakeGateway struct {
	mu                sync.Mutex
	terminalKey       string
	secret            string
	publicURL         string
	errorRate         float64
	notificationDelay time.Duration
	nextID            int64
	payments          map[int64]*mockPayment
	notifier          *resty.Client
	logger            *slog.Logger
}

func newFakeGateway(terminalKey, secret, publicURL string, logger *slog.Logger) *fakeGateway {
	return &fakeGateway{
		terminalKey: terminalKey,
		secret:      secret,
		publicURL:   publicURL,
		nextID:      1000,
		payments:    make(map[int64]*mockPayment),
		notifier:    resty.New().SetTimeout(5 * time.Second),
		logger:      logger,
	}
}

func (g *fakeGateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/Init", g.handle(g.initPayment))
	mux.HandleFunc("POST /v2/GetState", g.handle(g.getState))
	mux.HandleFunc("POST /v2/Confirm", g.handle(g.confirm))
	mux.HandleFunc("POST /v2/Cancel", g.handle(g.cancel))
	return mux
}

type request map[string]any

func (r request) str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

func (r request) num(key string) int64 {
	n, _ := strconv.ParseInt(r.str(key), 10, 64)
	return n
}

type reply map[string]any

func (g *fakeGateway) handle(op func(request) reply) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)

		if g.errorRate > 0 && rand.Float64() < g.errorRate {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(reply{"error": "Service Unavailable"})
			return
		}

		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var req request
		if err := dec.Decode(&req); err != nil {
			_ = json.NewEncoder(w).Encode(g.failure(codeBadRequest, "Неверные параметры", err.Error()))
			return
		}

		if req.str("TerminalKey") != g.terminalKey {
			_ = json.NewEncoder(w).Encode(g.failure(codeInvalidToken, "Неверный токен", "unknown terminal"))
			return
		}
		if err := signer.Verify(req, req.str(signer.TokenField), g.secret); err != nil {
			_ = json.NewEncoder(w).Encode(g.failure(codeInvalidToken, "Неверный токен", err.Error()))
			return
		}

		_ = json.NewEncoder(w).Encode(op(req))
	}
}

func (g *fakeGateway) initPayment(req request) reply {
	amount := req.num("Amount")
	orderID := req.str("OrderId")
	if amount <= 0 || orderID == "" {
		return g.failure(codeBadRequest, "Неверные параметры", "Amount and OrderId are required")
	}

	g.mu.Lock()
	g.nextID++
	p := &mockPayment{
		ID:              g.nextID,
		OrderID:         orderID,
		Amount:          amount,
		Status:          payment.StatusNew,
		NotificationURL: req.str("NotificationURL"),
	}
	g.payments[p.ID] = p
	r := g.success(p)
	g.mu.Unlock()

	r["PaymentURL"] = fmt.Sprintf("%s/pay/%s", g.publicURL, uuid.NewString())
	if p.NotificationURL != "" {
		go g.authorizeLater(p.ID)
	}
	return r
}

func (g *fakeGateway) getState(req request) reply {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[req.num("PaymentId")]
	if !ok {
		return g.failure(codeUnknownPayment, "Платеж не найден", "")
	}
	return g.success(p)
}

func (g *fakeGateway) confirm(req request) reply {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[req.num("PaymentId")]
	if !ok {
		return g.failure(codeUnknownPayment, "Платеж не найден", "")
	}
	if p.Status != payment.StatusAuthorized {
		return g.failure(codeInvalidState, "Неверный статус транзакции", string(p.Status))
	}
	p.Status = payment.StatusConfirmed
	return g.success(p)
}

func (g *fakeGateway) cancel(req request) reply {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[req.num("PaymentId")]
	if !ok {
		return g.failure(codeUnknownPayment, "Платеж не найден", "")
	}

	amount := req.num("Amount")
	switch p.Status {
	case payment.StatusNew, payment.StatusFormShowed:
		p.Status = payment.StatusCanceled
	case payment.StatusAuthorized:
		p.Status = payment.StatusReversed
	case payment.StatusConfirmed, payment.StatusPartialRefunded:
		if amount > 0 && amount < p.Amount {
			p.Amount -= amount
			p.Status = payment.StatusPartialRefunded
		} else {
			p.Status = payment.StatusRefunded
		}
	default:
		return g.failure(codeInvalidState, "Неверный статус транзакции", string(p.Status))
	}
	return g.success(p)
}

func (g *fakeGateway) success(p *mockPayment) reply {
	return reply{
		"Success":     true,
		"ErrorCode":   payment.NoError,
		"TerminalKey": g.terminalKey,
		"Status":      p.Status,
		"PaymentId":   strconv.FormatInt(p.ID, 10),
		"OrderId":     p.OrderID,
		"Amount":      p.Amount,
	}
}

func (g *fakeGateway) failure(code, message, details string) reply {
	return reply{
		"Success":     false,
		"ErrorCode":   code,
		"TerminalKey": g.terminalKey,
		"Message":     message,
		"Details":     details,
	}
}

// authorizeLater plays the payer completing the form: the payment becomes
// AUTHORIZED and the merchant is notified.
func (g *fakeGateway) authorizeLater(id int64) {
	time.Sleep(g.notificationDelay)

	g.mu.Lock()
	p, ok := g.payments[id]
	if !ok || p.Status != payment.StatusNew {
		g.mu.Unlock()
		return
	}
	p.Status = payment.StatusAuthorized
	snapshot := *p
	g.mu.Unlock()

	if err := g.notify(snapshot); err != nil {
		g.logger.Error("Error sending notification", "paymentId", id, "error", err)
	}
}

func (g *fakeGateway) notify(p mockPayment) error {
	fields := map[string]any{
		"TerminalKey": g.terminalKey,
		"OrderId":     p.OrderID,
		"Success":     true,
		"Status":      string(p.Status),
		"PaymentId":   p.ID,
		"ErrorCode":   payment.NoError,
		"Amount":      p.Amount,
		"CardId":      int64(322264),
		"Pan":         "430000******0777",
		"ExpDate":     "1122",
	}
	token, err := signer.Token(fields, g.secret)
	if err != nil {
		return err
	}
	fields[signer.TokenField] = token

	resp, err := g.notifier.R().
		SetHeader("Content-Type", contentType).
		SetBody(fields).
		Post(p.NotificationURL)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK || resp.String() != "OK" {
		return fmt.Errorf("notification rejected: %s %q", resp.Status(), resp.String())
	}

	g.logger.Info("Notification delivered", "paymentId", p.ID, "status", p.Status)
	return nil
}
