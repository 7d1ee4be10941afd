package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"acquiring-service/internal/config"
	"acquiring-service/internal/gateway"
	"acquiring-service/internal/message"
	"acquiring-service/internal/metrics"
	"acquiring-service/internal/payment"
	vm "github.com/VictoriaMetrics/metrics"
)

const maxBodyBytes = 64 << 10

type Payments interface {
	Create(ctx context.Context, req message.PaymentRequest) (*payment.Payment, error)
	Get(ctx context.Context, orderID string) (*payment.Payment, error)
	RefreshState(ctx context.Context, orderID string) (*payment.Payment, error)
	Confirm(ctx context.Context, orderID string, amount int64) (*payment.Payment, error)
	Cancel(ctx context.Context, orderID string, amount int64) (*payment.Payment, error)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	payments Payments
	logger   *slog.Logger
}

// NewHandler routes the merchant API, the gateway notification endpoint and
// the operational endpoints.
func NewHandler(payments Payments, notifications http.Handler, logger *slog.Logger) http.Handler {
	h := &handler{payments: payments, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("POST /notifications", notifications)

	mux.HandleFunc("POST /payments", h.create)
	mux.HandleFunc("GET /payments/{orderId}", h.get)
	mux.HandleFunc("POST /payments/{orderId}/state", h.refresh)
	mux.HandleFunc("POST /payments/{orderId}/confirm", h.confirm)
	mux.HandleFunc("POST /payments/{orderId}/cancel", h.cancel)

	return mux
}

func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	var req message.PaymentRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	p, err := h.payments.Create(r.Context(), req)
	h.respond(w, r, "create", http.StatusCreated, p, err)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Get(r.Context(), r.PathValue("orderId"))
	h.respond(w, r, "get", http.StatusOK, p, err)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.RefreshState(r.Context(), r.PathValue("orderId"))
	h.respond(w, r, "state", http.StatusOK, p, err)
}

func (h *handler) confirm(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeOptional(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	p, err := h.payments.Confirm(r.Context(), r.PathValue("orderId"), req.Amount)
	h.respond(w, r, "confirm", http.StatusOK, p, err)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeOptional(w, r, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	p, err := h.payments.Cancel(r.Context(), r.PathValue("orderId"), req.Amount)
	h.respond(w, r, "cancel", http.StatusOK, p, err)
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request, op string, okStatus int, p *payment.Payment, err error) {
	if err != nil {
		status := statusFor(err)
		countRequest(op, status)
		h.writeError(w, r, status, err)
		return
	}

	countRequest(op, okStatus)
	writeJSON(w, okStatus, message.FromPayment(p))
}

func statusFor(err error) int {
	var transportErr *gateway.TransportError
	switch {
	case errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrInvalidPayment),
		errors.Is(err, payment.ErrInvalidItem),
		errors.Is(err, gateway.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	} else {
		h.logger.WarnContext(r.Context(), "Request rejected", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeOptional accepts an empty body, leaving v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	if err := decode(w, r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func countRequest(op string, status int) {
	vm.GetOrCreateCounter(fmt.Sprintf(`http_requests_total{op=%q,code="%d"}`, op, status)).Inc()
}
