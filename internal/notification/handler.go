package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"acquiring-service/internal/logcontext"
	"acquiring-service/internal/payment"
	"acquiring-service/internal/signer"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

const (
	// AckBody is the exact body the gateway expects, anything else is
	// treated as a failed delivery and retried.
	AckBody = "OK"

	maxBodyBytes = 64 << 10
)

type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeUnknownPayment    Outcome = "unknown_payment"
	OutcomeMalformed         Outcome = "malformed"
	OutcomeSignatureMismatch Outcome = "signature_mismatch"
	OutcomeStoreError        Outcome = "store_error"
)

// Store is the persistence side of the handler. Update must load the
// payment, call apply and save the result atomically, holding a lock on the
// payment so concurrent notifications for it are serialised. It returns
// payment.ErrNotFound when nothing matches.
type Store interface {
	Update(ctx context.Context, paymentID, orderID string, apply func(*payment.Payment) bool) (*payment.Payment, bool, error)
	SaveNotification(ctx context.Context, record Record) error
}

// SecretSource resolves the signing secret of a terminal.
type SecretSource interface {
	SecretFor(terminalKey string) (string, bool)
}

// Publisher is notified after a status change has been persisted.
type Publisher interface {
	PublishStatus(ctx context.Context, p *payment.Payment) error
}

// StaticSecrets maps terminal keys to secrets.
type StaticSecrets map[string]string

func (s StaticSecrets) SecretFor(terminalKey string) (string, bool) {
	secret, ok := s[terminalKey]
	return secret, ok && secret != ""
}

// Record is an entry of the notification log.
type Record struct {
	ID         uuid.UUID
	PaymentID  string
	OrderID    string
	Status     string
	Outcome    Outcome
	Payload    string
	ReceivedAt time.Time
}

type Result struct {
	StatusCode int
	Body       string
	Outcome    Outcome
	Err        error
}

type Handler struct {
	store     Store
	secrets   SecretSource
	publisher Publisher
	logger    *slog.Logger
}

func NewHandler(store Store, secrets SecretSource, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		secrets:   secrets,
		publisher: publisher,
		logger:    logger,
	}
}

// Handle verifies a raw notification and applies it. It always produces a
// response: 200 "OK" once the notification is processed or deliberately
// ignored, 4xx when it cannot be trusted and 500 when it should be redelivered.
func (h *Handler) Handle(ctx context.Context, raw []byte) Result {
	ctx = logcontext.AppendCtx(ctx, slog.String("notificationId", uuid.New().String()))

	n, err := Parse(raw)
	if err != nil {
		h.logger.WarnContext(ctx, "Rejecting malformed notification", "error", err)
		return h.result(OutcomeMalformed, http.StatusBadRequest, "invalid payload", err)
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("paymentId", n.PaymentID))
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", n.OrderID))

	secret, ok := h.secrets.SecretFor(n.TerminalKey)
	if !ok {
		err := fmt.Errorf("unknown terminal %q", n.TerminalKey)
		h.logger.WarnContext(ctx, "Rejecting notification", "error", err)
		return h.result(OutcomeSignatureMismatch, http.StatusForbidden, "invalid token", err)
	}

	if err := n.Verify(secret); errors.Is(err, signer.ErrInvalidPayload) {
		h.logger.WarnContext(ctx, "Rejecting unsignable notification", "error", err)
		return h.result(OutcomeMalformed, http.StatusBadRequest, "invalid payload", err)
	} else if err != nil {
		h.logger.WarnContext(ctx, "Rejecting notification with invalid token", "error", err)
		return h.result(OutcomeSignatureMismatch, http.StatusForbidden, "invalid token", err)
	}

	h.logger.InfoContext(ctx, "Received notification", "status", n.Status, "success", n.Success)

	p, changed, err := h.store.Update(ctx, n.PaymentID, n.OrderID, func(p *payment.Payment) bool {
		return p.Apply(n.Status, n.Success, n.ErrorCode)
	})

	outcome := OutcomeApplied
	switch {
	case errors.Is(err, payment.ErrNotFound):
		// acknowledged anyway, a non-OK answer would make the gateway retry forever
		h.logger.WarnContext(ctx, "Notification for unknown payment ignored")
		outcome = OutcomeUnknownPayment
	case err != nil:
		h.logger.ErrorContext(ctx, "Error applying notification", "error", err)
		return h.result(OutcomeStoreError, http.StatusInternalServerError, "internal error", err)
	case !changed:
		h.logger.InfoContext(ctx, "Notification already applied", "status", p.Status)
		outcome = OutcomeDuplicate
	default:
		h.logger.InfoContext(ctx, "Payment status updated", "status", p.Status)
		if h.publisher != nil {
			if err := h.publisher.PublishStatus(ctx, p); err != nil {
				h.logger.ErrorContext(ctx, "Error publishing status change", "error", err)
				publishErrorCounter.Inc()
			}
		}
	}

	h.saveRecord(ctx, n, outcome)

	var resultErr error
	if outcome == OutcomeUnknownPayment {
		resultErr = err
	}
	return h.result(outcome, http.StatusOK, AckBody, resultErr)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.WarnContext(r.Context(), "Error reading notification body", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	res := h.Handle(r.Context(), body)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(res.StatusCode)
	_, _ = io.WriteString(w, res.Body)
}

func (h *Handler) saveRecord(ctx context.Context, n *Notification, outcome Outcome) {
	payload, err := n.RedactedPayload()
	if err != nil {
		h.logger.WarnContext(ctx, "Error redacting notification payload", "error", err)
	}
	record := Record{
		ID:         uuid.New(),
		PaymentID:  n.PaymentID,
		OrderID:    n.OrderID,
		Status:     string(n.Status),
		Outcome:    outcome,
		Payload:    string(payload),
		ReceivedAt: time.Now(),
	}
	if err := h.store.SaveNotification(ctx, record); err != nil {
		h.logger.ErrorContext(ctx, "Error saving notification log", "error", err)
	}
}

func (h *Handler) result(outcome Outcome, statusCode int, body string, err error) Result {
	metrics.GetOrCreateCounter(fmt.Sprintf(`notification_total{result=%q}`, outcome)).Inc()
	return Result{StatusCode: statusCode, Body: body, Outcome: outcome, Err: err}
}

var publishErrorCounter = metrics.GetOrCreateCounter(`notification_publish_errors_total`)
