package reconcile

import (
	"context"
	"log/slog"
	"time"

	"acquiring-service/internal/config"
	"acquiring-service/internal/logcontext"
	"acquiring-service/internal/payment"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

const (
	defaultPollingIntervalMs = 60_000
	defaultFetchSize         = 50
	defaultMinAgeMs          = 300_000
)

var (
	// batch metrics
	reconcileErrorCounter   = metrics.GetOrCreateCounter(`reconcile_total{result="failed"}`)
	reconcileSuccessCounter = metrics.GetOrCreateCounter(`reconcile_total{result="success"}`)

	reconcileDurationHistogram = metrics.GetOrCreateHistogram(`reconcile_duration_milliseconds`)

	// per payment metrics
	paymentsChangedCounter   = metrics.GetOrCreateCounter(`reconcile_payments_total{result="changed"}`)
	paymentsUnchangedCounter = metrics.GetOrCreateCounter(`reconcile_payments_total{result="unchanged"}`)
	paymentsErrorCounter     = metrics.GetOrCreateCounter(`reconcile_payments_total{result="gateway_error"}`)
)

// Store locks stale payments for one batch, see db.PaymentRepository.
type Store interface {
	ReconcileStale(ctx context.Context, statuses []payment.Status, olderThan time.Time, limit int,
		refresh func(context.Context, *payment.Payment) bool) ([]*payment.Payment, error)
}

type StateSource interface {
	GetState(ctx context.Context, p *payment.Payment) (*payment.Payment, error)
}

type Publisher interface {
	PublishStatus(ctx context.Context, p *payment.Payment) error
}

// Poller periodically asks the gateway for the state of payments that have
// not reached a final status, covering notifications that never arrived.
type Poller struct {
	store           Store
	gateway         StateSource
	publisher       Publisher
	pollingInterval time.Duration
	fetchSize       int
	minAge          time.Duration
	logger          *slog.Logger
}

func NewPoller(cfg config.Reconcile, store Store, gateway StateSource, publisher Publisher, logger *slog.Logger) *Poller {
	pollingIntervalMs := cfg.PollingIntervalMs
	if pollingIntervalMs <= 0 {
		pollingIntervalMs = defaultPollingIntervalMs
	}
	fetchSize := cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}
	minAgeMs := cfg.MinAgeMs
	if minAgeMs <= 0 {
		minAgeMs = defaultMinAgeMs
	}

	return &Poller{
		store:           store,
		gateway:         gateway,
		publisher:       publisher,
		pollingInterval: time.Duration(pollingIntervalMs) * time.Millisecond,
		fetchSize:       fetchSize,
		minAge:          time.Duration(minAgeMs) * time.Millisecond,
		logger:          logger,
	}
}

func (p *Poller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping reconciliation")
				return
			}
		}
	}()
}

func (p *Poller) process(ctx context.Context) int {
	startTime := time.Now()
	defer func() {
		reconcileDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	// payments saved before an error are committed and still published
	changed, err := p.store.ReconcileStale(ctx, payment.NonFinalStatuses(), startTime.Add(-p.minAge), p.fetchSize, p.refresh)
	for _, pm := range changed {
		paymentCtx := logcontext.AppendCtx(ctx, slog.String("orderId", pm.OrderID))
		if err := p.publisher.PublishStatus(paymentCtx, pm); err != nil {
			p.logger.ErrorContext(paymentCtx, "Error publishing status change", "error", err)
		}
	}

	if len(changed) > 0 {
		p.logger.InfoContext(ctx, "Reconciled payments", "changed", len(changed))
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "Error reconciling payments", "error", err)
		reconcileErrorCounter.Inc()
		return len(changed)
	}
	reconcileSuccessCounter.Inc()
	return len(changed)
}

func (p *Poller) refresh(ctx context.Context, pm *payment.Payment) bool {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", pm.OrderID))
	before := *pm

	if _, err := p.gateway.GetState(ctx, pm); err != nil {
		p.logger.WarnContext(ctx, "Error polling payment state", "error", err)
		paymentsErrorCounter.Inc()
		return false
	}

	if pm.Status == before.Status && pm.Success == before.Success && pm.ErrorCode == before.ErrorCode {
		paymentsUnchangedCounter.Inc()
		return false
	}

	p.logger.InfoContext(ctx, "Payment state changed", "from", before.Status, "to", pm.Status)
	paymentsChangedCounter.Inc()
	return true
}
