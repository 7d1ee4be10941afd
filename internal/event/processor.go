package event

import (
	"context"
	"log/slog"

	"acquiring-service/internal/message"
	"acquiring-service/internal/payment"
)

type PaymentCreator interface {
	Create(ctx context.Context, req message.PaymentRequest) (*payment.Payment, error)
}

// Processor turns payment requests from the order flow into gateway payments.
type Processor struct {
	payments PaymentCreator
	logger   *slog.Logger
}

func NewProcessor(payments PaymentCreator, logger *slog.Logger) *Processor {
	return &Processor{payments: payments, logger: logger}
}

func (p *Processor) Process(ctx context.Context, req message.PaymentRequest) error {
	p.logger.InfoContext(ctx, "Processing payment request", "amount", req.Amount)

	pm, err := p.payments.Create(ctx, req)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating payment", "error", err)
		return err
	}

	if !pm.Success {
		p.logger.WarnContext(ctx, "Gateway refused payment",
			"errorCode", pm.ErrorCode, "message", pm.Message)
		return nil
	}

	p.logger.InfoContext(ctx, "Successfully processed payment request",
		"paymentId", pm.PaymentID, "status", pm.Status)
	return nil
}
