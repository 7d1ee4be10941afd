package service

import (
	"context"
	"fmt"
	"log/slog"

	"acquiring-service/internal/logcontext"
	"acquiring-service/internal/message"
	"acquiring-service/internal/payment"
)

// Repository stores payments. Refresh must hold a lock on the payment while
// call runs and save the result atomically, see db.PaymentRepository.Refresh.
type Repository interface {
	Create(ctx context.Context, p *payment.Payment) error
	Refresh(ctx context.Context, orderID string, call func(context.Context, *payment.Payment) error) (*payment.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error)
}

type Gateway interface {
	Init(ctx context.Context, p *payment.Payment) (*payment.Payment, error)
	GetState(ctx context.Context, p *payment.Payment) (*payment.Payment, error)
	Confirm(ctx context.Context, p *payment.Payment, amount int64) (*payment.Payment, error)
	Cancel(ctx context.Context, p *payment.Payment, amount int64) (*payment.Payment, error)
}

type Publisher interface {
	PublishStatus(ctx context.Context, p *payment.Payment) error
}

// PaymentService runs merchant-initiated operations: every gateway call is
// followed by persisting the outcome and, when the state moved, publishing it.
type PaymentService struct {
	repo      Repository
	gateway   Gateway
	publisher Publisher
	logger    *slog.Logger
}

func NewPaymentService(repo Repository, gateway Gateway, publisher Publisher, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// Create stores a new payment and registers it with the gateway. A payment
// the gateway refused is still returned without error, with Success false.
// On a transport error the payment stays stored as NEW and the error is
// returned.
//
// The stored payment stays locked while Init runs. A notification that
// arrives before the Init response is saved waits for it and is applied on
// top, instead of being dropped as an unknown payment.
func (s *PaymentService) Create(ctx context.Context, req message.PaymentRequest) (*payment.Payment, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", req.OrderID))

	p, err := req.ToPayment()
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	s.logger.InfoContext(ctx, "Payment created", "amount", p.Amount, "withReceipt", p.Receipt != nil)

	p, err = s.repo.Refresh(ctx, p.OrderID, func(ctx context.Context, locked *payment.Payment) error {
		_, err := s.gateway.Init(ctx, locked)
		return err
	})
	if err != nil {
		return p, err
	}

	s.publish(ctx, p)
	return p, nil
}

func (s *PaymentService) Get(ctx context.Context, orderID string) (*payment.Payment, error) {
	return s.repo.GetByOrderID(ctx, orderID)
}

// RefreshState polls the gateway for the current status and persists it.
func (s *PaymentService) RefreshState(ctx context.Context, orderID string) (*payment.Payment, error) {
	return s.run(ctx, orderID, s.gateway.GetState)
}

// Confirm captures a two-stage payment, amount zero meaning all of it.
func (s *PaymentService) Confirm(ctx context.Context, orderID string, amount int64) (*payment.Payment, error) {
	return s.run(ctx, orderID, func(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
		return s.gateway.Confirm(ctx, p, amount)
	})
}

// Cancel reverses or refunds a payment, amount zero meaning all of it.
func (s *PaymentService) Cancel(ctx context.Context, orderID string, amount int64) (*payment.Payment, error) {
	return s.run(ctx, orderID, func(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
		return s.gateway.Cancel(ctx, p, amount)
	})
}

// run makes the gateway call on the locked payment, so a notification
// committed meanwhile cannot be overwritten by the older gateway view.
func (s *PaymentService) run(ctx context.Context, orderID string,
	call func(context.Context, *payment.Payment) (*payment.Payment, error)) (*payment.Payment, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", orderID))

	var moved bool
	p, err := s.repo.Refresh(ctx, orderID, func(ctx context.Context, p *payment.Payment) error {
		before := *p
		if _, err := call(ctx, p); err != nil {
			return err
		}
		moved = p.Status != before.Status || p.Success != before.Success || p.ErrorCode != before.ErrorCode
		return nil
	})
	if err != nil {
		return p, err
	}

	if moved {
		s.publish(ctx, p)
	}
	return p, nil
}

func (s *PaymentService) publish(ctx context.Context, p *payment.Payment) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishStatus(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "Error publishing status change", "error", err)
	}
}
