package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"acquiring-service/internal/config"
	"acquiring-service/internal/logcontext"
	"acquiring-service/internal/payment"
	"acquiring-service/internal/signer"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
)

const (
	defaultTimeoutMs = 10_000

	opInit     = "Init"
	opGetState = "GetState"
	opConfirm  = "Confirm"
	opCancel   = "Cancel"
)

type Client struct {
	http            *resty.Client
	breaker         *gobreaker.CircuitBreaker
	terminalKey     string
	secretKey       string
	notificationURL string
	successURL      string
	failURL         string
	logger          *slog.Logger
}

type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets the underlying HTTP client, mostly useful in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// NewClient builds a client for one terminal. The terminal and secret keys
// are mandatory.
func NewClient(cfg config.Gateway, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.TerminalKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: terminal key and secret key are required", ErrInvalidPayload)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: gateway url is required", ErrInvalidPayload)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var rc *resty.Client
	if o.httpClient != nil {
		rc = resty.NewWithClient(o.httpClient)
	} else {
		rc = resty.New()
	}

	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}

	rc.SetBaseURL(cfg.URL).
		SetTimeout(time.Duration(timeoutMs) * time.Millisecond).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:            rc,
		breaker:         newBreaker("gateway-"+cfg.TerminalKey, logger),
		terminalKey:     cfg.TerminalKey,
		secretKey:       cfg.SecretKey,
		notificationURL: cfg.NotificationURL,
		successURL:      cfg.SuccessURL,
		failURL:         cfg.FailURL,
		logger:          logger,
	}, nil
}

func (c *Client) TerminalKey() string {
	return c.terminalKey
}

// SecretFor resolves the signing secret of this client's terminal.
func (c *Client) SecretFor(terminalKey string) (string, bool) {
	if terminalKey != c.terminalKey {
		return "", false
	}
	return c.secretKey, true
}

// Init registers the payment with the gateway. On success PaymentID,
// PaymentURL and Status are filled in. A refusal by the gateway is not an
// error: it is reported through Success, ErrorCode and Message.
func (c *Client) Init(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	req := &InitRequest{
		TerminalKey:     c.terminalKey,
		Amount:          p.Amount,
		OrderID:         p.OrderID,
		Description:     p.Description,
		NotificationURL: c.notificationURL,
		SuccessURL:      c.successURL,
		FailURL:         c.failURL,
		Receipt:         toReceipt(p.Receipt),
		Data:            initData(p.Receipt),
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("orderId", p.OrderID))
	resp, err := c.call(ctx, opInit, req)
	if err != nil {
		return p, err
	}

	applyResult(p, resp)
	if resp.Success {
		p.PaymentID = string(resp.PaymentID)
		p.PaymentURL = resp.PaymentURL
	}

	return p, nil
}

// GetState refreshes Status and Success. Amount, Description and Receipt
// are never touched.
func (c *Client) GetState(ctx context.Context, p *payment.Payment) (*payment.Payment, error) {
	if p.PaymentID == "" {
		return p, fmt.Errorf("%w: payment %s has no payment id", ErrInvalidPayload, p.OrderID)
	}

	req := &GetStateRequest{
		TerminalKey: c.terminalKey,
		PaymentID:   p.PaymentID,
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("paymentId", p.PaymentID))
	resp, err := c.call(ctx, opGetState, req)
	if err != nil {
		return p, err
	}

	applyResult(p, resp)
	return p, nil
}

// Confirm captures an authorized two-stage payment. amount zero confirms
// the whole authorized amount.
func (c *Client) Confirm(ctx context.Context, p *payment.Payment, amount int64) (*payment.Payment, error) {
	if p.PaymentID == "" {
		return p, fmt.Errorf("%w: payment %s has no payment id", ErrInvalidPayload, p.OrderID)
	}
	if amount < 0 {
		return p, fmt.Errorf("%w: negative amount %d", ErrInvalidPayload, amount)
	}

	req := &ConfirmRequest{
		TerminalKey: c.terminalKey,
		PaymentID:   p.PaymentID,
		Amount:      amount,
		Receipt:     fullAmountReceipt(p, amount),
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("paymentId", p.PaymentID))
	resp, err := c.call(ctx, opConfirm, req)
	if err != nil {
		return p, err
	}

	applyResult(p, resp)
	return p, nil
}

// Cancel reverses or refunds the payment, fully when amount is zero.
func (c *Client) Cancel(ctx context.Context, p *payment.Payment, amount int64) (*payment.Payment, error) {
	if p.PaymentID == "" {
		return p, fmt.Errorf("%w: payment %s has no payment id", ErrInvalidPayload, p.OrderID)
	}
	if amount < 0 || amount > p.Amount {
		return p, fmt.Errorf("%w: cancel amount %d out of range", ErrInvalidPayload, amount)
	}

	req := &CancelRequest{
		TerminalKey: c.terminalKey,
		PaymentID:   p.PaymentID,
		Amount:      amount,
		Receipt:     fullAmountReceipt(p, amount),
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("paymentId", p.PaymentID))
	resp, err := c.call(ctx, opCancel, req)
	if err != nil {
		return p, err
	}

	applyResult(p, resp)
	return p, nil
}

func (c *Client) call(ctx context.Context, op string, req signedRequest) (*Response, error) {
	startTime := time.Now()
	defer func() {
		metrics.GetOrCreateHistogram(fmt.Sprintf(`gateway_request_duration_milliseconds{op=%q}`, op)).
			Update(float64(time.Since(startTime).Milliseconds()))
	}()

	token, err := signer.Token(req.fields(), c.secretKey)
	if err != nil {
		countRequest(op, "invalid_payload")
		return nil, err
	}
	req.setToken(token)

	c.logger.InfoContext(ctx, "Sending gateway request", "op", op)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			Post("/" + op)
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
		if resp.IsError() {
			return nil, &TransportError{Op: op, StatusCode: resp.StatusCode(), Err: errors.New(resp.String())}
		}

		var out Response
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, &TransportError{Op: op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
		}
		return &out, nil
	})
	if err != nil {
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			err = &TransportError{Op: op, Err: breakerError(err)}
		}
		c.logger.ErrorContext(ctx, "Gateway request failed", "op", op, "error", err)
		countRequest(op, "transport_error")
		return nil, err
	}

	resp := result.(*Response)
	if resp.Success {
		c.logger.InfoContext(ctx, "Gateway request succeeded", "op", op, "status", resp.Status)
		countRequest(op, "success")
	} else {
		c.logger.WarnContext(ctx, "Gateway rejected request", "op", op,
			"errorCode", resp.ErrorCode, "message", resp.Message, "details", resp.Details)
		countRequest(op, "gateway_error")
	}

	return resp, nil
}

// applyResult copies the outcome of the last call. Status is only replaced
// when the gateway reported one, a failed call keeps the previous status.
func applyResult(p *payment.Payment, resp *Response) {
	p.Success = resp.Success
	p.ErrorCode = resp.ErrorCode
	if p.ErrorCode == "" {
		p.ErrorCode = payment.NoError
	}
	p.Message = resp.Message
	p.Details = resp.Details
	if resp.Status != "" {
		p.Status = payment.Status(resp.Status)
	}
}

func countRequest(op, result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`gateway_requests_total{op=%q,result=%q}`, op, result)).Inc()
}
