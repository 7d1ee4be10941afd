package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"acquiring-service/internal/config"
	"acquiring-service/internal/logcontext"
	"acquiring-service/internal/message"
	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"
)

type Metrics struct {
	ReadErrorCounter      *metrics.Counter
	UnmarshalErrorCounter *metrics.Counter
	ProcessErrorCounter   *metrics.Counter
	SuccessCounter        *metrics.Counter
}

var paymentRequestMetrics = Metrics{
	ReadErrorCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="payment_request"}`),
	UnmarshalErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="payment_request"}`),
	ProcessErrorCounter:   metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="payment_request"}`),
	SuccessCounter:        metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="payment_request"}`),
}

// RequestProcessor handles one decoded payment request.
type RequestProcessor interface {
	Process(ctx context.Context, req message.PaymentRequest) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func NewReader(cfg config.Kafka, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   topic,
	})
}

// ReadPaymentRequests consumes the payment-requests topic until ctx is done.
// Messages that fail to decode or process are logged and skipped, the order
// flow learns the outcome from the payment-status topic.
func ReadPaymentRequests(ctx context.Context, reader messageReader, processor RequestProcessor, logger *slog.Logger) {
	readMessages(ctx, reader, logger, func(ctx context.Context, value []byte) error {
		var req message.PaymentRequest
		if err := json.Unmarshal(value, &req); err != nil {
			logger.ErrorContext(ctx, "Error unmarshalling payment request", "error", err)
			paymentRequestMetrics.UnmarshalErrorCounter.Inc()
			return err
		}
		ctx = logcontext.AppendCtx(ctx, slog.String("orderId", req.OrderID))
		return processor.Process(ctx, req)
	}, paymentRequestMetrics)
}

func readMessages(ctx context.Context, reader messageReader, logger *slog.Logger, process func(context.Context, []byte) error, kafkaMetrics Metrics) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				logger.InfoContext(ctx, "Stopping Kafka reader", "reason", err)
				return
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}
		logger.DebugContext(ctx, "Received message", "topic", m.Topic, "offset", m.Offset)

		if err := process(ctx, m.Value); err != nil {
			logger.ErrorContext(ctx, "Error processing message", "error", err)
			kafkaMetrics.ProcessErrorCounter.Inc()
			continue
		}
		kafkaMetrics.SuccessCounter.Inc()
	}
}
