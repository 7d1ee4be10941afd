package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"acquiring-service/internal/config"
	"acquiring-service/internal/message"
	"acquiring-service/internal/payment"
	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"
)

const (
	defaultBatchSize      = 100
	defaultBatchTimeoutMs = 100
)

var (
	publishErrorCounter   = metrics.GetOrCreateCounter(`kafka_writer_total{result="error",type="payment_status"}`)
	publishSuccessCounter = metrics.GetOrCreateCounter(`kafka_writer_total{result="success",type="payment_status"}`)
)

func NewWriter(cfg config.Kafka, topic string) *kafka.Writer {
	batchSize := cfg.Writer.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	batchTimeoutMs := cfg.Writer.BatchTimeoutMs
	if batchTimeoutMs <= 0 {
		batchTimeoutMs = defaultBatchTimeoutMs
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Broker.URL, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(batchTimeoutMs) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StatusPublisher writes payment status changes keyed by order id, so all
// events of one payment land on the same partition in order.
type StatusPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewStatusPublisher(writer messageWriter, logger *slog.Logger) *StatusPublisher {
	return &StatusPublisher{writer: writer, logger: logger}
}

func (p *StatusPublisher) PublishStatus(ctx context.Context, pm *payment.Payment) error {
	value, err := json.Marshal(message.FromPayment(pm))
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(pm.OrderID),
		Value: value,
	})
	if err != nil {
		publishErrorCounter.Inc()
		return fmt.Errorf("write status: %w", err)
	}

	p.logger.DebugContext(ctx, "Published payment status", "status", pm.Status)
	publishSuccessCounter.Inc()
	return nil
}
