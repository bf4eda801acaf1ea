package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/uplink-ingest-service/internal/config"
	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes raw uplink documents from the source topic as part of a
// consumer group. It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	logger        *slog.Logger
	flushInterval time.Duration
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaSourceTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Reader{reader: r, logger: logger, flushInterval: cfg.BatchFlushInterval}
}

// ExtractBatch blocks until one message is available, then keeps fetching
// until batchSize messages are collected or the flush interval elapses.
// Offsets are committed per delivery through Delivery.Commit.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.Delivery, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := make([]domain.Delivery, 0, max(batchSize, 1))
	batch = append(batch, r.delivery(first))

	fillCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()
	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(fillCtx)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				r.logger.Warn("fetch message failed, flushing partial batch", "error", err, "size", len(batch))
			}
			break
		}
		batch = append(batch, r.delivery(msg))
	}
	return batch, nil
}

func (r *Reader) delivery(msg kafkago.Message) domain.Delivery {
	d := mapMessage(msg)
	d.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return d
}

// Close leaves the consumer group and closes the connection.
func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessage converts a Kafka message into a Delivery without a commit hook.
func mapMessage(msg kafkago.Message) domain.Delivery {
	d := domain.Delivery{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	}
	if !msg.Time.IsZero() {
		d.Timestamp = domain.FormatTime(msg.Time)
	}
	return d
}
