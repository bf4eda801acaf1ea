package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/uplink-ingest-service/internal/config"
	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer forwards stored uplinks to the sink topic. Writes are asynchronous;
// delivery results are reported through metrics and logs only.
// It implements pipeline.Publisher.
type Writer struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates an async Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &Writer{logger: logger, metrics: metrics}
	w.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: cfg.BatchFlushInterval,
		Async:        true,
		Completion:   w.complete,
	}
	return w
}

// Publish enqueues one uplink. The returned error covers serialization and
// enqueueing only.
func (w *Writer) Publish(ctx context.Context, n domain.NormalizedUplink) error {
	msg, err := serializeToMessage(n)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) complete(msgs []kafkago.Message, err error) {
	if err != nil {
		w.metrics.PublishErrors.Add(float64(len(msgs)))
		w.logger.Warn("publish uplinks failed", "count", len(msgs), "error", err)
		return
	}
	w.metrics.Published.Add(float64(len(msgs)))
}

// Close flushes pending messages and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an uplink into a Kafka message keyed by device
// so every uplink of one device lands on the same partition.
func serializeToMessage(n domain.NormalizedUplink) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize uplink: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(n.DevEUI),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "provider", Value: []byte(n.Provider)},
			{Key: "dev_eui", Value: []byte(n.DevEUI)},
			{Key: "received_at", Value: []byte(n.Timestamp)},
		},
	}, nil
}
