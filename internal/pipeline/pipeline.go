package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/observability"
)

// SourceKafka labels uplinks consumed by the Pipeline.
const SourceKafka = "kafka"

// BatchExtractor reads up to batchSize deliveries from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.Delivery, error)
}

// Handler ingests one raw document. *Ingester implements it.
type Handler interface {
	Ingest(ctx context.Context, source string, body []byte) (Result, error)
}

// Pipeline consumes uplink documents from a message transport and hands each
// one to the Handler.
type Pipeline struct {
	extractor BatchExtractor
	handler   Handler
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
}

// New creates a Pipeline.
func New(e BatchExtractor, h Handler, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		handler:   h,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// Run executes the consume loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff on extract failures: start at 200ms, double, cap at 5s.
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// processBatch runs one extract-ingest-commit cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = initialBackoff

	for _, d := range batch {
		p.ingest(ctx, d)
	}
	return true
}

// ingest hands one delivery to the handler and commits it whatever the
// outcome. Failed ingests are not retried.
func (p *Pipeline) ingest(ctx context.Context, d domain.Delivery) {
	res, err := p.handler.Ingest(ctx, SourceKafka, d.Value)
	if err != nil {
		p.logger.Warn("ingest failed, committing anyway",
			"error", err,
			"outcome", res.Outcome,
			"topic", d.Topic,
			"partition", d.Partition,
			"offset", d.Offset,
		)
	}
	p.commit(ctx, d)
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func (p *Pipeline) commit(ctx context.Context, d domain.Delivery) {
	if d.Commit == nil {
		return
	}
	if err := d.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", d.Topic, "partition", d.Partition, "offset", d.Offset)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
