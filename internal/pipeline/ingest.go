package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/normalize"
	"github.com/couchcryptid/uplink-ingest-service/internal/observability"
	"github.com/couchcryptid/uplink-ingest-service/internal/resolve"
	"github.com/couchcryptid/uplink-ingest-service/internal/store"
)

// Outcome is how an ingested document ended up.
type Outcome string

const (
	OutcomeStored  Outcome = "stored"
	OutcomeDropped Outcome = "dropped"
	OutcomeError   Outcome = "error"
)

// Result reports what Ingest did with one document. Reason is set for drops.
type Result struct {
	Outcome  Outcome
	Reason   string
	Uplink   domain.NormalizedUplink
	Recorded store.Recorded
}

// Recorder persists normalized uplinks.
type Recorder interface {
	Record(ctx context.Context, n domain.NormalizedUplink) (store.Recorded, error)
}

// Publisher forwards stored uplinks downstream. Publishing is best effort and
// never affects the ingest outcome.
type Publisher interface {
	Publish(ctx context.Context, n domain.NormalizedUplink) error
}

// Ingester runs one document through parse, normalize and persist. It is
// shared by every transport.
type Ingester struct {
	recorder  Recorder
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewIngester creates an Ingester. Pass a nil publisher to disable forwarding.
func NewIngester(r Recorder, p Publisher, logger *slog.Logger, metrics *observability.Metrics) *Ingester {
	return &Ingester{
		recorder:  r,
		publisher: p,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ingest parses body as JSON, normalizes it and records it. Documents that are
// not JSON or carry no device identity are dropped, which is not an error.
// Storage failures return OutcomeError with the error; callers log it and
// still acknowledge the producer.
func (i *Ingester) Ingest(ctx context.Context, source string, body []byte) (Result, error) {
	start := time.Now()
	defer func() { i.metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()
	i.metrics.UplinksReceived.WithLabelValues(source).Inc()

	doc, err := resolve.Parse(body)
	if err != nil {
		i.drop(source, observability.ReasonInvalidJSON, "error", err)
		return Result{Outcome: OutcomeDropped, Reason: observability.ReasonInvalidJSON}, nil
	}

	n := normalize.Normalize(doc)
	res := Result{Uplink: n}
	if !n.HasDevice() {
		i.drop(source, observability.ReasonNoDeviceIdentity, "provider", n.Provider)
		res.Outcome, res.Reason = OutcomeDropped, observability.ReasonNoDeviceIdentity
		return res, nil
	}
	if n.MeterValue == nil && n.MeterValueRaw != "" {
		i.metrics.MeterUnparsed.Inc()
		i.logger.Debug("meter value not parseable",
			"dev_eui", n.DevEUI, "meter_value_raw", n.MeterValueRaw)
	}

	rec, err := i.recorder.Record(ctx, n)
	if err != nil {
		i.metrics.StorageErrors.Inc()
		i.logger.Error("store uplink failed",
			"source", source,
			"dev_eui", n.DevEUI,
			"dedup_id", n.DeduplicationID,
			"error", err,
		)
		res.Outcome = OutcomeError
		return res, err
	}

	res.Outcome, res.Recorded = OutcomeStored, rec
	i.metrics.UplinksStored.Inc()
	if rec.HasReading() {
		i.metrics.ReadingsStored.Inc()
	}
	i.logger.Debug("uplink stored",
		"source", source,
		"dev_eui", n.DevEUI,
		"provider", n.Provider,
		"dedup_id", n.DeduplicationID,
		"reading", rec.HasReading(),
	)

	if i.publisher != nil {
		if err := i.publisher.Publish(ctx, n); err != nil {
			i.metrics.PublishErrors.Inc()
			i.logger.Warn("publish uplink failed", "dev_eui", n.DevEUI, "error", err)
		}
	}
	return res, nil
}

func (i *Ingester) drop(source, reason string, attrs ...any) {
	i.metrics.UplinksDropped.WithLabelValues(reason).Inc()
	i.logger.Info("uplink dropped",
		append([]any{"source", source, "outcome", OutcomeDropped, "reason", reason}, attrs...)...)
}
