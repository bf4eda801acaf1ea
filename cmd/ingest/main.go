package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/uplink-ingest-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/uplink-ingest-service/internal/adapter/kafka"
	mqttadapter "github.com/couchcryptid/uplink-ingest-service/internal/adapter/mqtt"
	"github.com/couchcryptid/uplink-ingest-service/internal/aggregate"
	"github.com/couchcryptid/uplink-ingest-service/internal/config"
	"github.com/couchcryptid/uplink-ingest-service/internal/observability"
	"github.com/couchcryptid/uplink-ingest-service/internal/pipeline"
	"github.com/couchcryptid/uplink-ingest-service/internal/store"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store opened", "path", cfg.DBPath, "schema_version", store.SchemaVersion)

	agg := aggregate.New(st, clockwork.NewRealClock(), cfg.DefaultTimezone, cfg.TimezoneCacheSize)
	if _, err := agg.Location(""); err != nil {
		logger.Error("invalid default timezone", "timezone", cfg.DefaultTimezone, "error", err)
		_ = st.Close()
		os.Exit(1) //nolint:gocritic // store closed above
	}

	// Publishing is optional (KAFKA_SINK_TOPIC). Leave the interface nil when
	// disabled, never a nil *Writer.
	var publisher pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.PublishEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		publisher = writer
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaSinkTopic)
	}

	ingester := pipeline.NewIngester(st, publisher, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ingester:     ingester,
		Store:        st,
		Aggregator:   agg,
		Ready:        st,
		MaxBodyBytes: cfg.WebhookMaxBodyBytes,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start Kafka consumer.
	var reader *kafkaadapter.Reader
	if cfg.KafkaEnabled() {
		reader = kafkaadapter.NewReader(cfg, logger)
		p := pipeline.New(reader, ingester, logger, metrics, cfg.BatchSize)
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		logger.Info("kafka consumer disabled")
	}

	// Start MQTT subscriber.
	var sub *mqttadapter.Subscriber
	if cfg.MQTTEnabled() {
		sub = mqttadapter.NewSubscriber(cfg, ingester, logger)
		if err := sub.Start(ctx); err != nil {
			logger.Error("mqtt start failed", "broker", cfg.MQTTBroker, "error", err)
		} else {
			logger.Info("mqtt subscriber started", "broker", cfg.MQTTBroker, "topics", cfg.MQTTTopics)
		}
	} else {
		logger.Info("mqtt subscriber disabled")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if sub != nil {
		sub.Stop()
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
