package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/pipeline"
	"github.com/couchcryptid/uplink-ingest-service/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the part of the uplink store the query and deletion routes use.
type Store interface {
	ListReadings(ctx context.Context, devEUI string, r store.Range) ([]domain.Reading, error)
	ListUplinks(ctx context.Context, devEUI string, r store.Range, limit int) ([]domain.Uplink, error)
	LatestReading(ctx context.Context, devEUI string) (domain.Reading, error)
	DeleteDevice(ctx context.Context, devEUI string) (int64, error)
	DeleteAt(ctx context.Context, devEUI, at string, scope store.Scope) (int64, error)
	DeleteRange(ctx context.Context, devEUI string, r store.Range, scope store.Scope) (int64, error)
}

// Aggregator computes the derived views.
type Aggregator interface {
	DailyConsumption(ctx context.Context, devEUI string, days int, tz string, end time.Time) ([]domain.DailyPoint, error)
	DeviceSummary(ctx context.Context, devEUI string) (domain.DeviceSummary, error)
	DeviceSummaries(ctx context.Context) ([]domain.DeviceSummary, error)
	CountUplinks(ctx context.Context, devEUI string, r store.Range) (int64, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Ingester     pipeline.Handler
	Store        Store
	Aggregator   Aggregator
	Ready        sharedobs.ReadinessChecker
	MaxBodyBytes int64
}

// Server exposes the webhook, the query API and the health, readiness and
// metrics endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(deps.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /uplinks", s.handleWebhook)

	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /devices/{eui}/summary", s.handleSummary)
	mux.HandleFunc("GET /devices/{eui}/readings", s.handleReadings)
	mux.HandleFunc("GET /devices/{eui}/uplinks", s.handleUplinks)
	mux.HandleFunc("GET /devices/{eui}/latest", s.handleLatest)
	mux.HandleFunc("GET /devices/{eui}/daily", s.handleDaily)
	mux.HandleFunc("GET /transmissions", s.handleTransmissions)

	mux.HandleFunc("DELETE /devices/{eui}", s.handleDeleteDevice)
	mux.HandleFunc("DELETE /devices/{eui}/records", s.handleDeleteRecords)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
