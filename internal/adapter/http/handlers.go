package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/uplink-ingest-service/internal/aggregate"
	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/pipeline"
	"github.com/couchcryptid/uplink-ingest-service/internal/store"
)

const (
	sourceWebhook      = "webhook"
	defaultUplinkLimit = 100
	defaultDays        = 7
)

type webhookResponse struct {
	Status pipeline.Outcome `json:"status"`
	Reason string           `json:"reason,omitempty"`
	DevEUI string           `json:"dev_eui,omitempty"`
}

// handleWebhook always answers 200 so network servers do not retry; the
// outcome is reported in the body.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = sourceWebhook
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.deps.MaxBodyBytes))
	if err != nil {
		s.logger.Warn("webhook body rejected", "source", source, "error", err)
		writeJSON(w, http.StatusOK, webhookResponse{Status: pipeline.OutcomeDropped, Reason: "unreadable_body"})
		return
	}

	res, err := s.deps.Ingester.Ingest(r.Context(), source, body)
	if err != nil {
		s.logger.Error("webhook ingest failed", "source", source, "error", err)
	}
	writeJSON(w, http.StatusOK, webhookResponse{
		Status: res.Outcome,
		Reason: res.Reason,
		DevEUI: res.Uplink.DevEUI,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.deps.Aggregator.DeviceSummaries(r.Context())
	if err != nil {
		s.internalError(w, "list devices", err)
		return
	}
	if summaries == nil {
		summaries = []domain.DeviceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": summaries})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Aggregator.DeviceSummary(r.Context(), devEUI(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		s.internalError(w, "device summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	rng, ok := parseRange(w, r)
	if !ok {
		return
	}
	readings, err := s.deps.Store.ListReadings(r.Context(), devEUI(r), rng)
	if err != nil {
		s.internalError(w, "list readings", err)
		return
	}
	if readings == nil {
		readings = []domain.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

func (s *Server) handleUplinks(w http.ResponseWriter, r *http.Request) {
	rng, ok := parseRange(w, r)
	if !ok {
		return
	}
	limit := defaultUplinkLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	uplinks, err := s.deps.Store.ListUplinks(r.Context(), devEUI(r), rng, limit)
	if err != nil {
		s.internalError(w, "list uplinks", err)
		return
	}
	if uplinks == nil {
		uplinks = []domain.Uplink{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"uplinks": uplinks})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, err := s.deps.Store.LatestReading(r.Context(), devEUI(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no readings")
		return
	}
	if err != nil {
		s.internalError(w, "latest reading", err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := defaultDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}
	var end time.Time
	if v := q.Get("end"); v != "" {
		t, ok := domain.ParseTime(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "end is not a valid timestamp")
			return
		}
		end = t
	}

	points, err := s.deps.Aggregator.DailyConsumption(r.Context(), devEUI(r), days, q.Get("tz"), end)
	switch {
	case errors.Is(err, aggregate.ErrInvalidDays), errors.Is(err, aggregate.ErrUnknownTimezone):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.internalError(w, "daily consumption", err)
		return
	}
	if points == nil {
		points = []domain.DailyPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": points})
}

func (s *Server) handleTransmissions(w http.ResponseWriter, r *http.Request) {
	rng, ok := parseRange(w, r)
	if !ok {
		return
	}
	dev := strings.ToLower(r.URL.Query().Get("dev_eui"))
	n, err := s.deps.Aggregator.CountUplinks(r.Context(), dev, rng)
	if err != nil {
		s.internalError(w, "count uplinks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dev_eui": dev, "count": n})
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Store.DeleteDevice(r.Context(), devEUI(r))
	if err != nil {
		s.internalError(w, "delete device", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleDeleteRecords deletes by exact timestamp (?at=) or by an inclusive
// range (?from=&to=). One of them is required.
func (s *Server) handleDeleteRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := store.ParseScope(q.Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var n int64
	if at := q.Get("at"); at != "" {
		if _, ok := domain.ParseTime(at); !ok {
			writeError(w, http.StatusBadRequest, "at is not a valid timestamp")
			return
		}
		n, err = s.deps.Store.DeleteAt(r.Context(), devEUI(r), at, scope)
	} else {
		rng, ok := parseRange(w, r)
		if !ok {
			return
		}
		if rng.From == "" && rng.To == "" {
			writeError(w, http.StatusBadRequest, "at or from/to is required")
			return
		}
		n, err = s.deps.Store.DeleteRange(r.Context(), devEUI(r), rng, scope)
	}
	if err != nil {
		s.internalError(w, "delete records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func devEUI(r *http.Request) string {
	return strings.ToLower(r.PathValue("eui"))
}

// parseRange reads ?from= and ?to=, writing a 400 and returning false when
// either is not a timestamp.
func parseRange(w http.ResponseWriter, r *http.Request) (store.Range, bool) {
	q := r.URL.Query()
	rng := store.Range{From: q.Get("from"), To: q.Get("to")}
	for _, name := range []string{"from", "to"} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		if _, ok := domain.ParseTime(v); !ok {
			writeError(w, http.StatusBadRequest, name+" is not a valid timestamp")
			return store.Range{}, false
		}
	}
	return rng, true
}
