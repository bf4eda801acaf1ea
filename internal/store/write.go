package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
)

const upsertUplinkSQL = `
INSERT INTO uplinks (
    dev_eui, deduplication_id, at, provider, dev_eui_base64, device_name,
    application_id, application_name, rssi, snr, battery_mv,
    meter_value, meter_value_raw, decoded, raw
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (dev_eui, deduplication_id) DO UPDATE SET
    at               = excluded.at,
    provider         = excluded.provider,
    dev_eui_base64   = excluded.dev_eui_base64,
    device_name      = excluded.device_name,
    application_id   = excluded.application_id,
    application_name = excluded.application_name,
    rssi             = excluded.rssi,
    snr              = excluded.snr,
    battery_mv       = excluded.battery_mv,
    meter_value      = excluded.meter_value,
    meter_value_raw  = excluded.meter_value_raw,
    decoded          = excluded.decoded,
    raw              = excluded.raw
RETURNING id`

const upsertReadingSQL = `
INSERT INTO readings (
    dev_eui, at, meter_value, meter_value_raw, provider, deduplication_id,
    rssi, snr, battery_mv
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (dev_eui, at) DO UPDATE SET
    meter_value      = excluded.meter_value,
    meter_value_raw  = excluded.meter_value_raw,
    provider         = excluded.provider,
    deduplication_id = excluded.deduplication_id,
    rssi             = excluded.rssi,
    snr              = excluded.snr,
    battery_mv       = excluded.battery_mv
RETURNING id`

// Recorded describes what Record wrote.
type Recorded struct {
	UplinkID  int64
	ReadingID int64 // zero when the uplink carried no parsed meter value
}

// HasReading reports whether a reading row was written.
func (r Recorded) HasReading() bool { return r.ReadingID != 0 }

// Record upserts the uplink and, when it carries a parsed meter value, the
// reading, in one transaction.
func (s *Store) Record(ctx context.Context, n domain.NormalizedUplink) (Recorded, error) {
	if !n.HasDevice() {
		return Recorded{}, ErrNoDeviceIdentity
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Recorded{}, fmt.Errorf("begin record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var out Recorded
	if out.UplinkID, err = recordUplink(ctx, tx, n); err != nil {
		return Recorded{}, err
	}
	if n.MeterValue != nil {
		if out.ReadingID, err = recordReading(ctx, tx, n); err != nil {
			return Recorded{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Recorded{}, fmt.Errorf("commit record: %w", err)
	}
	return out, nil
}

// RecordUplink upserts the uplink row and returns its immutable id.
func (s *Store) RecordUplink(ctx context.Context, n domain.NormalizedUplink) (int64, error) {
	if !n.HasDevice() {
		return 0, ErrNoDeviceIdentity
	}
	return recordUplink(ctx, s.db, n)
}

// RecordReading upserts the reading row. Uplinks without a parsed meter value
// are ignored and return a zero id.
func (s *Store) RecordReading(ctx context.Context, n domain.NormalizedUplink) (int64, error) {
	if !n.HasDevice() {
		return 0, ErrNoDeviceIdentity
	}
	if n.MeterValue == nil {
		return 0, nil
	}
	return recordReading(ctx, s.db, n)
}

func recordUplink(ctx context.Context, q querier, n domain.NormalizedUplink) (int64, error) {
	raw, err := json.Marshal(n.RawPayload)
	if err != nil {
		return 0, fmt.Errorf("encode raw payload: %w", err)
	}
	var decoded sql.NullString
	if n.DecodedObject != nil {
		b, err := json.Marshal(n.DecodedObject)
		if err != nil {
			return 0, fmt.Errorf("encode decoded object: %w", err)
		}
		decoded = sql.NullString{String: string(b), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(ctx, upsertUplinkSQL,
		n.DevEUI,
		DedupKey(n),
		domain.CanonicalTime(n.Timestamp),
		string(n.Provider),
		nullString(n.DevEUIBase64),
		nullString(n.DeviceName),
		nullString(n.ApplicationID),
		nullString(n.ApplicationName),
		n.RSSI,
		n.SNR,
		n.BatteryMillivolts,
		n.MeterValue,
		nullString(n.MeterValueRaw),
		decoded,
		string(raw),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert uplink %s: %w", n.DevEUI, err)
	}
	return id, nil
}

func recordReading(ctx context.Context, q querier, n domain.NormalizedUplink) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, upsertReadingSQL,
		n.DevEUI,
		domain.CanonicalTime(n.Timestamp),
		*n.MeterValue,
		nullString(n.MeterValueRaw),
		string(n.Provider),
		DedupKey(n),
		n.RSSI,
		n.SNR,
		n.BatteryMillivolts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert reading %s: %w", n.DevEUI, err)
	}
	return id, nil
}

// DedupKey returns the uplink's deduplication id, synthesizing
// "<dev_eui>:<at>" when the producer supplied none.
func DedupKey(n domain.NormalizedUplink) string {
	if n.DeduplicationID != "" {
		return n.DeduplicationID
	}
	return n.DevEUI + ":" + domain.CanonicalTime(n.Timestamp)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
