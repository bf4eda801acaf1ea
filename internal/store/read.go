package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
)

const (
	uplinkColumns = `id, dev_eui, deduplication_id, at, provider, dev_eui_base64,
    device_name, application_id, application_name, rssi, snr, battery_mv,
    meter_value, meter_value_raw, decoded, raw`
	readingColumns = `id, dev_eui, at, meter_value, meter_value_raw, provider,
    deduplication_id, rssi, snr, battery_mv`
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ListDevices returns every Dev EUI with at least one uplink or reading, sorted.
func (s *Store) ListDevices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dev_eui FROM uplinks UNION SELECT dev_eui FROM readings ORDER BY dev_eui`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var dev string
		if err := rows.Scan(&dev); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, dev)
	}
	return out, rows.Err()
}

// ListReadings returns the device's readings within r, oldest first.
func (s *Store) ListReadings(ctx context.Context, devEUI string, r Range) ([]domain.Reading, error) {
	cond, args := r.where("at", []any{devEUI})
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE dev_eui = ?`+cond+` ORDER BY at ASC, id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list readings %s: %w", devEUI, err)
	}
	defer rows.Close()

	var out []domain.Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

// ListUplinks returns at most limit of the device's most recent uplinks within
// r, newest first. A limit of zero or less returns them all.
func (s *Store) ListUplinks(ctx context.Context, devEUI string, r Range, limit int) ([]domain.Uplink, error) {
	cond, args := r.where("at", []any{devEUI})
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+uplinkColumns+` FROM uplinks WHERE dev_eui = ?`+cond+` ORDER BY at DESC, id DESC LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list uplinks %s: %w", devEUI, err)
	}
	defer rows.Close()

	var out []domain.Uplink
	for rows.Next() {
		u, err := scanUplink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// LatestReading returns the device's most recent reading or ErrNotFound.
func (s *Store) LatestReading(ctx context.Context, devEUI string) (domain.Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE dev_eui = ? ORDER BY at DESC, id DESC LIMIT 1`,
		devEUI)
	rd, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reading{}, ErrNotFound
	}
	return rd, err
}

// LatestUplink returns the device's most recent uplink or ErrNotFound. Equal
// timestamps are broken by insertion order.
func (s *Store) LatestUplink(ctx context.Context, devEUI string) (domain.Uplink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+uplinkColumns+` FROM uplinks WHERE dev_eui = ? ORDER BY at DESC, id DESC LIMIT 1`,
		devEUI)
	u, err := scanUplink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Uplink{}, ErrNotFound
	}
	return u, err
}

// CountUplinks counts uplinks within r. An empty devEUI counts every device.
func (s *Store) CountUplinks(ctx context.Context, devEUI string, r Range) (int64, error) {
	query := `SELECT COUNT(*) FROM uplinks WHERE 1 = 1`
	var args []any
	if devEUI != "" {
		query += ` AND dev_eui = ?`
		args = append(args, devEUI)
	}
	cond, args := r.where("at", args)

	var n int64
	if err := s.db.QueryRowContext(ctx, query+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count uplinks: %w", err)
	}
	return n, nil
}

// UplinkStats returns the count and time span of the device's uplinks.
func (s *Store) UplinkStats(ctx context.Context, devEUI string) (domain.UplinkStats, error) {
	var (
		st          domain.UplinkStats
		first, last sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(at), MAX(at) FROM uplinks WHERE dev_eui = ?`, devEUI,
	).Scan(&st.Count, &first, &last)
	if err != nil {
		return domain.UplinkStats{}, fmt.Errorf("uplink stats %s: %w", devEUI, err)
	}
	st.FirstAt, st.LastAt = first.String, last.String
	return st, nil
}

func scanUplink(sc rowScanner) (domain.Uplink, error) {
	var (
		u                                   domain.Uplink
		provider                            string
		b64, name, appID, appName, meterRaw sql.NullString
		decoded                             sql.NullString
		raw                                 string
	)
	err := sc.Scan(
		&u.ID, &u.DevEUI, &u.DeduplicationID, &u.At, &provider, &b64,
		&name, &appID, &appName, &u.RSSI, &u.SNR, &u.BatteryMillivolts,
		&u.MeterValue, &meterRaw, &decoded, &raw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Uplink{}, err
		}
		return domain.Uplink{}, fmt.Errorf("scan uplink: %w", err)
	}
	u.Provider = domain.Provider(provider)
	u.DevEUIBase64 = b64.String
	u.DeviceName = name.String
	u.ApplicationID = appID.String
	u.ApplicationName = appName.String
	u.MeterValueRaw = meterRaw.String
	if decoded.Valid {
		u.Decoded = json.RawMessage(decoded.String)
	}
	u.Raw = json.RawMessage(raw)
	return u, nil
}

func scanReading(sc rowScanner) (domain.Reading, error) {
	var (
		rd                        domain.Reading
		meterRaw, provider, dedup sql.NullString
	)
	err := sc.Scan(
		&rd.ID, &rd.DevEUI, &rd.At, &rd.MeterValue, &meterRaw, &provider,
		&dedup, &rd.RSSI, &rd.SNR, &rd.BatteryMillivolts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reading{}, err
		}
		return domain.Reading{}, fmt.Errorf("scan reading: %w", err)
	}
	rd.MeterValueRaw = meterRaw.String
	rd.Provider = domain.Provider(provider.String)
	rd.DeduplicationID = dedup.String
	return rd, nil
}
