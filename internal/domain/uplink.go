package domain

import (
	"encoding/json"

	"github.com/couchcryptid/uplink-ingest-service/internal/resolve"
)

// Provider identifies the network-server family an uplink came from.
type Provider string

const (
	ProviderTTN           Provider = "ttn"
	ProviderChirpStack    Provider = "chirpstack"
	ProviderGenericDevice Provider = "generic-device"
	ProviderGeneric       Provider = "generic"
)

// NormalizedUplink is the canonical form of one inbound delivery. Every field
// except Provider and Timestamp is optional; empty strings and nil pointers
// mean the producer did not supply a usable value.
type NormalizedUplink struct {
	Provider          Provider       `json:"provider"`
	DevEUI            string         `json:"dev_eui,omitempty"`
	DevEUIBase64      string         `json:"dev_eui_base64,omitempty"`
	DeviceName        string         `json:"device_name,omitempty"`
	ApplicationID     string         `json:"application_id,omitempty"`
	ApplicationName   string         `json:"application_name,omitempty"`
	Timestamp         string         `json:"timestamp"`
	DeduplicationID   string         `json:"deduplication_id,omitempty"`
	RSSI              *float64       `json:"rssi,omitempty"`
	SNR               *float64       `json:"snr,omitempty"`
	BatteryMillivolts *int64         `json:"battery_mv,omitempty"`
	MeterValue        *float64       `json:"meter_value,omitempty"`
	MeterValueRaw     string         `json:"meter_value_raw,omitempty"`
	DecodedObject     *resolve.Value `json:"decoded,omitempty"`
	RawPayload        *resolve.Value `json:"raw,omitempty"`
}

// HasDevice reports whether the uplink carries a device identity and can be
// persisted.
func (n NormalizedUplink) HasDevice() bool { return n.DevEUI != "" }

// Uplink is one persisted delivery in the uplink log, keyed by
// (DevEUI, DeduplicationID). ID is assigned on first insert and never changes.
type Uplink struct {
	ID                int64           `json:"id"`
	DevEUI            string          `json:"dev_eui"`
	DeduplicationID   string          `json:"deduplication_id"`
	At                string          `json:"at"`
	Provider          Provider        `json:"provider"`
	DevEUIBase64      string          `json:"dev_eui_base64,omitempty"`
	DeviceName        string          `json:"device_name,omitempty"`
	ApplicationID     string          `json:"application_id,omitempty"`
	ApplicationName   string          `json:"application_name,omitempty"`
	RSSI              *float64        `json:"rssi,omitempty"`
	SNR               *float64        `json:"snr,omitempty"`
	BatteryMillivolts *int64          `json:"battery_mv,omitempty"`
	MeterValue        *float64        `json:"meter_value,omitempty"`
	MeterValueRaw     string          `json:"meter_value_raw,omitempty"`
	Decoded           json.RawMessage `json:"decoded,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// Reading is one meter observation, keyed by (DevEUI, At).
type Reading struct {
	ID                int64    `json:"id"`
	DevEUI            string   `json:"dev_eui"`
	At                string   `json:"at"`
	MeterValue        float64  `json:"meter_value"`
	MeterValueRaw     string   `json:"meter_value_raw,omitempty"`
	Provider          Provider `json:"provider,omitempty"`
	DeduplicationID   string   `json:"deduplication_id,omitempty"`
	RSSI              *float64 `json:"rssi,omitempty"`
	SNR               *float64 `json:"snr,omitempty"`
	BatteryMillivolts *int64   `json:"battery_mv,omitempty"`
}

// UplinkStats is the count and time span of a device's uplink log.
type UplinkStats struct {
	Count   int64  `json:"count"`
	FirstAt string `json:"first_at,omitempty"`
	LastAt  string `json:"last_at,omitempty"`
}

// DeviceSummary is a per-device rollup computed on demand. Signal and battery
// come from the latest uplink; the meter value comes from the latest reading,
// since not every uplink carries a parsed meter value.
type DeviceSummary struct {
	DevEUI                string   `json:"dev_eui"`
	DeviceName            string   `json:"device_name,omitempty"`
	ApplicationName       string   `json:"application_name,omitempty"`
	Provider              Provider `json:"provider,omitempty"`
	FirstSeen             string   `json:"first_seen,omitempty"`
	LastSeen              string   `json:"last_seen,omitempty"`
	UplinkCount           int64    `json:"uplink_count"`
	AvgIntervalSeconds    *float64 `json:"avg_interval_seconds"`
	LastRSSI              *float64 `json:"last_rssi,omitempty"`
	LastSNR               *float64 `json:"last_snr,omitempty"`
	LastBatteryMillivolts *int64   `json:"last_battery_mv,omitempty"`
	LastMeterValue        *float64 `json:"last_meter_value"`
	LastMeterAt           string   `json:"last_meter_at,omitempty"`
}

// DailyPoint is the consumption for one local calendar date. Consumption is
// nil when the date has a single reading.
type DailyPoint struct {
	Date        string   `json:"date"`
	Consumption *float64 `json:"consumption"`
	Closing     float64  `json:"closing"`
	Readings    int      `json:"readings"`
}
