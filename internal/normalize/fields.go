package normalize

import (
	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/resolve"
)

// candidates lists where each provider family puts a field. Lookups try the
// detected provider's paths first, then every other family's in providerOrder,
// so a mislabeled or hybrid document still resolves.
type candidates map[domain.Provider][]resolve.Path

var providerOrder = []domain.Provider{
	domain.ProviderTTN,
	domain.ProviderChirpStack,
	domain.ProviderGenericDevice,
	domain.ProviderGeneric,
}

// forProvider returns the candidate paths with p's entries first.
func (c candidates) forProvider(p domain.Provider) []resolve.Path {
	out := make([]resolve.Path, 0, 8)
	out = append(out, c[p]...)
	for _, other := range providerOrder {
		if other != p {
			out = append(out, c[other]...)
		}
	}
	return out
}

var (
	devEUIFields = candidates{
		domain.ProviderTTN:           resolve.Paths("end_device_ids.dev_eui"),
		domain.ProviderChirpStack:    resolve.Paths("deviceInfo.devEui", "devEUI"),
		domain.ProviderGenericDevice: resolve.Paths("device.devEui", "device.dev_eui", "device.eui"),
		domain.ProviderGeneric:       resolve.Paths("devEui", "dev_eui", "deveui", "eui"),
	}

	deviceNameFields = candidates{
		domain.ProviderTTN:           resolve.Paths("end_device_ids.device_id"),
		domain.ProviderChirpStack:    resolve.Paths("deviceInfo.deviceName", "deviceName"),
		domain.ProviderGenericDevice: resolve.Paths("device.name", "device.deviceName"),
		domain.ProviderGeneric:       resolve.Paths("device_name", "name"),
	}

	applicationIDFields = candidates{
		domain.ProviderTTN:           resolve.Paths("end_device_ids.application_ids.application_id"),
		domain.ProviderChirpStack:    resolve.Paths("deviceInfo.applicationId", "applicationID"),
		domain.ProviderGenericDevice: resolve.Paths("device.applicationId"),
		domain.ProviderGeneric:       resolve.Paths("applicationId", "application_id"),
	}

	applicationNameFields = candidates{
		domain.ProviderChirpStack:    resolve.Paths("deviceInfo.applicationName", "applicationName"),
		domain.ProviderGenericDevice: resolve.Paths("device.applicationName"),
		domain.ProviderGeneric:       resolve.Paths("application_name"),
	}

	timestampFields = candidates{
		domain.ProviderTTN:           resolve.Paths("uplink_message.received_at", "received_at"),
		domain.ProviderChirpStack:    resolve.Paths("time"),
		domain.ProviderGenericDevice: resolve.Paths("device.time"),
		domain.ProviderGeneric:       resolve.Paths("timestamp", "ts", "receivedAt"),
	}

	// Explicit deduplication ids always beat frame counters, whatever the provider.
	dedupIDFields = candidates{
		domain.ProviderChirpStack:    resolve.Paths("deduplicationId"),
		domain.ProviderGenericDevice: resolve.Paths("device.deduplicationId"),
		domain.ProviderGeneric:       resolve.Paths("deduplication_id", "dedupId"),
	}
	frameCounterFields = candidates{
		domain.ProviderTTN:           resolve.Paths("uplink_message.f_cnt"),
		domain.ProviderChirpStack:    resolve.Paths("fCnt"),
		domain.ProviderGenericDevice: resolve.Paths("device.fCnt"),
		domain.ProviderGeneric:       resolve.Paths("f_cnt", "fcnt"),
	}
)

// Signal quality.
var (
	gatewayListFields = resolve.Paths(
		"uplink_message.rx_metadata",
		"rxInfo",
		"rx_metadata",
		"device.rxInfo",
		"gateways",
	)
	recordRSSIFields = resolve.Paths("rssi", "channel_rssi", "rssiValue")
	recordSNRFields  = resolve.Paths("snr", "loRaSNR", "lsnr")
	topRSSIFields    = resolve.Paths("rssi", "device.rssi", "signal.rssi")
	topSNRFields     = resolve.Paths("snr", "device.snr", "signal.snr")
)

// Payload and measurements.
var (
	decodedObjectFields = resolve.Paths(
		"uplink_message.decoded_payload",
		"object",
		"device.object",
		"decoded",
		"payload_fields",
	)
	rawPayloadFields = resolve.Paths(
		"uplink_message.frm_payload",
		"data",
		"device.data",
		"frmPayload",
		"payload",
	)

	directMeterFields = resolve.Paths(
		"meterValue",
		"meter_value",
		"device.meterValue",
		"device.meter_value",
		"meter",
		"reading",
	)
	meterKeywords = []string{
		"meterValue", "meter_value", "meter", "reading", "counter",
		"index", "volume", "total", "value",
	}

	batteryFields = resolve.Paths(
		"batteryMillivolts",
		"battery_mv",
		"batteryMv",
		"device.battery",
		"battery",
		"vbat",
	)
	batteryKeywords = []string{
		"battery", "batt", "bat", "vbat", "battery_mv", "batterymv",
		"batteryvoltage", "voltage",
	}
)

// keywordDepth bounds keyword searches inside decoded payloads.
const keywordDepth = 6
