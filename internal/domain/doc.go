// Package domain models LoRaWAN uplinks after normalization, the rows the
// ingestion store keeps for them, and the series derived from those rows.
//
// # Data Sources
//
// Uplinks arrive from network servers that each publish their own JSON shape.
// The service recognizes three families by their end-device identity block
// and treats everything else as generic:
//
//	The Things Network v3   "end_device_ids": {"dev_eui": "70B3D57ED0000001", ...}
//	                        payload under "uplink_message" (frm_payload, decoded_payload,
//	                        rx_metadata, received_at, f_cnt)
//	ChirpStack v4           "deviceInfo": {"devEui": "70b3d57ed0000001", ...}
//	                        top-level "time", "deduplicationId", "rxInfo", "object", "data"
//	Generic device          "device": {"devEui": ..., "name": ...}
//	                        used by small bridges and test harnesses
//
// # Device Identity
//
// A Dev EUI is eight bytes, canonically sixteen lowercase hex characters.
// Producers send it as hex in either case, or as base64 of the raw bytes
// ("cLPVftAAAAE="). Base64 input is converted to hex and the original text is
// kept in DevEUIBase64 for display. Anything else is lower-cased and accepted
// as-is rather than rejected.
//
// # Timestamps
//
// Stored timestamps are ISO-8601 strings in UTC with a nine-digit fraction:
//
//	"2024-01-01T23:00:00.000000000Z"
//
// Range filters compare these strings lexicographically, which only matches
// chronological order when every row uses the same fixed-width layout. See
// [CanonicalTime].
//
// # Meter Values
//
// Meter readings come from decoded payload fields, from keyword search in the
// decoded object, or from ASCII text in the raw radio payload. Mechanical
// meters often report their register as a bare digit string with an implied
// decimal point, for example "123456" meaning 12345.6. The pre-parse text is
// always retained as MeterValueRaw so operators can diagnose readings that
// did not parse.
//
// # Battery
//
// Battery values in (0, 20) are volts and are converted to millivolts;
// anything else is assumed to already be millivolts.
package domain
