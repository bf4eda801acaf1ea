// Package normalize turns provider-specific LoRaWAN uplink documents into
// domain.NormalizedUplink values.
package normalize

import (
	"encoding/hex"
	"math"
	"strings"

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/resolve"
)

// Normalize extracts the canonical fields from a raw uplink document. It never
// fails: fields that cannot be found or parsed are left empty, and an
// unrecognized document yields a mostly-empty result with ProviderGeneric.
func Normalize(doc *resolve.Value) domain.NormalizedUplink {
	provider := detectProvider(doc)

	n := domain.NormalizedUplink{
		Provider:   provider,
		RawPayload: doc,
	}

	if v, ok := resolve.FirstPresent(doc, devEUIFields.forProvider(provider)...); ok {
		n.DevEUI, n.DevEUIBase64 = normalizeDevEUI(v)
	}
	n.DeviceName = firstText(doc, deviceNameFields.forProvider(provider))
	n.ApplicationID = firstText(doc, applicationIDFields.forProvider(provider))
	n.ApplicationName = firstText(doc, applicationNameFields.forProvider(provider))
	n.Timestamp = resolveTimestamp(doc, provider)
	n.DeduplicationID = firstText(doc, append(
		dedupIDFields.forProvider(provider),
		frameCounterFields.forProvider(provider)...,
	))
	n.RSSI, n.SNR = resolveSignal(doc)

	if v, ok := resolve.FirstPresent(doc, decodedObjectFields...); ok {
		if k := v.Kind(); k == resolve.KindObject || k == resolve.KindArray {
			n.DecodedObject = v
		}
	}
	n.MeterValue, n.MeterValueRaw = resolveMeter(doc, n.DecodedObject)
	n.BatteryMillivolts = resolveBattery(doc, n.DecodedObject)

	return n
}

// detectProvider sniffs the end-device identity block each family uses.
func detectProvider(doc *resolve.Value) domain.Provider {
	if v, ok := doc.Field("end_device_ids"); ok && v.Kind() == resolve.KindObject {
		return domain.ProviderTTN
	}
	if v, ok := doc.Field("deviceInfo"); ok && v.Kind() == resolve.KindObject {
		return domain.ProviderChirpStack
	}
	if v, ok := doc.Field("devEUI"); ok && !v.IsNull() {
		return domain.ProviderChirpStack
	}
	if v, ok := doc.Field("device"); ok && v.Kind() == resolve.KindObject {
		return domain.ProviderGenericDevice
	}
	return domain.ProviderGeneric
}

// normalizeDevEUI returns the hex form of a Dev EUI and, when the input was
// base64, the original text.
func normalizeDevEUI(v *resolve.Value) (hexEUI, b64 string) {
	s, ok := resolve.Text(v)
	if !ok {
		return "", ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if isHexEUI(s) {
		return strings.ToLower(s), ""
	}
	if b, ok := resolve.DecodeBase64Bytes(resolve.NewString(s)); ok && len(b) == 8 {
		return hex.EncodeToString(b), s
	}
	return strings.ToLower(s), ""
}

func isHexEUI(s string) bool {
	if len(s) != 16 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func firstText(doc *resolve.Value, paths []resolve.Path) string {
	v, ok := resolve.FirstPresent(doc, paths...)
	if !ok {
		return ""
	}
	s, _ := resolve.Text(v)
	return strings.TrimSpace(s)
}

// resolveTimestamp returns the producer's timestamp in canonical form, or the
// current time when the document has none or it cannot be parsed.
func resolveTimestamp(doc *resolve.Value, provider domain.Provider) string {
	v, ok := resolve.FirstPresent(doc, timestampFields.forProvider(provider)...)
	if ok {
		if f, isNum := v.Float(); isNum {
			if t, valid := domain.EpochTime(f); valid {
				return domain.FormatTime(t)
			}
		}
		if s, isStr := v.Str(); isStr {
			if t, valid := domain.ParseTime(s); valid {
				return domain.FormatTime(t)
			}
		}
	}
	return domain.FormatTime(clock.Now())
}

// resolveSignal picks the gateway report with the strongest RSSI across every
// known reception list. Ties keep the first report seen. Without any usable
// report, top-level scalar fields are used.
func resolveSignal(doc *resolve.Value) (rssi, snr *float64) {
	for _, path := range gatewayListFields {
		list, ok := resolve.Lookup(doc, path)
		if !ok {
			continue
		}
		for _, rec := range list.Items() {
			r, ok := numberAt(rec, recordRSSIFields)
			if !ok {
				continue
			}
			if rssi == nil || r > *rssi {
				rssi = ptr(r)
				snr = nil
				if s, ok := numberAt(rec, recordSNRFields); ok {
					snr = ptr(s)
				}
			}
		}
	}
	if rssi != nil {
		return rssi, snr
	}
	if r, ok := numberAt(doc, topRSSIFields); ok {
		rssi = ptr(r)
	}
	if s, ok := numberAt(doc, topSNRFields); ok {
		snr = ptr(s)
	}
	return rssi, snr
}

// resolveMeter tries direct fields, then a keyword search of the decoded
// object, then ASCII text in the raw radio payload. The first representation
// seen is returned as raw even when none of them parse.
func resolveMeter(doc, decoded *resolve.Value) (*float64, string) {
	var raw string
	keep := func(s string) {
		if raw == "" {
			raw = s
		}
	}

	if v, ok := resolve.FirstPresent(doc, directMeterFields...); ok {
		if s, ok := resolve.Text(v); ok {
			keep(s)
		}
		if f, ok := resolve.ParseNumber(v); ok {
			return ptr(f), raw
		}
	}

	if decoded != nil {
		if v, ok := resolve.SearchKeys(decoded, meterKeywords, keywordDepth); ok {
			s, _ := resolve.Text(v)
			keep(s)
			if f, ok := resolve.ParseNumber(v); ok {
				return ptr(f), raw
			}
		}
	}

	if v, ok := resolve.FirstPresent(doc, rawPayloadFields...); ok {
		if text, ok := resolve.DecodeBase64Text(v); ok {
			text = strings.TrimSpace(text)
			keep(text)
			if f, ok := resolve.ParseNumberString(text); ok {
				return ptr(f), raw
			}
		}
	}

	return nil, raw
}

// resolveBattery returns millivolts. Values strictly between 0 and 20 are
// volts; anything else is already millivolts.
func resolveBattery(doc, decoded *resolve.Value) *int64 {
	v, ok := numberAt(doc, batteryFields)
	if !ok && decoded != nil {
		if found, hit := resolve.SearchKeys(decoded, batteryKeywords, keywordDepth); hit {
			v, ok = resolve.ParseNumber(found)
		}
	}
	if !ok {
		return nil
	}
	return ptr(toMillivolts(v))
}

func toMillivolts(v float64) int64 {
	if v > 0 && v < 20 {
		return int64(math.Round(v * 1000))
	}
	return int64(math.Round(v))
}

// numberAt parses the first candidate that is present.
func numberAt(doc *resolve.Value, paths []resolve.Path) (float64, bool) {
	v, ok := resolve.FirstPresent(doc, paths...)
	if !ok {
		return 0, false
	}
	return resolve.ParseNumber(v)
}

func ptr[T any](v T) *T { return &v }
