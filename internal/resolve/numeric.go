package resolve

import (
	"encoding/base64"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// odometerRe splits a bare digit string the way mechanical meters print
	// their registers: three fractional digits behind a 4-5 digit integer
	// part, or 1-2 fractional digits behind exactly five integer digits.
	//   "123456"   -> 12345.6
	//   "1234567"  -> 1234.567
	//   "12345678" -> 12345.678
	odometerRe = regexp.MustCompile(`^(?:(\d{4,5}?)(\d{3})|(\d{5})(\d{1,2}))$`)

	// firstDecimalRe finds the first signed decimal number anywhere in a string.
	firstDecimalRe = regexp.MustCompile(`[-+]?\d+(?:[.,]\d+)?`)
)

// numberStrategy is one step of the string-to-number fallback chain.
type numberStrategy func(s string) (float64, bool)

// stringStrategies run in order; the first success wins.
var stringStrategies = []numberStrategy{
	parseOdometer,
	parseDirect,
	parseFirstDecimal,
}

// ParseNumber interprets v as a number. Numbers are used as-is; strings go
// through the fallback chain. Anything else, and non-finite results, are
// absent.
func ParseNumber(v *Value) (float64, bool) {
	switch v.Kind() {
	case KindNumber:
		f, ok := v.Float()
		if !ok || !finite(f) {
			return 0, false
		}
		return f, true
	case KindString:
		return ParseNumberString(v.text)
	default:
		return 0, false
	}
}

// ParseNumberString applies the string fallback chain to s.
func ParseNumberString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, strategy := range stringStrategies {
		if f, ok := strategy(s); ok && finite(f) {
			return f, true
		}
	}
	return 0, false
}

func parseOdometer(s string) (float64, bool) {
	m := odometerRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	intPart, frac := m[1], m[2]
	if intPart == "" {
		intPart, frac = m[3], m[4]
	}
	f, err := strconv.ParseFloat(intPart+"."+frac, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseDirect(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseFirstDecimal(s string) (float64, bool) {
	m := firstDecimalRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodeBase64Bytes decodes a base64 string value in any common alphabet.
func DecodeBase64Bytes(v *Value) ([]byte, bool) {
	s, ok := v.Str()
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, enc := range base64Encodings {
		if b, err := enc.DecodeString(s); err == nil {
			return b, true
		}
	}
	return nil, false
}

// DecodeBase64Text decodes a base64 string value into readable text.
// Malformed input, or bytes that are not printable UTF-8, yield false.
func DecodeBase64Text(v *Value) (string, bool) {
	b, ok := DecodeBase64Bytes(v)
	if !ok || len(b) == 0 || !utf8.Valid(b) {
		return "", false
	}
	text := string(b)
	for _, r := range text {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return "", false
		}
	}
	return text, true
}
