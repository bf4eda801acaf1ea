package resolve

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) *Value {
	t.Helper()
	v, err := Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func TestParse_PreservesKeyOrderAndNumbers(t *testing.T) {
	doc := mustParse(t, `{"b":1,"a":{"z":18446744073709551615,"y":[true,null,"x"]}}`)

	assert.Equal(t, []string{"b", "a"}, doc.Keys())
	inner, ok := doc.Field("a")
	require.True(t, ok)
	assert.Equal(t, []string{"z", "y"}, inner.Keys())

	big, ok := Lookup(doc, P("a", "z"))
	require.True(t, ok)
	text, ok := Text(big)
	require.True(t, ok)
	assert.Equal(t, "18446744073709551615", text)

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":{"z":18446744073709551615,"y":[true,null,"x"]}}`, string(out))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"a":`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"a":1} {"b":2}`))
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	doc := mustParse(t, `{"uplink_message":{"rx_metadata":[{"rssi":-80},{"rssi":-60}]},"n":null,"s":"str"}`)

	tests := []struct {
		name   string
		path   Path
		want   string
		absent bool
	}{
		{name: "nested index", path: Dotted("uplink_message.rx_metadata.1.rssi"), want: "-60"},
		{name: "missing key", path: P("uplink_message", "nope"), absent: true},
		{name: "index out of bounds", path: P("uplink_message", "rx_metadata", 5), absent: true},
		{name: "negative index", path: P("uplink_message", "rx_metadata", -1), absent: true},
		{name: "key on array", path: P("uplink_message", "rx_metadata", "rssi"), absent: true},
		{name: "key on string", path: P("s", "x"), absent: true},
		{name: "index on object", path: P("uplink_message", 0), absent: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := Lookup(doc, tc.path)
			if tc.absent {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			text, _ := Text(v)
			assert.Equal(t, tc.want, text)
		})
	}

	v, ok := Lookup(doc, P("n"))
	require.True(t, ok, "explicit null is present")
	assert.True(t, v.IsNull())
}

func TestFirstPresent_SkipsNullAndMissing(t *testing.T) {
	doc := mustParse(t, `{"a":null,"c":"third","b":"second"}`)

	v, ok := FirstPresent(doc, P("a"), P("missing"), P("b"), P("c"))
	require.True(t, ok)
	s, _ := v.Str()
	assert.Equal(t, "second", s)

	_, ok = FirstPresent(doc, P("a"), P("missing"))
	assert.False(t, ok)
}

func TestSearchKeys_DepthBound(t *testing.T) {
	doc := mustParse(t, `{"l1":{"l2":{"l3":{"meter":42}}}}`)

	_, ok := SearchKeys(doc, []string{"meter"}, 3)
	assert.False(t, ok, "match sits four edges from the root")

	v, ok := SearchKeys(doc, []string{"meter"}, 4)
	require.True(t, ok)
	f, _ := v.Float()
	assert.Equal(t, 42.0, f)
}

func TestSearchKeys_CaseInsensitiveScalarOnly(t *testing.T) {
	doc := mustParse(t, `{"Meter":{"Value":"77"}}`)

	v, ok := SearchKeys(doc, []string{"meter", "value"}, 5)
	require.True(t, ok, "object-valued Meter is skipped, nested Value matches")
	s, _ := v.Str()
	assert.Equal(t, "77", s)
}

func TestSearchKeys_SelfReferenceTerminates(t *testing.T) {
	root := NewObject()
	child := NewObject()
	root.Set("child", child)
	child.Set("parent", root)
	child.Set("self", child)
	child.Set("list", NewArray(root, child))

	_, ok := SearchKeys(root, []string{"meter"}, 1000)
	assert.False(t, ok)

	child.Set("meter", NewNumber(5))
	v, ok := SearchKeys(root, []string{"meter"}, 1000)
	require.True(t, ok)
	f, _ := v.Float()
	assert.Equal(t, 5.0, f)
}

func TestSearchKeys_SearchesArrays(t *testing.T) {
	doc := mustParse(t, `{"items":[{"x":1},{"reading":"12,5"}]}`)
	v, ok := SearchKeys(doc, []string{"reading"}, 3)
	require.True(t, ok)
	f, ok := ParseNumber(v)
	require.True(t, ok)
	assert.Equal(t, 12.5, f)
}

func TestParseNumberString(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: "1234567", want: 1234.567, ok: true},
		{in: "123456", want: 12345.6, ok: true},
		{in: "12345678", want: 12345.678, ok: true},
		{in: "12345", want: 12345, ok: true},
		{in: "123456789", want: 123456789, ok: true},
		{in: "12,5", want: 12.5, ok: true},
		{in: " 3.25 ", want: 3.25, ok: true},
		{in: "-7", want: -7, ok: true},
		{in: "abc 42.3 kWh", want: 42.3, ok: true},
		{in: "rssi -80 dBm", want: -80, ok: true},
		{in: "garbage", ok: false},
		{in: "", ok: false},
		{in: "NaN", ok: false},
		{in: "Inf", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseNumberString(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}

func TestParseNumber_Kinds(t *testing.T) {
	f, ok := ParseNumber(NewNumber(3.6))
	require.True(t, ok)
	assert.Equal(t, 3.6, f)

	_, ok = ParseNumber(NewBool(true))
	assert.False(t, ok)
	_, ok = ParseNumber(Null())
	assert.False(t, ok)
	_, ok = ParseNumber(nil)
	assert.False(t, ok)
}

func TestDecodeBase64Text(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("1234567"))
	text, ok := DecodeBase64Text(NewString(enc))
	require.True(t, ok)
	assert.Equal(t, "1234567", text)

	raw := base64.RawURLEncoding.EncodeToString([]byte("00042 L"))
	text, ok = DecodeBase64Text(NewString(raw))
	require.True(t, ok)
	assert.Equal(t, "00042 L", text)

	binary := base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0xff, 0x10})
	_, ok = DecodeBase64Text(NewString(binary))
	assert.False(t, ok, "non-printable bytes")

	_, ok = DecodeBase64Text(NewString("!!not base64!!"))
	assert.False(t, ok)

	_, ok = DecodeBase64Text(NewNumber(12))
	assert.False(t, ok)
}
