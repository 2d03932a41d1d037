package fingerprint

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uaChromeMac     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaSafariMac     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	uaFirefoxWin    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaChromeWin     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaSafariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	uaChromeAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
)

func chromeMacPayload() map[string]any {
	return map[string]any{
		"userAgent": uaChromeMac,
		"screen": map[string]any{
			"width":      json.Number("1920"),
			"height":     json.Number("1080"),
			"colorDepth": json.Number("24"),
			"pixelDepth": json.Number("24"),
		},
		"timezone":            "America/New_York",
		"language":            "en-US",
		"languages":           []any{"en-US", "en"},
		"platform":            "MacIntel",
		"cookieEnabled":       true,
		"doNotTrack":          nil,
		"vendor":              "Google Inc.",
		"canvas":              "c4nv4s",
		"hardwareConcurrency": json.Number("8"),
		"maxTouchPoints":      json.Number("0"),
	}
}

func mustCanonicalize(t *testing.T, raw any) Fingerprint {
	t.Helper()
	fp, err := Canonicalize(raw)
	require.NoError(t, err)
	return fp
}

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	return fields
}

func TestCanonicalize_Valid(t *testing.T) {
	fp := mustCanonicalize(t, chromeMacPayload())

	assert.Equal(t, uaChromeMac, fp.UserAgent)
	require.NotNil(t, fp.Screen)
	assert.Equal(t, 1920, fp.Screen.Width)
	assert.Equal(t, 1080, fp.Screen.Height)
	assert.Equal(t, 24, fp.Screen.ColorDepth)
	require.NotNil(t, fp.Screen.PixelDepth)
	assert.Equal(t, 24, *fp.Screen.PixelDepth)
	assert.Equal(t, []string{"en-US", "en"}, fp.Languages)
	require.NotNil(t, fp.HardwareConcurrency)
	assert.Equal(t, 8, *fp.HardwareConcurrency)
	require.NotNil(t, fp.CookieEnabled)
	assert.True(t, *fp.CookieEnabled)
	assert.Nil(t, fp.DoNotTrack, "null is treated as absent")
	assert.Equal(t, BrowserChrome, fp.Browser, "browser is derived from the user agent")
}

func TestParse_KeyOrderIndependent(t *testing.T) {
	a := `{"platform":"MacIntel","screen":{"width":1920,"height":1080,"colorDepth":24},"timezone":"UTC","hardwareConcurrency":8}`
	b := `{"hardwareConcurrency":8,"timezone":"UTC","screen":{"colorDepth":24,"height":1080,"width":1920},"platform":"MacIntel"}`

	fpA, err := Parse([]byte(a))
	require.NoError(t, err)
	fpB, err := Parse([]byte(b))
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
	assert.Equal(t, Hash(fpA), Hash(fpB))
}

func TestCanonicalize_AcceptsDecodedFloats(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`{"platform":"Win32","screen":{"width":1366,"height":768,"colorDepth":24},"hardwareConcurrency":4}`), &raw))

	fp := mustCanonicalize(t, raw)
	assert.Equal(t, 1366, fp.Screen.Width)
	assert.Equal(t, 4, *fp.HardwareConcurrency)
}

func TestCanonicalize_RejectsNonObjects(t *testing.T) {
	for _, raw := range []any{nil, []any{1, 2}, "fingerprint", 42.0, true} {
		_, err := Canonicalize(raw)
		assert.Equal(t, []string{"fingerprint"}, validationFields(t, err))
	}

	_, err := Parse([]byte(`null`))
	assert.Equal(t, []string{"fingerprint"}, validationFields(t, err))

	_, err = Parse([]byte(`{"platform":`))
	assert.Equal(t, []string{"fingerprint"}, validationFields(t, err))
}

func TestCanonicalize_RejectsWrongTypes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m map[string]any)
		field  string
	}{
		{"screen not object", func(m map[string]any) { m["screen"] = "1920x1080" }, "screen"},
		{"screen width string", func(m map[string]any) { m["screen"].(map[string]any)["width"] = "1920" }, "screen.width"},
		{"screen missing color depth", func(m map[string]any) { delete(m["screen"].(map[string]any), "colorDepth") }, "screen.colorDepth"},
		{"negative concurrency", func(m map[string]any) { m["hardwareConcurrency"] = json.Number("-1") }, "hardwareConcurrency"},
		{"fractional concurrency", func(m map[string]any) { m["hardwareConcurrency"] = json.Number("4.5") }, "hardwareConcurrency"},
		{"string concurrency", func(m map[string]any) { m["hardwareConcurrency"] = "8" }, "hardwareConcurrency"},
		{"string touch points", func(m map[string]any) { m["maxTouchPoints"] = "0" }, "maxTouchPoints"},
		{"string cookie flag", func(m map[string]any) { m["cookieEnabled"] = "true" }, "cookieEnabled"},
		{"numeric platform", func(m map[string]any) { m["platform"] = json.Number("1") }, "platform"},
		{"languages not array", func(m map[string]any) { m["languages"] = "en-US" }, "languages"},
		{"languages with number", func(m map[string]any) { m["languages"] = []any{"en", json.Number("1")} }, "languages[1]"},
		{"boolean do not track", func(m map[string]any) { m["doNotTrack"] = true }, "doNotTrack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := chromeMacPayload()
			tt.mutate(payload)
			_, err := Canonicalize(payload)
			assert.Equal(t, []string{tt.field}, validationFields(t, err))
		})
	}
}

func TestCanonicalize_CollectsAllFieldErrors(t *testing.T) {
	payload := chromeMacPayload()
	payload["cookieEnabled"] = "yes"
	payload["maxTouchPoints"] = json.Number("-2")

	_, err := Canonicalize(payload)
	assert.ElementsMatch(t, []string{"cookieEnabled", "maxTouchPoints"}, validationFields(t, err))
	assert.Contains(t, err.Error(), "cookieEnabled: must be a boolean")
}

func TestCanonicalize_EnforcesLengthLimits(t *testing.T) {
	tooMany := make([]any, MaxLanguages+1)
	for i := range tooMany {
		tooMany[i] = "en"
	}
	tests := []struct {
		name   string
		mutate func(m map[string]any)
		field  string
	}{
		{"oversized platform", func(m map[string]any) { m["platform"] = strings.Repeat("P", 300) }, "platform"},
		{"oversized user agent", func(m map[string]any) { m["userAgent"] = strings.Repeat("a", MaxUserAgentLength+1) }, "userAgent"},
		{"oversized timezone", func(m map[string]any) { m["timezone"] = strings.Repeat("z", MaxShortLength+1) }, "timezone"},
		{"oversized canvas", func(m map[string]any) { m["canvas"] = strings.Repeat("c", MaxCanvasLength+1) }, "canvas"},
		{"oversized do not track", func(m map[string]any) { m["doNotTrack"] = strings.Repeat("1", MaxShortLength+1) }, "doNotTrack"},
		{"oversized language entry", func(m map[string]any) { m["languages"] = []any{"en", strings.Repeat("x", MaxShortLength+1)} }, "languages[1]"},
		{"too many languages", func(m map[string]any) { m["languages"] = tooMany }, "languages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := chromeMacPayload()
			tt.mutate(payload)
			_, err := Canonicalize(payload)
			assert.Equal(t, []string{tt.field}, validationFields(t, err))
			assert.Contains(t, err.Error(), "at most")
		})
	}
}

func TestCanonicalize_LengthLimitCountsCharacters(t *testing.T) {
	payload := chromeMacPayload()
	payload["platform"] = strings.Repeat("é", MaxPlatformLength)
	payload["userAgent"] = nil

	fp := mustCanonicalize(t, payload)
	assert.Len(t, []rune(fp.Signature()), len([]rune(fp.Platform))+len("|1920x1080|8"))
	assert.Equal(t, fp.Platform+" device", Label(fp))
	assert.LessOrEqual(t, len([]rune(Label(fp))), 255)
	assert.LessOrEqual(t, len([]rune(fp.Signature())), 255)

	payload["platform"] = strings.Repeat("é", MaxPlatformLength+1)
	_, err := Canonicalize(payload)
	assert.Equal(t, []string{"platform"}, validationFields(t, err))
}

func TestCanonicalize_RequiresIdentifyingSignal(t *testing.T) {
	_, err := Canonicalize(map[string]any{"timezone": "UTC", "vendor": "Google Inc."})
	assert.Equal(t, []string{"fingerprint"}, validationFields(t, err))

	_, err = Canonicalize(map[string]any{})
	assert.Equal(t, []string{"fingerprint"}, validationFields(t, err))
}

func TestCanonicalize_DropsUnknownKeys(t *testing.T) {
	withExtra := chromeMacPayload()
	withExtra["batteryLevel"] = json.Number("0.5")

	assert.Equal(t, Hash(mustCanonicalize(t, chromeMacPayload())), Hash(mustCanonicalize(t, withExtra)))
}

func TestHash_DiffersPerAttribute(t *testing.T) {
	base := Hash(mustCanonicalize(t, chromeMacPayload()))
	assert.Len(t, base, 64)

	changes := map[string]any{
		"timezone":            "America/Chicago",
		"language":            "de-DE",
		"hardwareConcurrency": json.Number("16"),
		"cookieEnabled":       false,
		"doNotTrack":          "1",
		"canvas":              "other",
	}
	for key, value := range changes {
		payload := chromeMacPayload()
		payload[key] = value
		assert.NotEqual(t, base, Hash(mustCanonicalize(t, payload)), key)
	}
}

func TestSaltedHash(t *testing.T) {
	fp := mustCanonicalize(t, chromeMacPayload())
	at := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	userA, userB := uuid.New(), uuid.New()

	assert.NotEqual(t, Hash(fp), SaltedHash(fp, userA, at))
	assert.NotEqual(t, SaltedHash(fp, userA, at), SaltedHash(fp, userB, at))
	assert.NotEqual(t, SaltedHash(fp, userA, at), SaltedHash(fp, userA, at.Add(time.Nanosecond)))
	assert.Equal(t, SaltedHash(fp, userA, at), SaltedHash(fp, userA, at))
}

func TestCanonicalString(t *testing.T) {
	v := map[string]any{
		"b": 1,
		"a": map[string]any{"d": nil, "c": []any{1, "x"}},
	}
	assert.Equal(t, `{"a":{"c":[1,"x"],"d":null},"b":1}`, CanonicalString(v))

	assert.NotEqual(t, CanonicalString(map[string]any{"k": "null"}), CanonicalString(map[string]any{"k": nil}))
	assert.NotEqual(t, CanonicalString(map[string]any{"k": "1"}), CanonicalString(map[string]any{"k": 1}))
	assert.Equal(t, CanonicalString(map[string]any{"k": 8}), CanonicalString(map[string]any{"k": 8.0}))
}

func TestSignature(t *testing.T) {
	fp := mustCanonicalize(t, chromeMacPayload())
	assert.Equal(t, "MacIntel|1920x1080|8", fp.Signature())
	assert.Equal(t, "||", Fingerprint{UserAgent: uaChromeMac}.Signature())
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		ua      string
		browser string
		os      string
	}{
		{uaChromeMac, BrowserChrome, OSMacOS},
		{uaSafariMac, BrowserSafari, OSMacOS},
		{uaFirefoxWin, BrowserFirefox, OSWindows},
		{uaSafariIPhone, BrowserSafari, OSiOS},
		{uaChromeAndroid, BrowserChrome, OSAndroid},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0", BrowserEdge, OSWindows},
		{"", "", ""},
	}
	for _, tt := range tests {
		got := ParseUserAgent(tt.ua)
		assert.Equal(t, tt.browser, got.Browser, tt.ua)
		assert.Equal(t, tt.os, got.OS, tt.ua)
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Chrome on Mac", Label(Fingerprint{UserAgent: uaChromeMac}))
	assert.Equal(t, "Safari on iPhone", Label(Fingerprint{UserAgent: uaSafariIPhone}))
	assert.Equal(t, "Chrome on Google Pixel", Label(Fingerprint{UserAgent: uaChromeAndroid}))
	assert.Equal(t, "Win32 device", Label(Fingerprint{Platform: "Win32"}))
	assert.Equal(t, "Unknown Device", Label(Fingerprint{}))
}
