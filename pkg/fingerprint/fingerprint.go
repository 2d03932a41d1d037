package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Screen is the reported display geometry.
type Screen struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	ColorDepth int  `json:"colorDepth"`
	PixelDepth *int `json:"pixelDepth,omitempty"`
}

// Resolution returns "WIDTHxHEIGHT".
func (s Screen) Resolution() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Fingerprint is the canonical set of client-reported device signals.
// Empty strings and nil pointers mean the client did not report the attribute.
type Fingerprint struct {
	UserAgent           string   `json:"userAgent,omitempty"`
	Screen              *Screen  `json:"screen,omitempty"`
	Timezone            string   `json:"timezone,omitempty"`
	Language            string   `json:"language,omitempty"`
	Languages           []string `json:"languages,omitempty"`
	Platform            string   `json:"platform,omitempty"`
	CookieEnabled       *bool    `json:"cookieEnabled,omitempty"`
	DoNotTrack          *string  `json:"doNotTrack,omitempty"`
	Vendor              string   `json:"vendor,omitempty"`
	Browser             string   `json:"browser,omitempty"`
	Canvas              string   `json:"canvas,omitempty"`
	HardwareConcurrency *int     `json:"hardwareConcurrency,omitempty"`
	MaxTouchPoints      *int     `json:"maxTouchPoints,omitempty"`
}

// FieldError names one offending attribute.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every attribute that failed canonicalization.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid fingerprint: " + strings.Join(parts, "; ")
}

// Details returns the field errors keyed by field name.
func (e *ValidationError) Details() map[string]interface{} {
	details := make(map[string]interface{}, len(e.Fields))
	for _, f := range e.Fields {
		details[f.Field] = f.Reason
	}
	return details
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

const maxIntAttribute = math.MaxInt32

// Length limits in characters. Platform is bounded so signature and the
// platform-derived label fit their columns.
const (
	MaxUserAgentLength = 1024
	MaxPlatformLength  = 128
	MaxShortLength     = 64
	MaxCanvasLength    = 4096
	MaxLanguages       = 32
)

// Parse decodes a JSON fingerprint payload and canonicalizes it.
func Parse(data []byte) (Fingerprint, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		verr := &ValidationError{}
		verr.add("fingerprint", "invalid JSON: "+err.Error())
		return Fingerprint{}, verr
	}
	return Canonicalize(raw)
}

// Canonicalize validates an untyped payload and returns its canonical form.
// Wrong-typed attributes are rejected rather than coerced. Unknown keys are dropped.
func Canonicalize(raw any) (Fingerprint, error) {
	var obj map[string]any
	switch v := raw.(type) {
	case []byte:
		return Parse(v)
	case json.RawMessage:
		return Parse(v)
	case map[string]any:
		obj = v
	}

	verr := &ValidationError{}
	if obj == nil {
		verr.add("fingerprint", "must be an object")
		return Fingerprint{}, verr
	}

	var fp Fingerprint
	fp.UserAgent = stringField(obj, "userAgent", MaxUserAgentLength, verr)
	fp.Timezone = stringField(obj, "timezone", MaxShortLength, verr)
	fp.Language = stringField(obj, "language", MaxShortLength, verr)
	fp.Platform = stringField(obj, "platform", MaxPlatformLength, verr)
	fp.Vendor = stringField(obj, "vendor", MaxPlatformLength, verr)
	fp.Browser = stringField(obj, "browser", MaxShortLength, verr)
	fp.Canvas = stringField(obj, "canvas", MaxCanvasLength, verr)
	fp.Languages = stringListField(obj, "languages", verr)
	fp.Screen = screenField(obj, verr)
	fp.HardwareConcurrency = intField(obj, "hardwareConcurrency", verr)
	fp.MaxTouchPoints = intField(obj, "maxTouchPoints", verr)

	if v, ok := present(obj, "cookieEnabled"); ok {
		b, isBool := v.(bool)
		if !isBool {
			verr.add("cookieEnabled", "must be a boolean")
		} else {
			fp.CookieEnabled = &b
		}
	}
	if v, ok := present(obj, "doNotTrack"); ok {
		s, isString := v.(string)
		switch {
		case !isString:
			verr.add("doNotTrack", "must be a string")
		case tooLong(s, MaxShortLength):
			verr.add("doNotTrack", lengthReason(MaxShortLength))
		default:
			fp.DoNotTrack = &s
		}
	}

	if len(verr.Fields) > 0 {
		return Fingerprint{}, verr
	}
	if fp.UserAgent == "" && fp.Platform == "" && fp.Screen == nil {
		verr.add("fingerprint", "no identifying signals: userAgent, platform or screen is required")
		return Fingerprint{}, verr
	}

	if fp.Browser == "" {
		fp.Browser = ParseUserAgent(fp.UserAgent).Browser
	}
	return fp, nil
}

// Map returns the canonical map form used for hashing. Absent attributes are omitted.
func (f Fingerprint) Map() map[string]any {
	m := make(map[string]any)
	putString(m, "userAgent", f.UserAgent)
	putString(m, "timezone", f.Timezone)
	putString(m, "language", f.Language)
	putString(m, "platform", f.Platform)
	putString(m, "vendor", f.Vendor)
	putString(m, "browser", f.Browser)
	putString(m, "canvas", f.Canvas)
	if len(f.Languages) > 0 {
		langs := make([]any, len(f.Languages))
		for i, l := range f.Languages {
			langs[i] = l
		}
		m["languages"] = langs
	}
	if f.Screen != nil {
		screen := map[string]any{
			"width":      f.Screen.Width,
			"height":     f.Screen.Height,
			"colorDepth": f.Screen.ColorDepth,
		}
		if f.Screen.PixelDepth != nil {
			screen["pixelDepth"] = *f.Screen.PixelDepth
		}
		m["screen"] = screen
	}
	if f.CookieEnabled != nil {
		m["cookieEnabled"] = *f.CookieEnabled
	}
	if f.DoNotTrack != nil {
		m["doNotTrack"] = *f.DoNotTrack
	}
	if f.HardwareConcurrency != nil {
		m["hardwareConcurrency"] = *f.HardwareConcurrency
	}
	if f.MaxTouchPoints != nil {
		m["maxTouchPoints"] = *f.MaxTouchPoints
	}
	return m
}

// Signature is the coarse identity used to collapse restarts of the same machine:
// platform, screen resolution and hardware concurrency.
func (f Fingerprint) Signature() string {
	resolution := ""
	if f.Screen != nil {
		resolution = f.Screen.Resolution()
	}
	cores := ""
	if f.HardwareConcurrency != nil {
		cores = strconv.Itoa(*f.HardwareConcurrency)
	}
	return f.Platform + "|" + resolution + "|" + cores
}

// HasPlatform reports whether the platform anchor is present.
func (f Fingerprint) HasPlatform() bool { return f.Platform != "" }

// HasScreen reports whether the screen anchor is present.
func (f Fingerprint) HasScreen() bool { return f.Screen != nil }

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// present returns the value for key unless it is missing or JSON null.
func present(obj map[string]any, key string) (any, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func stringField(obj map[string]any, key string, maxLen int, verr *ValidationError) string {
	v, ok := present(obj, key)
	if !ok {
		return ""
	}
	s, isString := v.(string)
	if !isString {
		verr.add(key, "must be a string")
		return ""
	}
	if tooLong(s, maxLen) {
		verr.add(key, lengthReason(maxLen))
		return ""
	}
	return s
}

func tooLong(s string, maxLen int) bool {
	return len(s) > maxLen && utf8.RuneCountInString(s) > maxLen
}

func lengthReason(maxLen int) string {
	return fmt.Sprintf("must be at most %d characters", maxLen)
}

func stringListField(obj map[string]any, key string, verr *ValidationError) []string {
	v, ok := present(obj, key)
	if !ok {
		return nil
	}
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		items = make([]any, len(list))
		for i, item := range list {
			items[i] = item
		}
	default:
		verr.add(key, "must be an array of strings")
		return nil
	}
	if len(items) > MaxLanguages {
		verr.add(key, fmt.Sprintf("must have at most %d entries", MaxLanguages))
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, isString := item.(string)
		switch {
		case !isString:
			verr.add(fmt.Sprintf("%s[%d]", key, i), "must be a string")
			continue
		case tooLong(s, MaxShortLength):
			verr.add(fmt.Sprintf("%s[%d]", key, i), lengthReason(MaxShortLength))
			continue
		}
		out = append(out, s)
	}
	return out
}

func intField(obj map[string]any, key string, verr *ValidationError) *int {
	v, ok := present(obj, key)
	if !ok {
		return nil
	}
	n, reason := wholeNumber(v)
	if reason != "" {
		verr.add(key, reason)
		return nil
	}
	return &n
}

func screenField(obj map[string]any, verr *ValidationError) *Screen {
	v, ok := present(obj, "screen")
	if !ok {
		return nil
	}
	screenObj, isObj := v.(map[string]any)
	if !isObj {
		verr.add("screen", "must be an object")
		return nil
	}

	before := len(verr.Fields)
	var screen Screen
	for _, dim := range []struct {
		key string
		dst *int
	}{
		{"width", &screen.Width},
		{"height", &screen.Height},
		{"colorDepth", &screen.ColorDepth},
	} {
		raw, ok := present(screenObj, dim.key)
		if !ok {
			verr.add("screen."+dim.key, "is required")
			continue
		}
		n, reason := wholeNumber(raw)
		if reason != "" {
			verr.add("screen."+dim.key, reason)
			continue
		}
		*dim.dst = n
	}
	if raw, ok := present(screenObj, "pixelDepth"); ok {
		n, reason := wholeNumber(raw)
		if reason != "" {
			verr.add("screen.pixelDepth", reason)
		} else {
			screen.PixelDepth = &n
		}
	}
	if len(verr.Fields) > before {
		return nil
	}
	return &screen
}

// wholeNumber accepts JSON numbers holding a non-negative integer value.
// A non-empty reason means the value was rejected.
func wholeNumber(v any) (int, string) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, "must be a number"
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, "must be a number"
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, "must be a finite number"
	}
	if f != math.Trunc(f) {
		return 0, "must be an integer"
	}
	if f < 0 {
		return 0, "must be non-negative"
	}
	if f > maxIntAttribute {
		return 0, "is out of range"
	}
	return int(f), ""
}
