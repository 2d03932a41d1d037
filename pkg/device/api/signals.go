package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Request headers that may stand in for attributes the client did not report
const (
	TimezoneHeader         = "Timezone"
	ScreenResolutionHeader = "Screen-Resolution" // WIDTHxHEIGHTxCOLORDEPTH
)

// fillRequestSignals adds userAgent, language, timezone and screen from the request
// headers when the reported fingerprint lacks them. Reported values always win.
// Payloads that are not JSON objects are returned untouched for the canonicalizer to reject.
func fillRequestSignals(raw json.RawMessage, r *http.Request) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return raw
	}

	setIfAbsent(obj, "userAgent", r.UserAgent())
	setIfAbsent(obj, "language", primaryLanguage(r.Header.Get("Accept-Language")))
	setIfAbsent(obj, "timezone", strings.TrimSpace(r.Header.Get(TimezoneHeader)))
	if _, ok := obj["screen"]; !ok {
		if screen := parseScreenHeader(r.Header.Get(ScreenResolutionHeader)); screen != nil {
			obj["screen"] = screen
		}
	}
	return obj
}

func setIfAbsent(obj map[string]any, key, value string) {
	if value == "" {
		return
	}
	if v, ok := obj[key]; ok && v != nil {
		return
	}
	obj[key] = value
}

// primaryLanguage returns the first tag of an Accept-Language header
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	tag = strings.TrimSpace(tag)
	if tag == "*" {
		return ""
	}
	return tag
}

func parseScreenHeader(header string) map[string]any {
	parts := strings.Split(strings.TrimSpace(header), "x")
	if len(parts) != 3 {
		return nil
	}
	keys := []string{"width", "height", "colorDepth"}
	screen := make(map[string]any, len(keys))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil
		}
		screen[keys[i]] = n
	}
	return screen
}
