package fingerprint

import "strings"

// Browser names derived from user agent strings
const (
	BrowserEdge             = "Edge"
	BrowserOpera            = "Opera"
	BrowserSamsung          = "Samsung Internet"
	BrowserFirefox          = "Firefox"
	BrowserChrome           = "Chrome"
	BrowserSafari           = "Safari"
	BrowserInternetExplorer = "Internet Explorer"
)

// Operating system names derived from user agent strings
const (
	OSiOS      = "iOS"
	OSAndroid  = "Android"
	OSChromeOS = "ChromeOS"
	OSWindows  = "Windows"
	OSMacOS    = "macOS"
	OSLinux    = "Linux"
)

// UserAgent is the browser and operating system pair derived from a user agent string.
type UserAgent struct {
	Browser string
	OS      string
}

// ParseUserAgent derives browser and OS names. Unknown parts are left empty.
func ParseUserAgent(ua string) UserAgent {
	return UserAgent{Browser: browserName(ua), OS: osName(ua)}
}

// agent returns the derived pair for a fingerprint, falling back to the reported browser.
func (f Fingerprint) agent() UserAgent {
	ua := ParseUserAgent(f.UserAgent)
	if ua.Browser == "" {
		ua.Browser = f.Browser
	}
	return ua
}

// Label builds a human-readable device label such as "Chrome on Mac".
func Label(fp Fingerprint) string {
	ua := fp.agent()
	device := deviceName(fp.UserAgent)
	switch {
	case ua.Browser != "" && device != "":
		return ua.Browser + " on " + device
	case device != "":
		return device
	case ua.Browser != "":
		return ua.Browser + " Browser"
	case fp.Platform != "":
		return fp.Platform + " device"
	}
	return "Unknown Device"
}

func browserName(ua string) string {
	switch {
	case ua == "":
		return ""
	case contains(ua, "Edg/"), contains(ua, "Edge/"), contains(ua, "EdgiOS"), contains(ua, "EdgA/"):
		return BrowserEdge
	case contains(ua, "OPR/"), contains(ua, "Opera"):
		return BrowserOpera
	case contains(ua, "SamsungBrowser"):
		return BrowserSamsung
	case contains(ua, "Firefox/"), contains(ua, "FxiOS"):
		return BrowserFirefox
	case contains(ua, "Chrome/"), contains(ua, "CriOS"), contains(ua, "Chromium/"):
		return BrowserChrome
	case contains(ua, "Safari/"):
		return BrowserSafari
	case contains(ua, "MSIE"), contains(ua, "Trident/"):
		return BrowserInternetExplorer
	}
	return ""
}

func osName(ua string) string {
	switch {
	case ua == "":
		return ""
	case contains(ua, "iPhone"), contains(ua, "iPad"), contains(ua, "iPod"):
		return OSiOS
	case contains(ua, "Android"):
		return OSAndroid
	case contains(ua, "CrOS"):
		return OSChromeOS
	case contains(ua, "Windows"):
		return OSWindows
	case contains(ua, "Macintosh"), contains(ua, "Mac OS X"):
		return OSMacOS
	case contains(ua, "Linux"):
		return OSLinux
	}
	return ""
}

// deviceName guesses the hardware class from the user agent
func deviceName(ua string) string {
	switch {
	case ua == "":
		return ""
	case contains(ua, "iPhone"):
		return "iPhone"
	case contains(ua, "iPad"):
		return "iPad"
	case contains(ua, "Android") && contains(ua, "Mobile"):
		if contains(ua, "Pixel") {
			return "Google Pixel"
		} else if contains(ua, "Samsung") || contains(ua, "SM-") {
			return "Samsung Phone"
		}
		return "Android Phone"
	case contains(ua, "Android"):
		return "Android Tablet"
	case contains(ua, "CrOS"):
		return "Chromebook"
	case contains(ua, "Macintosh"), contains(ua, "Mac OS X"):
		return "Mac"
	case contains(ua, "Windows"):
		return "Windows PC"
	case contains(ua, "Linux"):
		return "Linux"
	}
	return ""
}

// contains is a case insensitive substring check
func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
