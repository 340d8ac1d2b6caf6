// Package device derives a coarse device, browser and OS classification from
// a user-agent string.
package device

import "strings"

// Device types.
const (
	Mobile  = "mobile"
	Tablet  = "tablet"
	Desktop = "desktop"
)

// Unknown is reported when no browser or OS marker matches.
const Unknown = "unknown"

// Info is the classification of one user agent.
type Info struct {
	DeviceType string `json:"deviceType"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
}

var (
	mobileMarkers = []string{"Mobile", "Android", "iPhone", "iPad", "Tablet"}
	tabletMarkers = []string{"iPad", "Tablet"}
)

type rule struct {
	marker string
	label  string
}

// Order matters: the first marker present wins. Chrome UAs also carry
// "Safari" and Edge UAs carry "Chrome", so Chrome shadows both.
var browserRules = []rule{
	{"Chrome", "Chrome"},
	{"Firefox", "Firefox"},
	{"Safari", "Safari"},
	{"Edge", "Edge"},
}

var osRules = []rule{
	{"Windows", "Windows"},
	{"Mac", "macOS"},
	{"Linux", "Linux"},
	{"Android", "Android"},
	{"iOS", "iOS"},
}

// Classify maps a user agent onto Info. It never fails; an empty or
// unrecognized UA yields desktop/unknown/unknown.
func Classify(ua string) Info {
	return Info{
		DeviceType: deviceType(ua),
		Browser:    firstMatch(ua, browserRules),
		OS:         firstMatch(ua, osRules),
	}
}

func deviceType(ua string) string {
	if !containsAny(ua, mobileMarkers) {
		return Desktop
	}
	if containsAny(ua, tabletMarkers) {
		return Tablet
	}
	return Mobile
}

func firstMatch(ua string, rules []rule) string {
	for _, r := range rules {
		if strings.Contains(ua, r.marker) {
			return r.label
		}
	}
	return Unknown
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
