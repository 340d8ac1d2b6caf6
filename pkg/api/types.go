package api

import (
	"github.com/platinummonkey/glimpse/pkg/consent"
	"github.com/platinummonkey/glimpse/pkg/ledger"
)

// TrackPageViewRequest is the body of POST /v1/pageviews.
type TrackPageViewRequest struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// TrackEventRequest is the body of POST /v1/events.
type TrackEventRequest struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data,omitempty"`
	Path string                 `json:"path,omitempty"`
}

// CaptureResponse wraps a captured record. Warning is set when the record
// was built but not durably stored.
type CaptureResponse struct {
	Record  interface{} `json:"record,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

// SuppressedResponse answers a capture the consent gate turned away.
type SuppressedResponse struct {
	Suppressed bool `json:"suppressed"`
}

// ConsentStatus is the body of GET /v1/consent. Prompt is true until the
// visitor has made a choice.
type ConsentStatus struct {
	Decision *consent.Decision `json:"decision"`
	Prompt   bool              `json:"prompt"`
}

// ConsentRequest is the body of PUT /v1/consent.
type ConsentRequest struct {
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

// ConsentResponse answers PUT /v1/consent.
type ConsentResponse struct {
	Record  *ledger.ConsentRecord `json:"record"`
	Warning string                `json:"warning,omitempty"`
}

// Navigation actions accepted by POST /v1/navigation.
const (
	NavPush    = "push"
	NavReplace = "replace"
	NavBack    = "back"
	NavForward = "forward"
	NavNotify  = "notify"
)

// NavigationRequest is the body of POST /v1/navigation. Path is required
// for push, replace and notify.
type NavigationRequest struct {
	Action string `json:"action"`
	Path   string `json:"path,omitempty"`
}

// NavigationResponse reports the last observed path after the action.
type NavigationResponse struct {
	Action   string `json:"action"`
	Location string `json:"location"`
}

// EnvironmentRequest is the body of PUT /v1/environment. Absent fields are
// left unchanged.
type EnvironmentRequest struct {
	UserAgent    *string `json:"userAgent,omitempty"`
	ScreenWidth  *int    `json:"screenWidth,omitempty"`
	ScreenHeight *int    `json:"screenHeight,omitempty"`
	Path         *string `json:"path,omitempty"`
	Title        *string `json:"title,omitempty"`
	Referrer     *string `json:"referrer,omitempty"`
	Country      *string `json:"country,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
