package ledger

import (
	"time"

	"github.com/google/uuid"
)

// ID prefixes per record kind.
const (
	PageViewIDPrefix = "pv"
	EventIDPrefix    = "evt"
	SessionIDPrefix  = "session"
	ConsentIDPrefix  = "consent"
)

// NewID returns prefix_<random uuid>.
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// PageView is one captured navigation to a path.
type PageView struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId,omitempty"`
	Path         string    `json:"pagePath"`
	Title        string    `json:"pageTitle,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	DeviceType   string    `json:"deviceType,omitempty"`
	Browser      string    `json:"browser,omitempty"`
	OS           string    `json:"os,omitempty"`
	ScreenWidth  int       `json:"screenWidth,omitempty"`
	ScreenHeight int       `json:"screenHeight,omitempty"`
	Country      string    `json:"country,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Event is a named custom event with an optional free-form payload.
type Event struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionId"`
	UserID    string                 `json:"userId,omitempty"`
	Name      string                 `json:"eventName"`
	Payload   map[string]interface{} `json:"eventData,omitempty"`
	Path      string                 `json:"pagePath,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Session is one visit. IsBounce == (PageCount <= 1) after every mutation.
type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId,omitempty"`
	StartedAt       time.Time  `json:"sessionStart"`
	EndedAt         *time.Time `json:"sessionEnd,omitempty"`
	PageCount       int        `json:"pageCount"`
	IsBounce        bool       `json:"bounce"`
	DurationSeconds *int64     `json:"duration,omitempty"`
	EntryPath       string     `json:"entryPage,omitempty"`
	ExitPath        string     `json:"exitPage,omitempty"`
	Referrer        string     `json:"referrer,omitempty"`
	DeviceType      string     `json:"deviceType,omitempty"`
	Browser         string     `json:"browser,omitempty"`
	OS              string     `json:"os,omitempty"`
}

// SessionPatch carries the fields UpdateSession may change. nil leaves the
// stored value alone.
type SessionPatch struct {
	EndedAt         *time.Time
	PageCount       *int
	IsBounce        *bool
	DurationSeconds *int64
	ExitPath        *string
	UserID          *string
}

func (p SessionPatch) apply(s *Session) {
	if p.EndedAt != nil {
		t := *p.EndedAt
		s.EndedAt = &t
	}
	if p.PageCount != nil {
		s.PageCount = *p.PageCount
	}
	if p.IsBounce != nil {
		s.IsBounce = *p.IsBounce
	}
	if p.DurationSeconds != nil {
		d := *p.DurationSeconds
		s.DurationSeconds = &d
	}
	if p.ExitPath != nil {
		s.ExitPath = *p.ExitPath
	}
	if p.UserID != nil {
		s.UserID = *p.UserID
	}
}

// ConsentRecord is an append-only audit entry of a consent decision.
type ConsentRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Necessary bool      `json:"necessary"`
	Analytics bool      `json:"analytics"`
	Marketing bool      `json:"marketing"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of all four collections in insertion order.
type Snapshot struct {
	PageViews []PageView      `json:"pageviews"`
	Events    []Event         `json:"events"`
	Sessions  []Session       `json:"sessions"`
	Consents  []ConsentRecord `json:"consents"`
}
