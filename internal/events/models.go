package events

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Known event types. Any other type string is stored verbatim as a custom event.
const (
	TypePageView   = "pageview"
	TypeClick      = "click"
	TypeFormSubmit = "form_submit"
)

// Event is one immutable interaction. Type, URL, timestamp and the session
// and visitor references form a fixed envelope; Data carries per-type fields
// such as click coordinates without a per-type schema.
type Event struct {
	ID        uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID uint              `gorm:"index;not null" json:"session_id"`
	VisitorID uint              `gorm:"index;not null" json:"visitor_id"`
	EventType string            `gorm:"index;not null" json:"type"`
	URL       string            `gorm:"not null;default:''" json:"url"`
	Data      datatypes.JSONMap `json:"data"`
	Timestamp time.Time         `gorm:"index;not null" json:"timestamp"`
	CreatedAt time.Time         `json:"-"`
}

// NormalizeType lower-cases and trims a client-supplied event type.
func NormalizeType(eventType string) string {
	return strings.ToLower(strings.TrimSpace(eventType))
}

// IsPageView reports whether the type counts towards page views.
func IsPageView(eventType string) bool {
	return NormalizeType(eventType) == TypePageView
}
