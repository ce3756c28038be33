package visitors

import (
	"time"
)

// Visitor is a long-lived anonymous identity keyed by a client-persisted token.
type Visitor struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	VisitorKey      string    `gorm:"uniqueIndex;not null" json:"visitor_unique_id"`
	IPAddress       string    `gorm:"not null;default:''" json:"ip_address"`
	FirstSeen       time.Time `gorm:"not null" json:"first_seen"`
	LastSeen        time.Time `gorm:"not null;index" json:"last_seen"`
	TotalVisits     int       `gorm:"not null" json:"total_visits"`
	Country         string    `gorm:"not null;default:'Unknown';index" json:"country"`
	City            string    `gorm:"not null;default:'Unknown'" json:"city"`
	Region          string    `gorm:"not null;default:'Unknown'" json:"region"`
	DeviceType      string    `gorm:"not null;default:'Unknown'" json:"device_type"`
	IdentifiedEmail string    `gorm:"not null;default:'';index" json:"identified_email,omitempty"`
	IdentifiedName  string    `gorm:"not null;default:''" json:"identified_name,omitempty"`
	LeadScore       int       `gorm:"not null;default:0" json:"lead_score"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

// Session is a bounded visit window belonging to one visitor.
// A session has no stored open/closed flag; see IsOpen.
type Session struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	VisitorID        uint       `gorm:"not null;index" json:"visitor_id"`
	SessionKey       string     `gorm:"uniqueIndex;not null" json:"session_unique_id"`
	StartTime        time.Time  `gorm:"not null;index" json:"start_time"`
	EndTime          *time.Time `gorm:"index" json:"end_time"`
	Referrer         string     `gorm:"not null;default:''" json:"referrer"`
	LandingPage      string     `gorm:"not null;default:'';index" json:"landing_page"`
	ExitPage         string     `gorm:"not null;default:''" json:"exit_page"`
	UTMSource        string     `gorm:"column:utm_source;not null;default:''" json:"utm_source"`
	UTMMedium        string     `gorm:"column:utm_medium;not null;default:''" json:"utm_medium"`
	UTMCampaign      string     `gorm:"column:utm_campaign;not null;default:''" json:"utm_campaign"`
	UTMTerm          string     `gorm:"column:utm_term;not null;default:''" json:"utm_term"`
	UTMContent       string     `gorm:"column:utm_content;not null;default:''" json:"utm_content"`
	DeviceType       string     `gorm:"not null;default:'Unknown';index" json:"device_type"`
	Browser          string     `gorm:"not null;default:'Unknown'" json:"browser"`
	OS               string     `gorm:"column:os;not null;default:'Unknown'" json:"os"`
	ScreenResolution string     `gorm:"not null;default:''" json:"screen_resolution"`
	Timezone         string     `gorm:"not null;default:''" json:"timezone"`
	PageViews        int        `gorm:"not null;default:0" json:"page_views"`
	EventsCount      int        `gorm:"not null;default:0" json:"events_count"`
	Duration         int        `gorm:"not null;default:0" json:"duration"`
	IsBounce         bool       `gorm:"not null;default:false" json:"is_bounce"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}

// UTMParams are the campaign parameters captured when a session starts.
type UTMParams struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
	Term     string `json:"utm_term"`
	Content  string `json:"utm_content"`
}

// IsOpen reports whether a session started within window of now and can
// still absorb new page views. The window end is inclusive.
func IsOpen(s *Session, now time.Time, window time.Duration) bool {
	return now.Sub(s.StartTime) <= window
}

// IsNewVisit reports whether a visitor last seen at lastSeen starts a new
// visit at now, that is lastSeen is more than window in the past. It must be
// evaluated against the stored value before it is overwritten by the current
// request.
func IsNewVisit(lastSeen, now time.Time, window time.Duration) bool {
	return now.Sub(lastSeen) > window
}
