package analytics

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/pkg/geoip"
	"sitepulse/internal/pkg/referrers"
	"sitepulse/internal/pkg/validation"
	"sitepulse/internal/visitors"
)

// ContactStats aggregates every visitor record identified with one email.
type ContactStats struct {
	Email          string          `json:"email"`
	Name           string          `json:"name,omitempty"`
	VisitorCount   int             `json:"visitor_count"`
	FirstSeen      time.Time       `json:"first_seen"`
	LastSeen       time.Time       `json:"last_seen"`
	TotalVisits    int             `json:"total_visits"`
	LeadSource     string          `json:"lead_source"`
	LeadSourceName string          `json:"lead_source_name"`
	LeadChannel    string          `json:"lead_channel"`
	TopDevice      string          `json:"top_device"`
	LeadScore      int             `json:"lead_score"`
	Location       *geoip.Location `json:"location,omitempty"`
}

// ContactActivityResult is returned by ContactActivity. Stats is nil when no
// visitor carries the email.
type ContactActivityResult struct {
	Stats  *ContactStats  `json:"stats"`
	Events []events.Event `json:"events"`
}

// VisitorSessionsResult is returned by VisitorSessions.
type VisitorSessionsResult struct {
	Stats    *ContactStats      `json:"stats"`
	Sessions []visitors.Session `json:"sessions"`
}

// ContactActivity returns the combined stats and newest events of every
// visitor identified with email.
func ContactActivity(db *gorm.DB, email string) (*ContactActivityResult, error) {
	defer observe("contact_activity")()

	matched, stats, err := contactStats(db, email)
	if err != nil {
		return nil, err
	}
	result := &ContactActivityResult{Stats: stats, Events: []events.Event{}}
	if stats == nil {
		return result, nil
	}

	result.Events, err = events.RecentForVisitors(db, visitorIDs(matched), ContactEventsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact events: %w", err)
	}
	return result, nil
}

// VisitorSessions returns the same stats as ContactActivity plus the
// location of the most recently seen visitor and the newest sessions.
func VisitorSessions(db *gorm.DB, email string) (*VisitorSessionsResult, error) {
	defer observe("visitor_sessions")()

	matched, stats, err := contactStats(db, email)
	if err != nil {
		return nil, err
	}
	result := &VisitorSessionsResult{Stats: stats, Sessions: []visitors.Session{}}
	if stats == nil {
		return result, nil
	}

	latest := matched[0]
	stats.Location = &geoip.Location{Country: latest.Country, City: latest.City, Region: latest.Region}

	err = db.Where("visitor_id IN ?", visitorIDs(matched)).
		Order("start_time DESC, id DESC").
		Limit(ContactSessionLimit).
		Find(&result.Sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load contact sessions: %w", err)
	}
	return result, nil
}

// contactStats loads the visitors for email, most recently seen first, and
// aggregates them. It returns nil stats when nothing matches.
func contactStats(db *gorm.DB, email string) ([]visitors.Visitor, *ContactStats, error) {
	email = visitors.NormalizeEmail(email)
	if email == "" {
		return nil, nil, validation.NewValidationError("email", "email is required")
	}

	var matched []visitors.Visitor
	err := db.Where("identified_email = ?", email).
		Order("last_seen DESC, id DESC").
		Find(&matched).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load contact visitors: %w", err)
	}
	if len(matched) == 0 {
		return nil, nil, nil
	}

	stats := &ContactStats{
		Email:        email,
		VisitorCount: len(matched),
		FirstSeen:    matched[0].FirstSeen,
		LastSeen:     matched[0].LastSeen,
	}
	for _, v := range matched {
		if v.FirstSeen.Before(stats.FirstSeen) {
			stats.FirstSeen = v.FirstSeen
		}
		if v.LastSeen.After(stats.LastSeen) {
			stats.LastSeen = v.LastSeen
		}
		stats.TotalVisits += v.TotalVisits
		stats.LeadScore += v.LeadScore
		if stats.Name == "" && v.IdentifiedName != "" {
			stats.Name = v.IdentifiedName
		}
	}

	ids := visitorIDs(matched)

	var first visitors.Session
	err = db.Where("visitor_id IN ?", ids).Order("start_time ASC, id ASC").First(&first).Error
	switch {
	case err == nil:
		stats.LeadSource = referrers.LeadSource(first.UTMSource, first.Referrer)
	case errors.Is(err, gorm.ErrRecordNotFound):
		stats.LeadSource = referrers.Direct
	default:
		return nil, nil, fmt.Errorf("failed to load first session: %w", err)
	}
	stats.LeadSourceName = referrers.FriendlyName(stats.LeadSource)
	stats.LeadChannel = referrers.Channel(stats.LeadSource)

	var devices []MetricCountResult
	err = db.Model(&visitors.Session{}).
		Select("device_type AS name, COUNT(*) AS count").
		Where("visitor_id IN ?", ids).
		Group("device_type").
		Order("count DESC, name ASC").
		Limit(1).
		Scan(&devices).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load contact devices: %w", err)
	}
	if len(devices) > 0 {
		stats.TopDevice = devices[0].Name
	} else {
		stats.TopDevice = matched[0].DeviceType
	}

	return matched, stats, nil
}

func visitorIDs(vs []visitors.Visitor) []uint {
	ids := make([]uint, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
	}
	return ids
}
