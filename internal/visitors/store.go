package visitors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/pkg/geoip"
)

// FindVisitorByKey returns gorm.ErrRecordNotFound when no visitor has the key.
func FindVisitorByKey(tx *gorm.DB, key string) (*Visitor, error) {
	var visitor Visitor
	if err := tx.Where("visitor_key = ?", key).First(&visitor).Error; err != nil {
		return nil, err
	}
	return &visitor, nil
}

// FindOrCreateVisitor loads the visitor for key, creating it when missing.
// created is true when this call inserted the row. A concurrent insert of
// the same key surfaces as a unique violation and is resolved by reading
// the winner's row.
func FindOrCreateVisitor(tx *gorm.DB, key string, now time.Time) (visitor *Visitor, created bool, err error) {
	visitor, err = FindVisitorByKey(tx, key)
	if err == nil {
		return visitor, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to find visitor: %w", err)
	}

	visitor = &Visitor{
		VisitorKey:  key,
		FirstSeen:   now,
		LastSeen:    now,
		TotalVisits: 1,
		Country:     geoip.Unknown,
		City:        geoip.Unknown,
		Region:      geoip.Unknown,
		DeviceType:  "Unknown",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Create(visitor).Error; err != nil {
		if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("failed to create visitor: %w", err)
		}
		existing, findErr := FindVisitorByKey(tx, key)
		if findErr != nil {
			return nil, false, fmt.Errorf("failed to load concurrently created visitor: %w", findErr)
		}
		return existing, false, nil
	}
	return visitor, true, nil
}

// TouchVisitor records a new request from the visitor. The new-visit check
// reads the LastSeen loaded before this call, then the update overwrites it.
// total_visits is incremented in SQL so concurrent touches do not lose counts.
func TouchVisitor(tx *gorm.DB, visitor *Visitor, now time.Time, window time.Duration, ip string, loc geoip.Location, deviceType string) (bool, error) {
	newVisit := IsNewVisit(visitor.LastSeen, now, window)

	updates := map[string]any{
		"last_seen":   now,
		"ip_address":  ip,
		"country":     loc.Country,
		"city":        loc.City,
		"region":      loc.Region,
		"device_type": deviceType,
		"updated_at":  now,
	}
	if newVisit {
		updates["total_visits"] = gorm.Expr("total_visits + ?", 1)
	}

	if err := tx.Model(&Visitor{}).Where("id = ?", visitor.ID).UpdateColumns(updates).Error; err != nil {
		return false, fmt.Errorf("failed to update visitor: %w", err)
	}

	visitor.LastSeen = now
	visitor.IPAddress = ip
	visitor.Country, visitor.City, visitor.Region = loc.Country, loc.City, loc.Region
	visitor.DeviceType = deviceType
	if newVisit {
		visitor.TotalVisits++
	}
	return newVisit, nil
}

// FindOpenSession returns the visitor's most recent session that is still
// open at now, or gorm.ErrRecordNotFound.
func FindOpenSession(tx *gorm.DB, visitorID uint, now time.Time, window time.Duration) (*Session, error) {
	var session Session
	err := tx.Where("visitor_id = ? AND start_time >= ?", visitorID, now.Add(-window)).
		Order("start_time DESC, id DESC").
		First(&session).Error
	if err != nil {
		return nil, err
	}
	if !IsOpen(&session, now, window) {
		return nil, gorm.ErrRecordNotFound
	}
	return &session, nil
}

// FindSession resolves a session by numeric id or by session key.
func FindSession(tx *gorm.DB, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, gorm.ErrRecordNotFound
	}

	var session Session
	query := tx.Where("session_key = ?", sessionID)
	if id, ok := parseID(sessionID); ok {
		query = tx.Where("id = ?", id)
	}
	if err := query.First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateSession inserts a new session.
func CreateSession(tx *gorm.DB, session *Session) error {
	if err := tx.Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// RecordPageView atomically bumps page_views and moves the exit page.
func RecordPageView(tx *gorm.DB, sessionID uint, url string, now time.Time) error {
	return bumpSession(tx, sessionID, "page_views", url, now)
}

// RecordInteraction atomically bumps events_count and moves the exit page.
func RecordInteraction(tx *gorm.DB, sessionID uint, url string, now time.Time) error {
	return bumpSession(tx, sessionID, "events_count", url, now)
}

func bumpSession(tx *gorm.DB, sessionID uint, counter, url string, now time.Time) error {
	updates := map[string]any{
		counter:      gorm.Expr(counter+" + ?", 1),
		"updated_at": now,
	}
	if url != "" {
		updates["exit_page"] = url
	}
	result := tx.Model(&Session{}).Where("id = ?", sessionID).UpdateColumns(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update session %s: %w", counter, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PulseSession stores the client-measured duration. This is the only writer
// of duration, end_time and is_bounce; bounce is inclusive of the threshold.
func PulseSession(tx *gorm.DB, sessionID uint, durationSeconds int, bounceThreshold int, now time.Time) error {
	result := tx.Model(&Session{}).Where("id = ?", sessionID).UpdateColumns(map[string]any{
		"end_time":   now,
		"duration":   durationSeconds,
		"is_bounce":  durationSeconds <= bounceThreshold,
		"updated_at": now,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update session duration: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IdentifyVisitor attaches an email, and the name when given, to a visitor.
// The email is never cleared: an empty email is ignored.
func IdentifyVisitor(tx *gorm.DB, visitorID uint, email, name string, now time.Time) error {
	updates := map[string]any{"updated_at": now}
	if email = NormalizeEmail(email); email != "" {
		updates["identified_email"] = email
	}
	if name = strings.TrimSpace(name); name != "" {
		updates["identified_name"] = name
	}

	result := tx.Model(&Visitor{}).Where("id = ?", visitorID).UpdateColumns(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to identify visitor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AddLeadScore adds points to the visitor's score in SQL. Non-positive
// amounts are ignored so the score never decreases.
func AddLeadScore(tx *gorm.DB, visitorID uint, points int) error {
	if points <= 0 {
		return nil
	}
	err := tx.Model(&Visitor{}).Where("id = ?", visitorID).
		UpdateColumn("lead_score", gorm.Expr("lead_score + ?", points)).Error
	if err != nil {
		return fmt.Errorf("failed to add lead score: %w", err)
	}
	return nil
}

// NormalizeEmail lower-cases and trims an email for storage and matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}
