package events

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecentForVisitors returns the newest events of the given visitors, newest first.
func RecentForVisitors(db *gorm.DB, visitorIDs []uint, limit int) ([]Event, error) {
	result := []Event{}
	if len(visitorIDs) == 0 {
		return result, nil
	}
	err := db.Where("visitor_id IN ?", visitorIDs).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&result).Error
	return result, err
}

// CountPageViewsSince counts page view events at or after since.
func CountPageViewsSince(db *gorm.DB, since time.Time) (int64, error) {
	var count int64
	err := db.Model(&Event{}).
		Where("event_type = ? AND timestamp >= ?", TypePageView, since).
		Count(&count).Error
	return count, err
}

// ClicksWithCoordinates returns click events whose URL contains urlFilter
// (case-insensitive) and whose payload carries numeric x and y values,
// newest first. The limit counts only those clicks.
func ClicksWithCoordinates(db *gorm.DB, urlFilter string, limit int) ([]Event, error) {
	result := []Event{}
	query := db.Where("event_type = ?", TypeClick).
		Where(datatypes.JSONQuery("data").HasKey("x")).
		Where(datatypes.JSONQuery("data").HasKey("y")).
		Where("json_type(data, '$.x') IN ('integer', 'real')").
		Where("json_type(data, '$.y') IN ('integer', 'real')")

	if filter := strings.ToLower(strings.TrimSpace(urlFilter)); filter != "" {
		query = query.Where("LOWER(url) LIKE ? ESCAPE '\\'", "%"+escapeLike(filter)+"%")
	}

	err := query.Order("timestamp DESC, id DESC").Limit(limit).Find(&result).Error
	return result, err
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
