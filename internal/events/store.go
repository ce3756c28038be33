package events

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrMissingSession is returned when an event has no owning session or visitor.
var ErrMissingSession = errors.New("event must reference a session and a visitor")

// AppendEvent writes an event. Events are never updated or deleted afterwards.
func AppendEvent(tx *gorm.DB, event *Event) error {
	if event.SessionID == 0 || event.VisitorID == 0 {
		return ErrMissingSession
	}
	event.EventType = NormalizeType(event.EventType)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = event.Timestamp
	}
	if event.Data == nil {
		event.Data = datatypes.JSONMap{}
	}
	if err := tx.Create(event).Error; err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.EventType, err)
	}
	return nil
}
