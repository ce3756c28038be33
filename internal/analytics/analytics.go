// Package analytics answers dashboard queries directly from the visitor,
// session and event tables. Nothing is cached or pre-aggregated: every call
// reads the current store contents.
package analytics

import (
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/pkg/metrics"
	"sitepulse/internal/visitors"
)

// Maximum rows returned by list queries.
const (
	RecentHistoryLimit  = 50
	ContactEventsLimit  = 50
	ContactSessionLimit = 50
	TopPagesLimit       = 10
	HeatmapClicksLimit  = 2000
)

// MetricCountResult represents a generic key-count pair for query results
type MetricCountResult struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// SessionActivity is a session joined with the visitor fields the live view shows.
type SessionActivity struct {
	visitors.Session
	VisitorKey      string `json:"visitor_unique_id"`
	VisitorAlias    string `json:"visitor_alias" gorm:"-"`
	Country         string `json:"country"`
	City            string `json:"city"`
	IdentifiedEmail string `json:"identified_email,omitempty"`
	IdentifiedName  string `json:"identified_name,omitempty"`
	LeadScore       int    `json:"lead_score"`
}

// sessionActivityQuery selects sessions with their owning visitor. Callers
// must qualify columns in conditions with the table name.
func sessionActivityQuery(db *gorm.DB) *gorm.DB {
	return db.Table("sessions").
		Select(`sessions.*,
			visitors.visitor_key AS visitor_key,
			visitors.country AS country,
			visitors.city AS city,
			visitors.identified_email AS identified_email,
			visitors.identified_name AS identified_name,
			visitors.lead_score AS lead_score`).
		Joins("JOIN visitors ON visitors.id = sessions.visitor_id")
}

func withAliases(rows []SessionActivity) []SessionActivity {
	for i := range rows {
		rows[i].VisitorAlias = visitors.VisitorAlias(rows[i].VisitorKey)
	}
	return rows
}

// observe starts a query timer; call the returned func when the query is done.
func observe(query string) func() {
	start := time.Now()
	return func() { metrics.ObserveQuery(query, start) }
}
