package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/pkg/async"
	"sitepulse/internal/timeframe"
	"sitepulse/internal/visitors"
)

const summaryWorkers = 4

// SummaryParams scopes a dashboard summary.
type SummaryParams struct {
	Range          timeframe.RangeLabel
	Now            time.Time
	Location       *time.Location
	RealtimeWindow time.Duration
}

// SummaryResult is the dashboard overview for one range.
type SummaryResult struct {
	Range          timeframe.RangeLabel `json:"range"`
	StartDate      time.Time            `json:"start_date"`
	TotalVisitors  int64                `json:"total_visitors"`
	ActiveCount    int                  `json:"active_count"`
	ActiveSessions []SessionActivity    `json:"active_sessions"`
	RecentHistory  []SessionActivity    `json:"recent_history"`
	TotalPageViews int64                `json:"total_page_views"`
	TotalSessions  int64                `json:"total_sessions"`
	AvgDuration    float64              `json:"avg_duration"`
	BounceRate     float64              `json:"bounce_rate"`
	Devices        []MetricCountResult  `json:"devices"`
	TrafficChart   []timeframe.Bucket   `json:"traffic_chart"`
}

type sessionStats struct {
	Sessions    int64
	AvgDuration float64
	SinglePage  int64
}

// Summary computes the overview for params.Range. The independent queries
// run concurrently; the first failing query fails the summary.
func Summary(ctx context.Context, db *gorm.DB, logger *slog.Logger, params SummaryParams) (*SummaryResult, error) {
	if params.Now.IsZero() {
		params.Now = time.Now()
	}
	if params.Location == nil {
		params.Location = time.UTC
	}
	if params.RealtimeWindow <= 0 {
		params.RealtimeWindow = 5 * time.Minute
	}
	if params.Range == "" {
		params.Range = timeframe.RangeToday
	}

	now := params.Now.UTC()
	start := timeframe.StartFor(params.Range, params.Now, params.Location).UTC()
	realtimeStart := now.Add(-params.RealtimeWindow)
	db = db.WithContext(ctx)

	tasks := []async.Task{
		{Name: "total_visitors", Run: func(ctx context.Context) (any, error) {
			return timed("summary_total_visitors", func() (any, error) {
				var count int64
				err := db.Model(&visitors.Visitor{}).Where("last_seen >= ?", start).Count(&count).Error
				return count, err
			})
		}},
		{Name: "active_sessions", Run: func(ctx context.Context) (any, error) {
			return timed("summary_active_sessions", func() (any, error) {
				rows := []SessionActivity{}
				err := sessionActivityQuery(db).
					Where("sessions.start_time >= ? OR sessions.end_time >= ?", realtimeStart, realtimeStart).
					Order("sessions.start_time DESC, sessions.id DESC").
					Scan(&rows).Error
				return withAliases(rows), err
			})
		}},
		{Name: "recent_history", Run: func(ctx context.Context) (any, error) {
			return timed("summary_recent_history", func() (any, error) {
				rows := []SessionActivity{}
				err := sessionActivityQuery(db).
					Where("sessions.end_time IS NOT NULL AND sessions.end_time < ?", realtimeStart).
					Order("sessions.start_time DESC, sessions.id DESC").
					Limit(RecentHistoryLimit).
					Scan(&rows).Error
				return withAliases(rows), err
			})
		}},
		{Name: "page_views", Run: func(ctx context.Context) (any, error) {
			return timed("summary_page_views", func() (any, error) {
				return events.CountPageViewsSince(db, start)
			})
		}},
		{Name: "session_stats", Run: func(ctx context.Context) (any, error) {
			return timed("summary_session_stats", func() (any, error) {
				var stats sessionStats
				err := db.Model(&visitors.Session{}).
					Select(`COUNT(*) AS sessions,
						COALESCE(AVG(duration), 0) AS avg_duration,
						COALESCE(SUM(CASE WHEN page_views = 1 THEN 1 ELSE 0 END), 0) AS single_page`).
					Where("start_time >= ?", start).
					Scan(&stats).Error
				return stats, err
			})
		}},
		{Name: "devices", Run: func(ctx context.Context) (any, error) {
			return timed("summary_devices", func() (any, error) {
				rows := []MetricCountResult{}
				err := db.Model(&visitors.Session{}).
					Select("device_type AS name, COUNT(*) AS count").
					Where("start_time >= ?", start).
					Group("device_type").
					Order("count DESC, name ASC").
					Scan(&rows).Error
				return rows, err
			})
		}},
		{Name: "traffic_chart", Run: func(ctx context.Context) (any, error) {
			return timed("summary_traffic_chart", func() (any, error) {
				return trafficChart(db, params.Range, params.Now, params.Location, start)
			})
		}},
	}

	results := async.NewPool(summaryWorkers).Execute(ctx, tasks)
	if err := async.FirstError(tasks, results); err != nil {
		logger.Error("Failed to compute summary",
			slog.String("range", string(params.Range)),
			slog.Any("error", err))
		return nil, fmt.Errorf("summary query failed: %w", err)
	}

	stats := results["session_stats"].Data.(sessionStats)
	active := results["active_sessions"].Data.([]SessionActivity)

	summary := &SummaryResult{
		Range:          params.Range,
		StartDate:      start,
		TotalVisitors:  results["total_visitors"].Data.(int64),
		ActiveCount:    len(active),
		ActiveSessions: active,
		RecentHistory:  results["recent_history"].Data.([]SessionActivity),
		TotalPageViews: results["page_views"].Data.(int64),
		TotalSessions:  stats.Sessions,
		AvgDuration:    stats.AvgDuration,
		Devices:        results["devices"].Data.([]MetricCountResult),
		TrafficChart:   results["traffic_chart"].Data.([]timeframe.Bucket),
	}
	if stats.Sessions > 0 {
		summary.BounceRate = float64(stats.SinglePage) / float64(stats.Sessions)
	}

	return summary, nil
}

func trafficChart(db *gorm.DB, label timeframe.RangeLabel, now time.Time, loc *time.Location, start time.Time) ([]timeframe.Bucket, error) {
	var starts []struct {
		VisitorID uint
		StartTime time.Time
	}
	err := db.Model(&visitors.Session{}).
		Select("visitor_id, start_time").
		Where("start_time >= ?", start).
		Scan(&starts).Error
	if err != nil {
		return nil, err
	}

	chart := timeframe.NewChart(label, now, loc)
	for _, s := range starts {
		chart.Record(s.StartTime, s.VisitorID)
	}
	return chart.Buckets(), nil
}

func timed(query string, fn func() (any, error)) (any, error) {
	defer observe(query)()
	return fn()
}
