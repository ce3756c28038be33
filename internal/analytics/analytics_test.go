package analytics_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/analytics"
	"sitepulse/internal/events"
	"sitepulse/internal/pkg/validation"
	"sitepulse/internal/testsupport"
	"sitepulse/internal/timeframe"
)

func ptr(t time.Time) *time.Time { return &t }

func TestSummary(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

	summarize := func(t *testing.T, r timeframe.RangeLabel) *analytics.SummaryResult {
		t.Helper()
		result, err := analytics.Summary(context.Background(), db, logger, analytics.SummaryParams{
			Range:          r,
			Now:            now,
			Location:       time.UTC,
			RealtimeWindow: 5 * time.Minute,
		})
		require.NoError(t, err)
		return result
	}

	t.Run("today buckets sessions by start hour", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		starts := []time.Time{
			time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 2, 13, 30, 0, 0, time.UTC),
		}
		pageViews := []int{1, 3, 1}
		durations := []int{10, 100, 40}
		for i, start := range starts {
			v := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{LastSeen: start})
			s := testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{
				Start:     start,
				End:       ptr(start.Add(time.Duration(durations[i]) * time.Second)),
				PageViews: pageViews[i],
				Duration:  durations[i],
			})
			testsupport.CreateTestEvent(t, db, s, events.TypePageView, s.LandingPage, nil, start)
		}

		summary := summarize(t, timeframe.RangeToday)

		require.Len(t, summary.TrafficChart, 24)
		for _, b := range summary.TrafficChart {
			switch b.Label {
			case "09:00", "10:00", "13:00":
				assert.Equal(t, 1, b.Visitors, b.Label)
			default:
				assert.Zero(t, b.Visitors, b.Label)
			}
		}

		assert.Equal(t, int64(3), summary.TotalVisitors)
		assert.Equal(t, int64(3), summary.TotalSessions)
		assert.Equal(t, int64(3), summary.TotalPageViews)
		assert.InDelta(t, 50.0, summary.AvgDuration, 0.001)
		assert.InDelta(t, 2.0/3.0, summary.BounceRate, 0.001)
		assert.Equal(t, []analytics.MetricCountResult{{Name: "desktop", Count: 3}}, summary.Devices)

		assert.Zero(t, summary.ActiveCount)
		require.Len(t, summary.RecentHistory, 3)
		assert.True(t, summary.RecentHistory[0].StartTime.Equal(starts[2]))
		assert.NotEmpty(t, summary.RecentHistory[0].VisitorAlias)
		assert.True(t, summary.StartDate.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("active sessions use the realtime window", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		fresh := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "DE", LastSeen: now.Add(-3 * time.Minute)})
		testsupport.CreateTestSession(t, db, fresh, testsupport.SessionFixture{Start: now.Add(-3 * time.Minute)})

		pulsing := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{LastSeen: now.Add(-2 * time.Hour)})
		testsupport.CreateTestSession(t, db, pulsing, testsupport.SessionFixture{
			Start: now.Add(-2 * time.Hour),
			End:   ptr(now.Add(-1 * time.Minute)),
		})

		gone := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{LastSeen: now.Add(-3 * time.Hour)})
		testsupport.CreateTestSession(t, db, gone, testsupport.SessionFixture{
			Start: now.Add(-3 * time.Hour),
			End:   ptr(now.Add(-150 * time.Minute)),
		})

		summary := summarize(t, timeframe.RangeToday)

		assert.Equal(t, 2, summary.ActiveCount)
		require.Len(t, summary.ActiveSessions, 2)
		assert.Equal(t, "DE", summary.ActiveSessions[0].Country)
		assert.Equal(t, fresh.VisitorKey, summary.ActiveSessions[0].VisitorKey)

		require.Len(t, summary.RecentHistory, 1)
		assert.Equal(t, gone.ID, summary.RecentHistory[0].VisitorID)
	})

	t.Run("rolling ranges reach back past midnight", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		threeDaysAgo := now.Add(-72 * time.Hour)
		v := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{LastSeen: threeDaysAgo})
		testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{Start: threeDaysAgo})

		today := summarize(t, timeframe.RangeToday)
		assert.Zero(t, today.TotalVisitors)
		assert.Zero(t, today.TotalSessions)
		assert.Zero(t, today.BounceRate)

		week := summarize(t, timeframe.RangeWeek)
		assert.Equal(t, int64(1), week.TotalVisitors)
		require.Len(t, week.TrafficChart, 7)
		assert.Equal(t, "02-27", week.TrafficChart[3].Label)
		assert.Equal(t, 1, week.TrafficChart[3].Visitors)

		month := summarize(t, timeframe.RangeMonth)
		assert.Len(t, month.TrafficChart, 30)
		assert.Equal(t, int64(1), month.TotalSessions)
	})

	t.Run("empty store serialises empty lists", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		raw, err := json.Marshal(summarize(t, timeframe.RangeToday))
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"active_sessions":[]`)
		assert.Contains(t, string(raw), `"devices":[]`)
	})
}

func TestContactActivity(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	day := func(d int) time.Time { return time.Date(2026, 2, d, 12, 0, 0, 0, time.UTC) }

	t.Run("unknown email returns null stats and no events", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		result, err := analytics.ContactActivity(db, "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, result.Stats)
		assert.NotNil(t, result.Events)
		assert.Empty(t, result.Events)

		raw, err := json.Marshal(result)
		require.NoError(t, err)
		assert.JSONEq(t, `{"stats":null,"events":[]}`, string(raw))
	})

	t.Run("empty email is a validation error", func(t *testing.T) {
		_, err := analytics.ContactActivity(db, "  ")
		require.Error(t, err)
		assert.True(t, validation.IsValidationError(err))
	})

	t.Run("aggregates every visitor with the email", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		laptop := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{
			Email: "lead@example.com", FirstSeen: day(1), LastSeen: day(2), Visits: 2, LeadScore: 10, Device: "mobile",
		})
		phone := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{
			Email: "Lead@Example.com", Name: "Lin", FirstSeen: day(3), LastSeen: day(4), Visits: 1, LeadScore: 25,
		})
		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Email: "other@example.com"})

		s1 := testsupport.CreateTestSession(t, db, laptop, testsupport.SessionFixture{
			Start: day(1), Referrer: "https://www.google.com/search?q=crm", Device: "mobile",
		})
		s2 := testsupport.CreateTestSession(t, db, laptop, testsupport.SessionFixture{Start: day(2), Device: "mobile"})
		s3 := testsupport.CreateTestSession(t, db, phone, testsupport.SessionFixture{Start: day(3), UTMSource: "newsletter"})

		testsupport.CreateTestEvent(t, db, s1, events.TypePageView, "https://example.com/", nil, day(1))
		testsupport.CreateTestEvent(t, db, s2, events.TypeClick, "https://example.com/pricing", map[string]any{"x": 1, "y": 2}, day(2))
		testsupport.CreateTestEvent(t, db, s3, events.TypeFormSubmit, "https://example.com/contact", nil, day(3))

		result, err := analytics.ContactActivity(db, " LEAD@example.com ")
		require.NoError(t, err)
		require.NotNil(t, result.Stats)

		stats := result.Stats
		assert.Equal(t, "lead@example.com", stats.Email)
		assert.Equal(t, 2, stats.VisitorCount)
		assert.True(t, stats.FirstSeen.Equal(day(1)))
		assert.True(t, stats.LastSeen.Equal(day(4)))
		assert.Equal(t, 3, stats.TotalVisits)
		assert.Equal(t, 35, stats.LeadScore)
		assert.Equal(t, "Lin", stats.Name)
		assert.Equal(t, "www.google.com", stats.LeadSource)
		assert.Equal(t, "Google", stats.LeadSourceName)
		assert.Equal(t, "Search", stats.LeadChannel)
		assert.Equal(t, "mobile", stats.TopDevice)
		assert.Nil(t, stats.Location)

		require.Len(t, result.Events, 3)
		assert.Equal(t, events.TypeFormSubmit, result.Events[0].EventType)
		assert.Equal(t, events.TypePageView, result.Events[2].EventType)
	})

	t.Run("utm source wins and malformed referrers fall back to direct", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		utm := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Email: "utm@example.com"})
		testsupport.CreateTestSession(t, db, utm, testsupport.SessionFixture{
			Referrer: "https://news.ycombinator.com/item?id=1", UTMSource: "launch-week",
		})

		broken := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Email: "broken@example.com"})
		testsupport.CreateTestSession(t, db, broken, testsupport.SessionFixture{Referrer: "://not a url"})

		result, err := analytics.ContactActivity(db, "utm@example.com")
		require.NoError(t, err)
		assert.Equal(t, "launch-week", result.Stats.LeadSource)
		assert.Equal(t, "Campaign", result.Stats.LeadChannel)

		result, err = analytics.ContactActivity(db, "broken@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Direct", result.Stats.LeadSource)
		assert.Equal(t, "Direct", result.Stats.LeadChannel)
	})
}

func TestVisitorSessions(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	t.Run("returns sessions newest first with the latest location", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		base := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
		older := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{
			Email: "sam@example.com", Country: "FR", City: "Paris", LastSeen: base,
		})
		newer := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{
			Email: "sam@example.com", Country: "ES", City: "Madrid", Region: "MD", LastSeen: base.Add(48 * time.Hour),
		})
		testsupport.CreateTestSession(t, db, older, testsupport.SessionFixture{Start: base})
		testsupport.CreateTestSession(t, db, newer, testsupport.SessionFixture{Start: base.Add(48 * time.Hour), LandingPage: "https://example.com/blog"})

		result, err := analytics.VisitorSessions(db, "sam@example.com")
		require.NoError(t, err)
		require.NotNil(t, result.Stats)
		require.NotNil(t, result.Stats.Location)
		assert.Equal(t, "ES", result.Stats.Location.Country)
		assert.Equal(t, "Madrid", result.Stats.Location.City)
		assert.Equal(t, "MD", result.Stats.Location.Region)

		require.Len(t, result.Sessions, 2)
		assert.Equal(t, "https://example.com/blog", result.Sessions[0].LandingPage)
	})

	t.Run("no match returns empty sessions", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		result, err := analytics.VisitorSessions(db, "ghost@example.com")
		require.NoError(t, err)
		assert.Nil(t, result.Stats)
		assert.Empty(t, result.Sessions)
	})
}

func TestHeatmap(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("top pages by session count", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		v := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{})
		for i := 0; i < 3; i++ {
			testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{LandingPage: "https://example.com/pricing"})
		}
		testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{LandingPage: "https://example.com/"})

		pages, err := analytics.HeatmapTopPages(db)
		require.NoError(t, err)
		require.Len(t, pages, 2)
		assert.Equal(t, analytics.PageCount{URL: "https://example.com/pricing", Sessions: 3}, pages[0])
	})

	t.Run("clicks need numeric coordinates and a matching url", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		v := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{})
		s := testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{})

		testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/Pricing",
			map[string]any{"x": 120, "y": 45.5, "viewport": map[string]any{"width": 1280, "height": 800}, "selector": "button.buy", "text": "Buy"}, now)
		testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/pricing",
			map[string]any{"x": "12", "y": 30}, now)
		testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/pricing",
			map[string]any{"x": 5}, now)
		testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/about",
			map[string]any{"x": 1, "y": 1}, now)
		testsupport.CreateTestEvent(t, db, s, events.TypePageView, "https://example.com/pricing",
			map[string]any{"x": 1, "y": 1}, now)

		clicks, err := analytics.HeatmapClicks(db, "PRICING")
		require.NoError(t, err)
		require.Len(t, clicks, 1)
		assert.Equal(t, 120.0, clicks[0].X)
		assert.Equal(t, 45.5, clicks[0].Y)
		assert.Equal(t, "button.buy", clicks[0].Selector)
		assert.Equal(t, "Buy", clicks[0].Text)
		assert.NotNil(t, clicks[0].Viewport)

		all, err := analytics.HeatmapClicks(db, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("limit counts only clicks with numeric coordinates", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		v := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{})
		s := testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{})
		older := now.Add(-time.Hour)
		for i := 0; i < 5; i++ {
			testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/p",
				map[string]any{"x": i, "y": 10}, older)
		}
		for i := 0; i < analytics.HeatmapClicksLimit; i++ {
			testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/p",
				map[string]any{"x": "1", "y": "2"}, now)
		}

		clicks, err := analytics.HeatmapClicks(db, "/p")
		require.NoError(t, err)
		assert.Len(t, clicks, 5)
	})

	t.Run("like wildcards in the filter are literal", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		v := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{})
		s := testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{})
		testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/a", map[string]any{"x": 1, "y": 1}, now)

		clicks, err := analytics.HeatmapClicks(db, "%")
		require.NoError(t, err)
		assert.Empty(t, clicks)
	})
}

func TestGeoStats(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	t.Run("excludes unknown even when it is the largest bucket", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		for i := 0; i < 4; i++ {
			testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{})
		}
		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "US"})
		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "US"})
		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "DE"})

		stats, err := analytics.GeoStats(db)
		require.NoError(t, err)
		assert.Equal(t, []analytics.GeoStat{
			{ID: "US", Value: 2, Name: "United States"},
			{ID: "DE", Value: 1, Name: "Germany"},
		}, stats)
	})

	t.Run("codes differing only in case are merged", func(t *testing.T) {
		testsupport.CleanAllTables(db)

		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "FR"})
		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "de"})
		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "DE"})
		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: " de "})
		testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "unknown"})

		stats, err := analytics.GeoStats(db)
		require.NoError(t, err)
		assert.Equal(t, []analytics.GeoStat{
			{ID: "DE", Value: 3, Name: "Germany"},
			{ID: "FR", Value: 1, Name: "France"},
		}, stats)
	})

	t.Run("unrecognised codes keep the code as name", func(t *testing.T) {
		assert.Equal(t, "XX", analytics.CountryName("XX"))
	})
}
