package http_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/events"
	"sitepulse/internal/testsupport"
)

func TestSummaryAction(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("defaults to today", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		now := time.Now().UTC()
		v := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{LastSeen: now})
		testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{Start: now.Add(-time.Minute)})

		var out map[string]any
		status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/summary", nil, nil, &out)
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "today", out["range"])
		assert.EqualValues(t, 1, out["active_count"])
		assert.Len(t, out["traffic_chart"], 24)
	})

	t.Run("week and month ranges", func(t *testing.T) {
		for rangeLabel, buckets := range map[string]int{"week": 7, "month": 30} {
			var out map[string]any
			status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/summary?range="+rangeLabel, nil, nil, &out)
			require.Equal(t, fiber.StatusOK, status)
			assert.Equal(t, rangeLabel, out["range"])
			assert.Len(t, out["traffic_chart"], buckets)
		}
	})

	t.Run("unknown range is rejected", func(t *testing.T) {
		status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/summary?range=decade", nil, nil, nil)
		assert.Equal(t, fiber.StatusBadRequest, status)
	})
}

func TestContactEndpoints(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	testsupport.CleanAllTables(db)

	v := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{
		Email:   "buyer@example.com",
		Name:    "Buyer",
		Country: "DE",
		City:    "Berlin",
	})
	s := testsupport.CreateTestSession(t, db, v, testsupport.SessionFixture{Referrer: "https://www.google.com/"})
	testsupport.CreateTestEvent(t, db, s, events.TypePageView, s.LandingPage, nil, s.StartTime)

	t.Run("contact activity", func(t *testing.T) {
		var out struct {
			Stats struct {
				Email      string `json:"email"`
				LeadSource string `json:"lead_source"`
			} `json:"stats"`
			Events []map[string]any `json:"events"`
		}
		status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/contact-activity?email=Buyer@Example.com", nil, nil, &out)
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "buyer@example.com", out.Stats.Email)
		assert.Equal(t, "www.google.com", out.Stats.LeadSource)
		assert.Len(t, out.Events, 1)
	})

	t.Run("unknown contact has null stats", func(t *testing.T) {
		var out map[string]any
		status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/contact-activity?email=nobody@example.com", nil, nil, &out)
		require.Equal(t, fiber.StatusOK, status)
		assert.Nil(t, out["stats"])
		assert.Equal(t, []any{}, out["events"])
	})

	t.Run("visitor sessions include location", func(t *testing.T) {
		var out struct {
			Stats struct {
				Location struct {
					Country string `json:"country"`
					City    string `json:"city"`
				} `json:"location"`
			} `json:"stats"`
			Sessions []map[string]any `json:"sessions"`
		}
		status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/visitor-sessions?email=buyer@example.com", nil, nil, &out)
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "DE", out.Stats.Location.Country)
		assert.Equal(t, "Berlin", out.Stats.Location.City)
		assert.Len(t, out.Sessions, 1)
	})

	t.Run("email is required", func(t *testing.T) {
		for _, path := range []string{"/tracking/contact-activity", "/tracking/visitor-sessions"} {
			var out map[string]any
			status := testsupport.DoJSON(t, app, fiber.MethodGet, path, nil, nil, &out)
			assert.Equal(t, fiber.StatusBadRequest, status, path)
			assert.NotEmpty(t, out["error"])
		}
	})
}

func TestHeatmapAndGeoActions(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	testsupport.CleanAllTables(db)

	now := time.Now().UTC()
	us := testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "US"})
	testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "US"})
	testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{Country: "de"})
	testsupport.CreateTestVisitor(t, db, testsupport.VisitorFixture{})

	s := testsupport.CreateTestSession(t, db, us, testsupport.SessionFixture{LandingPage: "https://example.com/pricing"})
	testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/pricing", map[string]any{"x": 10, "y": 20, "selector": "a.cta"}, now)
	testsupport.CreateTestEvent(t, db, s, events.TypeClick, "https://example.com/pricing", map[string]any{"x": "10", "y": 20}, now)

	t.Run("heatmap without url lists top pages", func(t *testing.T) {
		var out struct {
			Pages []struct {
				URL      string `json:"url"`
				Sessions int64  `json:"sessions"`
			} `json:"pages"`
		}
		status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/heatmap", nil, nil, &out)
		require.Equal(t, fiber.StatusOK, status)
		require.Len(t, out.Pages, 1)
		assert.Equal(t, "https://example.com/pricing", out.Pages[0].URL)
	})

	t.Run("heatmap with url returns numeric clicks", func(t *testing.T) {
		var out struct {
			Clicks []map[string]any `json:"clicks"`
		}
		status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/heatmap?url=PRICING", nil, nil, &out)
		require.Equal(t, fiber.StatusOK, status)
		require.Len(t, out.Clicks, 1)
		assert.EqualValues(t, 10, out.Clicks[0]["x"])
		assert.Equal(t, "a.cta", out.Clicks[0]["selector"])
	})

	t.Run("geo excludes unknown countries", func(t *testing.T) {
		var out []struct {
			ID    string `json:"id"`
			Value int64  `json:"value"`
			Name  string `json:"name"`
		}
		status := testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/geo", nil, nil, &out)
		require.Equal(t, fiber.StatusOK, status)
		require.Len(t, out, 2)
		assert.Equal(t, "US", out[0].ID)
		assert.Equal(t, int64(2), out[0].Value)
		assert.Equal(t, "DE", out[1].ID)
		assert.Equal(t, "Germany", out[1].Name)
	})
}

func TestExcludedIPsActions(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	var out struct {
		IPs []string `json:"ips"`
	}
	status := testsupport.DoJSON(t, app, fiber.MethodPost, "/tracking/settings/excluded-ips", map[string]any{
		"ips": []string{"198.51.100.30", " ::ffff:198.51.100.31 ", "198.51.100.30", ""},
	}, nil, &out)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []string{"198.51.100.30", "198.51.100.31"}, out.IPs)

	out.IPs = nil
	status = testsupport.DoJSON(t, app, fiber.MethodGet, "/tracking/settings/excluded-ips", nil, nil, &out)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []string{"198.51.100.30", "198.51.100.31"}, out.IPs)

	t.Run("excluded address is not recorded", func(t *testing.T) {
		var res map[string]any
		status := testsupport.DoJSON(t, app, fiber.MethodPost, "/tracking/init", map[string]any{
			"url": "https://example.com/",
		}, map[string]string{"X-Forwarded-For": "198.51.100.31"}, &res)
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "dev_session", res["session_id"])
	})

	t.Run("invalid address is rejected", func(t *testing.T) {
		status := testsupport.DoJSON(t, app, fiber.MethodPost, "/tracking/settings/excluded-ips", map[string]any{
			"ips": []string{"999.1.1.1"},
		}, nil, nil)
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	// Reset so other tests in the process are not affected by the cached list.
	status = testsupport.DoJSON(t, app, fiber.MethodPost, "/tracking/settings/excluded-ips", map[string]any{"ips": []string{}}, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
}

func TestHealthAndMetrics(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	var health map[string]any
	status := testsupport.DoJSON(t, app, fiber.MethodGet, "/_health", nil, nil, &health)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["db_status"])

	// One ingestion call so the counters have a sample.
	testsupport.DoJSON(t, app, fiber.MethodPost, "/tracking/event", map[string]any{
		"session_id": "dev_session",
		"type":       "click",
	}, nil, nil)

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "sitepulse_ingestion_operations_total"))
}
