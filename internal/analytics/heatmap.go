package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/visitors"
)

// PageCount is a landing page with its session count.
type PageCount struct {
	URL      string `json:"url"`
	Sessions int64  `json:"sessions"`
}

// ClickPoint is a click projected for heatmap rendering.
type ClickPoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Viewport any     `json:"viewport,omitempty"`
	Selector string  `json:"selector,omitempty"`
	Text     string  `json:"text,omitempty"`
}

// HeatmapTopPages returns the most common landing pages.
func HeatmapTopPages(db *gorm.DB) ([]PageCount, error) {
	defer observe("heatmap_pages")()

	pages := []PageCount{}
	err := db.Model(&visitors.Session{}).
		Select("landing_page AS url, COUNT(*) AS sessions").
		Where("landing_page <> ''").
		Group("landing_page").
		Order("sessions DESC, url ASC").
		Limit(TopPagesLimit).
		Scan(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load heatmap pages: %w", err)
	}
	return pages, nil
}

// HeatmapClicks returns click coordinates for pages whose URL contains
// urlFilter. Events whose x or y is not a finite number are skipped.
func HeatmapClicks(db *gorm.DB, urlFilter string) ([]ClickPoint, error) {
	defer observe("heatmap_clicks")()

	rows, err := events.ClicksWithCoordinates(db, urlFilter, HeatmapClicksLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load heatmap clicks: %w", err)
	}

	points := make([]ClickPoint, 0, len(rows))
	for _, e := range rows {
		x, okX := numeric(e.Data["x"])
		y, okY := numeric(e.Data["y"])
		if !okX || !okY {
			continue
		}
		points = append(points, ClickPoint{
			X:        x,
			Y:        y,
			Viewport: e.Data["viewport"],
			Selector: stringValue(e.Data["selector"]),
			Text:     stringValue(e.Data["text"]),
		})
	}
	return points, nil
}

// numeric accepts JSON numbers only; numeric-looking strings are rejected.
func numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
