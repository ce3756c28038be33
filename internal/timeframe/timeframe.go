// Package timeframe resolves dashboard ranges to start dates and builds
// zero-filled chart buckets in the reporting timezone.
package timeframe

import (
	"fmt"
	"strings"
	"time"

	"sitepulse/internal/pkg/validation"
)

// RangeLabel is a dashboard range.
type RangeLabel string

const (
	RangeToday RangeLabel = "today"
	RangeWeek  RangeLabel = "week"
	RangeMonth RangeLabel = "month"
)

// BucketSize is the width of a chart bucket.
type BucketSize string

const (
	BucketHour BucketSize = "hour"
	BucketDay  BucketSize = "day"
)

const dayLabelFormat = "01-02"

// ParseRange maps a query value to a range. Empty means today.
func ParseRange(raw string) (RangeLabel, error) {
	switch label := RangeLabel(strings.ToLower(strings.TrimSpace(raw))); label {
	case "":
		return RangeToday, nil
	case RangeToday, RangeWeek, RangeMonth:
		return label, nil
	default:
		return "", validation.NewValidationError("range", fmt.Sprintf("range must be one of today, week, month (got %q)", raw))
	}
}

// StartFor returns the inclusive lower bound of a range. Today starts at
// local midnight; week and month are rolling 7 and 30 day windows.
func StartFor(label RangeLabel, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	switch label {
	case RangeWeek:
		return now.Add(-7 * 24 * time.Hour)
	case RangeMonth:
		return now.Add(-30 * 24 * time.Hour)
	default:
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	}
}

// BucketSizeFor returns hourly buckets for today and daily buckets otherwise.
func BucketSizeFor(label RangeLabel) BucketSize {
	if label == RangeWeek || label == RangeMonth {
		return BucketDay
	}
	return BucketHour
}

// Bucket is one point of the traffic chart.
type Bucket struct {
	Label    string `json:"label"`
	Visitors int    `json:"visitors"`
}

// Chart accumulates distinct visitors per bucket. All buckets exist from
// construction so empty periods report zero.
type Chart struct {
	size    BucketSize
	loc     *time.Location
	buckets []Bucket
	index   map[string]int
	seen    map[string]map[uint]struct{}
}

// NewChart builds the buckets for label ending at now: the 24 hours of the
// local day for today, or the last 7 or 30 local calendar days.
func NewChart(label RangeLabel, now time.Time, loc *time.Location) *Chart {
	if loc == nil {
		loc = time.UTC
	}
	c := &Chart{
		size:  BucketSizeFor(label),
		loc:   loc,
		index: make(map[string]int),
		seen:  make(map[string]map[uint]struct{}),
	}

	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch label {
	case RangeWeek, RangeMonth:
		days := 7
		if label == RangeMonth {
			days = 30
		}
		for i := days - 1; i >= 0; i-- {
			c.add(midnight.AddDate(0, 0, -i).Format(dayLabelFormat))
		}
	default:
		for h := 0; h < 24; h++ {
			c.add(hourLabel(h))
		}
	}
	return c
}

func (c *Chart) add(label string) {
	c.index[label] = len(c.buckets)
	c.buckets = append(c.buckets, Bucket{Label: label})
}

// LabelFor returns the bucket label ts falls into.
func (c *Chart) LabelFor(ts time.Time) string {
	if c.size == BucketDay {
		return ts.In(c.loc).Format(dayLabelFormat)
	}
	return hourLabel(ts.In(c.loc).Hour())
}

// Record counts visitorID in the bucket containing ts. Repeat visitors in
// a bucket count once; timestamps outside every bucket are ignored.
func (c *Chart) Record(ts time.Time, visitorID uint) {
	label := c.LabelFor(ts)
	i, ok := c.index[label]
	if !ok {
		return
	}
	visitorsInBucket, ok := c.seen[label]
	if !ok {
		visitorsInBucket = make(map[uint]struct{})
		c.seen[label] = visitorsInBucket
	}
	if _, dup := visitorsInBucket[visitorID]; dup {
		return
	}
	visitorsInBucket[visitorID] = struct{}{}
	c.buckets[i].Visitors++
}

// Buckets returns the chart in chronological order.
func (c *Chart) Buckets() []Bucket {
	out := make([]Bucket, len(c.buckets))
	copy(out, c.buckets)
	return out
}

func hourLabel(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}
