// Package seeder generates sample traffic by replaying synthetic visits
// through the ingestion service, so every row it writes goes through the
// same session, scoring and geo logic as real traffic.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/pkg/geoip"
	"sitepulse/internal/tracking"
	"sitepulse/internal/visitors"
)

// Seeder replays generated visitor journeys.
type Seeder struct {
	DBManager    cartridge.DBManager
	Logger       *slog.Logger
	VisitorCount int
	BaseURL      string
	// Days spreads first visits over this many days before now.
	Days int
}

// Stats counts what a run produced.
type Stats struct {
	Visitors   int
	Sessions   int
	Events     int
	Identified int
	Skipped    int
}

// NewSeeder creates a seeder for visitorCount visitors on baseURL.
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, visitorCount int, baseURL string) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:    dbManager,
		Logger:       logger,
		VisitorCount: visitorCount,
		BaseURL:      baseURL,
		Days:         30,
	}
}

var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/pricing"},
	{"/", "/docs", "/docs/getting-started"},
	{"/blog/article-1"},
	{"/"},
}

// Run generates VisitorCount visitors with one to three visits each.
func (s *Seeder) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	s.Logger.Info("Seeding sample traffic", slog.Int("visitors", s.VisitorCount), slog.String("base_url", s.BaseURL))

	var stats Stats
	ipPool := generateIPPool(max(s.VisitorCount/2, 1))
	userAgents := getUserAgents()
	referrers := getReferrers()

	for i := 0; i < s.VisitorCount; i++ {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		visitorKey := visitors.NewKey()
		ip := ipPool[rand.IntN(len(ipPool))]
		userAgent := userAgents[rand.IntN(len(userAgents))]
		visitAt := time.Now().Add(-time.Duration(rand.IntN(max(s.Days, 1)*24*60)) * time.Minute)

		visits := rand.IntN(3) + 1
		recorded := false
		for v := 0; v < visits && visitAt.Before(time.Now()); v++ {
			skipped, err := s.replayVisit(&stats, visitorKey, ip, userAgent, referrers[rand.IntN(len(referrers))], visitAt)
			if err != nil {
				return stats, fmt.Errorf("failed to replay visit: %w", err)
			}
			if skipped {
				stats.Skipped++
				break
			}
			recorded = true
			// Past the session window so the next visit opens a new session.
			visitAt = visitAt.Add(time.Duration(rand.IntN(48)+1) * time.Hour)
		}
		if recorded {
			stats.Visitors++
		}
	}

	s.Logger.Info("Seeding completed",
		slog.Int("visitors", stats.Visitors),
		slog.Int("sessions", stats.Sessions),
		slog.Int("events", stats.Events),
		slog.Int("identified", stats.Identified),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("elapsed", time.Since(start)))
	return stats, nil
}

func (s *Seeder) replayVisit(stats *Stats, visitorKey, ip, userAgent, referrer string, at time.Time) (bool, error) {
	journey := journeyTemplates[rand.IntN(len(journeyTemplates))]

	utm := visitors.UTMParams{}
	if rand.IntN(10) < 2 {
		utm = randomUTM()
	}

	result, err := tracking.InitSession(s.DBManager, s.Logger, &tracking.InitSessionInput{
		VisitorKey:       visitorKey,
		Referrer:         referrer,
		URL:              s.BaseURL + journey[0],
		UTM:              utm,
		ScreenResolution: "1920x1080",
		Timezone:         "UTC",
		IPAddress:        ip,
		UserAgent:        userAgent,
		Timestamp:        at,
	})
	if err != nil {
		return false, err
	}
	if result.Skipped {
		return true, nil
	}
	stats.Sessions++
	stats.Events++

	elapsed := 0
	for _, path := range journey[1:] {
		step := rand.IntN(90) + 5
		elapsed += step
		at = at.Add(time.Duration(step) * time.Second)

		if rand.IntN(3) == 0 {
			err := tracking.TrackEvent(s.DBManager, s.Logger, &tracking.TrackEventInput{
				SessionID: result.SessionID,
				Type:      "click",
				URL:       s.BaseURL + path,
				Data: map[string]any{
					"x":        rand.IntN(1200),
					"y":        rand.IntN(2400),
					"viewport": map[string]any{"width": 1920, "height": 1080},
					"selector": "a.nav-link",
					"text":     "Learn more",
				},
				Timestamp: at,
			})
			if err != nil {
				return false, err
			}
			stats.Events++
		}

		err := tracking.TrackEvent(s.DBManager, s.Logger, &tracking.TrackEventInput{
			SessionID: result.SessionID,
			Type:      "pageview",
			URL:       s.BaseURL + path,
			Timestamp: at,
		})
		if err != nil {
			return false, err
		}
		stats.Events++
	}

	if len(journey) > 1 && journey[len(journey)-1] == "/signup" && rand.IntN(2) == 0 {
		if err := s.submitSignup(stats, result.SessionID, at); err != nil {
			return false, err
		}
	}

	err = tracking.Pulse(s.DBManager, s.Logger, &tracking.PulseInput{
		SessionID: result.SessionID,
		Duration:  elapsed + rand.IntN(30),
		Timestamp: at.Add(10 * time.Second),
	})
	return false, err
}

func (s *Seeder) submitSignup(stats *Stats, sessionID string, at time.Time) error {
	err := tracking.TrackEvent(s.DBManager, s.Logger, &tracking.TrackEventInput{
		SessionID: sessionID,
		Type:      "form_submit",
		URL:       s.BaseURL + "/signup",
		Data:      map[string]any{"form": "signup"},
		Timestamp: at,
	})
	if err != nil {
		return err
	}
	stats.Events++

	id := uuid.NewString()[:8]
	err = tracking.Identify(s.DBManager, s.Logger, &tracking.IdentifyInput{
		SessionID: sessionID,
		Email:     "lead-" + id + "@example.com",
		Name:      "Lead " + strconv.Itoa(rand.IntN(1000)),
		Timestamp: at,
	})
	if err != nil {
		return err
	}
	stats.Identified++
	return nil
}

// generateIPPool returns distinct addresses that count as production traffic.
func generateIPPool(count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(222)+1, rand.IntN(256), rand.IntN(256), rand.IntN(254)+1)
		if seen[ip] || geoip.IsNonProduction(ip) {
			continue
		}
		seen[ip] = true
		ips = append(ips, ip)
	}
	return ips
}

func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	}
}

func getReferrers() []string {
	return []string{
		"", // direct
		"",
		"https://www.google.com/",
		"https://www.bing.com/",
		"https://duckduckgo.com/",
		"https://www.linkedin.com/feed/",
		"https://github.com/",
		"https://news.ycombinator.com/",
		"https://some-other-website.com/blog/post",
	}
}

func randomUTM() visitors.UTMParams {
	pick := func(values ...string) string { return values[rand.IntN(len(values))] }
	return visitors.UTMParams{
		Source:   pick("google", "newsletter", "linkedin", "twitter"),
		Medium:   pick("cpc", "email", "social"),
		Campaign: pick("spring_sale", "product_launch", "q4_promo"),
	}
}
