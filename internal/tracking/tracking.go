// Package tracking implements the visitor-facing ingestion operations:
// session init, event tracking, heartbeats and identification.
package tracking

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"sitepulse/internal/config"
	"sitepulse/internal/events"
	"sitepulse/internal/pkg/geoip"
	"sitepulse/internal/pkg/metrics"
	"sitepulse/internal/pkg/user_agent"
	"sitepulse/internal/pkg/validation"
	"sitepulse/internal/scoring"
	"sitepulse/internal/settings"
	"sitepulse/internal/visitors"
)

// Placeholders returned for traffic that is not recorded. Event, pulse and
// identify calls carrying DevSessionID succeed without touching the store.
const (
	DevSessionID  = "dev_session"
	DevVisitorKey = "dev_visitor"
)

// Policy holds the time windows and scoring rules applied during ingestion.
type Policy struct {
	SessionWindow   time.Duration
	BounceThreshold int
	Rules           scoring.Rules
}

// PolicyFromConfig builds the ingestion policy from the application config.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		SessionWindow:   cfg.SessionWindow(),
		BounceThreshold: cfg.BounceThresholdSeconds,
		Rules:           scoring.RulesFromConfig(cfg),
	}
}

// InitSessionInput defines the input required to start or resume a session.
type InitSessionInput struct {
	VisitorKey       string
	Referrer         string
	URL              string
	UTM              visitors.UTMParams
	ScreenResolution string
	Timezone         string
	IPAddress        string
	UserAgent        string
	// Timestamp defaults to the current time when zero.
	Timestamp time.Time
}

// InitSessionResult is returned to the tracking script.
type InitSessionResult struct {
	SessionID  string `json:"session_id"`
	VisitorKey string `json:"visitor_unique_id"`
	SessionKey string `json:"session_unique_id,omitempty"`

	Skipped    bool `json:"-"`
	NewSession bool `json:"-"`
	NewVisit   bool `json:"-"`
}

// DevSessionResult is the placeholder answer for skipped traffic.
func DevSessionResult() *InitSessionResult {
	return &InitSessionResult{SessionID: DevSessionID, VisitorKey: DevVisitorKey, Skipped: true}
}

// TrackEventInput defines the input required to record an interaction.
type TrackEventInput struct {
	SessionID string
	Type      string
	URL       string
	Data      map[string]any
	Timestamp time.Time
}

// PulseInput defines a heartbeat carrying the client-measured duration in seconds.
type PulseInput struct {
	SessionID string
	Duration  int
	Timestamp time.Time
}

// IdentifyInput attaches contact details to the visitor behind a session.
type IdentifyInput struct {
	SessionID string
	Email     string
	Name      string
	Timestamp time.Time
}

func resolveNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

// shouldSkip reports whether the caller's traffic must not be recorded and why.
func shouldSkip(logger *slog.Logger, ip string, ua user_agent.UserAgent) (bool, string) {
	if geoip.IsNonProduction(ip) {
		return true, "non_production_ip"
	}
	excluded, err := settings.IsIPExcluded(ip)
	if err != nil {
		logger.Warn("Failed to check excluded IPs", slog.Any("error", err))
	} else if excluded {
		return true, "excluded_ip"
	}
	if ua.Bot {
		return true, "bot"
	}
	return false, ""
}

// InitSession finds or creates the visitor and its open session and records
// a page view for the page that triggered the call. Traffic from private
// ranges, excluded IPs and bots gets DevSessionResult and no store writes.
func InitSession(dbManager cartridge.DBManager, logger *slog.Logger, input *InitSessionInput) (*InitSessionResult, error) {
	now := resolveNow(input.Timestamp)
	ua := user_agent.ParseUserAgent(input.UserAgent)

	if skip, reason := shouldSkip(logger, input.IPAddress, ua); skip {
		logger.Debug("Skipping session init",
			slog.String("reason", reason),
			slog.String("ip", input.IPAddress))
		metrics.RecordIngestion("init", metrics.OutcomeSkipped)
		return DevSessionResult(), nil
	}

	ip, _ := geoip.NormalizeIP(input.IPAddress)
	location := geoip.Resolve(ip)
	policy := PolicyFromConfig(config.GetConfig())

	visitorKey := visitors.CleanVisitorKey(input.VisitorKey)
	if visitorKey == "" {
		visitorKey = visitors.NewKey()
	}
	pageURL := strings.TrimSpace(input.URL)

	var result *InitSessionResult
	err := sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
		result = &InitSessionResult{}

		visitor, _, err := visitors.FindOrCreateVisitor(tx, visitorKey, now)
		if err != nil {
			return err
		}

		newVisit, err := visitors.TouchVisitor(tx, visitor, now, policy.SessionWindow, ip, location, ua.DeviceType)
		if err != nil {
			return err
		}
		result.NewVisit = newVisit

		session, err := visitors.FindOpenSession(tx, visitor.ID, now, policy.SessionWindow)
		switch {
		case err == nil:
			if err := visitors.RecordPageView(tx, session.ID, pageURL, now); err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			session = newSession(visitor.ID, input, ua, pageURL, now)
			if err := visitors.CreateSession(tx, session); err != nil {
				return err
			}
			result.NewSession = true
		default:
			return fmt.Errorf("failed to find open session: %w", err)
		}

		data := datatypes.JSONMap{}
		if ref := strings.TrimSpace(input.Referrer); ref != "" {
			data["referrer"] = ref
		}
		pageView := &events.Event{
			SessionID: session.ID,
			VisitorID: visitor.ID,
			EventType: events.TypePageView,
			URL:       pageURL,
			Data:      data,
			Timestamp: now,
		}
		if err := events.AppendEvent(tx, pageView); err != nil {
			return err
		}

		if err := applyScore(tx, policy.Rules, visitor.ID, events.TypePageView, pageURL); err != nil {
			return err
		}

		result.SessionID = strconv.FormatUint(uint64(session.ID), 10)
		result.VisitorKey = visitor.VisitorKey
		result.SessionKey = session.SessionKey
		return nil
	})
	if err != nil {
		logger.Error("Failed to init session",
			slog.String("visitor_key", visitorKey),
			slog.String("url", pageURL),
			slog.Any("error", err))
		metrics.RecordIngestion("init", metrics.OutcomeError)
		return nil, err
	}

	if result.NewSession {
		metrics.SessionsCreated.Inc()
	} else {
		metrics.SessionsReattached.Inc()
	}
	metrics.RecordIngestion("init", metrics.OutcomeOK)

	logger.Debug("Session initialized",
		slog.String("session_id", result.SessionID),
		slog.String("visitor_key", result.VisitorKey),
		slog.Bool("new_session", result.NewSession),
		slog.Bool("new_visit", result.NewVisit),
		slog.String("country", location.Country))

	return result, nil
}

// newSession captures the acquisition fields that are only set when a session starts.
func newSession(visitorID uint, input *InitSessionInput, ua user_agent.UserAgent, pageURL string, now time.Time) *visitors.Session {
	return &visitors.Session{
		VisitorID:        visitorID,
		SessionKey:       visitors.NewKey(),
		StartTime:        now,
		Referrer:         strings.TrimSpace(input.Referrer),
		LandingPage:      pageURL,
		ExitPage:         pageURL,
		UTMSource:        strings.TrimSpace(input.UTM.Source),
		UTMMedium:        strings.TrimSpace(input.UTM.Medium),
		UTMCampaign:      strings.TrimSpace(input.UTM.Campaign),
		UTMTerm:          strings.TrimSpace(input.UTM.Term),
		UTMContent:       strings.TrimSpace(input.UTM.Content),
		DeviceType:       ua.DeviceType,
		Browser:          ua.Browser,
		OS:               ua.OS,
		ScreenResolution: strings.TrimSpace(input.ScreenResolution),
		Timezone:         strings.TrimSpace(input.Timezone),
		PageViews:        1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func applyScore(tx *gorm.DB, rules scoring.Rules, visitorID uint, eventType, url string) error {
	points := rules.Score(eventType, url)
	if points == 0 {
		return nil
	}
	if err := visitors.AddLeadScore(tx, visitorID, points); err != nil {
		return err
	}
	metrics.LeadScoreIncrements.WithLabelValues(eventType).Inc()
	return nil
}

// TrackEvent appends an interaction to an existing session. The payload in
// Data is stored verbatim. Page views bump page_views, everything else bumps
// events_count, and the exit page always moves to the event URL.
func TrackEvent(dbManager cartridge.DBManager, logger *slog.Logger, input *TrackEventInput) error {
	if strings.TrimSpace(input.SessionID) == DevSessionID {
		metrics.RecordIngestion("event", metrics.OutcomeSkipped)
		return nil
	}

	eventType := events.NormalizeType(input.Type)
	if eventType == "" {
		metrics.RecordIngestion("event", metrics.OutcomeInvalid)
		return validation.NewValidationError("type", "type is required")
	}

	now := resolveNow(input.Timestamp)
	pageURL := strings.TrimSpace(input.URL)
	policy := PolicyFromConfig(config.GetConfig())

	var notFound bool
	err := sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
		notFound = false

		session, err := visitors.FindSession(tx, input.SessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notFound = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find session: %w", err)
		}

		event := &events.Event{
			SessionID: session.ID,
			VisitorID: session.VisitorID,
			EventType: eventType,
			URL:       pageURL,
			Data:      datatypes.JSONMap(input.Data),
			Timestamp: now,
		}
		if err := events.AppendEvent(tx, event); err != nil {
			return err
		}

		if events.IsPageView(eventType) {
			err = visitors.RecordPageView(tx, session.ID, pageURL, now)
		} else {
			err = visitors.RecordInteraction(tx, session.ID, pageURL, now)
		}
		if err != nil {
			return err
		}

		return applyScore(tx, policy.Rules, session.VisitorID, eventType, pageURL)
	})
	if err != nil {
		logger.Error("Failed to track event",
			slog.String("session_id", input.SessionID),
			slog.String("type", eventType),
			slog.Any("error", err))
		metrics.RecordIngestion("event", metrics.OutcomeError)
		return err
	}
	if notFound {
		logger.Debug("Event for unknown session", slog.String("session_id", input.SessionID))
		metrics.RecordIngestion("event", metrics.OutcomeNotFound)
		return NewSessionNotFoundError(input.SessionID)
	}

	metrics.RecordIngestion("event", metrics.OutcomeOK)
	return nil
}

// Pulse records a heartbeat: end_time moves to now, duration is replaced by
// the client value and the bounce flag is recomputed from it.
func Pulse(dbManager cartridge.DBManager, logger *slog.Logger, input *PulseInput) error {
	if strings.TrimSpace(input.SessionID) == DevSessionID {
		metrics.RecordIngestion("pulse", metrics.OutcomeSkipped)
		return nil
	}
	if input.Duration < 0 {
		metrics.RecordIngestion("pulse", metrics.OutcomeInvalid)
		return validation.NewValidationError("duration", "duration must be at least 0")
	}

	now := resolveNow(input.Timestamp)
	policy := PolicyFromConfig(config.GetConfig())

	var notFound bool
	err := sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
		notFound = false

		session, err := visitors.FindSession(tx, input.SessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notFound = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find session: %w", err)
		}

		return visitors.PulseSession(tx, session.ID, input.Duration, policy.BounceThreshold, now)
	})
	if err != nil {
		logger.Error("Failed to record pulse",
			slog.String("session_id", input.SessionID),
			slog.Any("error", err))
		metrics.RecordIngestion("pulse", metrics.OutcomeError)
		return err
	}
	if notFound {
		metrics.RecordIngestion("pulse", metrics.OutcomeNotFound)
		return NewSessionNotFoundError(input.SessionID)
	}

	metrics.RecordIngestion("pulse", metrics.OutcomeOK)
	return nil
}

// Identify sets the identified email, and the name when given, on the
// visitor that owns the session. The email is required.
func Identify(dbManager cartridge.DBManager, logger *slog.Logger, input *IdentifyInput) error {
	email := visitors.NormalizeEmail(input.Email)
	if email == "" {
		metrics.RecordIngestion("identify", metrics.OutcomeInvalid)
		return validation.NewValidationError("email", "email is required")
	}
	if strings.TrimSpace(input.SessionID) == DevSessionID {
		metrics.RecordIngestion("identify", metrics.OutcomeSkipped)
		return nil
	}

	now := resolveNow(input.Timestamp)

	var notFound bool
	err := sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
		notFound = false

		session, err := visitors.FindSession(tx, input.SessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			notFound = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find session: %w", err)
		}

		return visitors.IdentifyVisitor(tx, session.VisitorID, email, input.Name, now)
	})
	if err != nil {
		logger.Error("Failed to identify visitor",
			slog.String("session_id", input.SessionID),
			slog.Any("error", err))
		metrics.RecordIngestion("identify", metrics.OutcomeError)
		return err
	}
	if notFound {
		metrics.RecordIngestion("identify", metrics.OutcomeNotFound)
		return NewSessionNotFoundError(input.SessionID)
	}

	logger.Info("Visitor identified", slog.String("session_id", input.SessionID))
	metrics.RecordIngestion("identify", metrics.OutcomeOK)
	return nil
}
