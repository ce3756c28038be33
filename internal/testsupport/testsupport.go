package testsupport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sitepulse/internal"
	"sitepulse/internal/config"
	"sitepulse/internal/database"
	"sitepulse/internal/events"
	"sitepulse/internal/visitors"
)

// PublicIP is a documentation-range address treated as real traffic.
const PublicIP = "203.0.113.50"

func init() {
	if os.Getenv("SITEPULSE_ENV") == "" {
		os.Setenv("SITEPULSE_ENV", config.Test)
	}
}

// testDBCache caches test databases by root test name so that subtests and
// helpers called with the outer t share one database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a named shared-cache in-memory database with every model migrated.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	cfg := config.GetConfig()

	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set SITEPULSE_ENV=test", cfg.Environment)
	}

	return NewTestDBManager(SetupTestDB(t)), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	CleanTables(db, tableNames)
}

// CleanTables deletes every row of the given tables and resets their ids.
func CleanTables(db *gorm.DB, tables []string) {
	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// VisitorFixture describes a visitor row for tests; zero fields get defaults.
type VisitorFixture struct {
	Key       string
	Email     string
	Name      string
	Country   string
	City      string
	Region    string
	Device    string
	LeadScore int
	Visits    int
	FirstSeen time.Time
	LastSeen  time.Time
}

// CreateTestVisitor inserts a visitor directly, bypassing ingestion.
func CreateTestVisitor(t *testing.T, db *gorm.DB, f VisitorFixture) *visitors.Visitor {
	t.Helper()

	now := time.Now().UTC()
	if f.Key == "" {
		f.Key = uuid.NewString()
	}
	if f.LastSeen.IsZero() {
		f.LastSeen = now
	}
	if f.FirstSeen.IsZero() {
		f.FirstSeen = f.LastSeen
	}
	if f.Visits == 0 {
		f.Visits = 1
	}

	visitor := &visitors.Visitor{
		VisitorKey:      f.Key,
		IPAddress:       PublicIP,
		FirstSeen:       f.FirstSeen,
		LastSeen:        f.LastSeen,
		TotalVisits:     f.Visits,
		Country:         defaultString(f.Country, "Unknown"),
		City:            defaultString(f.City, "Unknown"),
		Region:          defaultString(f.Region, "Unknown"),
		DeviceType:      defaultString(f.Device, "desktop"),
		IdentifiedEmail: visitors.NormalizeEmail(f.Email),
		IdentifiedName:  f.Name,
		LeadScore:       f.LeadScore,
		CreatedAt:       f.FirstSeen,
		UpdatedAt:       f.LastSeen,
	}
	require.NoError(t, db.Create(visitor).Error)
	return visitor
}

// SessionFixture describes a session row for tests; zero fields get defaults.
type SessionFixture struct {
	Start       time.Time
	End         *time.Time
	Referrer    string
	UTMSource   string
	LandingPage string
	ExitPage    string
	Device      string
	Browser     string
	OS          string
	PageViews   int
	EventsCount int
	Duration    int
	IsBounce    bool
}

// CreateTestSession inserts a session owned by visitor.
func CreateTestSession(t *testing.T, db *gorm.DB, visitor *visitors.Visitor, f SessionFixture) *visitors.Session {
	t.Helper()

	if f.Start.IsZero() {
		f.Start = time.Now().UTC()
	}
	if f.PageViews == 0 {
		f.PageViews = 1
	}
	if f.LandingPage == "" {
		f.LandingPage = "https://example.com/"
	}
	if f.ExitPage == "" {
		f.ExitPage = f.LandingPage
	}

	session := &visitors.Session{
		VisitorID:   visitor.ID,
		SessionKey:  uuid.NewString(),
		StartTime:   f.Start,
		EndTime:     f.End,
		Referrer:    f.Referrer,
		LandingPage: f.LandingPage,
		ExitPage:    f.ExitPage,
		UTMSource:   f.UTMSource,
		DeviceType:  defaultString(f.Device, "desktop"),
		Browser:     defaultString(f.Browser, "Chrome"),
		OS:          defaultString(f.OS, "Windows"),
		PageViews:   f.PageViews,
		EventsCount: f.EventsCount,
		Duration:    f.Duration,
		IsBounce:    f.IsBounce,
		CreatedAt:   f.Start,
		UpdatedAt:   f.Start,
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

// CreateTestEvent inserts an event for session at ts.
func CreateTestEvent(t *testing.T, db *gorm.DB, session *visitors.Session, eventType, url string, data map[string]any, ts time.Time) *events.Event {
	t.Helper()

	event := &events.Event{
		SessionID: session.ID,
		VisitorID: session.VisitorID,
		EventType: eventType,
		URL:       url,
		Data:      datatypes.JSONMap(data),
		Timestamp: ts,
	}
	require.NoError(t, events.AppendEvent(db, event))
	return event
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test
	appConfig.PublicDirectory = t.TempDir()

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	cfg.StaticDirectory = appConfig.PublicDirectory
	cfg.StaticPrefix = appConfig.PublicAssetsUrlPrefix
	cfg.TemplatesDirectory = appConfig.PublicDirectory
	// The tracker runs on third-party pages and dashboards call from scripts,
	// so fetch-site filtering stays off like in production.
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

// DoJSON sends a request with an optional JSON body and decodes a JSON response into out.
func DoJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("X-Forwarded-For", PublicIP)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, out), "body: %s", string(raw))
		}
	}
	return resp.StatusCode
}
