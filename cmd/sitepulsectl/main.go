// main.go - Operator control tool for sitepulse
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitepulse/internal"
	"sitepulse/internal/analytics"
	"sitepulse/internal/config"
	"sitepulse/internal/events"
	"sitepulse/internal/pkg/geoip"
	"sitepulse/internal/seeder"
	"sitepulse/internal/settings"
	"sitepulse/internal/timeframe"
	"sitepulse/internal/visitors"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	Name() string
	Description() string
	// NeedsApp reports whether Execute requires an initialized application.
	NeedsApp() bool
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

var commands = []Command{
	&MigrateCommand{},
	&StatusCommand{},
	&GeoCommand{},
	&GeoUpdateCommand{},
	&SummaryCommand{},
	&SeedCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs(os.Args[1:])

	cmd := findCommand(cmdName)
	if cmd == nil {
		printUsage()
		os.Exit(1)
	}

	var app *internal.Application
	if cmd.NeedsApp() {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Fatalf("Failed to initialize app: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}()
	}

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }
func (c *MigrateCommand) NeedsApp() bool      { return true }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// StatusCommand prints row counts and connection pool statistics
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows database status and row counts" }
func (c *StatusCommand) NeedsApp() bool      { return true }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection().WithContext(ctx)

	counts := []struct {
		label string
		model any
	}{
		{"Visitors", &visitors.Visitor{}},
		{"Sessions", &visitors.Session{}},
		{"Events", &events.Event{}},
	}

	fmt.Println("System Status:")
	fmt.Println("- Database: Connected")
	for _, c := range counts {
		var count int64
		if err := db.Model(c.model).Count(&count).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		fmt.Printf("- %s: %d\n", c.label, count)
	}

	var identified int64
	if err := db.Model(&visitors.Visitor{}).Where("identified_email <> ''").Count(&identified).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	fmt.Printf("- Identified visitors: %d\n", identified)

	if geoip.GetGeoDB() != nil {
		lastUpdate, _ := settings.GetSetting(db, geoLiteLastUpdateKey)
		if lastUpdate == "" {
			lastUpdate = "unknown"
		}
		fmt.Printf("- Geo database: Loaded (last update %s)\n", lastUpdate)
	} else {
		fmt.Println("- Geo database: Not available")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	stats := sqlDB.Stats()
	fmt.Printf("- Open Connections: %d (in use %d, idle %d)\n", stats.OpenConnections, stats.InUse, stats.Idle)
	return nil
}

// GeoCommand resolves an address with the configured geo database
type GeoCommand struct{}

func (c *GeoCommand) Name() string        { return "geo" }
func (c *GeoCommand) Description() string { return "Resolves <ip> to a location" }
func (c *GeoCommand) NeedsApp() bool      { return false }

func (c *GeoCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <ip>", c.Name())
	}
	ip := args[0]

	if geoip.IsNonProduction(ip) {
		fmt.Printf("%s is not production traffic and would not be recorded\n", ip)
		return nil
	}

	loc := geoip.Resolve(ip)
	fmt.Printf("Country: %s (%s)\nRegion:  %s\nCity:    %s\n", loc.Country, analytics.CountryName(loc.Country), loc.Region, loc.City)
	return nil
}

// geoLiteLastUpdateKey records when geo-update last installed a database.
const geoLiteLastUpdateKey = "geolite_last_update"

// GeoUpdateCommand downloads the latest GeoLite2 City database
type GeoUpdateCommand struct{}

func (c *GeoUpdateCommand) Name() string { return "geo-update" }
func (c *GeoUpdateCommand) Description() string {
	return "Downloads the GeoLite2 City database (SITEPULSE_GEOLITE_LICENSE_KEY)"
}
func (c *GeoUpdateCommand) NeedsApp() bool { return true }

func (c *GeoUpdateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	cfg := config.GetConfig()

	log.Printf("Downloading GeoLite2 database to %s...", cfg.GeoDBPath)
	client := &http.Client{Timeout: 5 * time.Minute}
	if err := geoip.DownloadGeoLite(ctx, client, cfg.GeoLiteDownloadURL, cfg.GeoLiteLicenseKey, cfg.GeoDBPath); err != nil {
		return err
	}

	db := app.DBManager.GetConnection()
	if err := settings.UpdateSetting(db, geoLiteLastUpdateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Printf("Warning: failed to record update time: %v", err)
	}

	log.Println("GeoLite2 database installed. Send SIGHUP to a running server to load it.")
	return nil
}

// SummaryCommand prints the dashboard summary as JSON
type SummaryCommand struct{}

func (c *SummaryCommand) Name() string        { return "summary" }
func (c *SummaryCommand) Description() string { return "Prints the summary for [today|week|month]" }
func (c *SummaryCommand) NeedsApp() bool      { return true }

func (c *SummaryCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	raw := ""
	if len(args) > 0 {
		raw = args[0]
	}
	label, err := timeframe.ParseRange(raw)
	if err != nil {
		return err
	}

	cfg := config.GetConfig()
	summary, err := analytics.Summary(ctx, app.DBManager.GetConnection(), app.Logger, analytics.SummaryParams{
		Range:          label,
		Now:            time.Now(),
		Location:       cfg.ReportingLocation(),
		RealtimeWindow: cfg.RealtimeWindow(),
	})
	if err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(summary)
}

// SeedCommand replays synthetic traffic through the ingestion service
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample traffic" }
func (c *SeedCommand) NeedsApp() bool      { return true }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("visitors", 200, "number of visitors to generate")
	baseURL := fs.String("url", "https://example.com", "site the visits are recorded for")
	days := fs.Int("days", 30, "spread first visits over this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := seeder.NewSeeder(app.DBManager, app.Logger, *count, *baseURL)
	s.Days = *days
	_, err := s.Run(ctx)
	return err
}

// HelpCommand shows usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }
func (c *HelpCommand) NeedsApp() bool      { return false }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

func parseArgs(args []string) (string, []string) {
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: sitepulsectl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %-10s %s\n", cmd.Name(), cmd.Description())
	}
}
