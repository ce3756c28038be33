package geoip

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"sitepulse/internal/config"
)

// Unknown is stored for any location field the database cannot answer.
const Unknown = "Unknown"

// Location is the resolved place of a client IP.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Region  string `json:"region"`
}

// UnknownLocation is returned when no database is loaded or the lookup fails.
func UnknownLocation() Location {
	return Location{Country: Unknown, City: Unknown, Region: Unknown}
}

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 City database.
// Returns nil if the database is not configured or not found (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - locations will be Unknown")
		}
		return nil
	}

	absPath, err := filepath.Abs(cfg.GeoDBPath)
	if err == nil && logger != nil {
		logger.Debug("GeoIP database path", slog.String("abs_path", absPath))
	}

	if _, err := os.Stat(cfg.GeoDBPath); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - locations will be Unknown",
				slog.String("path", cfg.GeoDBPath),
				slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	// geoip2.Open memory-maps the file so lookups never leave the process.
	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized successfully",
			slog.String("path", cfg.GeoDBPath),
			slog.String("db_type", db.Metadata().DatabaseType))
	}
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reloads the GeoLite2 database from disk.
// Call this after downloading a new database file.
func ReloadGeoDB() {
	// Make sure a later GetGeoDB does not re-run the lazy init over the reloaded reader.
	once.Do(func() {})

	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
	}

	geoDB = InitGeoDB()

	if geoDB != nil && logger != nil {
		logger.Info("GeoLite2 database reloaded successfully")
	}
}

// Resolve maps an IP to a location. It never fails: a missing database,
// an unparsable address or a lookup error all degrade to Unknown fields.
// The reader is held under the read lock for the whole lookup so a
// concurrent ReloadGeoDB cannot close it mid-query.
func Resolve(ip string) Location {
	GetGeoDB()

	mu.RLock()
	defer mu.RUnlock()
	return ResolveWith(geoDB, ip)
}

// ResolveWith looks ip up in db. A nil db resolves to UnknownLocation.
func ResolveWith(db *geoip2.Reader, ip string) Location {
	clean, addr := NormalizeIP(ip)
	if !addr.IsValid() || db == nil {
		return UnknownLocation()
	}

	record, err := db.City(net.IP(addr.AsSlice()))
	if err != nil {
		if logger != nil {
			logger.Warn("GeoIP lookup failed", slog.String("ip", clean), slog.Any("error", err))
		}
		return UnknownLocation()
	}
	return locationFromRecord(record)
}

func locationFromRecord(record *geoip2.City) Location {
	loc := UnknownLocation()
	if record.Country.IsoCode != "" {
		loc.Country = record.Country.IsoCode
	}
	if name := record.City.Names["en"]; name != "" {
		loc.City = name
	}
	if len(record.Subdivisions) > 0 && record.Subdivisions[0].IsoCode != "" {
		loc.Region = record.Subdivisions[0].IsoCode
	}
	return loc
}
