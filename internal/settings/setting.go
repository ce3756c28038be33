package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/pkg/geoip"
	"sitepulse/internal/pkg/validation"
)

// ExcludedIPsKey holds a comma separated list of addresses whose traffic is never recorded.
const ExcludedIPsKey = "excluded_ips"

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// excludedIPsCache is swapped whole when the list changes; readers load it atomically.
var excludedIPsCache atomic.Pointer[cache.Cache[string, []string]]

// SetupDefaultSettings inserts missing default settings and primes the excluded IP cache.
func SetupDefaultSettings(dbConn *gorm.DB) error {
	now := time.Now().UTC()
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		err := tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO NOTHING
        `, ExcludedIPsKey, "", now, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert setting %s: %w", ExcludedIPsKey, err)
		}
		return nil
	})

	loadCache(dbConn, slog.Default())

	return err
}

// IsIPExcluded reports whether ip is on the operator's exclusion list.
// Addresses are compared after normalization, so "::ffff:1.2.3.4" matches "1.2.3.4".
func IsIPExcluded(ip string) (bool, error) {
	current := excludedIPsCache.Load()
	if current == nil {
		return false, nil
	}

	excludedIPs, err := current.Get(ExcludedIPsKey)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	clean, _ := geoip.NormalizeIP(ip)
	if clean == "" {
		return false, nil
	}
	for _, excludedIP := range excludedIPs {
		if excludedIP == clean {
			return true, nil
		}
	}
	return false, nil
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	if err := dbConn.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// UpdateSetting creates or updates a setting and refreshes the excluded IP cache.
func UpdateSetting(dbConn *gorm.DB, key string, value string) error {
	now := time.Now().UTC()
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
        `, key, value, now, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update setting %s: %w", key, err)
	}

	if key == ExcludedIPsKey {
		previous := excludedIPsCache.Load()
		loadCache(dbConn, slog.Default())
		if previous != nil {
			previous.Clear()
		}
	}

	return nil
}

// GetExcludedIPs returns the normalized exclusion list.
func GetExcludedIPs(dbConn *gorm.DB) ([]string, error) {
	value, err := GetSetting(dbConn, ExcludedIPsKey)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return parseIPList(value), nil
}

// UpdateExcludedIPs replaces the exclusion list. Every entry must be an IP address.
func UpdateExcludedIPs(dbConn *gorm.DB, ips []string) ([]string, error) {
	cleaned := make([]string, 0, len(ips))
	seen := make(map[string]bool, len(ips))
	for _, raw := range ips {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		clean, addr := geoip.NormalizeIP(raw)
		if !addr.IsValid() {
			return nil, validation.NewValidationError("ips", fmt.Sprintf("%q is not a valid IP address", raw))
		}
		if !seen[clean] {
			seen[clean] = true
			cleaned = append(cleaned, clean)
		}
	}

	if err := UpdateSetting(dbConn, ExcludedIPsKey, strings.Join(cleaned, ",")); err != nil {
		return nil, err
	}
	return cleaned, nil
}

func parseIPList(value string) []string {
	ips := []string{}
	for _, part := range strings.Split(value, ",") {
		if clean, _ := geoip.NormalizeIP(part); clean != "" {
			ips = append(ips, clean)
		}
	}
	return ips
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return nil, err
		}
		return parseIPList(value), nil
	}
	excludedIPsCache.Store(cache.NewCache[string, []string](logger, 5*time.Minute, fetchFunc))
}
