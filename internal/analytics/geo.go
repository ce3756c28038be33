package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"sitepulse/internal/pkg/geoip"
	"sitepulse/internal/visitors"
)

// GeoStat is the visitor count of one country, keyed by ISO code for map rendering.
type GeoStat struct {
	ID    string `json:"id"`
	Value int64  `json:"value"`
	Name  string `json:"name"`
}

var countries = gountries.New()

// GeoStats counts visitors per resolved country, largest first. Visitors
// whose country could not be resolved are left out.
func GeoStats(db *gorm.DB) ([]GeoStat, error) {
	defer observe("geo_stats")()

	var rows []MetricCountResult
	err := db.Model(&visitors.Visitor{}).
		Select("country AS name, COUNT(*) AS count").
		Where("country <> '' AND country <> ?", geoip.Unknown).
		Group("country").
		Order("count DESC, name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load geo stats: %w", err)
	}

	// Rows stored before codes were normalised may differ only in case.
	caser := cases.Upper(language.AmericanEnglish)
	stats := make([]GeoStat, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		code := caser.String(strings.TrimSpace(row.Name))
		if code == "" || code == caser.String(geoip.Unknown) {
			continue
		}
		if i, ok := index[code]; ok {
			stats[i].Value += row.Count
			continue
		}
		index[code] = len(stats)
		stats = append(stats, GeoStat{ID: code, Value: row.Count, Name: CountryName(code)})
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Value != stats[j].Value {
			return stats[i].Value > stats[j].Value
		}
		return stats[i].ID < stats[j].ID
	})
	return stats, nil
}

// CountryName returns the common English name of an ISO alpha-2 or alpha-3
// code, or the code itself when it is not recognised.
func CountryName(code string) string {
	country, err := countries.FindCountryByAlpha(code)
	if err != nil {
		return code
	}
	return country.Name.Common
}
