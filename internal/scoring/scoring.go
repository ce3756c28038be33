// Package scoring turns qualifying visitor events into lead score increments.
package scoring

import (
	"strings"

	"sitepulse/internal/config"
	"sitepulse/internal/events"
)

// Rules configures which events raise a visitor's lead score.
type Rules struct {
	HighIntentPath      string
	HighIntentIncrement int
	FormSubmitIncrement int
}

// RulesFromConfig reads the scoring rules from the application config.
func RulesFromConfig(cfg *config.Config) Rules {
	return Rules{
		HighIntentPath:      cfg.HighIntentPath,
		HighIntentIncrement: cfg.HighIntentIncrement,
		FormSubmitIncrement: cfg.FormSubmitIncrement,
	}
}

// Score returns the increment for one event. It depends only on the event
// type and URL; everything that is not a high-intent page view or a form
// submission scores zero.
func (r Rules) Score(eventType, url string) int {
	switch events.NormalizeType(eventType) {
	case events.TypePageView:
		path := strings.ToLower(strings.TrimSpace(r.HighIntentPath))
		if path != "" && strings.Contains(strings.ToLower(url), path) {
			return max(r.HighIntentIncrement, 0)
		}
	case events.TypeFormSubmit:
		return max(r.FormSubmitIncrement, 0)
	}
	return 0
}
