// Package web holds the client-side assets served by the application.
package web

import (
	_ "embed"
)

//go:embed tracker.js
var trackerTemplate string

// TrackerTemplate returns the tracking script as a text/template source.
// The template expects a BaseURL field.
func TrackerTemplate() string {
	return trackerTemplate
}
