package referrers

import (
	"net/url"
	"strings"
)

// Direct is the lead source of a visit with neither UTM source nor a usable referrer.
const Direct = "Direct"

// Channels a known referrer belongs to.
const (
	ChannelSearch    = "Search"
	ChannelSocial    = "Social"
	ChannelCommunity = "Community"
	ChannelEmail     = "Email"
	ChannelCampaign  = "Campaign"
	ChannelReferral  = "Referral"
	ChannelDirect    = "Direct"
)

type source struct {
	name    string
	channel string
}

// Common referrer hostnames mapped to friendly display names
var knownReferrers = map[string]source{
	"google.com":     {"Google", ChannelSearch},
	"google.co.uk":   {"Google", ChannelSearch},
	"google.de":      {"Google", ChannelSearch},
	"google.fr":      {"Google", ChannelSearch},
	"google.es":      {"Google", ChannelSearch},
	"google.ca":      {"Google", ChannelSearch},
	"google.com.au":  {"Google", ChannelSearch},
	"bing.com":       {"Bing", ChannelSearch},
	"duckduckgo.com": {"DuckDuckGo", ChannelSearch},
	"yahoo.com":      {"Yahoo", ChannelSearch},
	"baidu.com":      {"Baidu", ChannelSearch},
	"yandex.ru":      {"Yandex", ChannelSearch},
	"ecosia.org":     {"Ecosia", ChannelSearch},
	"kagi.com":       {"Kagi", ChannelSearch},

	"x.com":         {"X/Twitter", ChannelSocial},
	"twitter.com":   {"X/Twitter", ChannelSocial},
	"t.co":          {"X/Twitter", ChannelSocial},
	"facebook.com":  {"Facebook", ChannelSocial},
	"fb.com":        {"Facebook", ChannelSocial},
	"instagram.com": {"Instagram", ChannelSocial},
	"linkedin.com":  {"LinkedIn", ChannelSocial},
	"lnkd.in":       {"LinkedIn", ChannelSocial},
	"tiktok.com":    {"TikTok", ChannelSocial},
	"pinterest.com": {"Pinterest", ChannelSocial},
	"threads.net":   {"Threads", ChannelSocial},
	"bsky.app":      {"Bluesky", ChannelSocial},
	"youtube.com":   {"YouTube", ChannelSocial},
	"youtu.be":      {"YouTube", ChannelSocial},

	"reddit.com":           {"Reddit", ChannelCommunity},
	"news.ycombinator.com": {"Hacker News", ChannelCommunity},
	"producthunt.com":      {"Product Hunt", ChannelCommunity},
	"indiehackers.com":     {"Indie Hackers", ChannelCommunity},
	"github.com":           {"GitHub", ChannelCommunity},
	"stackoverflow.com":    {"Stack Overflow", ChannelCommunity},
	"medium.com":           {"Medium", ChannelCommunity},
	"dev.to":               {"DEV Community", ChannelCommunity},
	"quora.com":            {"Quora", ChannelCommunity},

	"mail.google.com":    {"Gmail", ChannelEmail},
	"outlook.live.com":   {"Outlook", ChannelEmail},
	"outlook.office.com": {"Outlook", ChannelEmail},
	"mail.yahoo.com":     {"Yahoo Mail", ChannelEmail},
	"mail.proton.me":     {"Proton Mail", ChannelEmail},
	"substack.com":       {"Substack", ChannelEmail},
}

// Hostname extracts the lower-cased host of a referrer URL.
// It reports false for empty or malformed referrers and for
// values without a host (e.g. "android-app://" handoffs or bare paths).
func Hostname(referrer string) (string, bool) {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return "", false
	}
	parsed, err := url.Parse(referrer)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

// LeadSource picks the acquisition source of a visit: the UTM source when
// present, otherwise the referrer hostname, otherwise Direct.
func LeadSource(utmSource, referrer string) string {
	if s := strings.TrimSpace(utmSource); s != "" {
		return s
	}
	if host, ok := Hostname(referrer); ok {
		return host
	}
	return Direct
}

func lookup(hostname string) (source, bool) {
	if s, ok := knownReferrers[hostname]; ok {
		return s, true
	}
	for domain, s := range knownReferrers {
		if strings.HasSuffix(hostname, "."+domain) {
			return s, true
		}
	}
	return source{}, false
}

// FriendlyName returns a human-friendly name for a referrer hostname.
// If the hostname is not in the known list, it returns the hostname
// with "www." removed and first letter capitalized.
func FriendlyName(hostname string) string {
	hostname = strings.TrimPrefix(strings.ToLower(hostname), "www.")
	if hostname == strings.ToLower(Direct) {
		return Direct
	}

	if s, ok := lookup(hostname); ok {
		return s.name
	}

	return capitalizeFirst(hostname)
}

// Channel classifies a lead source. Sources that are not hostnames
// (UTM values such as "newsletter") are reported as campaigns.
func Channel(leadSource string) string {
	leadSource = strings.ToLower(strings.TrimSpace(leadSource))
	switch {
	case leadSource == "" || leadSource == strings.ToLower(Direct):
		return ChannelDirect
	case !strings.Contains(leadSource, "."):
		return ChannelCampaign
	}
	if s, ok := lookup(strings.TrimPrefix(leadSource, "www.")); ok {
		return s.channel
	}
	return ChannelReferral
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
