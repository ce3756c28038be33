package user_agent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device types stored on visitors and sessions.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	Unknown       = "Unknown"
)

type UserAgent struct {
	UserAgent  string
	OS         string
	Browser    string
	DeviceType string
	Mobile     bool
	Tablet     bool
	Desktop    bool
	Bot        bool
}

//go:embed database/bots.yml
//go:embed database/oss.yml
//go:embed database/browsers.yml
//go:embed database/devices.yml
var databaseFiles embed.FS

// Browser and OS entry structure
type ClientEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Device entry structure
type DeviceEntry struct {
	Regex  string `yaml:"regex"`
	Device string `yaml:"device"`
}

// Bot entry structure
type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// Compiled regex cache
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	// User agents are matched case-insensitively throughout the database.
	regex, err := pcre.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser *Parser
	once   sync.Once
)

type Parser struct {
	browsers   []ClientEntry
	oss        []ClientEntry
	devices    []DeviceEntry
	bots       []BotEntry
	regexCache *RegexCache
}

func loadYAML(file string, out any) {
	data, err := databaseFiles.ReadFile(file)
	if err != nil {
		fmt.Printf("Error reading %s: %v\n", file, err)
		return
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		fmt.Printf("Error parsing %s: %v\n", file, err)
	}
}

func getParser() *Parser {
	once.Do(func() {
		parser = &Parser{regexCache: newRegexCache()}
		loadYAML("database/browsers.yml", &parser.browsers)
		loadYAML("database/oss.yml", &parser.oss)
		loadYAML("database/bots.yml", &parser.bots)
		loadYAML("database/devices.yml", &parser.devices)
	})
	return parser
}

func (p *Parser) parseBot(userAgent string) *BotEntry {
	for i := range p.bots {
		if regex, err := p.regexCache.get(p.bots[i].Regex); err == nil {
			if regex.MatchString(userAgent) {
				return &p.bots[i]
			}
		}
	}
	return nil
}

// matchClient returns the name and expanded version of the first entry matching the user agent.
func (p *Parser) matchClient(entries []ClientEntry, userAgent string) (string, string) {
	for _, entry := range entries {
		regex, err := p.regexCache.get(entry.Regex)
		if err != nil {
			continue
		}
		matches := regex.FindStringSubmatch(userAgent)
		if len(matches) == 0 {
			continue
		}
		version := ""
		if entry.Version != "" && len(matches) > 1 {
			version = entry.Version
			for i, match := range matches[1:] {
				version = strings.ReplaceAll(version, fmt.Sprintf("$%d", i+1), match)
			}
			version = strings.ReplaceAll(version, "_", ".")
		}
		return entry.Name, version
	}
	return Unknown, ""
}

func (p *Parser) parseDevice(userAgent string) string {
	for _, entry := range p.devices {
		if regex, err := p.regexCache.get(entry.Regex); err == nil {
			if regex.MatchString(userAgent) {
				return entry.Device
			}
		}
	}
	return DeviceDesktop
}

// ParseUserAgent classifies a raw User-Agent header. An empty header yields
// Unknown for every field so it can be stored without a lookup failure.
func ParseUserAgent(userAgent string) UserAgent {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return UserAgent{OS: Unknown, Browser: Unknown, DeviceType: Unknown}
	}

	p := getParser()

	if bot := p.parseBot(userAgent); bot != nil {
		return UserAgent{
			UserAgent:  userAgent,
			OS:         Unknown,
			Browser:    bot.Name,
			DeviceType: DeviceBot,
			Bot:        true,
		}
	}

	browser, _ := p.matchClient(p.browsers, userAgent)
	os, _ := p.matchClient(p.oss, userAgent)
	device := p.parseDevice(userAgent)

	return UserAgent{
		UserAgent:  userAgent,
		OS:         os,
		Browser:    browser,
		DeviceType: device,
		Mobile:     device == DeviceMobile,
		Tablet:     device == DeviceTablet,
		Desktop:    device == DeviceDesktop,
	}
}

