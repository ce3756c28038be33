package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"sitepulse/internal/pkg/geoip"
)

const loopbackFallback = "127.0.0.1"

// getClientIP returns the first public address found in the proxy headers
// or the socket address. Requests with no public address resolve to
// loopback, which the ingestion layer treats as non-production.
func getClientIP(c *fiber.Ctx) string {
	if ip := geoip.PreferredPublicIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range []string{
		"X-Real-IP",
		"CF-Connecting-IP",
		"True-Client-IP",
		"X-Client-IP",
	} {
		if value := c.Get(header); value != "" {
			if ip := geoip.PreferredPublicIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := geoip.PreferredPublicIP(parseForwardedHeader(forwarded)); ip != "" {
			return ip
		}
	}

	if ip := geoip.PreferredPublicIP([]string{c.Context().RemoteAddr().String(), c.IP()}); ip != "" {
		return ip
	}

	slog.Default().Debug("Fallback to loopback IP for request", slog.String("path", c.Path()))
	return loopbackFallback
}

// parseForwardedHeader extracts the for= candidates of an RFC 7239 header.
func parseForwardedHeader(header string) []string {
	var candidates []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				candidates = append(candidates, part[len("for="):])
			}
		}
	}
	return candidates
}

// userAgent prefers the header set by server-side proxies of the tracker.
func userAgent(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return c.Get("User-Agent")
}

// parseBody decodes a JSON request body. Beacon requests arrive as
// text/plain, so the raw body is decoded when the content type is not JSON.
func parseBody(c *fiber.Ctx, out any) error {
	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEApplicationJSON) {
		return c.BodyParser(out)
	}
	return json.Unmarshal(c.Body(), out)
}

func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:16]) + `"`
}
