package v1

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientIPFor(t *testing.T, headers map[string]string) string {
	t.Helper()

	app := fiber.New()
	app.Get("/ip", func(c *fiber.Ctx) error {
		return c.SendString(getClientIP(c))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/ip", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "first public address in forwarded chain",
			headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 198.51.100.7, 203.0.113.9"},
			want:    "198.51.100.7",
		},
		{
			name:    "mapped ipv6 in forwarded chain",
			headers: map[string]string{"X-Forwarded-For": "::ffff:198.51.100.8"},
			want:    "198.51.100.8",
		},
		{
			name:    "real ip header",
			headers: map[string]string{"X-Real-IP": "198.51.100.10"},
			want:    "198.51.100.10",
		},
		{
			name: "private forwarded chain falls through to cloudflare header",
			headers: map[string]string{
				"X-Forwarded-For":  "192.168.1.4",
				"CF-Connecting-IP": "198.51.100.11",
			},
			want: "198.51.100.11",
		},
		{
			name:    "rfc 7239 header with port",
			headers: map[string]string{"Forwarded": `for="198.51.100.12:4711";proto=https, for=10.1.1.1`},
			want:    "198.51.100.12",
		},
		{
			name:    "no public address falls back to loopback",
			headers: map[string]string{"X-Forwarded-For": "127.0.0.1"},
			want:    "127.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clientIPFor(t, tt.headers))
		})
	}
}

func TestParseForwardedHeader(t *testing.T) {
	got := parseForwardedHeader(`for=192.0.2.43, for="[2001:db8:cafe::17]:4711";proto=http, by=203.0.113.60`)
	assert.Equal(t, []string{"192.0.2.43", `"[2001:db8:cafe::17]:4711"`}, got)
}

func TestParseBodyAcceptsBeaconPayload(t *testing.T) {
	app := fiber.New()
	app.Post("/pulse", func(c *fiber.Ctx) error {
		var params PulseParams
		if err := parseBody(c, &params); err != nil {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}
		return c.JSON(fiber.Map{"session_id": params.SessionID, "duration": *params.Duration})
	})

	req := httptest.NewRequest(fiber.MethodPost, "/pulse", strings.NewReader(`{"session_id":42,"duration":12.6}`))
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out struct {
		SessionID string  `json:"session_id"`
		Duration  float64 `json:"duration"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "42", out.SessionID)
	assert.InDelta(t, 12.6, out.Duration, 0.001)
}

func TestSessionIDUnmarshal(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: `"17"`, want: "17"},
		{raw: `" abc-key "`, want: "abc-key"},
		{raw: `17`, want: "17"},
		{raw: `null`, want: ""},
		{raw: `{"id":1}`, wantErr: true},
		{raw: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var params struct {
				SessionID SessionID `json:"session_id"`
			}
			err := json.Unmarshal([]byte(`{"session_id":`+tt.raw+`}`), &params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, params.SessionID.String())
		})
	}
}

func TestGenerateETagIsStable(t *testing.T) {
	a := generateETag([]byte("tracker"))
	assert.Equal(t, a, generateETag([]byte("tracker")))
	assert.NotEqual(t, a, generateETag([]byte("tracker v2")))
	assert.True(t, strings.HasPrefix(a, `"`) && strings.HasSuffix(a, `"`))
}
