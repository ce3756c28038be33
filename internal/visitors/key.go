package visitors

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// MaxKeyLength bounds client-supplied visitor keys.
const MaxKeyLength = 128

// NewKey generates a visitor or session key.
func NewKey() string {
	return uuid.NewString()
}

// CleanVisitorKey returns the trimmed client key, or "" when it is empty,
// too long or contains control characters. An empty result means the
// caller should mint a new key.
func CleanVisitorKey(raw string) string {
	key := strings.TrimSpace(raw)
	if key == "" || len(key) > MaxKeyLength {
		return ""
	}
	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ""
		}
	}
	return key
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
