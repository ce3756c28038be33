package v1

import (
	"encoding/json"
	"errors"
	"strings"
)

var errInvalidSessionID = errors.New("session_id must be a string or a number")

// SessionID accepts both JSON strings and numbers. The tracker sends the
// id it received from init, which older clients stored as a number.
type SessionID string

func (s *SessionID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SessionID(strings.TrimSpace(str))
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return errInvalidSessionID
	}
	*s = SessionID(num.String())
	return nil
}

func (s SessionID) String() string {
	return string(s)
}
