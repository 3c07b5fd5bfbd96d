package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RoomNameRegex validates room name format.
var RoomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateRoomName validates a room name.
func ValidateRoomName(room string) error {
	if room == "" {
		return fmt.Errorf("room name is required")
	}
	if len(room) > 100 {
		return fmt.Errorf("room name is too long (max 100 characters)")
	}
	if !RoomNameRegex.MatchString(room) {
		return fmt.Errorf("invalid room name format (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateDisplayName validates a participant display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > 64 {
		return fmt.Errorf("display name is too long (max 64 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return nil
}

// ValidateRelayURL validates a relay websocket URL.
func ValidateRelayURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid relay URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("relay URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after
// trimming.
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
