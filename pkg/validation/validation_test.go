package validation

import (
	"strings"
	"testing"
)

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		room    string
		wantErr bool
	}{
		{"valid room", "standup", false},
		{"valid with dash", "team-standup", false},
		{"valid with underscore", "team_standup", false},
		{"valid with digits", "room42", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"spaces", "team standup", true},
		{"special chars", "room!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomName(tt.room)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoomName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		display string
		wantErr bool
	}{
		{"valid name", "Alice", false},
		{"valid with spaces", "Alice Cooper", false},
		{"valid unicode", "Алиса", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.display)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRelayURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid ws", "ws://localhost:8081/ws", false},
		{"valid wss", "wss://relay.example.com/ws", false},
		{"empty", "", true},
		{"http scheme", "http://localhost:8081/ws", true},
		{"no host", "ws:///ws", true},
		{"garbage", "not a url at all\x7f", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelayURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRelayURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNonEmptyString(t *testing.T) {
	if err := ValidateNonEmptyString("value", "field"); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if err := ValidateNonEmptyString("  ", "field"); err == nil {
		t.Error("expected error for whitespace-only string")
	}
}
