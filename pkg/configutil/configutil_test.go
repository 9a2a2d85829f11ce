package configutil

import (
	"errors"
	"testing"
	"time"
)

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"API-Key": "  ",
		"colour":  "blue",
	}, Schema{Required: []string{"api_key", "model"}, Optional: []string{"language"}})
	var serr *SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(serr.Missing) != 2 || serr.Missing[0] != "api_key" || serr.Missing[1] != "model" {
		t.Fatalf("unexpected missing keys %v", serr.Missing)
	}
	if len(serr.Unknown) != 1 || serr.Unknown[0] != "colour" {
		t.Fatalf("unexpected unknown keys %v", serr.Unknown)
	}
	if err.Error() != "missing: api_key, model; unknown: colour" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestValidateSettingsAcceptsNormalizedKeys(t *testing.T) {
	err := ValidateSettings(map[string]any{"Account-SID": "AC1", "authToken": "t"}, Schema{
		Required: []string{"account_sid", "auth_token"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeSettings(t *testing.T) {
	var out struct {
		APIKey   string        `mapstructure:"api_key"`
		Interim  *bool         `mapstructure:"interim"`
		Timeout  time.Duration `mapstructure:"timeout"`
		MinLevel string        `mapstructure:"min_level"`
	}
	err := DecodeSettings(map[string]any{
		"API_KEY":   "secret",
		"interim":   "false",
		"timeout":   "250ms",
		"min-level": "error",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "secret" || out.MinLevel != "error" {
		t.Fatalf("unexpected decode %+v", out)
	}
	if BoolValue(out.Interim, true) {
		t.Fatalf("expected interim false")
	}
	if out.Timeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", out.Timeout)
	}
}

func TestMillisFallback(t *testing.T) {
	if got := Millis(0, time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := Millis(2200, time.Second); got != 2200*time.Millisecond {
		t.Fatalf("expected 2.2s, got %s", got)
	}
}
