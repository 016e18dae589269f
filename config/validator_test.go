package config

import (
	"strings"
	"testing"
)

func TestValidateWithDetails_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateWithDetails(cfg); err != nil {
		t.Fatalf("ValidateWithDetails() error = %v", err)
	}
}

func TestValidateWithDetails_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Environment = "lab"
	cfg.Log.Level = "loud"
	cfg.Server.Port = 70000

	err := ValidateWithDetails(cfg)
	if err == nil {
		t.Fatalf("ValidateWithDetails() accepted invalid config")
	}
	details, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(details) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(details), details)
	}
	msg := err.Error()
	for _, field := range []string{"Environment", "Level", "Port"} {
		if !strings.Contains(msg, field) {
			t.Errorf("error message missing field %s: %s", field, msg)
		}
	}
}

func TestValidateWithDetails_ServiceURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services = map[string]ServiceConfig{
		"payments": {BaseURL: "not a url"},
	}
	if err := ValidateWithDetails(cfg); err == nil {
		t.Fatalf("ValidateWithDetails() accepted invalid service URL")
	}

	cfg.Services["payments"] = ServiceConfig{BaseURL: "http://payments:8000"}
	if err := ValidateWithDetails(cfg); err != nil {
		t.Fatalf("ValidateWithDetails() error = %v", err)
	}
}

func TestConfigErrorFormatting(t *testing.T) {
	err := ConfigError{Field: "Config.Server.Port", Message: "must be at most 65535", Value: 70000}
	msg := err.Error()
	if !strings.Contains(msg, "Config.Server.Port") || !strings.Contains(msg, "70000") {
		t.Errorf("Error() = %q", msg)
	}

	var empty ValidationErrors
	if empty.Error() != "no validation errors" {
		t.Errorf("empty ValidationErrors.Error() = %q", empty.Error())
	}
}
