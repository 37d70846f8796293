package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DatabaseURL: "postgres://localhost/postpilot",
		MinGapStr:   "2h",
		MinGap:      2 * time.Hour,
		LockTTLStr:  "30s",
		LockTTL:     30 * time.Second,
		LockWaitStr: "2s",
		LockWait:    2 * time.Second,
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for missing DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error should mention DATABASE_URL, got %q", err.Error())
	}
}

func TestValidate_InvalidDurations(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"bad min gap", func(c *Config) { c.MinGapStr = "banana" }, "MIN_GAP"},
		{"negative lock ttl", func(c *Config) { c.LockTTLStr = "-5s" }, "LOCK_TTL"},
		{"bad sweep interval", func(c *Config) { c.SweepIntervalStr = "often" }, "SWEEP_INTERVAL"},
		{"bad poll interval", func(c *Config) { c.PublishPollIntervalStr = "0s" }, "PUBLISH_POLL_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mut(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error should mention %s, got %q", tt.field, err.Error())
			}
		})
	}
}

func TestValidate_LockWaitExceedsTTL(t *testing.T) {
	cfg := validConfig()
	cfg.LockWaitStr = "1m"
	cfg.LockWait = time.Minute

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error when LOCK_WAIT >= LOCK_TTL")
	}
	if !strings.Contains(err.Error(), "LOCK_WAIT") {
		t.Errorf("error should mention LOCK_WAIT, got %q", err.Error())
	}
}

func TestValidate_SweepCron(t *testing.T) {
	cfg := validConfig()
	cfg.SweepCron = "*/5 * * * *"
	if err := Validate(cfg); err != nil {
		t.Errorf("valid cron expression rejected: %v", err)
	}

	cfg.SweepCron = "every five minutes"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for invalid SWEEP_CRON")
	}
	if !strings.Contains(err.Error(), "SWEEP_CRON") {
		t.Errorf("error should mention SWEEP_CRON, got %q", err.Error())
	}
}

func TestValidationErrors_MultipleJoined(t *testing.T) {
	cfg := Config{MinGapStr: "nope", LockTTLStr: "nope"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !strings.Contains(err.Error(), "validation errors") {
		t.Errorf("multiple errors should be joined with a count, got %q", err.Error())
	}
}
