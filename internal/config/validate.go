package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	errs = appendDurationErrors(errs, "MIN_GAP", cfg.MinGapStr)
	errs = appendDurationErrors(errs, "LOCK_TTL", cfg.LockTTLStr)
	errs = appendDurationErrors(errs, "LOCK_WAIT", cfg.LockWaitStr)
	errs = appendDurationErrors(errs, "SWEEP_INTERVAL", cfg.SweepIntervalStr)
	errs = appendDurationErrors(errs, "PUBLISH_POLL_INTERVAL", cfg.PublishPollIntervalStr)

	// A lock that expires mid-wait defeats mutual exclusion.
	if cfg.LockTTL > 0 && cfg.LockWait > 0 && cfg.LockWait >= cfg.LockTTL {
		errs = append(errs, ValidationError{
			Field:   "LOCK_WAIT",
			Message: fmt.Sprintf("must be shorter than LOCK_TTL (%s)", cfg.LockTTLStr),
		})
	}

	// SWEEP_CRON must parse as a standard 5-field cron expression.
	if cfg.SweepCron != "" {
		if _, err := cron.ParseStandard(cfg.SweepCron); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_CRON",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationErrors(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
