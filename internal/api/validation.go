package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxIntervalHours caps the cadence a tenant can configure (one post per
// week at minimum).
const MaxIntervalHours = 168

func validateIngestItem(req IngestItemRequest) error {
	if req.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if req.Account == "" {
		return fmt.Errorf("account is required")
	}
	if req.ItemID != "" {
		if _, err := uuid.Parse(req.ItemID); err != nil {
			return fmt.Errorf("invalid item_id: %w", err)
		}
	}
	if req.BecameReadyAt != "" {
		if _, err := time.Parse(time.RFC3339, req.BecameReadyAt); err != nil {
			return fmt.Errorf("invalid became_ready_at: %w", err)
		}
	}
	return nil
}

func validateSchedule(req ScheduleRequest) error {
	if req.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if req.Account == "" {
		return fmt.Errorf("account is required")
	}
	return nil
}

func validateSettings(req SettingsRequest) error {
	if req.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if req.Account == "" {
		return fmt.Errorf("account is required")
	}
	if req.IntervalHours <= 0 {
		return fmt.Errorf("interval_hours must be positive")
	}
	if req.IntervalHours > MaxIntervalHours {
		return fmt.Errorf("interval_hours exceeds maximum of %d", MaxIntervalHours)
	}
	return nil
}
