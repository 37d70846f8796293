package api

import "time"

type IngestItemRequest struct {
	Platform string `json:"platform"`
	Account  string `json:"account"`

	// ItemID is optional; one is generated when omitted. Supplying it lets
	// upstream systems retry ingestion idempotently.
	ItemID string `json:"item_id,omitempty"`

	// BecameReadyAt defaults to now when omitted.
	BecameReadyAt string `json:"became_ready_at,omitempty"`
}

type IngestItemResponse struct {
	ItemID        string `json:"item_id"`
	Platform      string `json:"platform"`
	Account       string `json:"account"`
	BecameReadyAt string `json:"became_ready_at"`
}

type ScheduleRequest struct {
	Platform string `json:"platform"`
	Account  string `json:"account"`
}

type ScheduleResponse struct {
	Scheduled []RecordResponse `json:"scheduled"`
	Skipped   int              `json:"skipped"`
}

type RecordResponse struct {
	ItemID       string `json:"item_id"`
	Platform     string `json:"platform"`
	Account      string `json:"account"`
	ScheduledFor string `json:"scheduled_for"`
	DecidedAt    string `json:"decided_at"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	CreatedAt    string `json:"created_at"`
}

type ListRecordsResponse struct {
	Records []RecordResponse `json:"records"`
}

type SettingsRequest struct {
	Platform      string  `json:"platform"`
	Account       string  `json:"account"`
	IntervalHours float64 `json:"interval_hours"`
	Enabled       bool    `json:"enabled"`
}

type SettingsResponse struct {
	Platform      string  `json:"platform"`
	Account       string  `json:"account"`
	IntervalHours float64 `json:"interval_hours"`
	Enabled       bool    `json:"enabled"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
