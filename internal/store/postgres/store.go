package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/postpilot-io/postpilot/internal/api"
	"github.com/postpilot-io/postpilot/internal/autopilot"
	"github.com/postpilot-io/postpilot/internal/domain"
	"github.com/postpilot-io/postpilot/internal/publisher"
	"github.com/postpilot-io/postpilot/internal/sweep"
)

// Store implements the engine, publisher, sweep, and API store contracts
// using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
// Every operation is bounded by opTimeout; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) GetCheckpoint(ctx context.Context, key domain.TenantKey) (time.Time, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var at time.Time
	err := s.db.QueryRowContext(ctx, queryGetCheckpoint, key.Platform, key.Account).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (s *Store) PutCheckpoint(ctx context.Context, key domain.TenantKey, at time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertCheckpoint,
		key.Platform, key.Account, at, time.Now().UTC())
	return err
}

// InsertRecord writes the record if the item has none yet. On conflict the
// existing record is returned with created=false; the unique index on
// item_id makes the insert-if-absent atomic.
func (s *Store) InsertRecord(ctx context.Context, rec domain.ScheduleRecord) (domain.ScheduleRecord, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryInsertRecord,
		rec.ItemID,
		rec.TenantKey.Platform,
		rec.TenantKey.Account,
		rec.ScheduledFor,
		rec.DecidedAt,
		string(rec.Status),
		rec.Attempts,
		rec.CreatedAt,
	)
	if err != nil {
		return domain.ScheduleRecord{}, false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.ScheduleRecord{}, false, err
	}
	if rows > 0 {
		return rec, true, nil
	}

	existing, err := s.getRecord(ctx, rec.ItemID)
	if err != nil {
		return domain.ScheduleRecord{}, false, err
	}
	return existing, false, nil
}

func (s *Store) getRecord(ctx context.Context, itemID uuid.UUID) (domain.ScheduleRecord, error) {
	var rec domain.ScheduleRecord
	var status string
	err := s.db.QueryRowContext(ctx, queryGetRecord, itemID).Scan(
		&rec.ItemID,
		&rec.TenantKey.Platform,
		&rec.TenantKey.Account,
		&rec.ScheduledFor,
		&rec.DecidedAt,
		&status,
		&rec.Attempts,
		&rec.CreatedAt,
	)
	if err != nil {
		return domain.ScheduleRecord{}, err
	}
	rec.Status = domain.RecordStatus(status)
	return rec, nil
}

// GetSettings returns the tenant's settings; an unconfigured tenant reads
// as disabled.
func (s *Store) GetSettings(ctx context.Context, key domain.TenantKey) (domain.AutopilotSettings, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	set := domain.AutopilotSettings{TenantKey: key}
	err := s.db.QueryRowContext(ctx, queryGetSettings, key.Platform, key.Account).Scan(
		&set.IntervalHours,
		&set.Enabled,
		&set.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return domain.AutopilotSettings{TenantKey: key}, nil
	}
	if err != nil {
		return domain.AutopilotSettings{}, err
	}
	return set, nil
}

func (s *Store) PutSettings(ctx context.Context, set domain.AutopilotSettings) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertSettings,
		set.TenantKey.Platform,
		set.TenantKey.Account,
		set.IntervalHours,
		set.Enabled,
		time.Now().UTC(),
	)
	return err
}

func (s *Store) AddReadyItem(ctx context.Context, item domain.ReadyItem) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, queryInsertReadyItem,
		item.ItemID,
		item.TenantKey.Platform,
		item.TenantKey.Account,
		item.BecameReadyAt,
		createdAt,
	)
	return err
}

func (s *Store) ListReady(ctx context.Context, key domain.TenantKey) ([]domain.ReadyItem, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListReadyItems, key.Platform, key.Account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ReadyItem
	for rows.Next() {
		var item domain.ReadyItem
		err := rows.Scan(
			&item.ItemID,
			&item.TenantKey.Platform,
			&item.TenantKey.Account,
			&item.BecameReadyAt,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Store) ListPendingTenants(ctx context.Context) ([]domain.TenantKey, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListPendingTenants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TenantKey
	for rows.Next() {
		var key domain.TenantKey
		if err := rows.Scan(&key.Platform, &key.Account); err != nil {
			return nil, err
		}
		result = append(result, key)
	}
	return result, rows.Err()
}

func (s *Store) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.ScheduleRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListDueRecords, now, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ClaimRecord transitions a record to "publishing" if it is scheduled or
// carries a claim older than staleBefore.
func (s *Store) ClaimRecord(ctx context.Context, itemID uuid.UUID, now, staleBefore time.Time) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryClaimRecord, itemID, now, staleBefore)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) ListRecords(ctx context.Context, key domain.TenantKey, limit, offset int) ([]domain.ScheduleRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRecords, key.Platform, key.Account, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]domain.ScheduleRecord, error) {
	var result []domain.ScheduleRecord
	for rows.Next() {
		var rec domain.ScheduleRecord
		var status string
		err := rows.Scan(
			&rec.ItemID,
			&rec.TenantKey.Platform,
			&rec.TenantKey.Account,
			&rec.ScheduledFor,
			&rec.DecidedAt,
			&status,
			&rec.Attempts,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.Status = domain.RecordStatus(status)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// RecordPublishAttempt inserts the attempt row and bumps the record's
// attempt counter in one transaction.
func (s *Store) RecordPublishAttempt(ctx context.Context, attempt domain.PublishAttempt) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertPublishAttempt,
		attempt.ID,
		attempt.ItemID,
		attempt.Attempt,
		attempt.StatusCode,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, queryIncrementRecordAttempts, attempt.ItemID); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateRecordStatus updates the record status.
// Returns publisher.ErrStatusTransitionDenied if the record is already in a
// terminal state. The guard lives in the UPDATE's WHERE clause, so the
// check-and-set is atomic under concurrency.
func (s *Store) UpdateRecordStatus(ctx context.Context, itemID uuid.UUID, status domain.RecordStatus) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryUpdateRecordStatus, string(status), itemID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the record is missing or already terminal; distinguish.
		var current string
		err := s.db.QueryRowContext(ctx, queryGetRecordStatus, itemID).Scan(&current)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return publisher.ErrStatusTransitionDenied
	}
	return nil
}

// Compile-time interface assertions
var (
	_ autopilot.CheckpointStore  = (*Store)(nil)
	_ autopilot.RecordStore      = (*Store)(nil)
	_ autopilot.SettingsProvider = (*Store)(nil)
	_ autopilot.ReadySource      = (*Store)(nil)
	_ publisher.Store            = (*Store)(nil)
	_ sweep.Store                = (*Store)(nil)
	_ api.Store                  = (*Store)(nil)
)
