package postgres

const queryGetCheckpoint = `
SELECT last_scheduled_at FROM checkpoints
WHERE platform = $1 AND account = $2
`

// The GREATEST guard keeps the checkpoint monotonic even if two writers
// somehow overlap during a lock-expiry race.
const queryUpsertCheckpoint = `
INSERT INTO checkpoints (platform, account, last_scheduled_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (platform, account) DO UPDATE
SET last_scheduled_at = GREATEST(checkpoints.last_scheduled_at, EXCLUDED.last_scheduled_at),
    updated_at = EXCLUDED.updated_at
`

const queryInsertRecord = `
INSERT INTO schedule_records (item_id, platform, account, scheduled_for, decided_at, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (item_id) DO NOTHING
`

const queryGetRecord = `
SELECT item_id, platform, account, scheduled_for, decided_at, status, attempts, created_at
FROM schedule_records
WHERE item_id = $1
`

// Stale 'publishing' rows belong to a publisher that died mid-delivery;
// they become visible again once their claim predates $2.
const queryListDueRecords = `
SELECT item_id, platform, account, scheduled_for, decided_at, status, attempts, created_at
FROM schedule_records
WHERE (status = 'scheduled' AND scheduled_for <= $1)
   OR (status = 'publishing' AND claimed_at <= $2)
ORDER BY scheduled_for ASC
LIMIT $3
`

// The status predicate makes claiming atomic under concurrency: of two
// publishers racing for the same record, exactly one update matches.
const queryClaimRecord = `
UPDATE schedule_records
SET status = 'publishing', claimed_at = $2
WHERE item_id = $1
  AND (status = 'scheduled' OR (status = 'publishing' AND claimed_at <= $3))
`

const queryUpdateRecordStatus = `
UPDATE schedule_records
SET status = $1, claimed_at = NULL
WHERE item_id = $2
  AND status NOT IN ('published', 'failed')
`

const queryGetRecordStatus = `
SELECT status FROM schedule_records WHERE item_id = $1
`

const queryListRecords = `
SELECT item_id, platform, account, scheduled_for, decided_at, status, attempts, created_at
FROM schedule_records
WHERE platform = $1 AND account = $2
ORDER BY scheduled_for DESC
LIMIT $3 OFFSET $4
`

const queryInsertPublishAttempt = `
INSERT INTO publish_attempts (id, item_id, attempt, status_code, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryIncrementRecordAttempts = `
UPDATE schedule_records SET attempts = attempts + 1 WHERE item_id = $1
`

const queryGetSettings = `
SELECT interval_hours, enabled, updated_at FROM autopilot_settings
WHERE platform = $1 AND account = $2
`

const queryUpsertSettings = `
INSERT INTO autopilot_settings (platform, account, interval_hours, enabled, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (platform, account) DO UPDATE
SET interval_hours = EXCLUDED.interval_hours,
    enabled = EXCLUDED.enabled,
    updated_at = EXCLUDED.updated_at
`

const queryInsertReadyItem = `
INSERT INTO ready_items (item_id, platform, account, became_ready_at, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (item_id) DO NOTHING
`

const queryListReadyItems = `
SELECT i.item_id, i.platform, i.account, i.became_ready_at, i.created_at
FROM ready_items i
LEFT JOIN schedule_records r ON r.item_id = i.item_id
WHERE i.platform = $1 AND i.account = $2
  AND r.item_id IS NULL
ORDER BY i.became_ready_at ASC
`

const queryListPendingTenants = `
SELECT DISTINCT i.platform, i.account
FROM ready_items i
LEFT JOIN schedule_records r ON r.item_id = i.item_id
WHERE r.item_id IS NULL
ORDER BY i.platform, i.account
`
