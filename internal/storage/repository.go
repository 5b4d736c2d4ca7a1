package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS alert_log (
        id             BIGSERIAL PRIMARY KEY,
        machine        TEXT        NOT NULL,
        alert_val      SMALLINT    NOT NULL,
        reason         TEXT        NOT NULL,
        value          NUMERIC     NOT NULL,
        threshold_low  NUMERIC     NOT NULL,
        threshold_high NUMERIC     NOT NULL,
        sample_ts      TIMESTAMPTZ NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS alert_log_sample_ts_idx ON alert_log (sample_ts);`

	insertAlertSQL = `INSERT INTO alert_log (
        machine,
        alert_val,
        reason,
        value,
        threshold_low,
        threshold_high,
        sample_ts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, machine, alert_val, reason, value, threshold_low, threshold_high, sample_ts, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        machine,
        alert_val,
        reason,
        value,
        threshold_low,
        threshold_high,
        sample_ts,
        created_at
    FROM alert_log
    WHERE $2::text = '' OR machine = $2::text
    ORDER BY sample_ts DESC, id DESC
    LIMIT $1;`

	listAlertsBetweenSQL = `SELECT
        id,
        machine,
        alert_val,
        reason,
        value,
        threshold_low,
        threshold_high,
        sample_ts,
        created_at
    FROM alert_log
    WHERE sample_ts >= $1
      AND sample_ts < $2
    ORDER BY sample_ts, id;`

	deleteAlertsBeforeSQL = `DELETE FROM alert_log WHERE sample_ts < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, machine string, limit int) ([]AlertRecord, error)
	ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL alert log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the alert log table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The lock lives on a dedicated connection until released.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is dropped with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Machine,
		alert.AlertVal,
		alert.Reason,
		alert.Value.String(),
		alert.ThresholdLow.String(),
		alert.ThresholdHigh.String(),
		alert.SampleTS,
	)
	rec, err := scanAlertRecord(row)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return rec, nil
}

// ListRecentAlerts lists the most recent alerts, newest first. An empty
// machine matches every machine.
func (s *Store) ListRecentAlerts(ctx context.Context, machine string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit, machine)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	return collectAlertRecords(rows, limit)
}

// ListAlertsBetween lists alerts with sample time in [from, to), oldest first.
func (s *Store) ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts between: %w", queryErr)
	}
	return collectAlertRecords(rows, 0)
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectAlertRecords(rows pgx.Rows, capacity int) ([]AlertRecord, error) {
	defer rows.Close()

	alerts := make([]AlertRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanAlertRecord(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlertRecord(row pgx.Row) (AlertRecord, error) {
	var (
		rec                       AlertRecord
		valueStr, lowStr, highStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Machine,
		&rec.AlertVal,
		&rec.Reason,
		&valueStr,
		&lowStr,
		&highStr,
		&rec.SampleTS,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	if rec.Value, err = decimal.NewFromString(valueStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse value: %w", err)
	}
	if rec.ThresholdLow, err = decimal.NewFromString(lowStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold low: %w", err)
	}
	if rec.ThresholdHigh, err = decimal.NewFromString(highStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold high: %w", err)
	}
	return rec, nil
}
