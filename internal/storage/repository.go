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
	upsertObservationSQL = `INSERT INTO observations (
        observed_at,
        price
    ) VALUES (
        $1,$2
    )
    ON CONFLICT (observed_at) DO UPDATE
    SET price = EXCLUDED.price;`

	listObservationsBetweenSQL = `SELECT
        observed_at,
        price,
        created_at
    FROM observations
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at;`

	countObservationsSQL = `SELECT COUNT(*) FROM observations;`

	insertPredictionSQL = `INSERT INTO predictions (
        price,
        explanation,
        source,
        last_observed,
        series_count,
        generated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentPredictionsSQL = `SELECT
        id,
        price,
        explanation,
        source,
        last_observed,
        series_count,
        generated_at,
        created_at
    FROM predictions
    ORDER BY generated_at DESC
    LIMIT $1;`

	deletePredictionsBeforeSQL = `DELETE FROM predictions WHERE generated_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines operations for observation persistence.
type ObservationStore interface {
	UpsertObservations(ctx context.Context, observations []ObservationRow) error
	ListObservationsBetween(ctx context.Context, from, to time.Time) ([]ObservationRow, error)
	CountObservations(ctx context.Context) (int64, error)
}

// PredictionStore defines operations for prediction auditing.
type PredictionStore interface {
	InsertPrediction(ctx context.Context, prediction PredictionRow) (PredictionRow, error)
	ListRecentPredictions(ctx context.Context, limit int) ([]PredictionRow, error)
	DeletePredictionsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations and predictions.
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

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertObservations persists a batch of observations keyed by timestamp.
func (s *Store) UpsertObservations(ctx context.Context, observations []ObservationRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, obs := range observations {
		batch.Queue(upsertObservationSQL, obs.ObservedAt, obs.Price.String())
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range observations {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("upsert observation: %w", execErr)
		}
	}
	return nil
}

// ListObservationsBetween lists observations within a time window.
func (s *Store) ListObservationsBetween(ctx context.Context, from, to time.Time) ([]ObservationRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]ObservationRow, 0)
	for rows.Next() {
		var (
			row      ObservationRow
			priceStr string
		)
		if err := rows.Scan(&row.ObservedAt, &priceStr, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Price, err = decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse observation price: %w", err)
		}
		observations = append(observations, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// InsertPrediction persists a prediction emission.
func (s *Store) InsertPrediction(ctx context.Context, prediction PredictionRow) (PredictionRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return PredictionRow{}, err
	}

	row := pool.QueryRow(ctx, insertPredictionSQL,
		prediction.Price.String(),
		prediction.Explanation,
		prediction.Source,
		prediction.LastObserved.String(),
		prediction.SeriesCount,
		prediction.GeneratedAt,
	)

	rec := prediction
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return PredictionRow{}, fmt.Errorf("insert prediction: %w", scanErr)
	}
	return rec, nil
}

// ListRecentPredictions lists most recent predictions.
func (s *Store) ListRecentPredictions(ctx context.Context, limit int) ([]PredictionRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPredictionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent predictions: %w", queryErr)
	}
	defer rows.Close()

	predictions := make([]PredictionRow, 0, limit)
	for rows.Next() {
		var (
			rec             PredictionRow
			priceStr        string
			lastObservedStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&priceStr,
			&rec.Explanation,
			&rec.Source,
			&lastObservedStr,
			&rec.SeriesCount,
			&rec.GeneratedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse prediction price: %w", convErr)
		}
		rec.LastObserved, convErr = decimal.NewFromString(lastObservedStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse last observed price: %w", convErr)
		}

		predictions = append(predictions, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return predictions, nil
}

// DeletePredictionsBefore deletes historical predictions.
func (s *Store) DeletePredictionsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deletePredictionsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete predictions before: %w", execErr)
	}
	return nil
}
