// Package target provides batched, savepoint-recovered writes to the
// PostgreSQL target store.
package target

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/config"
)

// watermarkEpoch is the sentinel lower bound for watermark queries. A table
// whose greatest timestamp equals the sentinel is considered empty.
const watermarkEpoch = "1900-01-01"

// Store is a handle on the target database.
type Store struct {
	db *sql.DB
}

// Connect opens the target database and verifies connectivity.
func Connect(ctx context.Context, cfg config.TargetConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open target database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping target database: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for the reconciler and analytics mirror.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// LastWatermark returns the greatest created_at/updated_at of a table, or
// nil when the table is empty.
func (s *Store) LastWatermark(ctx context.Context, table string) (*time.Time, error) {
	query := fmt.Sprintf(`
		SELECT GREATEST(
			COALESCE(MAX(created_at), '%s'::timestamp),
			COALESCE(MAX(updated_at), '%s'::timestamp)
		) FROM %s`, watermarkEpoch, watermarkEpoch, table)

	var last time.Time
	if err := s.db.QueryRowContext(ctx, query).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read watermark of %s: %w", table, err)
	}

	epoch, _ := time.Parse("2006-01-02", watermarkEpoch)
	if last.Equal(epoch) {
		return nil, nil
	}
	return &last, nil
}

// TruncateCascade clears a table and everything referencing it.
func (s *Store) TruncateCascade(ctx context.Context, table string) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", table, err)
	}
	return nil
}

// IDSet returns every id of a table, for the comparator.
func (s *Store) IDSet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read ids of %s: %w", table, err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// RelationshipTuples reads the current child tuples of one parent, as
// [child] or [child, discriminator] slices keyed for set comparison.
func (s *Store) RelationshipTuples(ctx context.Context, table, parentColumn, childColumn, typeColumn, parentID string) ([][]string, error) {
	var query string
	if typeColumn != "" {
		query = fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = $1", childColumn, typeColumn, table, parentColumn)
	} else {
		query = fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", childColumn, table, parentColumn)
	}

	rows, err := s.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read relationships of %s: %w", table, err)
	}
	defer rows.Close()

	var tuples [][]string
	for rows.Next() {
		if typeColumn != "" {
			var child, typ string
			if err := rows.Scan(&child, &typ); err != nil {
				return nil, err
			}
			tuples = append(tuples, []string{child, typ})
		} else {
			var child string
			if err := rows.Scan(&child); err != nil {
				return nil, err
			}
			tuples = append(tuples, []string{child})
		}
	}
	return tuples, rows.Err()
}
