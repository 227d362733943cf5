// Package database implements the optional Postgres-backed observation
// store. File artifacts remain the primary output; the database sink is
// enabled only when a connection is configured.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/greenpulse/greenpulse/internal/models"
)

// ObservationRepository defines the storage interface for normalized
// observations.
type ObservationRepository interface {
	// ReplaceObservations atomically replaces a source's observations with
	// the given table. Either the full table lands or nothing changes.
	ReplaceObservations(ctx context.Context, source string, table models.ObservationTable) error

	// QueryObservations returns a source's observations ordered by entity,
	// category, and period.
	QueryObservations(ctx context.Context, source string) (models.ObservationTable, error)

	// Close releases the underlying connection pool.
	Close() error
}

// PostgresRepo implements ObservationRepository on Postgres via lib/pq.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo opens and verifies a Postgres connection.
func NewPostgresRepo(connStr string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRepo{db: db}, nil
}

func (r *PostgresRepo) ReplaceObservations(ctx context.Context, source string, table models.ObservationTable) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM observations WHERE source = $1", source); err != nil {
		return fmt.Errorf("clear observations for %s: %w", source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (entity_id, period, value, unit, category, source)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range table {
		if _, err := stmt.ExecContext(ctx,
			row.EntityID, row.Period, row.Value, row.Unit, row.Category, row.Source,
		); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}

	return tx.Commit()
}

func (r *PostgresRepo) QueryObservations(ctx context.Context, source string) (models.ObservationTable, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, period, value, unit, category, source
		FROM observations
		WHERE source = $1
		ORDER BY entity_id, category, period`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var table models.ObservationTable
	for rows.Next() {
		var row models.ObservationRow
		if err := rows.Scan(&row.EntityID, &row.Period, &row.Value, &row.Unit, &row.Category, &row.Source); err != nil {
			return nil, err
		}
		table = append(table, row)
	}
	return table, rows.Err()
}

func (r *PostgresRepo) Close() error {
	return r.db.Close()
}
