package handoff

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const createPlateReads = `CREATE TABLE IF NOT EXISTS plate_reads (
	id          UUID PRIMARY KEY,
	plate       TEXT NOT NULL,
	confidence  REAL NOT NULL,
	backend     TEXT NOT NULL,
	source      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
)`

// PostgresSink stores reads in the plate_reads table.
type PostgresSink struct {
	db *sql.DB
}

// OpenDB opens and pings a pgx-backed database/sql handle.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate creates the plate_reads table when missing.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createPlateReads); err != nil {
		return fmt.Errorf("PostgresSink.Migrate: %w", err)
	}
	return nil
}

func (s *PostgresSink) Deliver(ctx context.Context, read Read) error {
	query := `INSERT INTO plate_reads (id, plate, confidence, backend, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		read.ID, read.Plate, read.Confidence, read.Backend, read.Source, read.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("PostgresSink.Deliver: %w", err)
	}
	return nil
}

// Recent returns the latest reads, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Read, error) {
	query := `SELECT id, plate, confidence, backend, source, created_at
		FROM plate_reads ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("PostgresSink.Recent: %w", err)
	}
	defer rows.Close()

	var reads []Read
	for rows.Next() {
		var r Read
		if err := rows.Scan(&r.ID, &r.Plate, &r.Confidence, &r.Backend, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("PostgresSink.Recent scan: %w", err)
		}
		r.CreatedAt = r.CreatedAt.In(time.UTC)
		reads = append(reads, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("PostgresSink.Recent: %w", err)
	}
	return reads, nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
