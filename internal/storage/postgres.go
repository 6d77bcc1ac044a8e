package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/trial-match-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL result store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL result store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// SaveUpload records a new upload and returns its ID.
func (s *PostgresStore) SaveUpload(ctx context.Context, trialFile string, patientFiles []string) (int64, error) {
	files, err := json.Marshal(patientFiles)
	if err != nil {
		return 0, fmt.Errorf("failed to encode patient files: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO uploads (timestamp, trial_file, patient_files, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, time.Now(), trialFile, string(files), StatusProcessing).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save upload: %w", err)
	}

	return id, nil
}

// UpdateUploadStatus moves an upload to a new status.
func (s *PostgresStore) UpdateUploadStatus(ctx context.Context, uploadID int64, status string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE uploads SET status = $1 WHERE id = $2", status, uploadID)
	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveResults persists every ranked trial of every patient in the batch.
func (s *PostgresStore) SaveResults(ctx context.Context, uploadID int64, results []domain.PatientMatches) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (
			upload_id, patient_filename, trial_id, trial_title,
			eligible, score, matched_criteria, unmatched_criteria,
			missing_data, exclusions, suggested_tests, explanation,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, patient := range results {
		for i := range patient.RankedTrials {
			match := &patient.RankedTrials[i]
			eligible, score, matched, unmatched, missing, exclusions, suggested := flattenMatch(match)

			row, err := encodeResultRow(matched, unmatched, missing, exclusions, suggested, match.Explanation)
			if err != nil {
				return err
			}

			if _, err := stmt.ExecContext(ctx,
				uploadID, patient.PatientFilename, match.TrialID, match.TrialTitle,
				eligible, score, row.matched, row.unmatched, row.missing,
				row.exclusions, row.suggested, row.explanation, now,
			); err != nil {
				return fmt.Errorf("failed to insert result: %w", err)
			}
		}
	}

	return tx.Commit()
}

// GetUploadHistory returns recent uploads, newest first.
func (s *PostgresStore) GetUploadHistory(ctx context.Context, limit int) ([]*Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, trial_file, patient_files, status
		FROM uploads
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	uploads := []*Upload{}
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	return uploads, rows.Err()
}

// GetResultsByUpload returns all stored rows for one upload.
func (s *PostgresStore) GetResultsByUpload(ctx context.Context, uploadID int64) ([]*StoredResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, upload_id, patient_filename, trial_id, trial_title,
		       eligible, score, matched_criteria, unmatched_criteria,
		       missing_data, exclusions, suggested_tests, explanation, created_at
		FROM results
		WHERE upload_id = $1
		ORDER BY patient_filename, score DESC, trial_id
	`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []*StoredResult{}
	for rows.Next() {
		result, err := scanStoredResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// GetStatistics returns aggregate counts across all uploads.
func (s *PostgresStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{LastUpdated: time.Now()}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM uploads", &stats.TotalUploads},
		{"SELECT COUNT(DISTINCT patient_filename) FROM results", &stats.TotalPatients},
		{"SELECT COUNT(DISTINCT trial_id) FROM results", &stats.TotalTrials},
		{"SELECT COUNT(*) FROM results WHERE eligible = TRUE", &stats.SuccessfulMatches},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to compute statistics: %w", err)
		}
	}

	return stats, nil
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
