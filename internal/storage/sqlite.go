package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trial-match-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite result store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	// Create schema
	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// createSQLiteSchema creates the database tables and indexes.
func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		trial_file TEXT NOT NULL,
		patient_files TEXT NOT NULL,
		status TEXT DEFAULT 'processing'
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		upload_id INTEGER NOT NULL,
		patient_filename TEXT NOT NULL,
		trial_id TEXT NOT NULL,
		trial_title TEXT NOT NULL,
		eligible INTEGER NOT NULL DEFAULT 0,
		score REAL NOT NULL,
		matched_criteria TEXT DEFAULT '[]',
		unmatched_criteria TEXT DEFAULT '[]',
		missing_data TEXT DEFAULT '[]',
		exclusions TEXT DEFAULT '[]',
		suggested_tests TEXT DEFAULT '[]',
		explanation TEXT DEFAULT '{}',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (upload_id) REFERENCES uploads (id)
	);

	CREATE INDEX IF NOT EXISTS idx_results_upload_id ON results(upload_id);
	CREATE INDEX IF NOT EXISTS idx_results_trial_id ON results(trial_id);
	CREATE INDEX IF NOT EXISTS idx_uploads_timestamp ON uploads(timestamp);
	`

	_, err := db.Exec(schema)
	return err
}

// SaveUpload records a new upload and returns its ID.
func (s *SQLiteStore) SaveUpload(ctx context.Context, trialFile string, patientFiles []string) (int64, error) {
	files, err := json.Marshal(patientFiles)
	if err != nil {
		return 0, fmt.Errorf("failed to encode patient files: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO uploads (timestamp, trial_file, patient_files, status) VALUES (?, ?, ?, ?)",
		time.Now(), trialFile, string(files), StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save upload: %w", err)
	}

	return result.LastInsertId()
}

// UpdateUploadStatus moves an upload to a new status.
func (s *SQLiteStore) UpdateUploadStatus(ctx context.Context, uploadID int64, status string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE uploads SET status = ? WHERE id = ?", status, uploadID)
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
func (s *SQLiteStore) SaveResults(ctx context.Context, uploadID int64, results []domain.PatientMatches) error {
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *SQLiteStore) GetUploadHistory(ctx context.Context, limit int) ([]*Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, trial_file, patient_files, status
		FROM uploads
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
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
func (s *SQLiteStore) GetResultsByUpload(ctx context.Context, uploadID int64) ([]*StoredResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, upload_id, patient_filename, trial_id, trial_title,
		       eligible, score, matched_criteria, unmatched_criteria,
		       missing_data, exclusions, suggested_tests, explanation, created_at
		FROM results
		WHERE upload_id = ?
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
func (s *SQLiteStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{LastUpdated: time.Now()}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM uploads", &stats.TotalUploads},
		{"SELECT COUNT(DISTINCT patient_filename) FROM results", &stats.TotalPatients},
		{"SELECT COUNT(DISTINCT trial_id) FROM results", &stats.TotalTrials},
		{"SELECT COUNT(*) FROM results WHERE eligible = 1", &stats.SuccessfulMatches},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("failed to compute statistics: %w", err)
		}
	}

	return stats, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodedRow holds the JSON text columns of one result row.
type encodedRow struct {
	matched     string
	unmatched   string
	missing     string
	exclusions  string
	suggested   string
	explanation string
}

func encodeResultRow(matched, unmatched, missing, exclusions, suggested []string, explanation *domain.Explanation) (*encodedRow, error) {
	row := &encodedRow{}

	encode := func(dest *string, value interface{}) error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode result column: %w", err)
		}
		*dest = string(data)
		return nil
	}

	stringList := func(list []string) []string {
		if list == nil {
			return []string{}
		}
		return list
	}

	if err := encode(&row.matched, stringList(matched)); err != nil {
		return nil, err
	}
	if err := encode(&row.unmatched, stringList(unmatched)); err != nil {
		return nil, err
	}
	if err := encode(&row.missing, stringList(missing)); err != nil {
		return nil, err
	}
	if err := encode(&row.exclusions, stringList(exclusions)); err != nil {
		return nil, err
	}
	if err := encode(&row.suggested, stringList(suggested)); err != nil {
		return nil, err
	}
	if explanation == nil {
		explanation = &domain.Explanation{}
	}
	if err := encode(&row.explanation, explanation); err != nil {
		return nil, err
	}

	return row, nil
}

// scanUpload scans a row into an Upload struct.
func scanUpload(s scanner) (*Upload, error) {
	upload := &Upload{}
	var files string

	if err := s.Scan(&upload.ID, &upload.Timestamp, &upload.TrialFile, &files, &upload.Status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &upload.PatientFiles); err != nil {
		return nil, fmt.Errorf("failed to decode patient files: %w", err)
	}
	return upload, nil
}

// scanStoredResult scans a row into a StoredResult struct.
func scanStoredResult(s scanner) (*StoredResult, error) {
	result := &StoredResult{}
	var matched, unmatched, missing, exclusions, suggested, explanation string

	err := s.Scan(
		&result.ID, &result.UploadID, &result.PatientFilename,
		&result.TrialID, &result.TrialTitle, &result.Eligible, &result.Score,
		&matched, &unmatched, &missing, &exclusions, &suggested, &explanation,
		&result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	decode := func(data string, dest interface{}) error {
		if data == "" {
			return nil
		}
		return json.Unmarshal([]byte(data), dest)
	}

	if err := decode(matched, &result.Matched); err != nil {
		return nil, fmt.Errorf("failed to decode result columns: %w", err)
	}
	if err := decode(unmatched, &result.Unmatched); err != nil {
		return nil, fmt.Errorf("failed to decode result columns: %w", err)
	}
	if err := decode(missing, &result.Missing); err != nil {
		return nil, fmt.Errorf("failed to decode result columns: %w", err)
	}
	if err := decode(exclusions, &result.Exclusions); err != nil {
		return nil, fmt.Errorf("failed to decode result columns: %w", err)
	}
	if err := decode(suggested, &result.SuggestedTests); err != nil {
		return nil, fmt.Errorf("failed to decode result columns: %w", err)
	}
	result.Explanation = &domain.Explanation{}
	if err := decode(explanation, result.Explanation); err != nil {
		return nil, fmt.Errorf("failed to decode explanation: %w", err)
	}

	return result, nil
}
