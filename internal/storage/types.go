// Package storage persists uploads and their ranked matching results.
package storage

import (
	"context"
	"time"

	"github.com/trial-match-server/internal/domain"
)

// Upload represents one processed batch of a trial criteria file plus
// patient record files.
type Upload struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	TrialFile    string    `json:"trial_file"`
	PatientFiles []string  `json:"patient_files"`
	Status       string    `json:"status"`
}

// Upload statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// StoredResult is one persisted (patient, trial) match row.
type StoredResult struct {
	ID              int64               `json:"id"`
	UploadID        int64               `json:"upload_id"`
	PatientFilename string              `json:"patient_filename"`
	TrialID         string              `json:"trial_id"`
	TrialTitle      string              `json:"trial_title"`
	Eligible        bool                `json:"eligible"`
	Score           float64             `json:"score"`
	Matched         []string            `json:"matched_criteria"`
	Unmatched       []string            `json:"unmatched_criteria"`
	Missing         []string            `json:"missing_data"`
	Exclusions      []string            `json:"exclusions"`
	SuggestedTests  []string            `json:"suggested_tests"`
	Explanation     *domain.Explanation `json:"explanation,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Statistics summarizes everything the store has seen.
type Statistics struct {
	TotalUploads      int64     `json:"total_uploads"`
	TotalPatients     int64     `json:"total_patients"`
	TotalTrials       int64     `json:"total_trials"`
	SuccessfulMatches int64     `json:"successful_matches"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Store defines the interface for matching-result storage operations.
type Store interface {
	// SaveUpload records a new upload and returns its ID.
	SaveUpload(ctx context.Context, trialFile string, patientFiles []string) (int64, error)

	// UpdateUploadStatus moves an upload to a new status.
	UpdateUploadStatus(ctx context.Context, uploadID int64, status string) error

	// SaveResults persists every ranked trial of every patient in the batch.
	SaveResults(ctx context.Context, uploadID int64, results []domain.PatientMatches) error

	// GetUploadHistory returns recent uploads, newest first.
	GetUploadHistory(ctx context.Context, limit int) ([]*Upload, error)

	// GetResultsByUpload returns all stored rows for one upload,
	// grouped by patient with the best score first.
	GetResultsByUpload(ctx context.Context, uploadID int64) ([]*StoredResult, error)

	// GetStatistics returns aggregate counts across all uploads.
	GetStatistics(ctx context.Context) (*Statistics, error)

	// Close closes the store and releases resources.
	Close() error
}

// flattenMatch extracts the persisted row fields from one trial match,
// regardless of which engine produced it.
func flattenMatch(match *domain.TrialMatch) (eligible bool, score float64, matched, unmatched, missing, exclusions, suggested []string) {
	if match.Result != nil {
		r := match.Result
		return r.Eligible, r.Score, r.Matched, r.Unmatched, r.Missing, r.ExclusionsTriggered, r.SuggestedData
	}
	if match.WeightedResult != nil {
		return match.WeightedResult.IsEligible, match.WeightedResult.MatchScore, nil, nil, nil, nil, nil
	}
	return false, 0, nil, nil, nil, nil, nil
}
