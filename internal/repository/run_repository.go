package repository

import (
	"database/sql"
	"fmt"

	"ledger-recon/internal/domain"
	"ledger-recon/pkg/logger"
)

type RunRepository interface {
	CreateRun(run *domain.ReconciliationRun) error
	UpdateRun(run *domain.ReconciliationRun) error
	GetByRunID(runID string) (*domain.ReconciliationRun, error)
	// SaveCheckpoint records the highest committed transaction id for one
	// account so an interrupted run can resume from there.
	SaveCheckpoint(runID, accountID string, lastTransactionID int64) error
	GetCheckpoints(runID string) (map[string]int64, error)
	ListReviewItems(runID string) ([]domain.ReviewItem, error)
}

type runRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) CreateRun(run *domain.ReconciliationRun) error {
	query := `
		INSERT INTO reconciliation_runs (
			run_id, profile, mode, account_id, start_date, end_date, status,
			total_processed, total_matched, total_partial, total_unmatched,
			total_ambiguous, total_duplicates, total_reversals
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		query,
		run.RunID,
		run.Profile,
		run.Mode,
		run.AccountID,
		run.StartDate,
		run.EndDate,
		run.Status,
		run.TotalProcessed,
		run.TotalMatched,
		run.TotalPartial,
		run.TotalUnmatched,
		run.TotalAmbiguous,
		run.TotalDuplicates,
		run.TotalReversals,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)

	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to create reconciliation run")
		return err
	}

	return nil
}

func (r *runRepository) UpdateRun(run *domain.ReconciliationRun) error {
	query := `
		UPDATE reconciliation_runs
		SET status = $1, total_processed = $2, total_matched = $3,
			total_partial = $4, total_unmatched = $5, total_ambiguous = $6,
			total_duplicates = $7, total_reversals = $8, error_message = $9,
			updated_at = NOW()
		WHERE run_id = $10
	`

	_, err := r.db.Exec(
		query,
		run.Status,
		run.TotalProcessed,
		run.TotalMatched,
		run.TotalPartial,
		run.TotalUnmatched,
		run.TotalAmbiguous,
		run.TotalDuplicates,
		run.TotalReversals,
		run.ErrorMessage,
		run.RunID,
	)

	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to update reconciliation run")
		return err
	}

	return nil
}

func (r *runRepository) GetByRunID(runID string) (*domain.ReconciliationRun, error) {
	query := `
		SELECT id, run_id, profile, mode, account_id, start_date, end_date, status,
			   total_processed, total_matched, total_partial, total_unmatched,
			   total_ambiguous, total_duplicates, total_reversals,
			   error_message, created_at, updated_at
		FROM reconciliation_runs
		WHERE run_id = $1
	`

	var run domain.ReconciliationRun
	err := r.db.QueryRow(query, runID).Scan(
		&run.ID,
		&run.RunID,
		&run.Profile,
		&run.Mode,
		&run.AccountID,
		&run.StartDate,
		&run.EndDate,
		&run.Status,
		&run.TotalProcessed,
		&run.TotalMatched,
		&run.TotalPartial,
		&run.TotalUnmatched,
		&run.TotalAmbiguous,
		&run.TotalDuplicates,
		&run.TotalReversals,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reconciliation run not found")
	}
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to get reconciliation run")
		return nil, err
	}

	return &run, nil
}

func (r *runRepository) SaveCheckpoint(runID, accountID string, lastTransactionID int64) error {
	query := `
		INSERT INTO run_checkpoints (run_id, account_id, last_transaction_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, account_id)
		DO UPDATE SET last_transaction_id = EXCLUDED.last_transaction_id, updated_at = NOW()
	`

	if _, err := r.db.Exec(query, runID, accountID, lastTransactionID); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to save run checkpoint")
		return err
	}
	return nil
}

func (r *runRepository) GetCheckpoints(runID string) (map[string]int64, error) {
	query := `SELECT account_id, last_transaction_id FROM run_checkpoints WHERE run_id = $1`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to load run checkpoints")
		return nil, err
	}
	defer rows.Close()

	checkpoints := make(map[string]int64)
	for rows.Next() {
		var account string
		var lastID int64
		if err := rows.Scan(&account, &lastID); err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan checkpoint")
			continue
		}
		checkpoints[account] = lastID
	}

	return checkpoints, rows.Err()
}

func (r *runRepository) ListReviewItems(runID string) ([]domain.ReviewItem, error) {
	query := `
		SELECT id, run_id, transaction_id, reason, detail, created_at
		FROM review_items
		WHERE run_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(query, runID)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query review items")
		return nil, err
	}
	defer rows.Close()

	var items []domain.ReviewItem
	for rows.Next() {
		var item domain.ReviewItem
		if err := rows.Scan(&item.ID, &item.RunID, &item.TransactionID, &item.Reason, &item.Detail, &item.CreatedAt); err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan review item")
			continue
		}
		items = append(items, item)
	}

	return items, rows.Err()
}
