package repository

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"ledger-recon/internal/domain"
	"ledger-recon/pkg/logger"
)

// MatchBatch is one commit unit: the match records plus every ledger-side
// mutation they imply. ApplyBatch writes all of it in a single database
// transaction; a failure on any row rolls the whole batch back.
type MatchBatch struct {
	RunID              string
	Records            []domain.MatchRecord
	TransactionUpdates []domain.Transaction
	EntryAllocations   map[int64]decimal.Decimal
	ReviewItems        []domain.ReviewItem
}

// Empty reports whether the batch carries nothing to write.
func (b *MatchBatch) Empty() bool {
	return len(b.Records) == 0 && len(b.TransactionUpdates) == 0 &&
		len(b.EntryAllocations) == 0 && len(b.ReviewItems) == 0
}

type MatchRepository interface {
	// ApplyBatch commits a batch atomically. The match record upsert is
	// idempotent on (transaction_id, counter_entry_id): re-applying an
	// identical record changes nothing, a changed confidence or status
	// updates the row and stamps updated_at. Applied rows only ever move to
	// reversed.
	ApplyBatch(batch *MatchBatch) error
	GetByTransaction(transactionID int64) ([]domain.MatchRecord, error)
	ActiveAllocationSum(transactionID int64) (decimal.Decimal, error)
}

type matchRepository struct {
	db *sql.DB
}

func NewMatchRepository(db *sql.DB) MatchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) ApplyBatch(batch *MatchBatch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to begin batch commit")
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	defer tx.Rollback()

	if err := r.upsertRecords(tx, batch.Records); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if err := r.updateTransactions(tx, batch.TransactionUpdates); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if err := r.applyEntryAllocations(tx, batch.EntryAllocations); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if err := r.insertReviewItems(tx, batch.RunID, batch.ReviewItems); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	if err := tx.Commit(); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to commit batch")
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	return nil
}

// upsertRecords writes entry matches and reversal matches through their
// respective conflict keys. Applied rows are immutable except for an
// explicit move to reversed.
func (r *matchRepository) upsertRecords(tx *sql.Tx, records []domain.MatchRecord) error {
	entryStmt, err := tx.Prepare(`
		INSERT INTO match_records (
			transaction_id, counter_entry_id, allocated_amount, confidence,
			match_type, status, created_by, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id, counter_entry_id) WHERE counter_entry_id IS NOT NULL
		DO UPDATE SET
			allocated_amount = EXCLUDED.allocated_amount,
			confidence = EXCLUDED.confidence,
			match_type = EXCLUDED.match_type,
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = NOW()
		WHERE match_records.status <> 'applied' OR EXCLUDED.status = 'reversed'
	`)
	if err != nil {
		return err
	}
	defer entryStmt.Close()

	reversalStmt, err := tx.Prepare(`
		INSERT INTO match_records (
			transaction_id, reversed_transaction_id, allocated_amount, confidence,
			match_type, status, created_by, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id, reversed_transaction_id) WHERE reversed_transaction_id IS NOT NULL
		DO UPDATE SET
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = NOW()
		WHERE match_records.status <> 'applied' OR EXCLUDED.status = 'reversed'
	`)
	if err != nil {
		return err
	}
	defer reversalStmt.Close()

	for i := range records {
		rec := &records[i]
		if rec.MatchType == domain.MatchReversal {
			_, err = reversalStmt.Exec(
				rec.TransactionID, rec.ReversedTransactionID, rec.AllocatedAmount,
				rec.Confidence, rec.MatchType, rec.Status, rec.CreatedBy, rec.Notes,
			)
		} else {
			_, err = entryStmt.Exec(
				rec.TransactionID, rec.CounterEntryID, rec.AllocatedAmount,
				rec.Confidence, rec.MatchType, rec.Status, rec.CreatedBy, rec.Notes,
			)
		}
		if err != nil {
			logger.GetLogger().WithError(err).WithField("transaction_id", rec.TransactionID).Error("Failed to upsert match record")
			return err
		}
	}
	return nil
}

func (r *matchRepository) updateTransactions(tx *sql.Tx, updates []domain.Transaction) error {
	stmt, err := tx.Prepare(`
		UPDATE transactions
		SET status = $1, allocated_amount = $2, updated_at = NOW()
		WHERE id = $3
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range updates {
		u := &updates[i]
		if _, err := stmt.Exec(u.Status, u.AllocatedAmount, u.ID); err != nil {
			logger.GetLogger().WithError(err).WithField("transaction_id", u.ID).Error("Failed to update transaction")
			return err
		}
	}
	return nil
}

// applyEntryAllocations increments allocated amounts, guarded so a counter
// entry can never be pushed past its total at the database level either.
func (r *matchRepository) applyEntryAllocations(tx *sql.Tx, allocations map[int64]decimal.Decimal) error {
	stmt, err := tx.Prepare(`
		UPDATE counter_entries
		SET allocated_amount = allocated_amount + $1, updated_at = NOW()
		WHERE id = $2 AND allocated_amount + $1 <= amount + $3
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for entryID, amount := range allocations {
		res, err := stmt.Exec(amount, entryID, domain.AllocationEpsilon)
		if err != nil {
			logger.GetLogger().WithError(err).WithField("counter_entry_id", entryID).Error("Failed to apply entry allocation")
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			logger.GetLogger().WithField("counter_entry_id", entryID).Error("Entry allocation guard tripped")
			return fmt.Errorf("counter entry %d would exceed its total amount", entryID)
		}
	}
	return nil
}

func (r *matchRepository) insertReviewItems(tx *sql.Tx, runID string, items []domain.ReviewItem) error {
	stmt, err := tx.Prepare(`
		INSERT INTO review_items (run_id, transaction_id, reason, detail)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range items {
		item := &items[i]
		id := runID
		if item.RunID != "" {
			id = item.RunID
		}
		if _, err := stmt.Exec(id, item.TransactionID, item.Reason, item.Detail); err != nil {
			logger.GetLogger().WithError(err).WithField("transaction_id", item.TransactionID).Error("Failed to insert review item")
			return err
		}
	}
	return nil
}

const matchRecordColumns = `id, transaction_id, counter_entry_id, reversed_transaction_id,
	allocated_amount, confidence, match_type, status, created_by, notes, created_at, updated_at`

func (r *matchRepository) GetByTransaction(transactionID int64) ([]domain.MatchRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM match_records
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`, matchRecordColumns)

	rows, err := r.db.Query(query, transactionID)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query match records")
		return nil, err
	}
	defer rows.Close()

	var records []domain.MatchRecord
	for rows.Next() {
		var rec domain.MatchRecord
		var notes sql.NullString
		err := rows.Scan(
			&rec.ID,
			&rec.TransactionID,
			&rec.CounterEntryID,
			&rec.ReversedTransactionID,
			&rec.AllocatedAmount,
			&rec.Confidence,
			&rec.MatchType,
			&rec.Status,
			&rec.CreatedBy,
			&notes,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan match record")
			continue
		}
		rec.Notes = notes.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *matchRepository) ActiveAllocationSum(transactionID int64) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(allocated_amount), 0)
		FROM match_records
		WHERE transaction_id = $1 AND status IN ('proposed', 'applied')
	`

	var sum decimal.Decimal
	if err := r.db.QueryRow(query, transactionID).Scan(&sum); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to sum active allocations")
		return decimal.Zero, err
	}
	return sum, nil
}
