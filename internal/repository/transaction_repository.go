package repository

import (
	"database/sql"
	"fmt"
	"time"

	"ledger-recon/internal/domain"
	"ledger-recon/pkg/logger"
)

type TransactionRepository interface {
	BulkCreate(transactions []domain.Transaction) error
	GetByID(id int64) (*domain.Transaction, error)
	ListAccounts(startDate, endDate time.Time) ([]string, error)
	// GetByAccountStream delivers one account's transactions in chronological
	// order (date, then id) in batches, starting after the given checkpoint
	// id for resumable runs.
	GetByAccountStream(accountID string, startDate, endDate time.Time, afterID int64, batchSize int, callback func([]domain.Transaction) error) error
}

type transactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

const transactionColumns = `id, account_id, date, amount, description, batch_id, status, allocated_amount, created_at, updated_at`

func scanTransaction(scanner interface{ Scan(...interface{}) error }, tx *domain.Transaction) error {
	return scanner.Scan(
		&tx.ID,
		&tx.AccountID,
		&tx.Date,
		&tx.Amount,
		&tx.Description,
		&tx.BatchID,
		&tx.Status,
		&tx.AllocatedAmount,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
}

func (r *transactionRepository) BulkCreate(transactions []domain.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to begin transaction")
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO transactions (account_id, date, amount, description, batch_id, status, allocated_amount)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
	`)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to prepare statement")
		return err
	}
	defer stmt.Close()

	for _, t := range transactions {
		status := t.Status
		if status == "" {
			status = domain.StatusUnmatched
		}
		if _, err = stmt.Exec(t.AccountID, t.Date, t.Amount, t.Description, t.BatchID, status); err != nil {
			logger.GetLogger().WithError(err).WithField("account_id", t.AccountID).Error("Failed to insert transaction")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to commit transaction")
		return err
	}

	return nil
}

func (r *transactionRepository) GetByID(id int64) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)

	var t domain.Transaction
	err := scanTransaction(r.db.QueryRow(query, id), &t)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %d not found", id)
	}
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to get transaction")
		return nil, err
	}

	return &t, nil
}

func (r *transactionRepository) ListAccounts(startDate, endDate time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT account_id
		FROM transactions
		WHERE date >= $1 AND date <= $2
		ORDER BY account_id
	`

	rows, err := r.db.Query(query, startDate, endDate)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to list accounts")
		return nil, err
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan account id")
			continue
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

func (r *transactionRepository) GetByAccountStream(accountID string, startDate, endDate time.Time, afterID int64, batchSize int, callback func([]domain.Transaction) error) error {
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE account_id = $1 AND date >= $2 AND date <= $3 AND id > $4
		ORDER BY date, id
	`, transactionColumns)

	rows, err := r.db.Query(query, accountID, startDate, endDate, afterID)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query transactions")
		return err
	}
	defer rows.Close()

	batch := make([]domain.Transaction, 0, batchSize)
	for rows.Next() {
		var t domain.Transaction
		if err := scanTransaction(rows, &t); err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan transaction")
			continue
		}

		batch = append(batch, t)

		if len(batch) >= batchSize {
			if err := callback(batch); err != nil {
				return err
			}
			batch = make([]domain.Transaction, 0, batchSize)
		}
	}

	if len(batch) > 0 {
		if err := callback(batch); err != nil {
			return err
		}
	}

	return rows.Err()
}
