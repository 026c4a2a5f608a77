package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"ledger-recon/internal/domain"
	"ledger-recon/pkg/logger"
)

type CounterEntryRepository interface {
	BulkCreate(entries []domain.CounterEntry) error
	GetByID(id int64) (*domain.CounterEntry, error)
	// OpenEntries returns entries of the right direction family whose open
	// (unallocated) amount falls inside the given bounds within the date
	// window. Served by the (date, amount) index, not a full scan.
	OpenEntries(direction domain.Direction, from, to time.Time, minAmount, maxAmount decimal.Decimal, limit int) ([]domain.CounterEntry, error)
}

type counterEntryRepository struct {
	db *sql.DB
}

func NewCounterEntryRepository(db *sql.DB) CounterEntryRepository {
	return &counterEntryRepository{db: db}
}

const counterEntryColumns = `id, kind, date, amount, counterparty, allocated_amount, source_ref, created_at, updated_at`

func scanCounterEntry(scanner interface{ Scan(...interface{}) error }, e *domain.CounterEntry) error {
	return scanner.Scan(
		&e.ID,
		&e.Kind,
		&e.Date,
		&e.Amount,
		&e.Counterparty,
		&e.AllocatedAmount,
		&e.SourceRef,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
}

func (r *counterEntryRepository) BulkCreate(entries []domain.CounterEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to begin transaction")
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO counter_entries (kind, date, amount, counterparty, allocated_amount, source_ref)
		VALUES ($1, $2, $3, $4, 0, $5)
	`)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to prepare statement")
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err = stmt.Exec(e.Kind, e.Date, e.Amount, e.Counterparty, e.SourceRef); err != nil {
			logger.GetLogger().WithError(err).WithField("counterparty", e.Counterparty).Error("Failed to insert counter entry")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to commit transaction")
		return err
	}

	return nil
}

func (r *counterEntryRepository) GetByID(id int64) (*domain.CounterEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM counter_entries WHERE id = $1`, counterEntryColumns)

	var e domain.CounterEntry
	err := scanCounterEntry(r.db.QueryRow(query, id), &e)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("counter entry %d not found", id)
	}
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to get counter entry")
		return nil, err
	}

	return &e, nil
}

func (r *counterEntryRepository) OpenEntries(direction domain.Direction, from, to time.Time, minAmount, maxAmount decimal.Decimal, limit int) ([]domain.CounterEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM counter_entries
		WHERE kind = ANY($1)
		  AND date >= $2 AND date <= $3
		  AND amount - allocated_amount >= $4
		  AND amount - allocated_amount <= $5
		ORDER BY date, id
		LIMIT $6
	`, counterEntryColumns)

	rows, err := r.db.Query(query, kindsFor(direction), from, to, minAmount, maxAmount, limit)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to query open counter entries")
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CounterEntry
	for rows.Next() {
		var e domain.CounterEntry
		if err := scanCounterEntry(rows, &e); err != nil {
			logger.GetLogger().WithError(err).Error("Failed to scan counter entry")
			continue
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// kindsFor maps a transaction direction onto the counter-ledger kinds it can
// legitimately correspond to.
func kindsFor(direction domain.Direction) interface{} {
	if direction == domain.Inflow {
		return pq.Array([]string{string(domain.KindReceipt)})
	}
	return pq.Array([]string{string(domain.KindPayment), string(domain.KindInvoice)})
}
