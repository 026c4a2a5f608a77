package service

import (
	"fmt"

	"ledger-recon/internal/domain"
	"ledger-recon/internal/parser"
	"ledger-recon/internal/repository"
	"ledger-recon/pkg/logger"
)

// LedgerService handles imports into both sides of the ledger store.
// Matching never creates rows; everything enters through here.
type LedgerService interface {
	ImportTransactions(transactions []domain.Transaction) (int, error)
	ImportTransactionsCSV(filePath, batchID string) (int, error)
	ImportCounterEntries(entries []domain.CounterEntry) (int, error)
	ImportCounterEntriesCSV(filePath string, kind domain.EntryKind) (int, error)
	GetTransaction(id int64) (*domain.Transaction, error)
	GetCounterEntry(id int64) (*domain.CounterEntry, error)
}

type ledgerService struct {
	txRepo    repository.TransactionRepository
	entryRepo repository.CounterEntryRepository
	batchSize int
}

func NewLedgerService(txRepo repository.TransactionRepository, entryRepo repository.CounterEntryRepository, batchSize int) LedgerService {
	if batchSize < 1 {
		batchSize = 500
	}
	return &ledgerService{txRepo: txRepo, entryRepo: entryRepo, batchSize: batchSize}
}

func (s *ledgerService) ImportTransactions(transactions []domain.Transaction) (int, error) {
	valid := make([]domain.Transaction, 0, len(transactions))
	for i, tx := range transactions {
		if err := validateTransaction(&tx); err != nil {
			logger.GetLogger().WithError(err).WithField("index", i).Warn("Invalid transaction, skipping")
			continue
		}
		valid = append(valid, tx)
	}
	if err := s.txRepo.BulkCreate(valid); err != nil {
		return 0, err
	}
	return len(valid), nil
}

func (s *ledgerService) ImportTransactionsCSV(filePath, batchID string) (int, error) {
	p := parser.NewTransactionCSVParser(batchID)
	imported := 0

	err := p.Parse(filePath, s.batchSize, func(batch []domain.Transaction) error {
		n, err := s.ImportTransactions(batch)
		imported += n
		return err
	})
	return imported, err
}

func (s *ledgerService) ImportCounterEntries(entries []domain.CounterEntry) (int, error) {
	valid := make([]domain.CounterEntry, 0, len(entries))
	for i, e := range entries {
		if err := validateCounterEntry(&e); err != nil {
			logger.GetLogger().WithError(err).WithField("index", i).Warn("Invalid counter entry, skipping")
			continue
		}
		valid = append(valid, e)
	}
	if err := s.entryRepo.BulkCreate(valid); err != nil {
		return 0, err
	}
	return len(valid), nil
}

func (s *ledgerService) ImportCounterEntriesCSV(filePath string, kind domain.EntryKind) (int, error) {
	p := parser.NewCounterEntryCSVParser(kind)
	imported := 0

	err := p.Parse(filePath, s.batchSize, func(batch []domain.CounterEntry) error {
		n, err := s.ImportCounterEntries(batch)
		imported += n
		return err
	})
	return imported, err
}

func (s *ledgerService) GetTransaction(id int64) (*domain.Transaction, error) {
	return s.txRepo.GetByID(id)
}

func (s *ledgerService) GetCounterEntry(id int64) (*domain.CounterEntry, error) {
	return s.entryRepo.GetByID(id)
}

func validateTransaction(tx *domain.Transaction) error {
	if tx.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	if tx.Amount.IsZero() {
		return fmt.Errorf("amount must be non-zero")
	}
	if tx.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if tx.BatchID == "" {
		return fmt.Errorf("import batch id is required")
	}
	return nil
}

func validateCounterEntry(e *domain.CounterEntry) error {
	switch e.Kind {
	case domain.KindReceipt, domain.KindPayment, domain.KindInvoice:
	default:
		return fmt.Errorf("invalid entry kind: %s", e.Kind)
	}
	if e.Amount.IsZero() || e.Amount.IsNegative() {
		return fmt.Errorf("amount must be positive")
	}
	if e.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	return nil
}
