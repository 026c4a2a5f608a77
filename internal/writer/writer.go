// Package writer persists match decisions. It is the only component that
// mutates the ledger store, and only in write mode: a dry run flows through
// the same code path but returns the computed result set untouched.
package writer

import (
	"ledger-recon/internal/domain"
	"ledger-recon/internal/repository"
	"ledger-recon/pkg/logger"
)

// Report is what one batch persist produced (or, in dry-run, would have
// produced).
type Report struct {
	Mode        domain.RunMode       `json:"mode"`
	Records     []domain.MatchRecord `json:"records"`
	ReviewItems []domain.ReviewItem  `json:"review_items"`
	Committed   bool                 `json:"committed"`
}

// Writer applies match batches against the ledger store.
type Writer struct {
	matches repository.MatchRepository
}

func NewWriter(matches repository.MatchRepository) *Writer {
	return &Writer{matches: matches}
}

// Persist commits one batch. In dry-run mode nothing touches the store; the
// batch comes back as a report with every record still proposed. In write
// mode records are stamped applied and the whole batch commits atomically —
// a failed row rolls everything back and surfaces ErrPersistenceFailure, so
// a retry of the same batch is safe.
func (w *Writer) Persist(batch *repository.MatchBatch, mode domain.RunMode) (*Report, error) {
	report := &Report{
		Mode:        mode,
		Records:     batch.Records,
		ReviewItems: batch.ReviewItems,
	}

	if mode == domain.ModeDryRun {
		logger.GetLogger().WithFields(map[string]interface{}{
			"run_id":  batch.RunID,
			"records": len(batch.Records),
			"reviews": len(batch.ReviewItems),
		}).Info("Dry run, skipping batch commit")
		return report, nil
	}

	for i := range batch.Records {
		if batch.Records[i].Status == domain.MatchProposed {
			batch.Records[i].Status = domain.MatchApplied
		}
	}

	if err := w.matches.ApplyBatch(batch); err != nil {
		logger.GetLogger().WithError(err).WithField("run_id", batch.RunID).Error("Batch commit failed, rolled back")
		return nil, err
	}

	report.Records = batch.Records
	report.Committed = true
	return report, nil
}
