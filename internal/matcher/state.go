package matcher

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"ledger-recon/internal/domain"
)

// TransactionFSM wraps one transaction with its matching state machine.
// LOCKED and REVERSED are terminal; re-feeding a terminal transaction into
// the allocator is a no-op, which is what makes whole runs idempotent.
type TransactionFSM struct {
	tx *domain.Transaction
	m  *fsm.FSM
}

// NewTransactionFSM builds the state machine seeded with the transaction's
// current status.
func NewTransactionFSM(tx *domain.Transaction) *TransactionFSM {
	t := &TransactionFSM{tx: tx}

	t.m = fsm.NewFSM(
		string(tx.Status),
		fsm.Events{
			{Name: "candidates", Src: []string{string(domain.StatusUnmatched)}, Dst: string(domain.StatusCandidateFound)},
			{Name: "match", Src: []string{string(domain.StatusCandidateFound), string(domain.StatusPartiallyMatched)}, Dst: string(domain.StatusMatched)},
			{Name: "partial", Src: []string{string(domain.StatusCandidateFound), string(domain.StatusPartiallyMatched)}, Dst: string(domain.StatusPartiallyMatched)},
			{Name: "reverse", Src: []string{string(domain.StatusUnmatched), string(domain.StatusCandidateFound), string(domain.StatusMatched)}, Dst: string(domain.StatusReversed)},
			{Name: "lock", Src: []string{
				string(domain.StatusUnmatched),
				string(domain.StatusCandidateFound),
				string(domain.StatusPartiallyMatched),
				string(domain.StatusMatched),
			}, Dst: string(domain.StatusLocked)},
		},
		fsm.Callbacks{},
	)

	return t
}

// MarkCandidateFound transitions an unmatched transaction once scoring finds
// something above threshold. Already past that state is fine.
func (t *TransactionFSM) MarkCandidateFound(ctx context.Context) error {
	if t.tx.Status != domain.StatusUnmatched {
		return nil
	}
	return t.fire(ctx, "candidates")
}

// MarkMatched records full allocation.
func (t *TransactionFSM) MarkMatched(ctx context.Context) error {
	return t.fire(ctx, "match")
}

// MarkPartiallyMatched records a partial allocation; the remainder stays
// open for future runs.
func (t *TransactionFSM) MarkPartiallyMatched(ctx context.Context) error {
	return t.fire(ctx, "partial")
}

// MarkReversed records that the transaction is one leg of a reversal pair.
func (t *TransactionFSM) MarkReversed(ctx context.Context) error {
	return t.fire(ctx, "reverse")
}

// Lock freezes the transaction for manual review or final verification.
func (t *TransactionFSM) Lock(ctx context.Context) error {
	return t.fire(ctx, "lock")
}

// Current returns the machine's current status.
func (t *TransactionFSM) Current() domain.TransactionStatus {
	return domain.TransactionStatus(t.m.Current())
}

func (t *TransactionFSM) fire(ctx context.Context, event string) error {
	if err := t.m.Event(ctx, event); err != nil {
		return fmt.Errorf("transaction %d: %s from %s: %w", t.tx.ID, event, t.tx.Status, err)
	}
	t.tx.Status = domain.TransactionStatus(t.m.Current())
	return nil
}
