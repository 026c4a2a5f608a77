package domain

import "errors"

// Matching error kinds. All but ErrPersistenceFailure are recovered locally:
// the affected transaction is skipped or parked for review and the run keeps
// going.
var (
	// ErrNoCandidate means nothing cleared the confidence threshold. Not a
	// failure; the transaction simply stays unmatched.
	ErrNoCandidate = errors.New("no counter entry cleared the confidence threshold")

	// ErrAmbiguousMatch means two or more candidates tied at the top score.
	// Never auto-applied.
	ErrAmbiguousMatch = errors.New("multiple candidates tied at the top score")

	// ErrOverAllocation means applying a candidate would push an allocation
	// total past the ledger amount.
	ErrOverAllocation = errors.New("allocation would exceed ledger amount")

	// ErrDuplicateImport means the same (date, amount, description) arrived
	// from two different import batches.
	ErrDuplicateImport = errors.New("duplicate import detected")

	// ErrPersistenceFailure means a write-mode batch commit failed. The batch
	// is rolled back whole and the run aborts; a retry is safe.
	ErrPersistenceFailure = errors.New("ledger store commit failed")
)
