package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationEpsilon absorbs sub-cent rounding noise when comparing allocated
// totals against ledger amounts.
var AllocationEpsilon = decimal.RequireFromString("0.005")

// MatchType records how a correspondence between ledgers was established.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchFuzzy     MatchType = "fuzzy"
	MatchAggregate MatchType = "aggregate"
	MatchSplit     MatchType = "split"
	MatchReversal  MatchType = "reversal"
)

// MatchRecordStatus is the lifecycle of a persisted match decision. An
// applied record is immutable except for an explicit reversal.
type MatchRecordStatus string

const (
	MatchProposed MatchRecordStatus = "proposed"
	MatchApplied  MatchRecordStatus = "applied"
	MatchReversed MatchRecordStatus = "reversed"
)

// Active reports whether the record currently counts against allocation
// totals.
func (s MatchRecordStatus) Active() bool {
	return s == MatchProposed || s == MatchApplied
}

// MatchRecord links a bank transaction to a counter-ledger entry (or, for
// reversals, to the opposite leg of the same transaction pair). The logical
// key is (transaction_id, counter_entry_id); re-upserting the same pair
// updates the row in place.
type MatchRecord struct {
	ID                    int64             `json:"id" db:"id"`
	TransactionID         int64             `json:"transaction_id" db:"transaction_id"`
	CounterEntryID        *int64            `json:"counter_entry_id,omitempty" db:"counter_entry_id"`
	ReversedTransactionID *int64            `json:"reversed_transaction_id,omitempty" db:"reversed_transaction_id"`
	AllocatedAmount       decimal.Decimal   `json:"allocated_amount" db:"allocated_amount"`
	Confidence            float64           `json:"confidence" db:"confidence"`
	MatchType             MatchType         `json:"match_type" db:"match_type"`
	Status                MatchRecordStatus `json:"status" db:"status"`
	CreatedBy             string            `json:"created_by" db:"created_by"`
	Notes                 string            `json:"notes,omitempty" db:"notes"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
}

// ReversalPair is a credit and its equal-and-opposite debit on one account,
// e.g. an NSF deposit and its bounce. It is derived, never stored on its
// own; persistence happens as a MatchRecord with MatchReversal.
type ReversalPair struct {
	CreditID   int64           `json:"credit_id"`
	DebitID    int64           `json:"debit_id"`
	Amount     decimal.Decimal `json:"amount"`
	WindowDays int             `json:"window_days"`
}

// ReviewReason says why a case was parked for a human instead of being
// auto-processed.
type ReviewReason string

const (
	ReviewAmbiguousMatch  ReviewReason = "AMBIGUOUS_MATCH"
	ReviewOverAllocation  ReviewReason = "OVER_ALLOCATION"
	ReviewDuplicateImport ReviewReason = "DUPLICATE_IMPORT"
)

// ReviewItem is a queued manual-review case. The run never pauses on these;
// they are written out and picked up asynchronously.
type ReviewItem struct {
	ID            int64        `json:"id" db:"id"`
	RunID         string       `json:"run_id" db:"run_id"`
	TransactionID int64        `json:"transaction_id" db:"transaction_id"`
	Reason        ReviewReason `json:"reason" db:"reason"`
	Detail        string       `json:"detail" db:"detail"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}
