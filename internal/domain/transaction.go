package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction classifies money movement on an account. Credits (deposits,
// incoming transfers) are inflows; debits (payments, fees) are outflows.
type Direction string

const (
	Inflow  Direction = "INFLOW"
	Outflow Direction = "OUTFLOW"
)

// TransactionStatus tracks a bank transaction through the matching lifecycle.
type TransactionStatus string

const (
	StatusUnmatched        TransactionStatus = "UNMATCHED"
	StatusCandidateFound   TransactionStatus = "CANDIDATE_FOUND"
	StatusPartiallyMatched TransactionStatus = "PARTIALLY_MATCHED"
	StatusMatched          TransactionStatus = "MATCHED"
	StatusReversed         TransactionStatus = "REVERSED"
	StatusLocked           TransactionStatus = "LOCKED"
)

// Terminal reports whether a status admits no further matching activity.
func (s TransactionStatus) Terminal() bool {
	return s == StatusLocked || s == StatusReversed
}

// Transaction is one bank-statement ledger entry. Amount is signed: positive
// for credits, negative for debits. Rows are never deleted; only the match
// status and allocated amount ever change after import.
type Transaction struct {
	ID              int64             `json:"id" db:"id"`
	AccountID       string            `json:"account_id" db:"account_id"`
	Date            time.Time         `json:"date" db:"date"`
	Amount          decimal.Decimal   `json:"amount" db:"amount"`
	Description     string            `json:"description" db:"description"`
	BatchID         string            `json:"batch_id" db:"batch_id"`
	Status          TransactionStatus `json:"status" db:"status"`
	AllocatedAmount decimal.Decimal   `json:"allocated_amount" db:"allocated_amount"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// Direction derives the movement direction from the signed amount.
func (t *Transaction) Direction() Direction {
	if t.Amount.IsNegative() {
		return Outflow
	}
	return Inflow
}

// AbsAmount returns the unsigned transaction amount.
func (t *Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// UnallocatedAmount returns how much of the transaction is still open for
// matching.
func (t *Transaction) UnallocatedAmount() decimal.Decimal {
	return t.Amount.Abs().Sub(t.AllocatedAmount)
}
