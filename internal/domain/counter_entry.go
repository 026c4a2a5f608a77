package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind identifies the counter-ledger source a record came from.
type EntryKind string

const (
	KindReceipt EntryKind = "RECEIPT"
	KindPayment EntryKind = "PAYMENT"
	KindInvoice EntryKind = "INVOICE"
)

// CounterEntry is one counter-ledger record (receipt, payment or invoice)
// that bank transactions are matched against. Amount is always positive;
// direction is derived from the kind. AllocatedAmount is mutated only by the
// allocator and must never exceed Amount.
type CounterEntry struct {
	ID              int64           `json:"id" db:"id"`
	Kind            EntryKind       `json:"kind" db:"kind"`
	Date            time.Time       `json:"date" db:"date"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Counterparty    string          `json:"counterparty" db:"counterparty"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount" db:"allocated_amount"`
	SourceRef       string          `json:"source_ref,omitempty" db:"source_ref"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Direction maps the entry kind onto the account movement it should appear
// as: receipts arrive as credits, payments and invoices clear as debits.
func (e *CounterEntry) Direction() Direction {
	if e.Kind == KindReceipt {
		return Inflow
	}
	return Outflow
}

// RemainingAmount returns the portion of the entry not yet allocated to any
// transaction.
func (e *CounterEntry) RemainingAmount() decimal.Decimal {
	return e.Amount.Sub(e.AllocatedAmount)
}

// FullyAllocated reports whether the entry has no open amount left.
func (e *CounterEntry) FullyAllocated() bool {
	return e.RemainingAmount().LessThanOrEqual(AllocationEpsilon)
}
