package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ledger-recon/internal/config"
	"ledger-recon/internal/domain"
)

// fakeView serves OpenEntries from an in-memory slice with the same
// filtering contract as the SQL-backed store.
type fakeView struct {
	entries []domain.CounterEntry
}

func (f *fakeView) OpenEntries(direction domain.Direction, from, to time.Time, minAmount, maxAmount decimal.Decimal, limit int) ([]domain.CounterEntry, error) {
	var out []domain.CounterEntry
	for i := range f.entries {
		e := f.entries[i]
		if e.Direction() != direction {
			continue
		}
		if e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		rem := e.RemainingAmount()
		if rem.LessThan(minAmount) || rem.GreaterThan(maxAmount) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testProfile() config.MatchProfile {
	return config.DefaultProfile()
}

func makeTx(id int64, account, date, amount, description string) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		AccountID:   account,
		Date:        day(date),
		Amount:      money(amount),
		Description: description,
		BatchID:     "B1",
		Status:      domain.StatusUnmatched,
	}
}

func makeReceipt(id int64, date, amount, counterparty string) domain.CounterEntry {
	return domain.CounterEntry{
		ID:           id,
		Kind:         domain.KindReceipt,
		Date:         day(date),
		Amount:       money(amount),
		Counterparty: counterparty,
	}
}

func makePayment(id int64, date, amount, counterparty string) domain.CounterEntry {
	return domain.CounterEntry{
		ID:           id,
		Kind:         domain.KindPayment,
		Date:         day(date),
		Amount:       money(amount),
		Counterparty: counterparty,
	}
}
