package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ledger-recon/internal/config"
	"ledger-recon/internal/domain"
)

// CounterLedgerView is the read-side contract the generator queries. The
// store answers with indexed range scans (date + amount bounds), never full
// table walks, so the counter-ledger itself stays out of memory.
type CounterLedgerView interface {
	OpenEntries(direction domain.Direction, from, to time.Time, minAmount, maxAmount decimal.Decimal, limit int) ([]domain.CounterEntry, error)
}

// Candidate is one proposed counterpart for a transaction: a single counter
// entry, or a same-date combination of smaller ones (a batch deposit split
// back into its components).
type Candidate struct {
	Entries []domain.CounterEntry
}

// Total sums the open amounts across the candidate's entries.
func (c Candidate) Total() decimal.Decimal {
	total := decimal.Zero
	for i := range c.Entries {
		total = total.Add(c.Entries[i].RemainingAmount())
	}
	return total
}

// Date returns the candidate's entry date. Combination candidates are built
// from same-date entries, so the first entry's date stands for all of them.
func (c Candidate) Date() time.Time {
	return c.Entries[0].Date
}

// MinID returns the lowest entry id, used as the final deterministic
// tie-break.
func (c Candidate) MinID() int64 {
	min := c.Entries[0].ID
	for _, e := range c.Entries[1:] {
		if e.ID < min {
			min = e.ID
		}
	}
	return min
}

// Direction returns the movement direction shared by the candidate entries.
func (c Candidate) Direction() domain.Direction {
	return c.Entries[0].Direction()
}

// Aggregate reports whether the candidate combines several entries.
func (c Candidate) Aggregate() bool {
	return len(c.Entries) > 1
}

// DateDistanceDays is the whole-day distance between the candidate and the
// transaction date.
func (c Candidate) DateDistanceDays(txDate time.Time) int {
	d := c.Date().Sub(txDate)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// Generator produces bounded candidate sets for one unmatched transaction.
// It only reads; nothing is mutated.
type Generator struct {
	profile config.MatchProfile
}

func NewGenerator(profile config.MatchProfile) *Generator {
	return &Generator{profile: profile}
}

// Generate returns single-entry candidates whose open amount lies within
// tolerance of the transaction's open amount, plus same-date combinations of
// 2..max_combination_size smaller entries summing to it. The entry pool is
// capped by date proximity before any combination search so the work stays
// bounded regardless of ledger size.
func (g *Generator) Generate(tx *domain.Transaction, view CounterLedgerView) ([]Candidate, error) {
	target := tx.UnallocatedAmount()
	if target.LessThanOrEqual(domain.AllocationEpsilon) {
		return nil, nil
	}

	window := time.Duration(g.profile.DateWindowDays) * 24 * time.Hour
	from := tx.Date.Add(-window)
	to := tx.Date.Add(window)
	tol := g.profile.ToleranceFor(target)

	// Pool query: everything up to the target (plus tolerance) feeds the
	// combination search; the singles fall out of the same result set.
	pool, err := view.OpenEntries(tx.Direction(), from, to, domain.AllocationEpsilon, target.Add(tol), g.profile.MaxCandidatePool*4)
	if err != nil {
		return nil, err
	}

	// Closest dates first, then cap the pool.
	sort.SliceStable(pool, func(i, j int) bool {
		di := absDays(pool[i].Date, tx.Date)
		dj := absDays(pool[j].Date, tx.Date)
		if di != dj {
			return di < dj
		}
		return pool[i].ID < pool[j].ID
	})
	if len(pool) > g.profile.MaxCandidatePool {
		pool = pool[:g.profile.MaxCandidatePool]
	}

	var candidates []Candidate
	lower := target.Sub(tol)
	upper := target.Add(tol)

	for i := range pool {
		rem := pool[i].RemainingAmount()
		if rem.GreaterThanOrEqual(lower) && rem.LessThanOrEqual(upper) {
			candidates = append(candidates, Candidate{Entries: []domain.CounterEntry{pool[i]}})
		}
	}

	candidates = append(candidates, g.combine(tx, pool, target, tol, len(candidates) == 0)...)
	return candidates, nil
}

// combine searches same-date groups for combinations summing to the target
// within tolerance. When nothing covers the target in full and allowPartial
// is set, the best under-covering combination is kept as a split candidate
// so a later run can pick up the remainder.
func (g *Generator) combine(tx *domain.Transaction, pool []domain.CounterEntry, target, tol decimal.Decimal, allowPartial bool) []Candidate {
	byDate := make(map[string][]domain.CounterEntry)
	for i := range pool {
		key := pool[i].Date.Format("2006-01-02")
		byDate[key] = append(byDate[key], pool[i])
	}

	var out []Candidate
	var bestPartial []domain.CounterEntry
	bestPartialSum := decimal.Zero

	for _, group := range byDate {
		if len(group) < 2 {
			continue
		}
		// Largest first so over-target branches prune early.
		sort.Slice(group, func(i, j int) bool {
			return group[i].RemainingAmount().GreaterThan(group[j].RemainingAmount())
		})

		var current []domain.CounterEntry
		var walk func(start int, sum decimal.Decimal)
		found := 0
		walk = func(start int, sum decimal.Decimal) {
			if found >= maxCombinationsPerDate {
				return
			}
			if len(current) >= 2 {
				diff := sum.Sub(target).Abs()
				if diff.LessThanOrEqual(tol) {
					out = append(out, Candidate{Entries: append([]domain.CounterEntry(nil), current...)})
					found++
					return
				}
				if sum.LessThan(target.Sub(tol)) && sum.GreaterThan(bestPartialSum) {
					bestPartial = append([]domain.CounterEntry(nil), current...)
					bestPartialSum = sum
				}
			}
			if len(current) >= g.profile.MaxCombinationSize {
				return
			}
			for i := start; i < len(group); i++ {
				next := sum.Add(group[i].RemainingAmount())
				if next.GreaterThan(target.Add(tol)) {
					continue
				}
				current = append(current, group[i])
				walk(i+1, next)
				current = current[:len(current)-1]
			}
		}
		walk(0, decimal.Zero)
	}

	if len(out) == 0 && allowPartial && len(bestPartial) > 0 {
		out = append(out, Candidate{Entries: bestPartial})
	}
	return out
}

// maxCombinationsPerDate bounds the subset search per date group.
const maxCombinationsPerDate = 10

func absDays(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
