package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ledger-recon/internal/config"
	"ledger-recon/internal/domain"
	"ledger-recon/pkg/logger"
)

// Outcome classifies what the allocator did with one transaction.
type Outcome string

const (
	OutcomeNoop           Outcome = "NOOP"
	OutcomeNoCandidate    Outcome = "NO_CANDIDATE"
	OutcomeMatched        Outcome = "MATCHED"
	OutcomePartial        Outcome = "PARTIAL"
	OutcomeAmbiguous      Outcome = "AMBIGUOUS"
	OutcomeOverAllocation Outcome = "OVER_ALLOCATION"
)

// Allocation is the allocator's decision for one transaction: the match
// records to persist, per-entry allocation increments, and any case parked
// for review.
type Allocation struct {
	Outcome          Outcome
	Records          []domain.MatchRecord
	EntryAllocations map[int64]decimal.Decimal
	Review           *domain.ReviewItem
}

// scoreEpsilon decides when two confidence scores count as a tie.
const scoreEpsilon = 1e-9

// Allocator applies the matching state machine and allocation invariants to
// one transaction at a time. All amounts flow through decimals; the only
// float is the confidence score.
type Allocator struct {
	profile   config.MatchProfile
	scorer    *Scorer
	createdBy string
}

func NewAllocator(profile config.MatchProfile, createdBy string) *Allocator {
	return &Allocator{
		profile:   profile,
		scorer:    NewScorer(profile),
		createdBy: createdBy,
	}
}

type scoredCandidate struct {
	candidate Candidate
	score     float64
}

// Allocate picks the winning candidate, allocates against it and moves the
// transaction's state machine. Terminal and fully matched transactions are
// no-ops. Over-allocation rejects the transaction locally and the run
// carries on; nothing here is fatal.
func (a *Allocator) Allocate(ctx context.Context, tx *domain.Transaction, candidates []Candidate) (*Allocation, error) {
	if tx.Status.Terminal() || tx.Status == domain.StatusMatched {
		return &Allocation{Outcome: OutcomeNoop}, nil
	}

	scored := a.rank(tx, candidates)
	if len(scored) == 0 {
		return &Allocation{Outcome: OutcomeNoCandidate}, nil
	}

	machine := NewTransactionFSM(tx)
	if err := machine.MarkCandidateFound(ctx); err != nil {
		return nil, err
	}

	if len(scored) > 1 && math.Abs(scored[0].score-scored[1].score) < scoreEpsilon {
		logger.GetLogger().WithFields(map[string]interface{}{
			"transaction_id": tx.ID,
			"score":          scored[0].score,
			"contenders":     len(scored),
		}).Warn("Top candidates tied, parking for review")
		return &Allocation{
			Outcome: OutcomeAmbiguous,
			Review: &domain.ReviewItem{
				TransactionID: tx.ID,
				Reason:        domain.ReviewAmbiguousMatch,
				Detail: fmt.Sprintf("%d candidates tied at confidence %.4f (entries %s and %s)",
					len(scored), scored[0].score,
					entryIDs(scored[0].candidate), entryIDs(scored[1].candidate)),
			},
		}, nil
	}

	best := scored[0]
	goal := tx.UnallocatedAmount()
	if goal.LessThanOrEqual(domain.AllocationEpsilon) {
		// Status says open but nothing is left to allocate; reject rather
		// than push the total past the ledger amount.
		logger.GetLogger().WithField("transaction_id", tx.ID).
			Warn("Rejecting allocation, transaction already fully allocated")
		return &Allocation{
			Outcome: OutcomeOverAllocation,
			Review: &domain.ReviewItem{
				TransactionID: tx.ID,
				Reason:        domain.ReviewOverAllocation,
				Detail:        fmt.Sprintf("unallocated amount %s below epsilon", goal),
			},
		}, nil
	}

	alloc := &Allocation{EntryAllocations: make(map[int64]decimal.Decimal)}
	remaining := goal
	total := decimal.Zero

	for i := range best.candidate.Entries {
		entry := &best.candidate.Entries[i]
		take := entry.RemainingAmount()
		if take.GreaterThan(remaining) {
			take = remaining
		}
		if take.LessThanOrEqual(decimal.Zero) {
			continue
		}
		total = total.Add(take)
		remaining = remaining.Sub(take)

		entryID := entry.ID
		alloc.EntryAllocations[entryID] = take
		alloc.Records = append(alloc.Records, domain.MatchRecord{
			TransactionID:   tx.ID,
			CounterEntryID:  &entryID,
			AllocatedAmount: take,
			Confidence:      best.score,
			Status:          domain.MatchProposed,
			CreatedBy:       a.createdBy,
		})
	}

	if tx.AllocatedAmount.Add(total).GreaterThan(tx.AbsAmount().Add(domain.AllocationEpsilon)) {
		logger.GetLogger().WithFields(map[string]interface{}{
			"transaction_id": tx.ID,
			"allocated":      tx.AllocatedAmount,
			"proposed":       total,
		}).Warn("Rejecting candidate, allocation would exceed transaction amount")
		return &Allocation{
			Outcome: OutcomeOverAllocation,
			Review: &domain.ReviewItem{
				TransactionID: tx.ID,
				Reason:        domain.ReviewOverAllocation,
				Detail: fmt.Sprintf("allocated %s + proposed %s exceeds amount %s",
					tx.AllocatedAmount, total, tx.AbsAmount()),
			},
		}, nil
	}

	matchType := a.matchType(tx, best.candidate, goal, total)
	for i := range alloc.Records {
		alloc.Records[i].MatchType = matchType
	}

	tx.AllocatedAmount = tx.AllocatedAmount.Add(total)
	if remaining.LessThanOrEqual(a.profile.ToleranceFor(goal)) || remaining.LessThanOrEqual(domain.AllocationEpsilon) {
		if err := machine.MarkMatched(ctx); err != nil {
			return nil, err
		}
		alloc.Outcome = OutcomeMatched
	} else {
		if err := machine.MarkPartiallyMatched(ctx); err != nil {
			return nil, err
		}
		alloc.Outcome = OutcomePartial
	}
	return alloc, nil
}

// matchType names the correspondence: exact for a single entry hitting the
// amount on the nose, fuzzy for a single entry inside tolerance, aggregate
// for combinations, split when the winner only covers part of the amount.
func (a *Allocator) matchType(tx *domain.Transaction, c Candidate, goal, total decimal.Decimal) domain.MatchType {
	if c.Aggregate() {
		return domain.MatchAggregate
	}
	if goal.Sub(total).GreaterThan(a.profile.ToleranceFor(goal)) {
		return domain.MatchSplit
	}
	if total.Equal(goal) && c.DateDistanceDays(tx.Date) == 0 {
		return domain.MatchExact
	}
	return domain.MatchFuzzy
}

// rank scores, filters by the confidence threshold and orders best-first
// with the deterministic tie-break.
func (a *Allocator) rank(tx *domain.Transaction, candidates []Candidate) []scoredCandidate {
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		score := a.scorer.Score(tx, c)
		if score < a.profile.MinConfidence {
			continue
		}
		scored = append(scored, scoredCandidate{candidate: c, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if math.Abs(scored[i].score-scored[j].score) >= scoreEpsilon {
			return scored[i].score > scored[j].score
		}
		return a.scorer.Less(tx, scored[i].candidate, scored[j].candidate)
	})
	return scored
}

// ReversalRecord builds the single match record for a detected reversal
// pair, written against the credit leg.
func (a *Allocator) ReversalRecord(pair domain.ReversalPair) domain.MatchRecord {
	debitID := pair.DebitID
	return domain.MatchRecord{
		TransactionID:         pair.CreditID,
		ReversedTransactionID: &debitID,
		AllocatedAmount:       pair.Amount,
		Confidence:            1,
		MatchType:             domain.MatchReversal,
		Status:                domain.MatchProposed,
		CreatedBy:             a.createdBy,
		Notes:                 fmt.Sprintf("reversal within %d days", pair.WindowDays),
	}
}

func entryIDs(c Candidate) string {
	ids := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		ids[i] = fmt.Sprintf("%d", e.ID)
	}
	return strings.Join(ids, "+")
}
