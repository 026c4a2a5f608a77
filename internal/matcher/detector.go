package matcher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"ledger-recon/internal/config"
	"ledger-recon/internal/domain"
	"ledger-recon/pkg/logger"
)

// Classification is the detector's verdict over one account's transactions.
// Everything flagged here is pulled out before ordinary candidate matching.
type Classification struct {
	// Duplicates are later re-imports of rows already seen from an earlier
	// batch. They get locked for manual review, never deleted.
	Duplicates []int64
	// ReversalPairs are equal-and-opposite legs (NSF bounces and the like).
	ReversalPairs []domain.ReversalPair
	// Ambiguous holds transactions where reversal pairing could not be
	// decided automatically.
	Ambiguous []int64
}

// Excluded returns the set of transaction ids that must not enter candidate
// generation.
func (c Classification) Excluded() map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, id := range c.Duplicates {
		out[id] = struct{}{}
	}
	for _, p := range c.ReversalPairs {
		out[p.CreditID] = struct{}{}
		out[p.DebitID] = struct{}{}
	}
	for _, id := range c.Ambiguous {
		out[id] = struct{}{}
	}
	return out
}

// Detector flags duplicate imports and reversal pairs ahead of matching.
type Detector struct {
	profile config.MatchProfile
}

func NewDetector(profile config.MatchProfile) *Detector {
	return &Detector{profile: profile}
}

// Classify inspects one account partition's transactions. Order sensitivity
// is handled internally: rows are examined chronologically, with row id as
// the import order within a day.
func (d *Detector) Classify(txs []domain.Transaction) Classification {
	ordered := make([]domain.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	result := Classification{}
	dupIDs := d.findDuplicates(ordered, &result)
	d.findReversals(ordered, dupIDs, &result)
	return result
}

// findDuplicates keeps the first row per content hash and flags later rows
// arriving from a different import batch. Identical rows inside one batch
// are left alone; the same charge can legitimately occur twice in a day.
func (d *Detector) findDuplicates(ordered []domain.Transaction, result *Classification) map[int64]struct{} {
	type firstSeen struct {
		id      int64
		batchID string
	}
	seen := make(map[string]firstSeen)
	dups := make(map[int64]struct{})

	for i := range ordered {
		tx := &ordered[i]
		key := contentHash(tx)
		if first, ok := seen[key]; ok {
			if first.batchID != tx.BatchID {
				dups[tx.ID] = struct{}{}
				result.Duplicates = append(result.Duplicates, tx.ID)
				logger.GetLogger().WithFields(map[string]interface{}{
					"transaction_id": tx.ID,
					"kept_id":        first.id,
					"batch_id":       tx.BatchID,
				}).Warn("Duplicate import detected, excluding from matching")
			}
			continue
		}
		seen[key] = firstSeen{id: tx.ID, batchID: tx.BatchID}
	}
	return dups
}

// findReversals pairs each transaction with the nearest equal-and-opposite
// one inside the reversal window. Equidistant alternatives make the whole
// group ambiguous; nothing is auto-paired then.
func (d *Detector) findReversals(ordered []domain.Transaction, dups map[int64]struct{}, result *Classification) {
	window := time.Duration(d.profile.ReversalWindowDays) * 24 * time.Hour
	paired := make(map[int64]struct{})
	ambiguous := make(map[int64]struct{})

	for i := range ordered {
		lead := &ordered[i]
		if _, ok := dups[lead.ID]; ok {
			continue
		}
		if _, ok := paired[lead.ID]; ok {
			continue
		}
		if _, ok := ambiguous[lead.ID]; ok {
			continue
		}

		var best *domain.Transaction
		var bestDist time.Duration
		tie := false
		for j := i + 1; j < len(ordered); j++ {
			other := &ordered[j]
			dist := other.Date.Sub(lead.Date)
			if dist > window {
				break
			}
			if _, ok := dups[other.ID]; ok {
				continue
			}
			if _, ok := paired[other.ID]; ok {
				continue
			}
			if _, ok := ambiguous[other.ID]; ok {
				continue
			}
			if other.Direction() == lead.Direction() {
				continue
			}
			if !other.AbsAmount().Equal(lead.AbsAmount()) {
				continue
			}
			if best == nil || dist < bestDist {
				best = other
				bestDist = dist
				tie = false
			} else if dist == bestDist {
				tie = true
				ambiguous[other.ID] = struct{}{}
				result.Ambiguous = append(result.Ambiguous, other.ID)
			}
		}

		if best == nil {
			continue
		}
		if tie {
			ambiguous[lead.ID] = struct{}{}
			ambiguous[best.ID] = struct{}{}
			result.Ambiguous = append(result.Ambiguous, lead.ID, best.ID)
			logger.GetLogger().WithField("transaction_id", lead.ID).
				Warn("Ambiguous reversal pairing, excluding from auto-processing")
			continue
		}

		pair := domain.ReversalPair{
			Amount:     lead.AbsAmount(),
			WindowDays: d.profile.ReversalWindowDays,
		}
		if lead.Direction() == domain.Inflow {
			pair.CreditID, pair.DebitID = lead.ID, best.ID
		} else {
			pair.CreditID, pair.DebitID = best.ID, lead.ID
		}
		paired[lead.ID] = struct{}{}
		paired[best.ID] = struct{}{}
		result.ReversalPairs = append(result.ReversalPairs, pair)
	}
}

// contentHash fingerprints a row on the fields an importer cannot vary:
// account, day, amount and description.
func contentHash(tx *domain.Transaction) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		tx.AccountID,
		tx.Date.Format("2006-01-02"),
		tx.Amount.String(),
		normalizeText(tx.Description),
	)
	return hex.EncodeToString(h.Sum(nil))
}
