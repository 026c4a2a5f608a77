package matcher

import (
	"strings"

	"github.com/shopspring/decimal"

	"ledger-recon/internal/config"
	"ledger-recon/internal/domain"
)

// Score weights. Counterparty text is the weakest signal in this data
// (bank descriptions are noisy), so it carries the smallest weight and is
// dropped entirely when either side has no usable text.
const (
	weightAmount = 0.5
	weightDate   = 0.3
	weightVendor = 0.2
)

// Scorer assigns a confidence in [0,1] to a candidate for one transaction.
// Pure function of its inputs.
type Scorer struct {
	profile config.MatchProfile
}

func NewScorer(profile config.MatchProfile) *Scorer {
	return &Scorer{profile: profile}
}

// Score combines amount exactness, date proximity and counterparty
// similarity. Direction consistency is a gate, not a weighted term: a credit
// can never match an expense-type entry, whatever the other signals say.
func (s *Scorer) Score(tx *domain.Transaction, c Candidate) float64 {
	if tx.Direction() != c.Direction() {
		return 0
	}

	target := tx.UnallocatedAmount()
	amountScore := s.amountScore(target, c.Total())
	dateScore := s.dateScore(tx, c)
	vendorScore, hasVendor := s.vendorScore(tx, c)

	if !hasVendor {
		// No text on one side is absence of evidence, not counter-evidence:
		// renormalize over the remaining terms.
		return (weightAmount*amountScore + weightDate*dateScore) / (weightAmount + weightDate)
	}
	return weightAmount*amountScore + weightDate*dateScore + weightVendor*vendorScore
}

// amountScore is 1.0 for an exact amount and decays linearly to 0 at the
// tolerance boundary.
func (s *Scorer) amountScore(target, total decimal.Decimal) float64 {
	diff := total.Sub(target).Abs()
	if diff.IsZero() {
		return 1
	}
	tol := s.profile.ToleranceFor(target)
	if tol.IsZero() || diff.GreaterThan(tol) {
		return 0
	}
	ratio, _ := diff.Div(tol).Float64()
	return clamp01(1 - ratio)
}

// dateScore is 1.0 same-day, decaying linearly to 0 at the window boundary.
func (s *Scorer) dateScore(tx *domain.Transaction, c Candidate) float64 {
	if s.profile.DateWindowDays <= 0 {
		return 1
	}
	dist := c.DateDistanceDays(tx.Date)
	return clamp01(1 - float64(dist)/float64(s.profile.DateWindowDays))
}

// vendorScore measures counterparty similarity via substring containment or
// token overlap. The second return is false when either side lacks text.
func (s *Scorer) vendorScore(tx *domain.Transaction, c Candidate) (float64, bool) {
	desc := normalizeText(tx.Description)
	if desc == "" {
		return 0, false
	}

	best := 0.0
	seen := false
	for i := range c.Entries {
		name := normalizeText(c.Entries[i].Counterparty)
		if name == "" {
			continue
		}
		seen = true
		if strings.Contains(desc, name) || strings.Contains(name, desc) {
			best = 1
			break
		}
		if overlap := tokenOverlap(desc, name); overlap > best {
			best = overlap
		}
	}
	return best, seen
}

// Less orders two candidates for tie-breaking: smaller date distance first,
// then smaller amount distance, then lower entry id.
func (s *Scorer) Less(tx *domain.Transaction, a, b Candidate) bool {
	da, db := a.DateDistanceDays(tx.Date), b.DateDistanceDays(tx.Date)
	if da != db {
		return da < db
	}
	target := tx.UnallocatedAmount()
	ma := a.Total().Sub(target).Abs()
	mb := b.Total().Sub(target).Abs()
	if !ma.Equal(mb) {
		return ma.LessThan(mb)
	}
	return a.MinID() < b.MinID()
}

func normalizeText(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	replacer := strings.NewReplacer(".", "", ",", "", "*", " ", "-", " ", "#", " ")
	return strings.Join(strings.Fields(replacer.Replace(s)), " ")
}

// tokenOverlap is the share of name tokens that also appear in the
// description.
func tokenOverlap(desc, name string) float64 {
	descTokens := make(map[string]struct{})
	for _, t := range strings.Fields(desc) {
		descTokens[t] = struct{}{}
	}
	nameTokens := strings.Fields(name)
	if len(nameTokens) == 0 {
		return 0
	}
	matches := 0
	for _, t := range nameTokens {
		if _, ok := descTokens[t]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(nameTokens))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
