package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-recon/internal/domain"
)

func TestAllocator_ExactMatch(t *testing.T) {
	alloc := NewAllocator(testProfile(), "test")
	tx := makeTx(1, "ACC-1", "2018-09-17", "965.50", "E-TRANSFER JOHN DOE")
	candidates := []Candidate{{Entries: []domain.CounterEntry{
		makeReceipt(10, "2018-09-17", "965.50", "John Doe"),
	}}}

	result, err := alloc.Allocate(context.Background(), &tx, candidates)

	require.NoError(t, err)
	assert.Equal(t, OutcomeMatched, result.Outcome)
	assert.Equal(t, domain.StatusMatched, tx.Status)
	assert.True(t, tx.AllocatedAmount.Equal(money("965.50")))

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, domain.MatchExact, rec.MatchType)
	assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
	assert.Equal(t, domain.MatchProposed, rec.Status)
	require.NotNil(t, rec.CounterEntryID)
	assert.Equal(t, int64(10), *rec.CounterEntryID)
}

func TestAllocator_AggregateMatch(t *testing.T) {
	alloc := NewAllocator(testProfile(), "test")
	tx := makeTx(1, "ACC-1", "2020-01-05", "500.00", "BATCH DEPOSIT")
	candidates := []Candidate{{Entries: []domain.CounterEntry{
		makeReceipt(20, "2020-01-05", "300.00", ""),
		makeReceipt(21, "2020-01-05", "200.00", ""),
	}}}

	result, err := alloc.Allocate(context.Background(), &tx, candidates)

	require.NoError(t, err)
	assert.Equal(t, OutcomeMatched, result.Outcome)
	assert.Equal(t, domain.StatusMatched, tx.Status)

	require.Len(t, result.Records, 2)
	total := money("0")
	for _, rec := range result.Records {
		assert.Equal(t, domain.MatchAggregate, rec.MatchType)
		total = total.Add(rec.AllocatedAmount)
	}
	assert.True(t, total.Equal(money("500.00")))
	assert.True(t, result.EntryAllocations[20].Equal(money("300.00")))
	assert.True(t, result.EntryAllocations[21].Equal(money("200.00")))
}

func TestAllocator_TiedScoresGoToReview(t *testing.T) {
	alloc := NewAllocator(testProfile(), "test")
	tx := makeTx(1, "ACC-1", "2020-01-05", "500.00", "")
	candidates := []Candidate{
		{Entries: []domain.CounterEntry{makeReceipt(30, "2020-01-05", "500.00", "")}},
		{Entries: []domain.CounterEntry{makeReceipt(31, "2020-01-05", "500.00", "")}},
	}

	result, err := alloc.Allocate(context.Background(), &tx, candidates)

	require.NoError(t, err)
	assert.Equal(t, OutcomeAmbiguous, result.Outcome)
	assert.Empty(t, result.Records)
	assert.Equal(t, domain.StatusCandidateFound, tx.Status)
	require.NotNil(t, result.Review)
	assert.Equal(t, domain.ReviewAmbiguousMatch, result.Review.Reason)
}

func TestAllocator_PartialMatchLeavesRemainderOpen(t *testing.T) {
	profile := testProfile()
	profile.MinConfidence = 0.2
	alloc := NewAllocator(profile, "test")

	tx := makeTx(1, "ACC-1", "2020-01-05", "500.00", "")
	candidates := []Candidate{{Entries: []domain.CounterEntry{
		makeReceipt(40, "2020-01-05", "300.00", ""),
	}}}

	result, err := alloc.Allocate(context.Background(), &tx, candidates)

	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, result.Outcome)
	assert.Equal(t, domain.StatusPartiallyMatched, tx.Status)
	assert.True(t, tx.AllocatedAmount.Equal(money("300.00")))
	assert.True(t, tx.UnallocatedAmount().Equal(money("200.00")))
	require.Len(t, result.Records, 1)
	assert.Equal(t, domain.MatchSplit, result.Records[0].MatchType)
}

func TestAllocator_BelowThresholdIsNoCandidate(t *testing.T) {
	alloc := NewAllocator(testProfile(), "test")
	tx := makeTx(1, "ACC-1", "2020-01-05", "500.00", "")
	// Amount misses badly, so the score cannot clear the default threshold.
	candidates := []Candidate{{Entries: []domain.CounterEntry{
		makeReceipt(50, "2020-01-05", "300.00", ""),
	}}}

	result, err := alloc.Allocate(context.Background(), &tx, candidates)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCandidate, result.Outcome)
	assert.Equal(t, domain.StatusUnmatched, tx.Status)
}

func TestAllocator_MatchedTransactionIsNoop(t *testing.T) {
	alloc := NewAllocator(testProfile(), "test")
	tx := makeTx(1, "ACC-1", "2018-09-17", "965.50", "")
	tx.Status = domain.StatusMatched
	tx.AllocatedAmount = money("965.50")
	candidates := []Candidate{{Entries: []domain.CounterEntry{
		makeReceipt(60, "2018-09-17", "965.50", ""),
	}}}

	result, err := alloc.Allocate(context.Background(), &tx, candidates)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, result.Outcome)
	assert.Empty(t, result.Records)
	assert.True(t, tx.AllocatedAmount.Equal(money("965.50")))
}

func TestAllocator_TerminalTransactionIsNoop(t *testing.T) {
	alloc := NewAllocator(testProfile(), "test")
	for _, status := range []domain.TransactionStatus{domain.StatusLocked, domain.StatusReversed} {
		tx := makeTx(1, "ACC-1", "2018-09-17", "965.50", "")
		tx.Status = status
		result, err := alloc.Allocate(context.Background(), &tx, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoop, result.Outcome)
		assert.Equal(t, status, tx.Status)
	}
}

func TestAllocator_FullyAllocatedButOpenStatusRejected(t *testing.T) {
	profile := testProfile()
	profile.MinConfidence = 0.2
	alloc := NewAllocator(profile, "test")
	tx := makeTx(1, "ACC-1", "2018-09-17", "965.50", "")
	tx.Status = domain.StatusPartiallyMatched
	tx.AllocatedAmount = money("965.50")
	candidates := []Candidate{{Entries: []domain.CounterEntry{
		makeReceipt(70, "2018-09-17", "965.50", ""),
	}}}

	result, err := alloc.Allocate(context.Background(), &tx, candidates)

	require.NoError(t, err)
	assert.Equal(t, OutcomeOverAllocation, result.Outcome)
	assert.Empty(t, result.Records)
	require.NotNil(t, result.Review)
	assert.Equal(t, domain.ReviewOverAllocation, result.Review.Reason)
	assert.True(t, tx.AllocatedAmount.Equal(money("965.50")))
}

func TestAllocator_DebitMatchesPayment(t *testing.T) {
	alloc := NewAllocator(testProfile(), "test")
	tx := makeTx(1, "ACC-1", "2020-06-10", "-75.25", "HYDRO BILL")
	candidates := []Candidate{{Entries: []domain.CounterEntry{
		makePayment(80, "2020-06-10", "75.25", "Hydro"),
	}}}

	result, err := alloc.Allocate(context.Background(), &tx, candidates)

	require.NoError(t, err)
	assert.Equal(t, OutcomeMatched, result.Outcome)
	assert.True(t, tx.AllocatedAmount.Equal(money("75.25")))
}

func TestAllocator_ReversalRecord(t *testing.T) {
	alloc := NewAllocator(testProfile(), "test")
	pair := domain.ReversalPair{
		CreditID:   1,
		DebitID:    2,
		Amount:     money("195.00"),
		WindowDays: 5,
	}

	rec := alloc.ReversalRecord(pair)

	assert.Equal(t, int64(1), rec.TransactionID)
	require.NotNil(t, rec.ReversedTransactionID)
	assert.Equal(t, int64(2), *rec.ReversedTransactionID)
	assert.Nil(t, rec.CounterEntryID)
	assert.Equal(t, domain.MatchReversal, rec.MatchType)
	assert.True(t, rec.AllocatedAmount.Equal(money("195.00")))
	assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
}
