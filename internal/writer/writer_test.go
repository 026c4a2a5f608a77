package writer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-recon/internal/domain"
	"ledger-recon/internal/repository"
)

type fakeMatchRepo struct {
	applied []*repository.MatchBatch
	err     error
}

func (f *fakeMatchRepo) ApplyBatch(batch *repository.MatchBatch) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, batch)
	return nil
}

func (f *fakeMatchRepo) GetByTransaction(int64) ([]domain.MatchRecord, error) {
	return nil, nil
}

func (f *fakeMatchRepo) ActiveAllocationSum(int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func entryMatch(txID, entryID int64, amount string) domain.MatchRecord {
	return domain.MatchRecord{
		TransactionID:   txID,
		CounterEntryID:  &entryID,
		AllocatedAmount: decimal.RequireFromString(amount),
		MatchType:       domain.MatchExact,
		Status:          domain.MatchProposed,
	}
}

func TestWriter_DryRunTouchesNothing(t *testing.T) {
	repo := &fakeMatchRepo{}
	w := NewWriter(repo)

	batch := &repository.MatchBatch{
		RunID:   "run-1",
		Records: []domain.MatchRecord{entryMatch(1, 10, "965.50")},
	}

	report, err := w.Persist(batch, domain.ModeDryRun)

	require.NoError(t, err)
	assert.False(t, report.Committed)
	assert.Empty(t, repo.applied)
	require.Len(t, report.Records, 1)
	assert.Equal(t, domain.MatchProposed, report.Records[0].Status)
}

func TestWriter_WriteModeStampsAndCommits(t *testing.T) {
	repo := &fakeMatchRepo{}
	w := NewWriter(repo)

	batch := &repository.MatchBatch{
		RunID:   "run-1",
		Records: []domain.MatchRecord{entryMatch(1, 10, "965.50"), entryMatch(2, 11, "42.00")},
	}

	report, err := w.Persist(batch, domain.ModeWrite)

	require.NoError(t, err)
	assert.True(t, report.Committed)
	require.Len(t, repo.applied, 1)
	for _, rec := range report.Records {
		assert.Equal(t, domain.MatchApplied, rec.Status)
	}
}

func TestWriter_WriteModeKeepsReversedStatus(t *testing.T) {
	repo := &fakeMatchRepo{}
	w := NewWriter(repo)

	rec := entryMatch(1, 10, "195.00")
	rec.Status = domain.MatchReversed
	batch := &repository.MatchBatch{RunID: "run-1", Records: []domain.MatchRecord{rec}}

	report, err := w.Persist(batch, domain.ModeWrite)

	require.NoError(t, err)
	assert.Equal(t, domain.MatchReversed, report.Records[0].Status)
}

func TestWriter_CommitFailureSurfaces(t *testing.T) {
	repo := &fakeMatchRepo{err: domain.ErrPersistenceFailure}
	w := NewWriter(repo)

	batch := &repository.MatchBatch{
		RunID:   "run-1",
		Records: []domain.MatchRecord{entryMatch(1, 10, "965.50")},
	}

	report, err := w.Persist(batch, domain.ModeWrite)

	assert.Nil(t, report)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)
}
