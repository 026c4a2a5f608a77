package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-recon/internal/config"
	"ledger-recon/internal/domain"
	"ledger-recon/internal/repository"
	"ledger-recon/internal/writer"
)

type fakeTxRepo struct {
	transactions []domain.Transaction
}

func (f *fakeTxRepo) BulkCreate(txs []domain.Transaction) error {
	f.transactions = append(f.transactions, txs...)
	return nil
}

func (f *fakeTxRepo) GetByID(id int64) (*domain.Transaction, error) {
	for i := range f.transactions {
		if f.transactions[i].ID == id {
			return &f.transactions[i], nil
		}
	}
	return nil, fmt.Errorf("transaction %d not found", id)
}

func (f *fakeTxRepo) ListAccounts(startDate, endDate time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var accounts []string
	for i := range f.transactions {
		tx := &f.transactions[i]
		if tx.Date.Before(startDate) || tx.Date.After(endDate) {
			continue
		}
		if _, ok := seen[tx.AccountID]; !ok {
			seen[tx.AccountID] = struct{}{}
			accounts = append(accounts, tx.AccountID)
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (f *fakeTxRepo) GetByAccountStream(accountID string, startDate, endDate time.Time, afterID int64, batchSize int, callback func([]domain.Transaction) error) error {
	var matching []domain.Transaction
	for i := range f.transactions {
		tx := f.transactions[i]
		if tx.AccountID != accountID || tx.ID <= afterID {
			continue
		}
		if tx.Date.Before(startDate) || tx.Date.After(endDate) {
			continue
		}
		matching = append(matching, tx)
	}
	sort.Slice(matching, func(i, j int) bool {
		if !matching[i].Date.Equal(matching[j].Date) {
			return matching[i].Date.Before(matching[j].Date)
		}
		return matching[i].ID < matching[j].ID
	})
	for start := 0; start < len(matching); start += batchSize {
		end := start + batchSize
		if end > len(matching) {
			end = len(matching)
		}
		if err := callback(matching[start:end]); err != nil {
			return err
		}
	}
	return nil
}

type fakeEntryRepo struct {
	entries []domain.CounterEntry
}

func (f *fakeEntryRepo) BulkCreate(entries []domain.CounterEntry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeEntryRepo) GetByID(id int64) (*domain.CounterEntry, error) {
	for i := range f.entries {
		if f.entries[i].ID == id {
			return &f.entries[i], nil
		}
	}
	return nil, fmt.Errorf("counter entry %d not found", id)
}

func (f *fakeEntryRepo) OpenEntries(direction domain.Direction, from, to time.Time, minAmount, maxAmount decimal.Decimal, limit int) ([]domain.CounterEntry, error) {
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

type fakeRunRepo struct {
	mu          sync.Mutex
	runs        map[string]*domain.ReconciliationRun
	checkpoints map[string]int64
	reviews     []domain.ReviewItem
	created     int
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{
		runs:        make(map[string]*domain.ReconciliationRun),
		checkpoints: make(map[string]int64),
	}
}

func (f *fakeRunRepo) CreateRun(run *domain.ReconciliationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	stored := *run
	f.runs[run.RunID] = &stored
	return nil
}

func (f *fakeRunRepo) UpdateRun(run *domain.ReconciliationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *run
	f.runs[run.RunID] = &stored
	return nil
}

func (f *fakeRunRepo) GetByRunID(runID string) (*domain.ReconciliationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}

func (f *fakeRunRepo) SaveCheckpoint(runID, accountID string, lastTransactionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints[runID+"/"+accountID] = lastTransactionID
	return nil
}

func (f *fakeRunRepo) GetCheckpoints(runID string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for key, id := range f.checkpoints {
		if strings.HasPrefix(key, runID+"/") {
			out[strings.TrimPrefix(key, runID+"/")] = id
		}
	}
	return out, nil
}

func (f *fakeRunRepo) ListReviewItems(runID string) ([]domain.ReviewItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ReviewItem
	for _, item := range f.reviews {
		if item.RunID == runID {
			out = append(out, item)
		}
	}
	return out, nil
}

type fakeBatchRepo struct {
	mu      sync.Mutex
	batches []*repository.MatchBatch
	records map[int64][]domain.MatchRecord
}

func (f *fakeBatchRepo) ApplyBatch(batch *repository.MatchBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeBatchRepo) GetByTransaction(transactionID int64) ([]domain.MatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[transactionID], nil
}

func (f *fakeBatchRepo) ActiveAllocationSum(int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
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

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.App.Workers = 2
	cfg.App.BatchSize = 50
	cfg.App.CreatedBy = "test"
	return cfg
}

func buildService(t *testing.T, txs []domain.Transaction, entries []domain.CounterEntry) (ReconciliationService, *fakeRunRepo, *fakeBatchRepo) {
	t.Helper()
	txRepo := &fakeTxRepo{transactions: txs}
	entryRepo := &fakeEntryRepo{entries: entries}
	runRepo := newFakeRunRepo()
	batchRepo := &fakeBatchRepo{}
	svc := NewReconciliationService(txRepo, entryRepo, batchRepo, runRepo, writer.NewWriter(batchRepo), testConfig(t))
	return svc, runRepo, batchRepo
}

func ledgerFixture() ([]domain.Transaction, []domain.CounterEntry) {
	txs := []domain.Transaction{
		// Exact match against receipt 10.
		{ID: 1, AccountID: "ACC-1", Date: day("2018-09-17"), Amount: money("965.50"),
			Description: "E-TRANSFER JOHN DOE", BatchID: "B1", Status: domain.StatusUnmatched},
		// Reversal pair.
		{ID: 2, AccountID: "ACC-1", Date: day("2018-09-20"), Amount: money("195.00"),
			Description: "E-TRANSFER", BatchID: "B1", Status: domain.StatusUnmatched},
		{ID: 3, AccountID: "ACC-1", Date: day("2018-09-22"), Amount: money("-195.00"),
			Description: "E-TRANSFER CANCEL", BatchID: "B1", Status: domain.StatusUnmatched},
		// Duplicate re-import of transaction 1 from a later batch.
		{ID: 4, AccountID: "ACC-1", Date: day("2018-09-17"), Amount: money("965.50"),
			Description: "E-TRANSFER JOHN DOE", BatchID: "B2", Status: domain.StatusUnmatched},
		// Nothing in the counter-ledger for this one.
		{ID: 5, AccountID: "ACC-1", Date: day("2018-09-25"), Amount: money("77.77"),
			Description: "MYSTERY DEPOSIT", BatchID: "B1", Status: domain.StatusUnmatched},
	}
	entries := []domain.CounterEntry{
		{ID: 10, Kind: domain.KindReceipt, Date: day("2018-09-17"),
			Amount: money("965.50"), Counterparty: "John Doe"},
	}
	return txs, entries
}

func TestRun_DryRunComputesWithoutWriting(t *testing.T) {
	txs, entries := ledgerFixture()
	svc, runRepo, batchRepo := buildService(t, txs, entries)

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeDryRun,
		StartDate: day("2018-09-01"),
		EndDate:   day("2018-09-30"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalMatched)
	assert.Equal(t, 1, summary.TotalUnmatched)
	assert.Equal(t, 1, summary.TotalDuplicates)
	assert.Equal(t, 1, summary.TotalReversals)
	assert.Equal(t, 2, summary.TotalProcessed)

	// Nothing hit the store: no run row, no batches, no checkpoints.
	assert.Equal(t, 0, runRepo.created)
	assert.Empty(t, batchRepo.batches)
	assert.Empty(t, runRepo.checkpoints)

	// The full result set is still reported, with every record proposed.
	require.NotEmpty(t, summary.Records)
	for _, rec := range summary.Records {
		assert.Equal(t, domain.MatchProposed, rec.Status)
	}
}

func TestRun_WriteModeCommitsAndCheckpoints(t *testing.T) {
	txs, entries := ledgerFixture()
	svc, runRepo, batchRepo := buildService(t, txs, entries)

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeWrite,
		StartDate: day("2018-09-01"),
		EndDate:   day("2018-09-30"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, runRepo.created)
	require.NotEmpty(t, batchRepo.batches)
	assert.NotEmpty(t, runRepo.checkpoints)

	run, err := svc.GetRun(summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, summary.TotalMatched, run.TotalMatched)
	assert.Equal(t, summary.TotalDuplicates, run.TotalDuplicates)

	for _, batch := range batchRepo.batches {
		for _, rec := range batch.Records {
			assert.NotEqual(t, domain.MatchProposed, rec.Status)
		}
	}
}

func TestRun_ReversalRecordWrittenOnce(t *testing.T) {
	txs, entries := ledgerFixture()
	svc, _, _ := buildService(t, txs, entries)

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeDryRun,
		StartDate: day("2018-09-01"),
		EndDate:   day("2018-09-30"),
	})

	require.NoError(t, err)
	var reversals []domain.MatchRecord
	for _, rec := range summary.Records {
		if rec.MatchType == domain.MatchReversal {
			reversals = append(reversals, rec)
		}
	}
	require.Len(t, reversals, 1)
	assert.Equal(t, int64(2), reversals[0].TransactionID)
	require.NotNil(t, reversals[0].ReversedTransactionID)
	assert.Equal(t, int64(3), *reversals[0].ReversedTransactionID)
}

func TestRun_EntryNotDoubleAllocatedWithinRun(t *testing.T) {
	// Two identical deposits compete for a single receipt; only one can win.
	txs := []domain.Transaction{
		{ID: 1, AccountID: "ACC-1", Date: day("2020-01-05"), Amount: money("100.00"),
			Description: "DEPOSIT ONE", BatchID: "B1", Status: domain.StatusUnmatched},
		{ID: 2, AccountID: "ACC-1", Date: day("2020-01-06"), Amount: money("100.00"),
			Description: "DEPOSIT TWO", BatchID: "B1", Status: domain.StatusUnmatched},
	}
	entries := []domain.CounterEntry{
		{ID: 10, Kind: domain.KindReceipt, Date: day("2020-01-05"), Amount: money("100.00")},
	}
	svc, _, _ := buildService(t, txs, entries)

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeDryRun,
		StartDate: day("2020-01-01"),
		EndDate:   day("2020-01-31"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalMatched)
	assert.Equal(t, 1, summary.TotalUnmatched)

	total := decimal.Zero
	for _, rec := range summary.Records {
		total = total.Add(rec.AllocatedAmount)
	}
	assert.True(t, total.Equal(money("100.00")))
}

func TestRun_AccountFilterRestrictsScope(t *testing.T) {
	txs := []domain.Transaction{
		{ID: 1, AccountID: "ACC-1", Date: day("2020-01-05"), Amount: money("100.00"),
			BatchID: "B1", Status: domain.StatusUnmatched},
		{ID: 2, AccountID: "ACC-2", Date: day("2020-01-05"), Amount: money("100.00"),
			BatchID: "B1", Status: domain.StatusUnmatched},
	}
	svc, _, _ := buildService(t, txs, nil)

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeDryRun,
		AccountID: "ACC-1",
		StartDate: day("2020-01-01"),
		EndDate:   day("2020-01-31"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalProcessed)
}

func TestRun_NoAccountsInRangeSucceeds(t *testing.T) {
	svc, _, _ := buildService(t, nil, nil)

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeDryRun,
		StartDate: day("2020-01-01"),
		EndDate:   day("2020-01-31"),
	})

	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalProcessed)
}

func TestRun_UnknownProfileRejected(t *testing.T) {
	svc, _, _ := buildService(t, nil, nil)

	_, err := svc.Run(context.Background(), RunOptions{
		Profile:   "nonexistent",
		Mode:      domain.ModeDryRun,
		StartDate: day("2020-01-01"),
		EndDate:   day("2020-01-31"),
	})

	assert.Error(t, err)
}

func TestRun_ReversingMatchedLegReleasesPriorMatch(t *testing.T) {
	// A deposit matched and committed in an earlier run bounces later. The
	// reversal must retire the old match record and give the receipt its
	// allocation back, not just flip the transaction status.
	entryID := int64(10)
	txs := []domain.Transaction{
		{ID: 1, AccountID: "ACC-1", Date: day("2018-09-20"), Amount: money("195.00"),
			Description: "E-TRANSFER", BatchID: "B1",
			Status: domain.StatusMatched, AllocatedAmount: money("195.00")},
		{ID: 2, AccountID: "ACC-1", Date: day("2018-09-22"), Amount: money("-195.00"),
			Description: "E-TRANSFER CANCEL", BatchID: "B2", Status: domain.StatusUnmatched},
	}
	entries := []domain.CounterEntry{
		{ID: entryID, Kind: domain.KindReceipt, Date: day("2018-09-20"),
			Amount: money("195.00"), AllocatedAmount: money("195.00")},
	}
	svc, _, batchRepo := buildService(t, txs, entries)
	batchRepo.records = map[int64][]domain.MatchRecord{
		1: {{ID: 7, TransactionID: 1, CounterEntryID: &entryID,
			AllocatedAmount: money("195.00"), Confidence: 1,
			MatchType: domain.MatchExact, Status: domain.MatchApplied, CreatedBy: "test"}},
	}

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeWrite,
		StartDate: day("2018-09-01"),
		EndDate:   day("2018-09-30"),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalReversals)

	var retired, reversal bool
	released := decimal.Zero
	for _, batch := range batchRepo.batches {
		for _, rec := range batch.Records {
			if rec.CounterEntryID != nil && *rec.CounterEntryID == entryID && rec.TransactionID == 1 {
				retired = true
				assert.Equal(t, domain.MatchReversed, rec.Status)
			}
			if rec.MatchType == domain.MatchReversal && rec.TransactionID == 1 {
				reversal = true
			}
		}
		released = released.Add(batch.EntryAllocations[entryID])
		for _, tx := range batch.TransactionUpdates {
			if tx.ID == 1 {
				assert.Equal(t, domain.StatusReversed, tx.Status)
				assert.True(t, tx.AllocatedAmount.IsZero())
			}
		}
	}
	assert.True(t, retired, "prior match record not moved to reversed")
	assert.True(t, reversal, "reversal record missing")
	assert.True(t, released.Equal(money("-195.00")), "receipt allocation not released, got %s", released)
}

func TestRun_PartialLegReversalParkedForReview(t *testing.T) {
	// A reversal pair whose credit leg is partially matched cannot be unwound
	// automatically. It goes to review; the run itself keeps going.
	txs := []domain.Transaction{
		{ID: 1, AccountID: "ACC-1", Date: day("2018-09-20"), Amount: money("200.00"),
			Description: "E-TRANSFER", BatchID: "B1",
			Status: domain.StatusPartiallyMatched, AllocatedAmount: money("50.00")},
		{ID: 2, AccountID: "ACC-1", Date: day("2018-09-22"), Amount: money("-200.00"),
			Description: "E-TRANSFER CANCEL", BatchID: "B1", Status: domain.StatusUnmatched},
	}
	svc, _, _ := buildService(t, txs, nil)

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeDryRun,
		StartDate: day("2018-09-01"),
		EndDate:   day("2018-09-30"),
	})

	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalReversals)
	assert.Equal(t, 1, summary.TotalAmbiguous)
	for _, rec := range summary.Records {
		assert.NotEqual(t, domain.MatchReversal, rec.MatchType)
	}
	require.Len(t, summary.ReviewItems, 1)
	assert.Equal(t, int64(1), summary.ReviewItems[0].TransactionID)
	assert.Equal(t, domain.ReviewAmbiguousMatch, summary.ReviewItems[0].Reason)
}

func TestRun_ResumePicksUpAfterCheckpoint(t *testing.T) {
	// An interrupted write run left a committed checkpoint behind. Resuming
	// with its run id must skip everything at or before the checkpoint and
	// must not open a second run row.
	txs := []domain.Transaction{
		{ID: 1, AccountID: "ACC-1", Date: day("2020-01-05"), Amount: money("100.00"),
			Description: "DEPOSIT ONE", BatchID: "B1", Status: domain.StatusUnmatched},
		{ID: 2, AccountID: "ACC-1", Date: day("2020-01-06"), Amount: money("77.77"),
			Description: "DEPOSIT TWO", BatchID: "B1", Status: domain.StatusUnmatched},
	}
	entries := []domain.CounterEntry{
		{ID: 10, Kind: domain.KindReceipt, Date: day("2020-01-05"), Amount: money("100.00")},
		{ID: 11, Kind: domain.KindReceipt, Date: day("2020-01-06"), Amount: money("77.77")},
	}
	svc, runRepo, batchRepo := buildService(t, txs, entries)
	runRepo.runs["run-resume"] = &domain.ReconciliationRun{
		RunID: "run-resume", Mode: domain.ModeWrite, Status: domain.RunFailed,
	}
	runRepo.checkpoints["run-resume/ACC-1"] = 1

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:        domain.ModeWrite,
		StartDate:   day("2020-01-01"),
		EndDate:     day("2020-01-31"),
		ResumeRunID: "run-resume",
	})

	require.NoError(t, err)
	assert.Equal(t, "run-resume", summary.RunID)
	assert.Equal(t, 1, summary.TotalProcessed)
	assert.Equal(t, 1, summary.TotalMatched)
	assert.Equal(t, 0, runRepo.created)

	// Only the transaction past the checkpoint was touched.
	for _, batch := range batchRepo.batches {
		for _, rec := range batch.Records {
			assert.Equal(t, int64(2), rec.TransactionID)
		}
	}
	assert.Equal(t, int64(2), runRepo.checkpoints["run-resume/ACC-1"])

	run, err := svc.GetRun("run-resume")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestRun_RerunAfterWriteIsNoop(t *testing.T) {
	// After a committed run the transaction is MATCHED and the receipt fully
	// allocated; running again must not produce new allocations.
	txs := []domain.Transaction{
		{ID: 1, AccountID: "ACC-1", Date: day("2018-09-17"), Amount: money("965.50"),
			Description: "E-TRANSFER JOHN DOE", BatchID: "B1",
			Status: domain.StatusMatched, AllocatedAmount: money("965.50")},
	}
	entries := []domain.CounterEntry{
		{ID: 10, Kind: domain.KindReceipt, Date: day("2018-09-17"),
			Amount: money("965.50"), Counterparty: "John Doe",
			AllocatedAmount: money("965.50")},
	}
	svc, _, batchRepo := buildService(t, txs, entries)

	summary, err := svc.Run(context.Background(), RunOptions{
		Mode:      domain.ModeWrite,
		StartDate: day("2018-09-01"),
		EndDate:   day("2018-09-30"),
	})

	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalProcessed)
	assert.Empty(t, summary.Records)
	assert.Empty(t, batchRepo.batches)
}
