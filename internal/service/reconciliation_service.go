package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-recon/internal/config"
	"ledger-recon/internal/domain"
	"ledger-recon/internal/matcher"
	"ledger-recon/internal/repository"
	"ledger-recon/internal/writer"
	"ledger-recon/pkg/logger"
)

// RunOptions are the caller-facing filters and mode for one run.
// ResumeRunID re-opens an interrupted write run: its id is reused and every
// account picks up after its last committed checkpoint.
type RunOptions struct {
	Profile     string
	Mode        domain.RunMode
	AccountID   string
	StartDate   time.Time
	EndDate     time.Time
	ResumeRunID string
}

type ReconciliationService interface {
	Run(ctx context.Context, opts RunOptions) (*domain.RunSummary, error)
	GetRun(runID string) (*domain.ReconciliationRun, error)
	ListReviewItems(runID string) ([]domain.ReviewItem, error)
}

type reconciliationService struct {
	txRepo    repository.TransactionRepository
	entryRepo repository.CounterEntryRepository
	matchRepo repository.MatchRepository
	runRepo   repository.RunRepository
	writer    *writer.Writer
	cfg       *config.Config
}

func NewReconciliationService(
	txRepo repository.TransactionRepository,
	entryRepo repository.CounterEntryRepository,
	matchRepo repository.MatchRepository,
	runRepo repository.RunRepository,
	w *writer.Writer,
	cfg *config.Config,
) ReconciliationService {
	return &reconciliationService{
		txRepo:    txRepo,
		entryRepo: entryRepo,
		matchRepo: matchRepo,
		runRepo:   runRepo,
		writer:    w,
		cfg:       cfg,
	}
}

// Run executes the full pipeline: classify, generate, score, allocate,
// persist. Accounts are independent partitions and run on parallel workers;
// inside one account transactions go strictly in chronological order. Only
// store failures abort the run; every per-transaction issue is recovered
// locally and reported.
func (s *reconciliationService) Run(ctx context.Context, opts RunOptions) (*domain.RunSummary, error) {
	profileName := opts.Profile
	if profileName == "" {
		profileName = "default"
	}
	profile, err := s.cfg.Profile(profileName)
	if err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeDryRun
	}

	runID := uuid.New().String()
	if opts.ResumeRunID != "" {
		runID = opts.ResumeRunID
	}
	log := logger.GetLogger().WithFields(map[string]interface{}{
		"run_id":  runID,
		"profile": profileName,
		"mode":    opts.Mode,
	})
	log.Info("Starting reconciliation run")

	accounts, err := s.resolveAccounts(opts)
	if err != nil {
		return nil, err
	}

	run := &domain.ReconciliationRun{
		RunID:     runID,
		Profile:   profileName,
		Mode:      opts.Mode,
		AccountID: opts.AccountID,
		StartDate: opts.StartDate,
		EndDate:   opts.EndDate,
		Status:    domain.RunProcessing,
	}
	var checkpoints map[string]int64
	if opts.Mode == domain.ModeWrite {
		if opts.ResumeRunID != "" {
			prev, err := s.runRepo.GetByRunID(runID)
			if err != nil {
				return nil, fmt.Errorf("resuming run %s: %w", runID, err)
			}
			run.ID = prev.ID
			checkpoints, err = s.runRepo.GetCheckpoints(runID)
			if err != nil {
				return nil, fmt.Errorf("%w: loading checkpoints for run %s: %v", domain.ErrPersistenceFailure, runID, err)
			}
			if err := s.runRepo.UpdateRun(run); err != nil {
				return nil, fmt.Errorf("failed to reopen run: %w", err)
			}
		} else if err := s.runRepo.CreateRun(run); err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
	}

	summary := &domain.RunSummary{RunID: runID, Profile: profileName, Mode: opts.Mode}
	if len(accounts) == 0 {
		log.Info("No accounts in range, nothing to do")
		s.finishRun(run, summary, opts.Mode, nil)
		return summary, nil
	}

	var (
		mu       sync.Mutex
		runErr   error
		wg       sync.WaitGroup
		accountC = make(chan string)
	)
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := s.cfg.App.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range accountC {
				totals, err := s.processAccount(workerCtx, runID, account, opts, profile, checkpoints[account])
				mu.Lock()
				if err != nil {
					if runErr == nil {
						runErr = err
						cancel()
					}
				} else {
					mergeSummary(summary, totals)
				}
				mu.Unlock()
			}
		}()
	}

	for _, account := range accounts {
		select {
		case accountC <- account:
		case <-workerCtx.Done():
		}
		if workerCtx.Err() != nil {
			break
		}
	}
	close(accountC)
	wg.Wait()

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	s.finishRun(run, summary, opts.Mode, runErr)
	if runErr != nil {
		log.WithError(runErr).Error("Reconciliation run failed")
		return nil, runErr
	}

	log.WithFields(map[string]interface{}{
		"processed": summary.TotalProcessed,
		"matched":   summary.TotalMatched,
		"partial":   summary.TotalPartial,
		"unmatched": summary.TotalUnmatched,
	}).Info("Reconciliation run completed")
	return summary, nil
}

// processAccount runs the pipeline over one account partition. It owns all
// mutable state for the partition, so workers share nothing. afterID is the
// account's last committed checkpoint when resuming, zero otherwise.
func (s *reconciliationService) processAccount(ctx context.Context, runID, accountID string, opts RunOptions, profile config.MatchProfile, afterID int64) (*domain.RunSummary, error) {
	batchSize := s.cfg.App.BatchSize
	if batchSize < 1 {
		batchSize = 500
	}

	// Chronological collection; the counter-ledger side stays in the store
	// and is only reached through indexed range queries.
	var txs []domain.Transaction
	err := s.txRepo.GetByAccountStream(accountID, opts.StartDate, opts.EndDate, afterID, batchSize, func(batch []domain.Transaction) error {
		txs = append(txs, batch...)
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", accountID, err)
	}
	if len(txs) == 0 {
		return &domain.RunSummary{}, nil
	}

	detector := matcher.NewDetector(profile)
	generator := matcher.NewGenerator(profile)
	allocator := matcher.NewAllocator(profile, s.cfg.App.CreatedBy)

	classification := detector.Classify(txs)
	excluded := classification.Excluded()
	view := newPendingView(s.entryRepo)

	totals := &domain.RunSummary{}
	byID := make(map[int64]*domain.Transaction, len(txs))
	for i := range txs {
		byID[txs[i].ID] = &txs[i]
	}

	batch := &repository.MatchBatch{RunID: runID, EntryAllocations: make(map[int64]decimal.Decimal)}

	// Duplicates are locked and parked for review, never deleted.
	for _, dupID := range classification.Duplicates {
		tx := byID[dupID]
		if tx.Status.Terminal() {
			continue
		}
		if err := matcher.NewTransactionFSM(tx).Lock(ctx); err != nil {
			return nil, err
		}
		batch.TransactionUpdates = append(batch.TransactionUpdates, *tx)
		batch.ReviewItems = append(batch.ReviewItems, domain.ReviewItem{
			RunID:         runID,
			TransactionID: tx.ID,
			Reason:        domain.ReviewDuplicateImport,
			Detail:        fmt.Sprintf("batch %s repeats an earlier import on %s", tx.BatchID, tx.Date.Format("2006-01-02")),
		})
		totals.TotalDuplicates++
	}

	// Reversal pairs skip ordinary matching entirely and land as one record.
	// A leg a previous run already matched first gets its records moved to
	// reversed and its counter entries released, in the same batch.
	for _, pair := range classification.ReversalPairs {
		credit, debit := byID[pair.CreditID], byID[pair.DebitID]
		if credit.Status.Terminal() || debit.Status.Terminal() {
			continue
		}
		if s.parkUnreversiblePair(runID, credit, debit, batch, totals) {
			continue
		}
		if err := s.releaseAllocations(credit, batch); err != nil {
			return nil, err
		}
		if err := s.releaseAllocations(debit, batch); err != nil {
			return nil, err
		}
		if err := matcher.NewTransactionFSM(credit).MarkReversed(ctx); err != nil {
			return nil, err
		}
		if err := matcher.NewTransactionFSM(debit).MarkReversed(ctx); err != nil {
			return nil, err
		}
		batch.Records = append(batch.Records, allocator.ReversalRecord(pair))
		batch.TransactionUpdates = append(batch.TransactionUpdates, *credit, *debit)
		totals.TotalReversals++
	}

	for _, ambiguousID := range classification.Ambiguous {
		batch.ReviewItems = append(batch.ReviewItems, domain.ReviewItem{
			RunID:         runID,
			TransactionID: ambiguousID,
			Reason:        domain.ReviewAmbiguousMatch,
			Detail:        "reversal pairing is ambiguous within the window",
		})
		totals.TotalAmbiguous++
	}

	processed := 0
	lastID := int64(0)
	for i := range txs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		tx := &txs[i]
		lastID = tx.ID
		if _, skip := excluded[tx.ID]; skip {
			continue
		}
		if tx.Status.Terminal() || tx.Status == domain.StatusMatched {
			continue
		}
		totals.TotalProcessed++

		candidates, err := generator.Generate(tx, view)
		if err != nil {
			return nil, fmt.Errorf("candidate query for transaction %d: %w", tx.ID, err)
		}

		allocation, err := allocator.Allocate(ctx, tx, candidates)
		if err != nil {
			return nil, err
		}

		switch allocation.Outcome {
		case matcher.OutcomeMatched:
			totals.TotalMatched++
		case matcher.OutcomePartial:
			totals.TotalPartial++
		case matcher.OutcomeNoCandidate:
			totals.TotalUnmatched++
		case matcher.OutcomeAmbiguous:
			totals.TotalAmbiguous++
			batch.TransactionUpdates = append(batch.TransactionUpdates, *tx)
		}

		if allocation.Review != nil {
			allocation.Review.RunID = runID
			batch.ReviewItems = append(batch.ReviewItems, *allocation.Review)
		}
		if len(allocation.Records) > 0 {
			batch.Records = append(batch.Records, allocation.Records...)
			batch.TransactionUpdates = append(batch.TransactionUpdates, *tx)
			view.reserve(allocation.EntryAllocations)
			for id, amt := range allocation.EntryAllocations {
				batch.EntryAllocations[id] = batch.EntryAllocations[id].Add(amt)
			}
		}

		processed++
		if processed%batchSize == 0 {
			if err := s.flush(runID, accountID, batch, totals, opts.Mode, lastID); err != nil {
				return nil, err
			}
			batch = &repository.MatchBatch{RunID: runID, EntryAllocations: make(map[int64]decimal.Decimal)}
		}
	}

	if err := s.flush(runID, accountID, batch, totals, opts.Mode, lastID); err != nil {
		return nil, err
	}
	return totals, nil
}

// flush commits one batch (or reports it in dry-run) and advances the
// account checkpoint. The commit is atomic; the checkpoint only moves after
// it succeeds, so restarting past an interruption is safe.
func (s *reconciliationService) flush(runID, accountID string, batch *repository.MatchBatch, totals *domain.RunSummary, mode domain.RunMode, lastID int64) error {
	if batch.Empty() {
		return nil
	}
	report, err := s.writer.Persist(batch, mode)
	if err != nil {
		return err
	}
	totals.Records = append(totals.Records, report.Records...)
	totals.ReviewItems = append(totals.ReviewItems, report.ReviewItems...)

	if mode == domain.ModeWrite {
		if err := s.runRepo.SaveCheckpoint(runID, accountID, lastID); err != nil {
			return fmt.Errorf("%w: checkpoint: %v", domain.ErrPersistenceFailure, err)
		}
	}
	return nil
}

// parkUnreversiblePair diverts a reversal pair to review when a leg is
// partially matched. Unwinding a partial allocation is an operator call, not
// an automatic one, and a bad pair must never abort the run.
func (s *reconciliationService) parkUnreversiblePair(runID string, credit, debit *domain.Transaction, batch *repository.MatchBatch, totals *domain.RunSummary) bool {
	parked := false
	for _, leg := range []*domain.Transaction{credit, debit} {
		if leg.Status != domain.StatusPartiallyMatched {
			continue
		}
		batch.ReviewItems = append(batch.ReviewItems, domain.ReviewItem{
			RunID:         runID,
			TransactionID: leg.ID,
			Reason:        domain.ReviewAmbiguousMatch,
			Detail:        "reversal pair includes a partially matched transaction",
		})
		totals.TotalAmbiguous++
		parked = true
	}
	return parked
}

// releaseAllocations unwinds a matched leg before it reverses: every active
// record against a counter entry moves to reversed and the entry gets its
// allocated amount back, all inside the same atomic batch.
func (s *reconciliationService) releaseAllocations(tx *domain.Transaction, batch *repository.MatchBatch) error {
	if tx.AllocatedAmount.IsZero() {
		return nil
	}
	records, err := s.matchRepo.GetByTransaction(tx.ID)
	if err != nil {
		return fmt.Errorf("%w: loading match records for transaction %d: %v", domain.ErrPersistenceFailure, tx.ID, err)
	}
	for _, rec := range records {
		if rec.CounterEntryID == nil || !rec.Status.Active() {
			continue
		}
		entryID := *rec.CounterEntryID
		rec.Status = domain.MatchReversed
		batch.Records = append(batch.Records, rec)
		batch.EntryAllocations[entryID] = batch.EntryAllocations[entryID].Sub(rec.AllocatedAmount)
	}
	tx.AllocatedAmount = decimal.Zero
	return nil
}

func (s *reconciliationService) resolveAccounts(opts RunOptions) ([]string, error) {
	if opts.AccountID != "" {
		return []string{opts.AccountID}, nil
	}
	return s.txRepo.ListAccounts(opts.StartDate, opts.EndDate)
}

func (s *reconciliationService) finishRun(run *domain.ReconciliationRun, summary *domain.RunSummary, mode domain.RunMode, runErr error) {
	if mode != domain.ModeWrite {
		return
	}
	run.TotalProcessed = summary.TotalProcessed
	run.TotalMatched = summary.TotalMatched
	run.TotalPartial = summary.TotalPartial
	run.TotalUnmatched = summary.TotalUnmatched
	run.TotalAmbiguous = summary.TotalAmbiguous
	run.TotalDuplicates = summary.TotalDuplicates
	run.TotalReversals = summary.TotalReversals
	if runErr != nil {
		run.Status = domain.RunFailed
		msg := runErr.Error()
		run.ErrorMessage = &msg
	} else {
		run.Status = domain.RunCompleted
	}
	if err := s.runRepo.UpdateRun(run); err != nil {
		logger.GetLogger().WithError(err).Error("Failed to update run")
	}
}

func (s *reconciliationService) GetRun(runID string) (*domain.ReconciliationRun, error) {
	return s.runRepo.GetByRunID(runID)
}

func (s *reconciliationService) ListReviewItems(runID string) ([]domain.ReviewItem, error) {
	return s.runRepo.ListReviewItems(runID)
}

func mergeSummary(dst, src *domain.RunSummary) {
	dst.TotalProcessed += src.TotalProcessed
	dst.TotalMatched += src.TotalMatched
	dst.TotalPartial += src.TotalPartial
	dst.TotalUnmatched += src.TotalUnmatched
	dst.TotalAmbiguous += src.TotalAmbiguous
	dst.TotalDuplicates += src.TotalDuplicates
	dst.TotalReversals += src.TotalReversals
	dst.Records = append(dst.Records, src.Records...)
	dst.ReviewItems = append(dst.ReviewItems, src.ReviewItems...)
}

// pendingView overlays in-run allocations on top of the store so a counter
// entry claimed by an earlier transaction in the same uncommitted batch is
// not offered again.
type pendingView struct {
	repo    repository.CounterEntryRepository
	pending map[int64]decimal.Decimal
}

func newPendingView(repo repository.CounterEntryRepository) *pendingView {
	return &pendingView{repo: repo, pending: make(map[int64]decimal.Decimal)}
}

func (v *pendingView) OpenEntries(direction domain.Direction, from, to time.Time, minAmount, maxAmount decimal.Decimal, limit int) ([]domain.CounterEntry, error) {
	entries, err := v.repo.OpenEntries(direction, from, to, minAmount, maxAmount, limit)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for i := range entries {
		if reserved, ok := v.pending[entries[i].ID]; ok {
			entries[i].AllocatedAmount = entries[i].AllocatedAmount.Add(reserved)
		}
		if entries[i].FullyAllocated() || entries[i].RemainingAmount().LessThan(minAmount) {
			continue
		}
		out = append(out, entries[i])
	}
	return out, nil
}

func (v *pendingView) reserve(allocations map[int64]decimal.Decimal) {
	for id, amt := range allocations {
		v.pending[id] = v.pending[id].Add(amt)
	}
}
