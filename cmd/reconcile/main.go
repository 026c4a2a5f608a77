package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"ledger-recon/internal/config"
	"ledger-recon/internal/domain"
	"ledger-recon/internal/repository"
	"ledger-recon/internal/service"
	"ledger-recon/internal/writer"
	"ledger-recon/pkg/logger"
)

type options struct {
	configPath string
	profile    string
	account    string
	dateRange  string
	write      bool
	dryRun     bool
	resume     string

	importTransactions string
	batchID            string
	importEntries      string
	entryKind          string
}

func main() {
	opts := parseFlags()

	_ = godotenv.Load()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.App.LogLevel)

	db, err := connectDB(cfg.Database)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	txRepo := repository.NewTransactionRepository(db)
	entryRepo := repository.NewCounterEntryRepository(db)

	if opts.importTransactions != "" || opts.importEntries != "" {
		if err := runImports(opts, txRepo, entryRepo, cfg.App.BatchSize); err != nil {
			logger.GetLogger().WithError(err).Error("Import failed")
			os.Exit(1)
		}
		return
	}

	startDate, endDate, err := parseDateRange(opts.dateRange)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --date-range: %v\n", err)
		os.Exit(2)
	}

	mode := domain.ModeDryRun
	if opts.write {
		mode = domain.ModeWrite
	}
	if opts.resume != "" && mode != domain.ModeWrite {
		fmt.Fprintln(os.Stderr, "--resume requires --write")
		os.Exit(2)
	}

	matchRepo := repository.NewMatchRepository(db)
	runRepo := repository.NewRunRepository(db)
	reconService := service.NewReconciliationService(
		txRepo, entryRepo, matchRepo, runRepo, writer.NewWriter(matchRepo), cfg,
	)

	summary, err := reconService.Run(context.Background(), service.RunOptions{
		Profile:     opts.profile,
		Mode:        mode,
		AccountID:   opts.account,
		StartDate:   startDate,
		EndDate:     endDate,
		ResumeRunID: opts.resume,
	})
	if err != nil {
		logger.GetLogger().WithError(err).Error("Reconciliation run failed")
		os.Exit(1)
	}

	printSummary(summary, mode)
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configPath, "config", "", "Path to config file (optional)")
	flag.StringVar(&opts.profile, "profile", "default", "Matching profile name")
	flag.StringVar(&opts.account, "account", "", "Restrict the run to one account")
	flag.StringVar(&opts.dateRange, "date-range", "", "Date range as YYYY-MM-DD:YYYY-MM-DD (default: last 30 days)")
	flag.BoolVar(&opts.write, "write", false, "Persist match results to the ledger store")
	flag.BoolVar(&opts.dryRun, "dry-run", true, "Compute results without writing (default)")
	flag.StringVar(&opts.resume, "resume", "", "Run id of an interrupted write run to resume from its checkpoints")

	flag.StringVar(&opts.importTransactions, "import-transactions", "", "CSV file of bank transactions to import")
	flag.StringVar(&opts.batchID, "batch-id", "", "Import batch id for --import-transactions")
	flag.StringVar(&opts.importEntries, "import-entries", "", "CSV file of counter-ledger entries to import")
	flag.StringVar(&opts.entryKind, "entry-kind", "RECEIPT", "Entry kind for --import-entries (RECEIPT, PAYMENT, INVOICE)")

	flag.Parse()

	// An explicit --write wins over the dry-run default.
	if opts.write {
		opts.dryRun = false
	}
	return opts
}

func runImports(opts options, txRepo repository.TransactionRepository, entryRepo repository.CounterEntryRepository, batchSize int) error {
	ledgerService := service.NewLedgerService(txRepo, entryRepo, batchSize)

	if opts.importTransactions != "" {
		if opts.batchID == "" {
			opts.batchID = fmt.Sprintf("cli-%s", time.Now().Format("20060102-150405"))
		}
		n, err := ledgerService.ImportTransactionsCSV(opts.importTransactions, opts.batchID)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d transactions (batch %s)\n", n, opts.batchID)
	}

	if opts.importEntries != "" {
		kind := domain.EntryKind(strings.ToUpper(opts.entryKind))
		n, err := ledgerService.ImportCounterEntriesCSV(opts.importEntries, kind)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d counter entries\n", n)
	}

	return nil
}

func parseDateRange(raw string) (time.Time, time.Time, error) {
	if raw == "" {
		end := time.Now()
		return end.AddDate(0, 0, -30), end, nil
	}

	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("expected YYYY-MM-DD:YYYY-MM-DD, got %q", raw)
	}

	start, err := time.Parse("2006-01-02", parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", parts[0], err)
	}
	end, err := time.Parse("2006-01-02", parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", parts[1], err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date precedes start date")
	}
	return start, end.Add(23*time.Hour + 59*time.Minute + 59*time.Second), nil
}

func printSummary(summary *domain.RunSummary, mode domain.RunMode) {
	fmt.Printf("Run %s (%s)\n", summary.RunID, mode)
	fmt.Printf("  processed:  %d\n", summary.TotalProcessed)
	fmt.Printf("  matched:    %d\n", summary.TotalMatched)
	fmt.Printf("  partial:    %d\n", summary.TotalPartial)
	fmt.Printf("  unmatched:  %d\n", summary.TotalUnmatched)
	fmt.Printf("  ambiguous:  %d\n", summary.TotalAmbiguous)
	fmt.Printf("  duplicates: %d\n", summary.TotalDuplicates)
	fmt.Printf("  reversals:  %d\n", summary.TotalReversals)

	if mode == domain.ModeDryRun && len(summary.Records) > 0 {
		fmt.Println("\nProposed matches (not written):")
		out, _ := json.MarshalIndent(summary.Records, "", "  ")
		fmt.Println(string(out))
	}
}

func connectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return db, nil
}
