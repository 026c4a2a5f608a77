package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger-recon/internal/domain"
	"ledger-recon/pkg/logger"
)

// TransactionCSVParser streams bank-statement exports into Transaction
// batches. Expected columns: account_id, date, amount, description.
// Every row inherits the parser's import batch id.
type TransactionCSVParser struct {
	batchID string
}

func NewTransactionCSVParser(batchID string) *TransactionCSVParser {
	return &TransactionCSVParser{batchID: batchID}
}

func (p *TransactionCSVParser) Parse(filePath string, batchSize int, callback func([]domain.Transaction) error) error {
	return parseCSV(filePath, batchSize, []string{"account_id", "date", "amount", "description"}, callback, p.parseRecord)
}

func (p *TransactionCSVParser) parseRecord(record []string, columnMap map[string]int, lineNumber int) (*domain.Transaction, error) {
	accountID := strings.TrimSpace(record[columnMap["account_id"]])
	if accountID == "" {
		return nil, fmt.Errorf("empty account_id at line %d", lineNumber)
	}

	amount, err := parseAmount(record[columnMap["amount"]], lineNumber)
	if err != nil {
		return nil, err
	}

	date, err := parseDate(strings.TrimSpace(record[columnMap["date"]]))
	if err != nil {
		return nil, fmt.Errorf("invalid date at line %d: %w", lineNumber, err)
	}

	return &domain.Transaction{
		AccountID:   accountID,
		Date:        date,
		Amount:      amount,
		Description: strings.TrimSpace(record[columnMap["description"]]),
		BatchID:     p.batchID,
		Status:      domain.StatusUnmatched,
	}, nil
}

// CounterEntryCSVParser streams receipt/payment/invoice exports into
// CounterEntry batches. Expected columns: date, amount, counterparty, and
// optionally source_ref.
type CounterEntryCSVParser struct {
	kind domain.EntryKind
}

func NewCounterEntryCSVParser(kind domain.EntryKind) *CounterEntryCSVParser {
	return &CounterEntryCSVParser{kind: kind}
}

func (p *CounterEntryCSVParser) Parse(filePath string, batchSize int, callback func([]domain.CounterEntry) error) error {
	return parseCSV(filePath, batchSize, []string{"date", "amount", "counterparty"}, callback, p.parseRecord)
}

func (p *CounterEntryCSVParser) parseRecord(record []string, columnMap map[string]int, lineNumber int) (*domain.CounterEntry, error) {
	amount, err := parseAmount(record[columnMap["amount"]], lineNumber)
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		amount = amount.Abs()
	}

	date, err := parseDate(strings.TrimSpace(record[columnMap["date"]]))
	if err != nil {
		return nil, fmt.Errorf("invalid date at line %d: %w", lineNumber, err)
	}

	entry := &domain.CounterEntry{
		Kind:         p.kind,
		Date:         date,
		Amount:       amount,
		Counterparty: strings.TrimSpace(record[columnMap["counterparty"]]),
	}
	if idx, ok := columnMap["source_ref"]; ok && idx < len(record) {
		entry.SourceRef = strings.TrimSpace(record[idx])
	}
	return entry, nil
}

// parseCSV is the shared streaming walk: header-mapped columns, bad rows
// skipped with a warning, batches handed to the callback.
func parseCSV[T any](filePath string, batchSize int, required []string, callback func([]T) error, parseRecord func([]string, map[string]int, int) (*T, error)) error {
	file, err := os.Open(filePath)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("file", filePath).Error("Failed to open file")
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to read CSV header")
		return fmt.Errorf("failed to read header: %w", err)
	}

	columnMap := mapColumns(header)
	for _, col := range required {
		if _, ok := columnMap[col]; !ok {
			return fmt.Errorf("invalid CSV format: missing required column %q", col)
		}
	}

	batch := make([]T, 0, batchSize)
	lineNumber := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNumber++
		if err != nil {
			logger.GetLogger().WithError(err).WithField("line", lineNumber).Warn("Failed to read CSV row, skipping")
			continue
		}

		item, err := parseRecord(record, columnMap, lineNumber)
		if err != nil {
			logger.GetLogger().WithError(err).WithField("line", lineNumber).Warn("Failed to parse record, skipping")
			continue
		}

		batch = append(batch, *item)

		if len(batch) >= batchSize {
			if err := callback(batch); err != nil {
				return err
			}
			batch = make([]T, 0, batchSize)
		}
	}

	if len(batch) > 0 {
		if err := callback(batch); err != nil {
			return err
		}
	}

	return nil
}

func mapColumns(header []string) map[string]int {
	columnMap := make(map[string]int, len(header))
	for i, col := range header {
		columnMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return columnMap
}

func parseAmount(raw string, lineNumber int) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	cleaned = strings.TrimPrefix(cleaned, "$")
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q at line %d: %w", raw, lineNumber, err)
	}
	return amount, nil
}

// parseDate tries the formats that show up in bank and accounting exports.
func parseDate(raw string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"01/02/2006",
		"2006-01-02 15:04:05",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", raw)
}
