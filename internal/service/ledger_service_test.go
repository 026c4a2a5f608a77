package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-recon/internal/domain"
)

func TestLedgerService_ImportTransactionsSkipsInvalid(t *testing.T) {
	txRepo := &fakeTxRepo{}
	svc := NewLedgerService(txRepo, &fakeEntryRepo{}, 100)

	imported, err := svc.ImportTransactions([]domain.Transaction{
		{AccountID: "ACC-1", Date: day("2020-01-05"), Amount: money("100.00"), BatchID: "B1"},
		{AccountID: "", Date: day("2020-01-05"), Amount: money("100.00"), BatchID: "B1"},
		{AccountID: "ACC-1", Date: day("2020-01-05"), Amount: money("0"), BatchID: "B1"},
		{AccountID: "ACC-1", Date: day("2020-01-05"), Amount: money("100.00"), BatchID: ""},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Len(t, txRepo.transactions, 1)
}

func TestLedgerService_ImportCounterEntriesSkipsInvalid(t *testing.T) {
	entryRepo := &fakeEntryRepo{}
	svc := NewLedgerService(&fakeTxRepo{}, entryRepo, 100)

	imported, err := svc.ImportCounterEntries([]domain.CounterEntry{
		{Kind: domain.KindReceipt, Date: day("2020-01-05"), Amount: money("100.00")},
		{Kind: "UNKNOWN", Date: day("2020-01-05"), Amount: money("100.00")},
		{Kind: domain.KindPayment, Date: day("2020-01-05"), Amount: money("-5.00")},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Len(t, entryRepo.entries, 1)
}

func TestLedgerService_ImportTransactionsCSV(t *testing.T) {
	csvFile := filepath.Join(t.TempDir(), "transactions.csv")
	content := `account_id,date,amount,description
ACC-1,2018-09-17,965.50,E-TRANSFER JOHN DOE
ACC-1,2018-09-18,-42.00,COFFEE SHOP
`
	require.NoError(t, os.WriteFile(csvFile, []byte(content), 0o644))

	txRepo := &fakeTxRepo{}
	svc := NewLedgerService(txRepo, &fakeEntryRepo{}, 100)

	imported, err := svc.ImportTransactionsCSV(csvFile, "B1")

	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	require.Len(t, txRepo.transactions, 2)
	assert.Equal(t, "B1", txRepo.transactions[0].BatchID)
}
