package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"ledger-recon/internal/domain"
	"ledger-recon/internal/service"
	"ledger-recon/pkg/logger"
	"ledger-recon/pkg/response"
)

type LedgerHandler struct {
	service service.LedgerService
}

func NewLedgerHandler(service service.LedgerService) *LedgerHandler {
	return &LedgerHandler{service: service}
}

type TransactionPayload struct {
	AccountID   string  `json:"account_id" binding:"required"`
	Date        string  `json:"date" binding:"required"`
	Amount      float64 `json:"amount" binding:"required"`
	Description string  `json:"description"`
	BatchID     string  `json:"batch_id" binding:"required"`
}

type BulkTransactionsRequest struct {
	Transactions []TransactionPayload `json:"transactions" binding:"required,min=1"`
}

// BulkCreateTransactions godoc
// @Summary Import bank transactions
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body BulkTransactionsRequest true "Transactions"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/transactions/bulk [post]
func (h *LedgerHandler) BulkCreateTransactions(c *gin.Context) {
	var req BulkTransactionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithError(err).Error("Invalid request")
		response.ValidationError(c, err.Error())
		return
	}

	transactions := make([]domain.Transaction, 0, len(req.Transactions))
	for _, p := range req.Transactions {
		date, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			response.BadRequest(c, "Invalid date format", "Use YYYY-MM-DD format")
			return
		}
		transactions = append(transactions, domain.Transaction{
			AccountID:   p.AccountID,
			Date:        date,
			Amount:      decimal.NewFromFloat(p.Amount),
			Description: p.Description,
			BatchID:     p.BatchID,
			Status:      domain.StatusUnmatched,
		})
	}

	imported, err := h.service.ImportTransactions(transactions)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to import transactions")
		response.InternalError(c, "Failed to import transactions", err.Error())
		return
	}

	response.Success(c, http.StatusCreated, "Transactions imported", gin.H{"imported": imported})
}

type CounterEntryPayload struct {
	Kind         string  `json:"kind" binding:"required,oneof=RECEIPT PAYMENT INVOICE"`
	Date         string  `json:"date" binding:"required"`
	Amount       float64 `json:"amount" binding:"required,gt=0"`
	Counterparty string  `json:"counterparty"`
	SourceRef    string  `json:"source_ref"`
}

type BulkCounterEntriesRequest struct {
	Entries []CounterEntryPayload `json:"entries" binding:"required,min=1"`
}

// BulkCreateCounterEntries godoc
// @Summary Import counter-ledger entries
// @Description Receipts, payments and invoices the bank ledger is matched against.
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body BulkCounterEntriesRequest true "Counter entries"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/counter-entries/bulk [post]
func (h *LedgerHandler) BulkCreateCounterEntries(c *gin.Context) {
	var req BulkCounterEntriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithError(err).Error("Invalid request")
		response.ValidationError(c, err.Error())
		return
	}

	entries := make([]domain.CounterEntry, 0, len(req.Entries))
	for _, p := range req.Entries {
		date, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			response.BadRequest(c, "Invalid date format", "Use YYYY-MM-DD format")
			return
		}
		entries = append(entries, domain.CounterEntry{
			Kind:         domain.EntryKind(p.Kind),
			Date:         date,
			Amount:       decimal.NewFromFloat(p.Amount),
			Counterparty: p.Counterparty,
			SourceRef:    p.SourceRef,
		})
	}

	imported, err := h.service.ImportCounterEntries(entries)
	if err != nil {
		logger.GetLogger().WithError(err).Error("Failed to import counter entries")
		response.InternalError(c, "Failed to import counter entries", err.Error())
		return
	}

	response.Success(c, http.StatusCreated, "Counter entries imported", gin.H{"imported": imported})
}

// GetTransaction godoc
// @Summary Get a transaction by id
// @Tags ledger
// @Produce json
// @Param id path int true "Transaction ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/transactions/{id} [get]
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid transaction id", "Must be an integer")
		return
	}

	tx, err := h.service.GetTransaction(id)
	if err != nil {
		response.NotFound(c, "Transaction not found")
		return
	}

	response.Success(c, http.StatusOK, "Transaction retrieved successfully", tx)
}
