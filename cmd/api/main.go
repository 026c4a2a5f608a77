package main

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "ledger-recon/docs"
	"ledger-recon/internal/config"
	"ledger-recon/internal/handler"
	"ledger-recon/internal/middleware"
	"ledger-recon/internal/repository"
	"ledger-recon/internal/service"
	"ledger-recon/internal/writer"
	"ledger-recon/pkg/logger"
)

// @title Ledger Reconciliation API
// @version 1.0
// @description API for matching bank transactions against counter-ledger entries
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@ledger-recon.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.App.LogLevel)
	logger.GetLogger().Info("Starting Ledger Reconciliation Service")

	db, err := connectDB(cfg.Database)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	logger.GetLogger().Info("Database connection established")

	txRepo := repository.NewTransactionRepository(db)
	entryRepo := repository.NewCounterEntryRepository(db)
	matchRepo := repository.NewMatchRepository(db)
	runRepo := repository.NewRunRepository(db)

	ledgerWriter := writer.NewWriter(matchRepo)
	ledgerService := service.NewLedgerService(txRepo, entryRepo, cfg.App.BatchSize)
	reconService := service.NewReconciliationService(txRepo, entryRepo, matchRepo, runRepo, ledgerWriter, cfg)

	ledgerHandler := handler.NewLedgerHandler(ledgerService)
	reconHandler := handler.NewReconciliationHandler(reconService)

	router := setupRouter(ledgerHandler, reconHandler)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.GetLogger().WithField("address", addr).Info("Server starting")

	if err := router.Run(addr); err != nil {
		logger.GetLogger().WithError(err).Fatal("Failed to start server")
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

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

func setupRouter(ledgerHandler *handler.LedgerHandler, reconHandler *handler.ReconciliationHandler) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	{
		transactions := v1.Group("/transactions")
		{
			transactions.POST("/bulk", ledgerHandler.BulkCreateTransactions)
			transactions.GET("/:id", ledgerHandler.GetTransaction)
		}

		entries := v1.Group("/counter-entries")
		{
			entries.POST("/bulk", ledgerHandler.BulkCreateCounterEntries)
		}

		reconcile := v1.Group("/reconcile")
		{
			reconcile.POST("", reconHandler.Run)
			reconcile.GET("/runs/:run_id", reconHandler.GetRun)
			reconcile.GET("/runs/:run_id/review-items", reconHandler.ListReviewItems)
		}
	}

	return router
}
