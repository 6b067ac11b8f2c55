// Command report-export materializes and projects one month for one user
// and appends the result to the configured Google Sheets report.
//
// Usage:
//
//	report-export -user 1 -month 2025-06
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"mensile/internal/config"
	"mensile/internal/export"
	applog "mensile/internal/log"
	"mensile/internal/services"
	"mensile/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentExport)
	applog.SetDefault(logger)

	userID := flag.Int64("user", 0, "user id to export")
	monthFlag := flag.String("month", "", "target month as YYYY-MM (default: current month)")
	flag.Parse()

	if *userID <= 0 {
		logger.Error("Missing required -user flag")
		os.Exit(2)
	}

	now := time.Now()
	year, month := now.Year(), now.Month()
	if *monthFlag != "" {
		parsed, err := time.Parse("2006-01", *monthFlag)
		if err != nil {
			logger.Error("Invalid -month flag, want YYYY-MM", applog.FieldError, err)
			os.Exit(2)
		}
		year, month = parsed.Year(), parsed.Month()
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err)
		os.Exit(1)
	}
	defer repo.Close()

	exporter, err := export.NewSheetsExporter(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
	if err != nil {
		logger.Error("Failed to initialize sheets exporter", applog.FieldError, err)
		os.Exit(1)
	}

	materializer := services.NewMaterializer(repo, repo, repo, repo)
	review := services.NewMonthReview(materializer, repo, repo, repo)

	view, err := review.View(ctx, *userID, year, month, now)
	if err != nil {
		logger.Error("Failed to build month view", applog.FieldError, err)
		os.Exit(1)
	}

	if err := exporter.ExportMonth(ctx, view); err != nil {
		logger.Error("Export failed", applog.FieldError, err)
		os.Exit(1)
	}

	fmt.Printf("exported %s: %d expenses, total due %s\n",
		view.MonthKey, len(view.Statuses), view.Summary.TotalDue.StringFixed(2))
}
