// Command station-export dumps the station's audit trail to an Excel
// workbook for operator review.
package main

import (
	"flag"
	"fmt"
	"os"
	"vitals-station/internal/config"
	"vitals-station/internal/database"
	"vitals-station/internal/export"
	"vitals-station/internal/logger"
	"vitals-station/internal/repository"

	"go.uber.org/zap"
)

func main() {
	output := flag.String("o", "sync-history.xlsx", "output file path")
	limit := flag.Int("n", 1000, "maximum number of audit rows to export")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "station-export")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, _, err := database.OpenLocal(cfg.LocalDB.Path)
	if err != nil {
		log.Fatal("Failed to open local store", zap.Error(err))
	}
	defer db.Close()

	history := repository.NewHistoryRepository(db, log)
	entries, err := history.Recent(*limit)
	if err != nil {
		log.Fatal("Failed to read audit trail", zap.Error(err))
	}

	data, err := export.GenerateSyncHistoryExport(entries)
	if err != nil {
		log.Fatal("Failed to generate workbook", zap.Error(err))
	}

	if err := os.WriteFile(*output, data, 0o644); err != nil {
		log.Fatal("Failed to write workbook", zap.Error(err))
	}

	log.Info("Audit trail exported",
		zap.String("path", *output),
		zap.Int("rows", len(entries)),
	)
}
