package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Craftycody123/vision-safe-nav/internal/alertlog"
	"github.com/Craftycody123/vision-safe-nav/internal/logger"
)

func main() {
	var (
		dbPath   string
		limit    int
		runID    string
		asJSON   bool
		logLevel string
	)

	flag.StringVar(&dbPath, "db", "data/alerts.db", "Alert history database")
	flag.IntVar(&limit, "limit", 20, "Number of alerts to show")
	flag.StringVar(&runID, "run", "", "Only show alerts from this run")
	flag.BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error, silent)")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alerts, err := loadAlerts(ctx, dbPath, runID, limit)
	if err != nil {
		log.Fatal(err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(alerts); err != nil {
			log.Fatalf("Failed to encode alerts: %v", err)
		}
		return
	}
	printTable(os.Stdout, alerts)
}

// loadAlerts reads up to limit alerts of runID (all runs when empty) from an
// existing database.
func loadAlerts(ctx context.Context, dbPath, runID string, limit int) ([]alertlog.Alert, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("alert database not found: %w", err)
	}
	store, err := alertlog.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert log: %w", err)
	}
	defer store.Close()

	alerts, err := store.RecentForRun(ctx, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts: %w", err)
	}
	return alerts, nil
}

func printTable(w io.Writer, alerts []alertlog.Alert) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRUN\tMESSAGE\tDURATION\tERROR")
	for _, a := range alerts {
		run := a.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n",
			a.SpokenAt.Local().Format("2006-01-02 15:04:05"), run, a.Message, a.DurationMs, a.Error)
	}
	_ = tw.Flush()
}
