package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/embeddings"
)

// runPurgeCmd implements `spendlensd purge`: one manual pass of the
// unverified-embedding retention sweep. Verified embeddings are never
// purged; user-confirmed coding stays authoritative regardless of age.
func runPurgeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("purge", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var months int
	cmd.IntVar(&months, "months", 0, "Retention window in months (default: tuning profile value)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if cfg.LiteMode() {
		fmt.Fprintln(stderr, "Error: purge requires Postgres; lite mode has no embedding store")
		return 1
	}

	tuning, err := config.LoadTuning(cfg.TuningProfile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if months <= 0 {
		months = tuning.EmbedRetentionMonths
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, _, err := openDatabase(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	store := embeddings.NewPostgresStore(db, cfg.EmbedDimensions)
	cutoff := time.Now().UTC().AddDate(0, -months, 0)
	n, err := store.PurgeStale(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(stderr, "Error: purge: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Purged %d unverified embeddings older than %s (%d months).\n",
		n, cutoff.Format("2006-01-02"), months)
	return 0
}
