package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/database"
	"github.com/spendlens/core/pkg/metering"
)

// runUsageCmd implements `spendlensd usage`: the tier usage and spend
// report for one user, with an optional promotion-candidate listing.
func runUsageCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("usage", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		userID     string
		period     string
		days       int
		operation  string
		promoteMin int64
		jsonOut    bool
	)
	cmd.StringVar(&userID, "user", "", "User ID to report on (REQUIRED)")
	cmd.StringVar(&period, "period", "month", "Reporting period: day or month")
	cmd.IntVar(&days, "days", 0, "Report on the trailing N days instead of a calendar period")
	cmd.StringVar(&operation, "op", "", "Restrict to one operation (e.g. normalization)")
	cmd.Int64Var(&promoteMin, "promote-min", 0, "Also list inputs that hit tier 3 at least N times")
	cmd.BoolVar(&jsonOut, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if userID == "" {
		fmt.Fprintln(stderr, "Error: --user is required")
		cmd.Usage()
		return 2
	}

	var p metering.Period
	switch {
	case days > 0:
		p = metering.LastDays(days)
	case period == "day":
		p = metering.DailyPeriod()
	case period == "month":
		p = metering.MonthlyPeriod()
	default:
		fmt.Fprintf(stderr, "Error: unknown period %q (want day or month)\n", period)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.Load()
	tuning, err := config.LoadTuning(cfg.TuningProfile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	db, driver, err := openDatabase(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	var store metering.Store
	if driver == database.DriverPostgres {
		store = metering.NewPostgresStore(db)
	} else {
		store = metering.NewSQLiteStore(db)
	}
	meter := metering.NewService(store, tuning)

	report, err := meter.Usage(ctx, userID, p, operation)
	if err != nil {
		fmt.Fprintf(stderr, "Error: usage report: %v\n", err)
		return 1
	}

	var candidates []metering.PromotionCandidate
	if promoteMin > 0 {
		candidates, err = meter.PromotionCandidates(ctx, userID, p, promoteMin)
		if err != nil {
			fmt.Fprintf(stderr, "Error: promotion candidates: %v\n", err)
			return 1
		}
	}

	if jsonOut {
		out := map[string]any{"user_id": userID, "report": report}
		if promoteMin > 0 {
			out["promotion_candidates"] = candidates
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	printReport(stdout, userID, report)
	if promoteMin > 0 {
		printCandidates(stdout, candidates)
	}
	return 0
}

func printReport(w io.Writer, userID string, r *metering.Report) {
	fmt.Fprintf(w, "\n%sUsage for %s%s  %s to %s\n", ColorBold, userID, ColorReset,
		r.Period.Start.Format("2006-01-02"), r.Period.End.Format("2006-01-02"))
	if r.Operation != "" {
		fmt.Fprintf(w, "  operation:      %s\n", r.Operation)
	}
	fmt.Fprintf(w, "  resolutions:    %d\n", r.Total)
	fmt.Fprintf(w, "  cache hit rate: %.1f%%\n", r.CacheHitRate*100)
	for tier := 0; tier <= 3; tier++ {
		if n := r.TierCounts[tier]; n > 0 {
			fmt.Fprintf(w, "  tier %d:         %d (%.1f%%)\n", tier, n, r.TierRates[tier]*100)
		}
	}
	fmt.Fprintf(w, "  estimated cost: $%.4f\n", r.EstimatedUSD)

	if len(r.ByOperation) > 0 {
		ops := make([]string, 0, len(r.ByOperation))
		for op := range r.ByOperation {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		fmt.Fprintln(w, "  by operation:")
		for _, op := range ops {
			fmt.Fprintf(w, "    %-28s %d\n", op, r.ByOperation[op])
		}
	}
}

func printCandidates(w io.Writer, cs []metering.PromotionCandidate) {
	if len(cs) == 0 {
		fmt.Fprintln(w, "\nNo promotion candidates in this period.")
		return
	}
	fmt.Fprintf(w, "\n%sPromotion candidates%s (inputs that keep paying for tier 3)\n", ColorBold, ColorReset)
	for _, c := range cs {
		label := c.Description
		if label == "" {
			// Cache row already purged; the hash still identifies it.
			label = c.InputHash
		}
		fmt.Fprintf(w, "  %-7s %5dx  %s\n", c.Priority, c.TierThreeCount, label)
	}
}
