package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reqforge/reqforge/internal/usage"
)

var (
	costDays int
	costAll  bool
)

// costCmd represents the cost command
var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Report oracle token usage and estimated spend",
	Long: `Cost reads the local usage ledger and prints a per-day report of
token consumption, estimated spend, and run counts.

Example:
  reqforge cost
  reqforge cost --days 30
  reqforge cost --all`,
	RunE: runCost,
}

func init() {
	rootCmd.AddCommand(costCmd)

	costCmd.Flags().IntVar(&costDays, "days", 7, "number of trailing days to report")
	costCmd.Flags().BoolVar(&costAll, "all", false, "report every recorded day")
}

func runCost(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Usage.Path == "" {
		return fmt.Errorf("no usage ledger path configured")
	}

	days := costDays
	if costAll {
		days = 0
	}

	entries := usage.NewFileLedger(cfg.Usage.Path).Window(days)
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "No usage recorded in %s\n", cfg.Usage.Path)
		return nil
	}

	fmt.Printf("%-12s %12s %12s %6s\n", "DAY", "TOKENS", "COST (USD)", "RUNS")

	var totalTokens, totalRuns int
	var totalCost float64
	for _, entry := range entries {
		fmt.Printf("%-12s %12d %12.4f %6d\n",
			entry.Day, entry.Stats.TotalTokens, entry.Stats.CostUSD, entry.Stats.Runs)
		totalTokens += entry.Stats.TotalTokens
		totalCost += entry.Stats.CostUSD
		totalRuns += entry.Stats.Runs
	}

	fmt.Printf("%-12s %12d %12.4f %6d\n", "TOTAL", totalTokens, totalCost, totalRuns)
	return nil
}
