package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cutcell/vesta/internal/journal"
)

var (
	historyDB    string
	historyLimit int
)

// historyCmd reads the cycle journal from the local database file
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent cut cycles from the journal",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", "vesta.db", "Journal database file")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Cycles to show, newest first")
}

func runHistory(cmd *cobra.Command, args []string) error {
	j, err := journal.Open(historyDB)
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.History(historyLimit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("journal is empty")
		return nil
	}

	fmt.Printf("%-19s %-20s %-12s %8s %8s %-9s %7s\n",
		"STARTED", "ORDER", "INGREDIENT", "TARGET", "CUT", "OUTCOME", "TIME")
	for _, rec := range recs {
		fmt.Printf("%-19s %-20s %-12s %7.1fg %7.1fg %-9s %6.1fs\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			clip(rec.OrderName, 20),
			clip(rec.Ingredient, 12),
			rec.TargetG,
			rec.AccumulatedG,
			rec.Outcome,
			float64(rec.DurationMs)/1000)
	}
	return nil
}

// clip cuts long names so columns stay lined up
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
