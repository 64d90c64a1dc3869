package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cutcell/vesta/internal/control"
)

var statusJSON bool

// statusCmd queries the running daemon over the control plane
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the cell is doing",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status object")
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := controlRequest(control.Command{Command: "get_status"})
	if err != nil {
		return err
	}

	if statusJSON {
		out, err := json.MarshalIndent(resp.Data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	d := resp.Data
	fmt.Printf("Cell:       %v (line %v)\n", d["instance_id"], d["line_id"])
	fmt.Printf("Running:    %v, up %.0fs\n", d["running"], num(d["uptime_s"]))
	fmt.Printf("Phase:      %v\n", d["phase"])
	if order, _ := d["order"].(string); order != "" {
		fmt.Printf("Order:      %s (%v)\n", order, d["order_status"])
	}
	if ingredient, _ := d["ingredient"].(string); ingredient != "" {
		fmt.Printf("Ingredient: %s\n", ingredient)
	}
	fmt.Printf("Scale:      %.1fg live\n", num(d["live_weight_g"]))
	fmt.Printf("Table:      station %v\n", d["position"])
	fmt.Printf("Cycles:     %v done, %v failed\n", d["cycles_done"], d["cycles_failed"])
	printBatches(d)
	return nil
}

// printBatches lines progress up against demand per ingredient
func printBatches(d map[string]interface{}) {
	required, _ := d["required_g"].(map[string]interface{})
	progress, _ := d["progress_g"].(map[string]interface{})
	if len(required) == 0 {
		return
	}

	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Batches:")
	for _, name := range names {
		fmt.Printf("  %-14s %7.1fg / %7.1fg\n", name, num(progress[name]), num(required[name]))
	}
}

// num tolerates the float64 JSON round trips numbers into
func num(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

// tareCmd re-zeroes the scale on the running daemon
var tareCmd = &cobra.Command{
	Use:   "tare",
	Short: "Re-zero the scale (tray must be empty)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := controlRequest(control.Command{Command: "tare"}); err != nil {
			return err
		}
		fmt.Println("scale re-zeroed")
		return nil
	},
}

// shutdownCmd stops the daemon gracefully
var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the cell daemon gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := controlRequest(control.Command{Command: "shutdown"}); err != nil {
			return err
		}
		fmt.Println("shutdown initiated")
		return nil
	},
}
