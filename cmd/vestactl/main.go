package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	brokerAddr string
	instanceID string
	cmdTimeout time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vestactl",
	Short: "Operator CLI for vesta cut cells",
	Long: `vestactl talks to a running cell daemon over its MQTT control plane,
and to the cell hardware directly for bench work.

Daemon commands (need --instance):
  status    - show what the cell is doing
  order add - queue an order
  tare      - re-zero the scale
  shutdown  - stop the daemon gracefully

Bench commands (daemon stopped):
  cutter    - drive the cutter relay by hand
  calibrate - compute the scale reference unit
  order list, history - read the book and journal files`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&brokerAddr, "broker", "b", "127.0.0.1:1883", "MQTT broker as host:port")
	rootCmd.PersistentFlags().StringVar(&instanceID, "instance", "", "Cell instance id (instance_id in vesta.yaml)")
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 10*time.Second, "Timeout for one control round trip")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tareCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(cutterCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
