package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cutcell/vesta/internal/cutter"
)

var (
	cutterPrefix string
	cutterSwitch int
	cutterLinger time.Duration
)

// cutterCmd drives the relay directly for bench bring-up
var cutterCmd = &cobra.Command{
	Use:   "cutter on|off|toggle",
	Short: "Drive the cutter relay by hand (bench only)",
	Long: `Send one Switch command straight to the relay broker, bypassing the
daemon. Run it with vestad stopped: two writers on one relay fight
each other. --broker here is the RELAY's broker, not the cell's.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "toggle"},
	RunE:      runCutter,
}

func init() {
	cutterCmd.Flags().StringVar(&cutterPrefix, "prefix", "shellyp", "Relay topic prefix")
	cutterCmd.Flags().IntVar(&cutterSwitch, "switch", 0, "Relay output channel")
	cutterCmd.Flags().DurationVar(&cutterLinger, "linger", 2*time.Second, "How long to listen for relay events before exiting")
}

func runCutter(cmd *cobra.Command, args []string) error {
	sh := cutter.NewShelly(cutter.ShellyConfig{
		Broker:       brokerAddr,
		ClientID:     "vestactl-cutter",
		DevicePrefix: cutterPrefix,
		SwitchID:     cutterSwitch,
	})
	if err := sh.Connect(); err != nil {
		return err
	}
	// No Close: Close switches the relay off again, which would undo
	// "on". The broker connection dies with the process.

	var err error
	switch args[0] {
	case "on":
		err = sh.Activate()
	case "off":
		err = sh.Deactivate()
	case "toggle":
		err = sh.Toggle()
	default:
		return fmt.Errorf("unknown action %q (want on, off or toggle)", args[0])
	}
	if err != nil {
		return err
	}

	// Give the relay a moment to answer on its events topic
	time.Sleep(cutterLinger)

	stats := sh.Stats()
	fmt.Printf("cutter %s: %d commands acked, %d relay events, %d errors\n",
		args[0], stats.Commands, stats.Events, stats.Errors)
	return nil
}
