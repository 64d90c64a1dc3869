package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Validate line_id
	if cfg.LineID == "" {
		return fmt.Errorf("line_id is required")
	}

	// Validate dispense config
	if err := ValidateDispense(&cfg.Dispense); err != nil {
		return fmt.Errorf("dispense validation failed: %w", err)
	}

	// Validate scale config
	if cfg.Scale.DoutPin != 0 && cfg.Scale.SckPin == 0 {
		return fmt.Errorf("scale.sck_pin is required when scale.dout_pin is set")
	}
	if cfg.Scale.DoutPin != 0 && cfg.Scale.ReferenceUnit == 0 {
		return fmt.Errorf("scale.reference_unit is required for a hardware scale (run calibrate first)")
	}
	if cfg.Scale.TareSamples <= 0 {
		cfg.Scale.TareSamples = 15 // default
	}
	if cfg.Scale.ReadSamples <= 0 {
		cfg.Scale.ReadSamples = 5 // default
	}
	if cfg.Scale.SimRampG <= 0 {
		cfg.Scale.SimRampG = 15 // default
	}

	// Validate cutter config
	if cfg.Cutter.ClientID == "" {
		cfg.Cutter.ClientID = fmt.Sprintf("cutter-%s", cfg.InstanceID)
	}
	if cfg.Cutter.DevicePrefix == "" {
		cfg.Cutter.DevicePrefix = "shellyp"
	}

	// Validate turntable config
	if cfg.Turntable.Positions <= 0 {
		cfg.Turntable.Positions = 6 // default
	}
	if cfg.Turntable.StepPin != 0 && cfg.Turntable.DirPin == 0 {
		return fmt.Errorf("turntable.dir_pin is required when turntable.step_pin is set")
	}
	if cfg.Turntable.MoveDurationMs <= 0 {
		cfg.Turntable.MoveDurationMs = 3500 // default
	}

	// Validate vision config
	if cfg.Vision.Width <= 0 {
		cfg.Vision.Width = 640
	}
	if cfg.Vision.Height <= 0 {
		cfg.Vision.Height = 480
	}
	if cfg.Vision.FPS <= 0 {
		cfg.Vision.FPS = 15
	}
	if cfg.Vision.Confidence <= 0 {
		cfg.Vision.Confidence = 0.5
	}
	if cfg.Vision.ScanIntervalMs <= 0 {
		cfg.Vision.ScanIntervalMs = 2000
	}
	if len(cfg.Vision.RejectLabels) == 0 {
		cfg.Vision.RejectLabels = []string{"unhealthy"}
	}

	// Validate console config
	switch cfg.Console.Mode {
	case "":
		cfg.Console.Mode = "tui"
	case "tui", "auto":
	default:
		return fmt.Errorf("console.mode must be 'tui' or 'auto', got '%s'", cfg.Console.Mode)
	}
	if cfg.Console.AckTimeoutS <= 0 {
		cfg.Console.AckTimeoutS = 300 // default
	}

	// Validate orders config
	if cfg.Orders.Path == "" {
		cfg.Orders.Path = "config/orders.yaml"
	}
	if cfg.Orders.PollMs <= 0 {
		cfg.Orders.PollMs = 2000 // default
	}

	// Validate journal config
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "vesta.db"
	}

	// Validate MQTT broker
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("cutcell/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("cutcell/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("cutcell/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":      1,
			"cycle_report": 1,
			"weight":       0,
			"health":       0,
		}
	}

	return nil
}

// ValidateDispense validates mass flow detection settings for correctness
func ValidateDispense(d *DispenseConfig) error {
	if d.PollIntervalMs <= 0 {
		d.PollIntervalMs = 100 // default
	}
	if d.StableThresholdG <= 0 {
		d.StableThresholdG = 10 // default
	}
	if d.NoChangeLimit <= 0 {
		d.NoChangeLimit = 20 // default
	}
	if d.SettleChecks <= 0 {
		d.SettleChecks = 20 // default
	}
	if d.MaxPlausibleJumpG <= 0 {
		d.MaxPlausibleJumpG = 5000 // default
	}

	if d.StableThresholdG >= d.MaxPlausibleJumpG {
		return fmt.Errorf("stable_threshold_g (%.1f) must be below max_plausible_jump_g (%.1f)",
			d.StableThresholdG, d.MaxPlausibleJumpG)
	}

	return nil
}
