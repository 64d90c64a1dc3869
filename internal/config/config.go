package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete cell controller configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	LineID           string          `yaml:"line_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Dispense         DispenseConfig  `yaml:"dispense"`
	Scale            ScaleConfig     `yaml:"scale"`
	Cutter           CutterConfig    `yaml:"cutter"`
	Turntable        TurntableConfig `yaml:"turntable"`
	Vision           VisionConfig    `yaml:"vision"`
	Console          ConsoleConfig   `yaml:"console"`
	Orders           OrdersConfig    `yaml:"orders"`
	Journal          JournalConfig   `yaml:"journal"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
}

// DispenseConfig contains mass flow detection settings
type DispenseConfig struct {
	PollIntervalMs    int     `yaml:"poll_interval_ms"`     // Scale polling period in milliseconds (default: 100)
	StableThresholdG  float64 `yaml:"stable_threshold_g"`   // Delta below this counts as "no change" (default: 10)
	NoChangeLimit     int     `yaml:"no_change_limit"`      // Consecutive no-change polls before stall (default: 20)
	SettleChecks      int     `yaml:"settle_checks"`        // Consecutive stable reads to confirm settled (default: 20)
	MaxPlausibleJumpG float64 `yaml:"max_plausible_jump_g"` // Single-poll delta above this is discarded (default: 5000)
}

// ScaleConfig contains load cell settings.
// When dout_pin is unset the daemon runs a simulated scale.
type ScaleConfig struct {
	DoutPin       int     `yaml:"dout_pin"`       // HX711 data pin (BCM numbering)
	SckPin        int     `yaml:"sck_pin"`        // HX711 clock pin (BCM numbering)
	ReferenceUnit float64 `yaml:"reference_unit"` // ADC counts per gram from calibration
	TareSamples   int     `yaml:"tare_samples"`   // Samples averaged for tare (default: 15)
	ReadSamples   int     `yaml:"read_samples"`   // Samples averaged per weight read (default: 5)
	SimRampG      float64 `yaml:"sim_ramp_g"`     // Simulated grams gained per read while cutting (default: 15)
}

// CutterConfig contains cutter relay settings.
// When broker is unset the daemon runs a simulated cutter.
type CutterConfig struct {
	Broker       string `yaml:"broker"`        // Relay MQTT broker as host:port, e.g. 10.42.0.1:1883
	ClientID     string `yaml:"client_id"`     // MQTT client id (default: cutter-<instance_id>)
	DevicePrefix string `yaml:"device_prefix"` // Relay topic prefix (default: shellyp)
	SwitchID     int    `yaml:"switch_id"`     // Relay output channel (default: 0)
	SelfTest     bool   `yaml:"self_test"`     // Pulse the relay once at startup
}

// TurntableConfig contains indexer settings.
// When step_pin is unset the daemon runs a simulated turntable.
type TurntableConfig struct {
	Positions      int `yaml:"positions"`        // Tray stations on the table (default: 6)
	StepPin        int `yaml:"step_pin"`         // Stepper STEP pin (BCM numbering)
	DirPin         int `yaml:"dir_pin"`          // Stepper DIR pin (BCM numbering)
	EnablePin      int `yaml:"enable_pin"`       // Stepper ENABLE pin, active low
	MoveDurationMs int `yaml:"move_duration_ms"` // Time budget per single-station move (default: 3500)
}

// VisionConfig contains quality scanner settings.
// When worker_cmd is unset the daemon runs a simulated scanner.
type VisionConfig struct {
	Device         string   `yaml:"device"`           // V4L2 capture device, e.g. /dev/video0
	Width          int      `yaml:"width"`            // Capture width (default: 640)
	Height         int      `yaml:"height"`           // Capture height (default: 480)
	FPS            int      `yaml:"fps"`              // Capture rate (default: 15)
	WorkerCmd      string   `yaml:"worker_cmd"`       // Detector subprocess command
	WorkerArgs     []string `yaml:"worker_args"`      // Detector subprocess arguments
	Confidence     float64  `yaml:"confidence"`       // Minimum detection confidence (default: 0.5)
	ScanIntervalMs int      `yaml:"scan_interval_ms"` // Continuous scan period in milliseconds (default: 2000)
	RejectLabels   []string `yaml:"reject_labels"`    // Label substrings that fail the quality gate (default: [unhealthy])
}

// ConsoleConfig contains operator console settings
type ConsoleConfig struct {
	Mode        string `yaml:"mode"`          // tui or auto (default: tui)
	AckTimeoutS int    `yaml:"ack_timeout_s"` // Seconds to wait for operator acknowledgement (default: 300)
}

// OrdersConfig contains order book settings
type OrdersConfig struct {
	Path        string `yaml:"path"`          // Order book YAML file (default: config/orders.yaml)
	PollMs      int    `yaml:"poll_ms"`       // Empty-book poll period in milliseconds (default: 2000)
	Watch       bool   `yaml:"watch"`         // Reload the book when the file changes
	DemoOnEmpty bool   `yaml:"demo_on_empty"` // Offer a demo order when the book is empty
}

// JournalConfig contains cycle journal settings
type JournalConfig struct {
	Path string `yaml:"path"` // SQLite database file (default: vesta.db)
}

// MQTTConfig contains MQTT broker settings for telemetry and control
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Health  string `yaml:"health"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
