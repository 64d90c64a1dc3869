package cutter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned when the relay broker is unreachable.
// Callers log it and continue; the cycle decides what a dead cutter means.
var ErrNotConnected = errors.New("cutter: not connected")

// Request ids keep on/off/toggle responses distinguishable on the
// shared events topic.
const (
	rpcIDOn     = 1
	rpcIDOff    = 2
	rpcIDToggle = 3
)

// ShellyConfig describes the relay plug running the cutter motor
type ShellyConfig struct {
	Broker       string // host:port of the relay's MQTT broker
	ClientID     string
	DevicePrefix string // relay topic prefix, e.g. shellyp
	SwitchID     int    // relay output channel
}

// Shelly drives the cutter motor through a Shelly Gen2 plug's
// Switch.Set RPC over MQTT
type Shelly struct {
	cfg    ShellyConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	active    bool
	commands  uint64
	errors    uint64
	events    uint64
}

type rpcRequest struct {
	ID     int       `json:"id"`
	Src    string    `json:"src"`
	Method string    `json:"method"`
	Params rpcParams `json:"params"`
}

type rpcParams struct {
	ID int   `json:"id"`
	On *bool `json:"on,omitempty"` // nil for methods without a target state
}

// NewShelly creates a cutter driver for the given relay
func NewShelly(cfg ShellyConfig) *Shelly {
	return &Shelly{cfg: cfg}
}

// Connect establishes the connection to the relay broker and subscribes
// to its RPC event stream
func (s *Shelly) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		slog.Info("cutter relay connected",
			"broker", s.cfg.Broker,
			"client_id", s.cfg.ClientID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		slog.Warn("cutter relay connection lost, will auto-reconnect",
			"error", err,
			"broker", s.cfg.Broker,
			"action", "cycles will fault until the relay is back")
	}

	s.client = mqtt.NewClient(opts)

	slog.Info("connecting to cutter relay", "broker", s.cfg.Broker)

	token := s.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("cutter relay connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("cutter relay connection failed: %w", err)
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	// The relay answers every RPC on its events topic
	eventsTopic := fmt.Sprintf("%s/events/rpc", s.cfg.DevicePrefix)
	subToken := s.client.Subscribe(eventsTopic, 0, s.eventHandler)
	if !subToken.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("cutter events subscription timeout")
	}
	if err := subToken.Error(); err != nil {
		return fmt.Errorf("cutter events subscription failed: %w", err)
	}

	return nil
}

// Activate switches the cutter motor on
func (s *Shelly) Activate() error {
	return s.set(true)
}

// Deactivate switches the cutter motor off. Repeating it is safe: the
// relay treats an off command on an idle output as a no-op.
func (s *Shelly) Deactivate() error {
	return s.set(false)
}

// Toggle flips the relay output. Used by the bench CLI; the tracked
// state is a guess until the relay's event confirms it.
func (s *Shelly) Toggle() error {
	if err := s.publishRPC(rpcIDToggle, "Switch.Toggle", rpcParams{ID: s.cfg.SwitchID}); err != nil {
		return err
	}

	s.mu.Lock()
	s.active = !s.active
	s.mu.Unlock()

	slog.Info("cutter toggled", "switch_id", s.cfg.SwitchID)
	return nil
}

// Active reports the last commanded motor state
func (s *Shelly) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SelfTest pulses the relay once to prove the command path end to end
func (s *Shelly) SelfTest() error {
	slog.Info("cutter self-test starting")
	if err := s.Activate(); err != nil {
		return fmt.Errorf("self-test activate failed: %w", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := s.Deactivate(); err != nil {
		return fmt.Errorf("self-test deactivate failed: %w", err)
	}
	slog.Info("cutter self-test passed")
	return nil
}

// Close switches the motor off and disconnects from the relay broker
func (s *Shelly) Close() error {
	if err := s.Deactivate(); err != nil {
		slog.Warn("cutter off command failed during close", "error", err)
	}

	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250) // 250ms grace period
		slog.Info("cutter relay disconnected")
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	return nil
}

// Stats returns driver statistics
func (s *Shelly) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Connected: s.connected,
		Active:    s.active,
		Commands:  s.commands,
		Errors:    s.errors,
		Events:    s.events,
	}
}

// Stats contains cutter driver statistics
type Stats struct {
	Connected bool
	Active    bool
	Commands  uint64
	Errors    uint64
	Events    uint64
}

func (s *Shelly) set(on bool) error {
	id := rpcIDOff
	if on {
		id = rpcIDOn
	}
	if err := s.publishRPC(id, "Switch.Set", rpcParams{ID: s.cfg.SwitchID, On: &on}); err != nil {
		return err
	}

	s.mu.Lock()
	s.active = on
	s.mu.Unlock()

	slog.Info("cutter switched", "on", on, "switch_id", s.cfg.SwitchID)
	return nil
}

// publishRPC sends one RPC to the relay and waits for the broker ack
func (s *Shelly) publishRPC(reqID int, method string, params rpcParams) error {
	if !s.isConnected() {
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
		return ErrNotConnected
	}

	payload, err := json.Marshal(rpcRequest{
		ID:     reqID,
		Src:    s.cfg.ClientID,
		Method: method,
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal switch command: %w", err)
	}

	topic := fmt.Sprintf("%s/rpc", s.cfg.DevicePrefix)
	token := s.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
		return fmt.Errorf("switch command timeout")
	}
	if err := token.Error(); err != nil {
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
		return fmt.Errorf("switch command failed: %w", err)
	}

	s.mu.Lock()
	s.commands++
	s.mu.Unlock()
	return nil
}

func (s *Shelly) eventHandler(client mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	s.events++
	s.mu.Unlock()

	slog.Debug("cutter relay event",
		"topic", msg.Topic(),
		"size", len(msg.Payload()),
	)
}

func (s *Shelly) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
