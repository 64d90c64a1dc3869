// Package control handles the cell's MQTT control plane: operators and
// line tooling query status, queue orders, re-zero the scale and
// request shutdown without touching the terminal.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cutcell/vesta/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus func() map[string]interface{}
	OnAddOrder  func(name string, ingredients map[string]float64) (string, error)
	OnTare      func() error
	OnShutdown  func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
}

// NewHandler creates a control plane handler
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop stops the control plane handler
func (h *Handler) Stop() error {
	topic := h.cfg.Topics.Control

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(topic)
		token.Wait()
	}

	close(h.commands)

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes a command and builds its response
func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "add_order":
		if h.callbacks.OnAddOrder == nil {
			resp.Status = "error"
			resp.Error = "add_order not implemented"
			break
		}
		name, ingredients, err := parseAddOrder(cmd.Params)
		if err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		id, err := h.callbacks.OnAddOrder(name, ingredients)
		if err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{
				"order_id": id,
				"name":     name,
				"message":  "order queued",
			}
		}

	case "tare":
		if h.callbacks.OnTare != nil {
			if err := h.callbacks.OnTare(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
			} else {
				resp.Status = "success"
				resp.Data = map[string]interface{}{
					"message": "scale re-zeroed",
				}
			}
		} else {
			resp.Status = "error"
			resp.Error = "tare not implemented"
		}

	case "shutdown":
		if h.callbacks.OnShutdown != nil {
			slog.Warn("shutdown command received via control plane")
			resp.Status = "success"
			resp.Data = map[string]interface{}{
				"shutdown_initiated": true,
				"message":            "graceful shutdown in progress",
			}
			// Let the ack reach the broker before teardown starts
			go func() {
				time.Sleep(500 * time.Millisecond)
				if err := h.callbacks.OnShutdown(); err != nil {
					slog.Error("shutdown callback failed", "error", err)
				}
			}()
		} else {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
		}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

// parseAddOrder pulls the order fields out of command params. JSON
// numbers arrive as float64, which is what the targets want anyway.
func parseAddOrder(params map[string]interface{}) (string, map[string]float64, error) {
	name, ok := params["name"].(string)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("missing or invalid 'name' parameter (expected string)")
	}
	raw, ok := params["ingredients"].(map[string]interface{})
	if !ok || len(raw) == 0 {
		return "", nil, fmt.Errorf("missing or invalid 'ingredients' parameter (expected object of ingredient: grams)")
	}

	ingredients := make(map[string]float64, len(raw))
	for ing, v := range raw {
		grams, ok := v.(float64)
		if !ok {
			return "", nil, fmt.Errorf("ingredient %q: target must be a number", ing)
		}
		ingredients[ing] = grams
	}
	return name, ingredients, nil
}

// sendResponse publishes a response on the health topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	if h.client == nil || !h.client.IsConnected() {
		slog.Debug("response dropped, mqtt not connected", "command_ack", resp.CommandAck)
		return
	}

	topic := h.cfg.Topics.Health
	qos := h.cfg.QoS["health"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
