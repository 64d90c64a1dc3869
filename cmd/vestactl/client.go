package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cutcell/vesta/internal/control"
)

// controlRequest publishes one command on the cell's control topic and
// waits for the matching ack. Topics follow the daemon's defaults, so
// a cell with custom mqtt.topics needs the matching overrides here.
func controlRequest(cmd control.Command) (control.Response, error) {
	var resp control.Response
	if instanceID == "" {
		return resp, fmt.Errorf("--instance is required for daemon commands")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", brokerAddr))
	opts.SetClientID(fmt.Sprintf("vestactl-%s", uuid.NewString()[:8]))
	opts.SetConnectTimeout(cmdTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cmdTimeout) {
		return resp, fmt.Errorf("broker connection timeout (%s)", brokerAddr)
	}
	if err := token.Error(); err != nil {
		return resp, fmt.Errorf("broker connection failed: %w", err)
	}
	defer client.Disconnect(250)

	// Acks share the health topic with periodic beacons; beacons carry
	// no command_ack and fall through the filter.
	respCh := make(chan control.Response, 4)
	healthTopic := fmt.Sprintf("cutcell/health/%s", instanceID)
	sub := client.Subscribe(healthTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r control.Response
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			return
		}
		if r.CommandAck == cmd.Command {
			select {
			case respCh <- r:
			default:
			}
		}
	})
	if !sub.WaitTimeout(cmdTimeout) {
		return resp, fmt.Errorf("subscription timeout on %s", healthTopic)
	}
	if err := sub.Error(); err != nil {
		return resp, fmt.Errorf("subscription failed: %w", err)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return resp, fmt.Errorf("failed to marshal command: %w", err)
	}

	controlTopic := fmt.Sprintf("cutcell/control/%s", instanceID)
	pub := client.Publish(controlTopic, 1, false, payload)
	if !pub.WaitTimeout(cmdTimeout) {
		return resp, fmt.Errorf("command publish timeout")
	}
	if err := pub.Error(); err != nil {
		return resp, fmt.Errorf("command publish failed: %w", err)
	}

	select {
	case resp = <-respCh:
	case <-time.After(cmdTimeout):
		return resp, fmt.Errorf("no response from %q after %s (is vestad running?)", instanceID, cmdTimeout)
	}

	if resp.Status != "success" {
		return resp, fmt.Errorf("cell rejected %s: %s", cmd.Command, resp.Error)
	}
	return resp, nil
}
