/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process event bus to other processes so
// operator consoles on other hosts see the same session events.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/sanctuary/internal/events"
)

// Bus is an events.Broker that also owns a network connection.
type Bus interface {
	events.Broker
	Close() error
}

// message is the wire form of a mirrored event.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"` // For identifying source node
}

// marshalMessage converts payload to the wire format.
func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	})
}

// unmarshalMessage parses a wire message.
func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal event message: missing event type")
	}
	return &msg, nil
}

// deliverRemote publishes a message received from another node to local
// subscribers. Messages from nodeID itself are dropped.
func deliverRemote(local *events.Bus, nodeID string, data []byte, logger zerolog.Logger) bool {
	msg, err := unmarshalMessage(data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to decode remote event")
		return false
	}
	if msg.NodeID == nodeID {
		return false
	}
	local.Publish(msg.EventType, msg.Payload)
	logger.Debug().
		Str("event_type", string(msg.EventType)).
		Str("source_node", msg.NodeID).
		Msg("delivered remote event to local subscribers")
	return true
}

// NodeID returns id if set, otherwise hostname plus a random suffix.
func NodeID(id string) string {
	if id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "sanctuary"
	}
	return host + "-" + uuid.NewString()[:8]
}
