/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package queues reads and writes the agent's queue-membership pause state.
package queues

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tejzpr/crm-softphone/crmsdk"
)

// State is the agent's membership state across its queues
type State struct {
	Paused      bool   `json:"paused" mapstructure:"paused"`
	PauseReason string `json:"pauseReason,omitempty" mapstructure:"pauseReason"`
}

// PauseRequest asks the backend to pause or unpause the agent
type PauseRequest struct {
	Paused bool   `json:"paused"`
	Reason string `json:"reason,omitempty"`
}

// Config holds the configuration for the queues client
type Config struct {
	// StatePath is the agent's own membership resource
	StatePath string
	// StreamPath is the websocket endpoint that pushes state changes
	StreamPath string
	// ReconnectDelay is the initial delay between stream reconnects
	ReconnectDelay time.Duration
	// ReconnectDelayMax caps the exponential reconnect backoff
	ReconnectDelayMax time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		StatePath:         "queue-members/me",
		StreamPath:        "queue-members/me/stream",
		ReconnectDelay:    time.Second,
		ReconnectDelayMax: 30 * time.Second,
	}
}

// Client is the queue-membership API client
type Client struct {
	core   *crmsdk.Client
	config *Config
}

// New creates a queue-membership client
func New(core *crmsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{core: core, config: config}
}

// GetMyState returns the current pause state
func (c *Client) GetMyState(ctx context.Context) (*State, error) {
	var state State
	if err := c.core.Do(ctx, http.MethodGet, c.config.StatePath, nil, nil, &state); err != nil {
		return nil, fmt.Errorf("error fetching queue state: %w", err)
	}
	return &state, nil
}

// SetPause writes the pause state and returns what the backend stored
func (c *Client) SetPause(ctx context.Context, req *PauseRequest) (*State, error) {
	if req == nil {
		return nil, fmt.Errorf("pause request is required")
	}
	if !req.Paused {
		req = &PauseRequest{Paused: false}
	}

	var state State
	if err := c.core.Do(ctx, http.MethodPut, c.config.StatePath+"/pause", nil, req, &state); err != nil {
		return nil, fmt.Errorf("error updating pause state: %w", err)
	}
	return &state, nil
}
