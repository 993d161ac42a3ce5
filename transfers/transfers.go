/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package transfers asks the PBX backend to move a live call to another
// extension.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tejzpr/crm-softphone/crmsdk"
)

// ErrRejected is returned when the backend answered but refused the transfer
var ErrRejected = errors.New("transfer rejected")

// Type is the transfer mode
type Type string

const (
	// TypeBlind hands the call over without consulting the target
	TypeBlind Type = "blind"
	// TypeAttended hands the call over after the agent spoke to the target
	TypeAttended Type = "attended"
)

// Valid reports whether t is a known transfer type
func (t Type) Valid() bool {
	return t == TypeBlind || t == TypeAttended
}

// Request identifies the call to move and where to
type Request struct {
	SessionID string `json:"sessionId"`
	CallID    string `json:"callId,omitempty"`
	Target    string `json:"target"`
	Type      Type   `json:"type"`
}

// Result is the backend verdict
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Config holds the configuration for the transfer client
type Config struct {
	// Path is the transfer endpoint relative to the backend base URL
	Path string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{Path: "calls/transfer"}
}

// Client requests call transfers
type Client struct {
	core   *crmsdk.Client
	config *Config
}

// New creates a transfer client
func New(core *crmsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{core: core, config: config}
}

// Transfer posts req. A result with ok=false is returned together with an
// error wrapping ErrRejected.
func (c *Client) Transfer(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Target == "" {
		return nil, fmt.Errorf("transfer target is required")
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	payload := *req
	if payload.Type == "" {
		payload.Type = TypeBlind
	}
	if !payload.Type.Valid() {
		return nil, fmt.Errorf("unknown transfer type %q", payload.Type)
	}

	var result Result
	if err := c.core.Do(ctx, http.MethodPost, c.config.Path, nil, &payload, &result); err != nil {
		return nil, fmt.Errorf("error requesting transfer: %w", err)
	}
	if !result.OK {
		reason := result.Error
		if reason == "" {
			reason = "no reason given"
		}
		return &result, fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	return &result, nil
}
