/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calllogs records finished calls with the CRM backend. Records are
// keyed by the softphone's correlation id so a call can be reconciled with
// its log entry across transport reconnects.
package calllogs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tejzpr/crm-softphone/crmsdk"
)

// CallType classifies a logged call
type CallType string

const (
	CallTypeIncoming CallType = "incoming"
	CallTypeOutgoing CallType = "outgoing"
	CallTypeMissed   CallType = "missed"
)

// Entry is the payload saved for one call
type Entry struct {
	CorrelationID string    `json:"correlationId"`
	Note          string    `json:"note,omitempty"`
	CallType      CallType  `json:"callType"`
	ScriptBranch  string    `json:"scriptBranch,omitempty"`
	Duration      int       `json:"duration"`
	Disposition   string    `json:"disposition,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	EndedAt       time.Time `json:"endedAt"`
}

// Record is a saved call log as returned by the backend
type Record struct {
	ID string `json:"id"`
	Entry
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// ListOptions filters List
type ListOptions struct {
	Phone string
	Max   int
}

// Config holds the configuration for the call log client
type Config struct {
	// Path is the collection path relative to the backend base URL
	Path string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{Path: "call-logs"}
}

// Client saves and lists call logs
type Client struct {
	core   *crmsdk.Client
	config *Config
}

// New creates a call log client
func New(core *crmsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{core: core, config: config}
}

// Save stores entry under correlationID. A 409 from the backend means the
// record already exists and is treated as success.
func (c *Client) Save(ctx context.Context, correlationID string, entry *Entry) error {
	if correlationID == "" {
		return fmt.Errorf("correlationID is required")
	}
	if entry == nil {
		return fmt.Errorf("entry is required")
	}

	payload := *entry
	payload.CorrelationID = correlationID
	if payload.CallType == "" {
		payload.CallType = CallTypeOutgoing
	}

	err := c.core.Do(ctx, http.MethodPost, c.config.Path, nil, &payload, nil)
	if crmsdk.IsConflict(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error saving call log %s: %w", correlationID, err)
	}
	return nil
}

// Get returns the record saved for correlationID
func (c *Client) Get(ctx context.Context, correlationID string) (*Record, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("correlationID is required")
	}

	var record Record
	path := fmt.Sprintf("%s/%s", c.config.Path, url.PathEscape(correlationID))
	if err := c.core.Do(ctx, http.MethodGet, path, nil, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns recent call logs, newest first
func (c *Client) List(ctx context.Context, options *ListOptions) ([]Record, error) {
	params := url.Values{}
	if options != nil {
		if options.Phone != "" {
			params.Set("phone", options.Phone)
		}
		if options.Max > 0 {
			params.Set("max", strconv.Itoa(options.Max))
		}
	}

	var page struct {
		Items []Record `json:"items"`
	}
	if err := c.core.Do(ctx, http.MethodGet, c.config.Path, params, nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}
