/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package tasks creates follow-up tasks in the CRM
package tasks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tejzpr/crm-softphone/crmsdk"
)

// Task is a follow-up created after a call
type Task struct {
	ID            string     `json:"id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
	DueAt         *time.Time `json:"dueAt,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
}

// Config holds the configuration for the task client
type Config struct {
	// Path is the collection path relative to the backend base URL
	Path string
	// DefaultDue is added to the current time when a task has no due date
	DefaultDue time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{Path: "tasks", DefaultDue: 24 * time.Hour}
}

// Client creates tasks
type Client struct {
	core   *crmsdk.Client
	config *Config
	now    func() time.Time
}

// New creates a task client
func New(core *crmsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{core: core, config: config, now: time.Now}
}

// Create stores task and returns it as saved
func (c *Client) Create(ctx context.Context, task *Task) (*Task, error) {
	if task == nil || task.Title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	payload := *task
	if payload.DueAt == nil && c.config.DefaultDue > 0 {
		due := c.now().Add(c.config.DefaultDue).UTC()
		payload.DueAt = &due
	}

	var created Task
	if err := c.core.Do(ctx, http.MethodPost, c.config.Path, nil, &payload, &created); err != nil {
		return nil, fmt.Errorf("error creating task: %w", err)
	}
	return &created, nil
}
