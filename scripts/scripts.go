/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package scripts reads the guided-call script catalog
package scripts

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tejzpr/crm-softphone/crmsdk"
)

// Node is one branch of a call script
type Node struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Prompt   string  `json:"prompt,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Tree is the read-only script catalog
type Tree struct {
	Roots []*Node `json:"items"`
}

// Find returns the node with id and the titles of its ancestors, root first
func (t *Tree) Find(id string) (*Node, []string) {
	if t == nil || id == "" {
		return nil, nil
	}
	var path []string
	var walk func(nodes []*Node) *Node
	walk = func(nodes []*Node) *Node {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			if n.ID == id {
				return n
			}
			path = append(path, n.Title)
			if found := walk(n.Children); found != nil {
				return found
			}
			path = path[:len(path)-1]
		}
		return nil
	}
	node := walk(t.Roots)
	if node == nil {
		return nil, nil
	}
	return node, path
}

// FindTitle returns the display title of branch id, e.g. "Sales / Renewal"
func (t *Tree) FindTitle(id string) (string, bool) {
	node, ancestors := t.Find(id)
	if node == nil {
		return "", false
	}
	return strings.Join(append(ancestors, node.Title), " / "), true
}

// Config holds the configuration for the script catalog client
type Config struct {
	// TreePath is the catalog endpoint relative to the backend base URL
	TreePath string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{TreePath: "call-scripts/tree"}
}

// Client fetches the script catalog
type Client struct {
	core   *crmsdk.Client
	config *Config
}

// New creates a script catalog client
func New(core *crmsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{core: core, config: config}
}

// GetTree fetches the whole catalog
func (c *Client) GetTree(ctx context.Context) (*Tree, error) {
	var tree Tree
	if err := c.core.Do(ctx, http.MethodGet, c.config.TreePath, nil, nil, &tree); err != nil {
		return nil, fmt.Errorf("error fetching script tree: %w", err)
	}
	return &tree, nil
}

// ResolveTitle fetches the catalog and resolves branch id to its title
func (c *Client) ResolveTitle(ctx context.Context, id string) (string, error) {
	tree, err := c.GetTree(ctx)
	if err != nil {
		return "", err
	}
	title, ok := tree.FindTitle(id)
	if !ok {
		return "", fmt.Errorf("script branch %q not found", id)
	}
	return title, nil
}
