/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package queues

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// EventStateChanged is the push event type carrying a new State
const EventStateChanged = "queue.state"

// Stream receives pause-state changes pushed by the backend, for example
// when a supervisor pauses the agent from the wallboard.
type Stream struct {
	client *Client
	dialer *websocket.Dialer
	log    logrus.FieldLogger

	mu        sync.Mutex
	connected bool
}

// Stream creates a push stream bound to this client
func (c *Client) Stream(logger logrus.FieldLogger) *Stream {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Stream{
		client: c,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logger.WithField("component", "queues.stream"),
	}
}

// IsConnected reports whether the websocket is currently open
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Watch delivers every pushed State to onState until ctx is done,
// reconnecting with exponential backoff when the connection drops.
func (s *Stream) Watch(ctx context.Context, onState func(State)) error {
	if onState == nil {
		return fmt.Errorf("onState handler is required")
	}

	delay := s.client.config.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := s.client.config.ReconnectDelayMax
	if maxDelay < delay {
		maxDelay = delay
	}

	for {
		opened, err := s.run(ctx, onState)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opened {
			delay = s.client.config.ReconnectDelay
			if delay <= 0 {
				delay = time.Second
			}
		}
		s.log.WithError(err).Warnf("queue stream dropped, reconnecting in %s", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (s *Stream) run(ctx context.Context, onState func(State)) (bool, error) {
	u := s.client.core.URL(s.client.config.StreamPath, nil)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	conn, _, err := s.dialer.DialContext(ctx, u.String(), s.client.core.AuthHeaders())
	if err != nil {
		return false, fmt.Errorf("error dialing queue stream: %w", err)
	}
	s.setConnected(true)
	defer s.setConnected(false)
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	s.log.Info("queue stream connected")
	for {
		var raw map[string]interface{}
		if err := conn.ReadJSON(&raw); err != nil {
			return true, fmt.Errorf("error reading queue stream: %w", err)
		}

		state, ok, err := decodeState(raw)
		if err != nil {
			s.log.WithError(err).Debug("ignoring malformed queue event")
			continue
		}
		if ok {
			onState(*state)
		}
	}
}

func (s *Stream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// decodeState extracts a State from a push envelope of the form
// {"type": "queue.state", "data": {...}}. ok is false for other types.
func decodeState(raw map[string]interface{}) (*State, bool, error) {
	var envelope struct {
		Type string                 `mapstructure:"type"`
		Data map[string]interface{} `mapstructure:"data"`
	}
	if err := mapstructure.Decode(raw, &envelope); err != nil {
		return nil, false, fmt.Errorf("error decoding envelope: %w", err)
	}
	if envelope.Type != EventStateChanged {
		return nil, false, nil
	}

	var state State
	if err := mapstructure.Decode(envelope.Data, &state); err != nil {
		return nil, false, fmt.Errorf("error decoding queue state: %w", err)
	}
	return &state, true, nil
}
