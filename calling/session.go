/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"time"

	"github.com/google/uuid"
	"github.com/tejzpr/crm-softphone/media"
)

// Direction of a session relative to us
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Session is one pending or active call. At most one is current.
type Session struct {
	// ID is the transport's identifier (the SIP Call-ID)
	ID string

	// CorrelationID is generated locally and survives transport
	// reconnects. Call logs are keyed by it.
	CorrelationID string

	Direction Direction

	// Remote is the other party's number or URI user
	Remote string

	// Handle is the transport's own session object
	Handle any

	// Peer is the media peer, nil until the transport created it
	Peer media.Peer

	CreatedAt time.Time
}

// CreateSession creates a session with a fresh correlation id
func CreateSession(id string, direction Direction, remote string, handle any, peer media.Peer) *Session {
	return &Session{
		ID:            id,
		CorrelationID: uuid.New().String(),
		Direction:     direction,
		Remote:        remote,
		Handle:        handle,
		Peer:          peer,
		CreatedAt:     time.Now(),
	}
}

// IsIncoming reports whether the remote party placed the call
func (s *Session) IsIncoming() bool {
	return s != nil && s.Direction == DirectionIncoming
}
