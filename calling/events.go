/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"

	"github.com/tejzpr/crm-softphone/media"
)

// ---- Transport Events ----

// Event is one record from the transport's event stream. The set of
// implementations is closed: only the types in this file satisfy it.
type Event interface {
	isEvent()
}

// SessionEvent is an Event bound to a session
type SessionEvent interface {
	Event
	EventSession() *Session
}

// Originator tells who caused an event
type Originator string

const (
	OriginatorLocal  Originator = "local"
	OriginatorRemote Originator = "remote"
	OriginatorSystem Originator = "system"
)

// Registered is emitted once the registrar accepted us, and again on
// every successful refresh.
type Registered struct{}

// RegistrationFailed ends one registration attempt
type RegistrationFailed struct {
	Cause string
}

// Connecting is emitted when the signaling transport starts opening
type Connecting struct{}

// Connected is emitted when the signaling transport is open
type Connected struct{}

// Disconnected is emitted when the signaling transport closed
type Disconnected struct {
	Cause string
}

// NewSession announces a session. Direction is on the Session.
type NewSession struct {
	Session *Session
}

// Progress is a provisional response (180/183) on an outgoing session
type Progress struct {
	Session *Session
	Code    int
}

// Confirmed is emitted when the session's ACK was exchanged
type Confirmed struct {
	Session *Session
}

// Accepted is emitted when the session was answered (2xx)
type Accepted struct {
	Session *Session
}

// Ended is a normal termination of an established or ringing session
type Ended struct {
	Session    *Session
	Cause      string
	Originator Originator
}

// Failed is a session that never got established, or broke
type Failed struct {
	Session    *Session
	Cause      string
	Code       int
	Originator Originator
}

// Hold is emitted when a hold took effect
type Hold struct {
	Session    *Session
	Originator Originator
}

// Unhold is emitted when a resume took effect
type Unhold struct {
	Session    *Session
	Originator Originator
}

// HoldFailed is emitted when a local hold or resume was refused
type HoldFailed struct {
	Session *Session
	Hold    bool
	Cause   string
}

// Track carries a remote media track of an accepted session
type Track struct {
	Session *Session
	Track   media.RemoteTrack
}

func (Registered) isEvent()         {}
func (RegistrationFailed) isEvent() {}
func (Connecting) isEvent()         {}
func (Connected) isEvent()          {}
func (Disconnected) isEvent()       {}
func (NewSession) isEvent()         {}
func (Progress) isEvent()           {}
func (Confirmed) isEvent()          {}
func (Accepted) isEvent()           {}
func (Ended) isEvent()              {}
func (Failed) isEvent()             {}
func (Hold) isEvent()               {}
func (Unhold) isEvent()             {}
func (HoldFailed) isEvent()         {}
func (Track) isEvent()              {}

func (e NewSession) EventSession() *Session { return e.Session }
func (e Progress) EventSession() *Session   { return e.Session }
func (e Confirmed) EventSession() *Session  { return e.Session }
func (e Accepted) EventSession() *Session   { return e.Session }
func (e Ended) EventSession() *Session      { return e.Session }
func (e Failed) EventSession() *Session     { return e.Session }
func (e Hold) EventSession() *Session       { return e.Session }
func (e Unhold) EventSession() *Session     { return e.Session }
func (e HoldFailed) EventSession() *Session { return e.Session }
func (e Track) EventSession() *Session      { return e.Session }

// ---- Event Emitter ----

// EventHandler is a callback for one topic
type EventHandler[T any] func(data T)

// EventEmitter is a small typed pub/sub used to publish state snapshots
type EventEmitter[T any] struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler[T]
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter[T any]() *EventEmitter[T] {
	return &EventEmitter[T]{
		handlers: make(map[string][]EventHandler[T]),
	}
}

// On registers a handler for topic
func (e *EventEmitter[T]) On(topic string, handler EventHandler[T]) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[topic] = append(e.handlers[topic], handler)
}

// Off removes all handlers for topic
func (e *EventEmitter[T]) Off(topic string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, topic)
}

// Emit calls every handler of topic. Handlers run on the caller's
// goroutine, outside the emitter's lock.
func (e *EventEmitter[T]) Emit(topic string, data T) {
	e.mu.RLock()
	handlers := make([]EventHandler[T], len(e.handlers[topic]))
	copy(handlers, e.handlers[topic])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
