/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"

	"github.com/tejzpr/crm-softphone/calllogs"
	"github.com/tejzpr/crm-softphone/media"
	"github.com/tejzpr/crm-softphone/queues"
	"github.com/tejzpr/crm-softphone/tasks"
	"github.com/tejzpr/crm-softphone/tones"
	"github.com/tejzpr/crm-softphone/transfers"
)

// CallOptions tunes an outgoing call
type CallOptions struct {
	// Headers are extra signaling headers for the initial request
	Headers map[string]string
}

// Transport owns the signaling connection. Methods never block on the
// network: outcomes arrive on Events in emission order. Session methods
// are safe no-ops without a current session.
type Transport interface {
	Connect(identity, credential string)
	Disconnect()
	Events() <-chan Event
	// Call returns the new session synchronously. It fails when not
	// registered or when a session already exists.
	Call(target string, opts CallOptions) (*Session, error)
	Answer(s *Session)
	Reject(s *Session, statusCode int)
	Hangup()
	SendDTMF(digit string)
	Hold()
	Unhold()
}

// MediaPipeline is the subset of *media.Pipeline the core drives
type MediaPipeline interface {
	Bind(peer media.Peer)
	Unbind()
	AttachTrack(track media.RemoteTrack)
	ToggleMute() (bool, error)
	ApplyHoldState(hold bool) bool
}

// ToneGenerator is the subset of *tones.Generator the core drives
type ToneGenerator interface {
	Start(kind tones.Kind)
	Stop()
	Active() (tones.Kind, bool)
}

// Microphone grants or denies capture access
type Microphone interface {
	RequestAccess(ctx context.Context) error
}

// CallLogger saves finished calls. *calllogs.Client implements it.
type CallLogger interface {
	Save(ctx context.Context, correlationID string, entry *calllogs.Entry) error
}

// QueueMembership reads and writes the pause state. *queues.Client
// implements it.
type QueueMembership interface {
	GetMyState(ctx context.Context) (*queues.State, error)
	SetPause(ctx context.Context, req *queues.PauseRequest) (*queues.State, error)
}

// Transferer moves a live call. *transfers.Client implements it over
// REST and the SIP adapter implements it with REFER.
type Transferer interface {
	Transfer(ctx context.Context, req *transfers.Request) (*transfers.Result, error)
}

// ScriptCatalog resolves a script branch id to its title.
// *scripts.Client implements it.
type ScriptCatalog interface {
	ResolveTitle(ctx context.Context, id string) (string, error)
}

// TaskCreator creates follow-up tasks. *tasks.Client implements it.
type TaskCreator interface {
	Create(ctx context.Context, task *tasks.Task) (*tasks.Task, error)
}

// Notifier shows a desktop notification. Failures are ignored.
type Notifier interface {
	Notify(title, body string) error
}

// FocusTracker reports whether keyboard focus is in an editable field
type FocusTracker interface {
	EditableFocused() bool
}

// Clipboard reads the system clipboard
type Clipboard interface {
	ReadText(ctx context.Context) (string, error)
}
