/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
)

// DTMFBufferSize is how many sent digits stay visible
const DTMFBufferSize = 32

// RegistrationPhase is the canonical registration state
type RegistrationPhase string

const (
	RegistrationIdle        RegistrationPhase = "idle"
	RegistrationRegistering RegistrationPhase = "registering"
	RegistrationRegistered  RegistrationPhase = "registered"
	RegistrationFailedPhase RegistrationPhase = "registration_failed"
)

// CallPhase is the canonical call state
type CallPhase string

const (
	PhaseIdle       CallPhase = "idle"
	PhaseRingingOut CallPhase = "ringing_out"
	PhaseRingingIn  CallPhase = "ringing_in"
	PhaseActive     CallPhase = "active"
	PhaseOnHold     CallPhase = "on_hold"
)

// CallState is the UI-facing projection of the state machine. CallActive
// and Incoming are never both true.
type CallState struct {
	RegistrationStatus string            `json:"registrationStatus"`
	RegistrationPhase  RegistrationPhase `json:"registrationPhase"`
	Phase              CallPhase         `json:"phase"`
	CallActive         bool              `json:"callActive"`
	Incoming           bool              `json:"incoming"`
	IncomingFrom       string            `json:"incomingFrom,omitempty"`
	OnHold             bool              `json:"onHold"`
	HoldInProgress     bool              `json:"holdInProgress"`
	Muted              bool              `json:"muted"`
	MicrophoneError    bool              `json:"microphoneError"`
	CallDuration       string            `json:"callDuration"`
	DTMFSequence       string            `json:"dtmfSequence"`
	DialedNumber       string            `json:"dialedNumber"`
	TransferTarget     string            `json:"transferTarget"`
	MissedCalls        int               `json:"missedCalls"`
}

// FormatDuration renders d as mm:ss, or hh:mm:ss from one hour on
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// EndedCall summarizes a session that just ended
type EndedCall struct {
	Session  *Session
	Cause    string
	Answered bool
	Missed   bool
	Duration time.Duration
	EndedAt  time.Time
}

// StateMachine owns the registration and call phases, the current
// Session and the CallState record. It is not safe for concurrent use:
// the Controller serializes every access.
type StateMachine struct {
	reg  *fsm.FSM
	call *fsm.FSM

	state       CallState
	session     *Session
	activeSince time.Time
	answered    bool
}

// NewStateMachine starts idle and unregistered
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		state: CallState{
			RegistrationStatus: "Not connected",
			RegistrationPhase:  RegistrationIdle,
			Phase:              PhaseIdle,
			CallDuration:       FormatDuration(0),
		},
	}

	// Registration events are valid from any phase; a repeat of the
	// current phase (e.g. a refresh) is a no-op.
	allRegistration := []string{
		string(RegistrationIdle), string(RegistrationRegistering),
		string(RegistrationRegistered), string(RegistrationFailedPhase),
	}
	sm.reg = fsm.NewFSM(
		string(RegistrationIdle),
		fsm.Events{
			{Name: "register", Src: allRegistration, Dst: string(RegistrationRegistering)},
			{Name: "registered", Src: allRegistration, Dst: string(RegistrationRegistered)},
			{Name: "fail", Src: allRegistration, Dst: string(RegistrationFailedPhase)},
			{Name: "reset", Src: allRegistration, Dst: string(RegistrationIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				sm.state.RegistrationPhase = RegistrationPhase(e.Dst)
			},
		},
	)

	sm.call = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: "dial", Src: []string{string(PhaseIdle)}, Dst: string(PhaseRingingOut)},
			{Name: "ring", Src: []string{string(PhaseIdle)}, Dst: string(PhaseRingingIn)},
			{Name: "answer", Src: []string{string(PhaseRingingOut), string(PhaseRingingIn)}, Dst: string(PhaseActive)},
			{Name: "hold", Src: []string{string(PhaseActive)}, Dst: string(PhaseOnHold)},
			{Name: "unhold", Src: []string{string(PhaseOnHold)}, Dst: string(PhaseActive)},
			{Name: "end", Src: []string{string(PhaseRingingOut), string(PhaseRingingIn), string(PhaseActive), string(PhaseOnHold)}, Dst: string(PhaseIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				sm.syncCallFlags(CallPhase(e.Dst))
			},
		},
	)
	return sm
}

// syncCallFlags derives the boolean flags from the phase, which is what
// keeps CallActive and Incoming exclusive.
func (sm *StateMachine) syncCallFlags(phase CallPhase) {
	sm.state.Phase = phase
	sm.state.CallActive = phase == PhaseActive || phase == PhaseOnHold
	sm.state.Incoming = phase == PhaseRingingIn
	sm.state.OnHold = phase == PhaseOnHold
	if !sm.state.Incoming {
		sm.state.IncomingFrom = ""
	}
}

func (sm *StateMachine) fire(machine *fsm.FSM, event string) error {
	err := machine.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	return nil
}

// State returns a copy of the current record
func (sm *StateMachine) State() CallState {
	return sm.state
}

// Session returns the current session, or nil
func (sm *StateMachine) Session() *Session {
	return sm.session
}

// Phase returns the current call phase
func (sm *StateMachine) Phase() CallPhase {
	return CallPhase(sm.call.Current())
}

// Registration returns the current registration phase
func (sm *StateMachine) Registration() RegistrationPhase {
	return RegistrationPhase(sm.reg.Current())
}

// Registered reports whether calls can be placed
func (sm *StateMachine) Registered() bool {
	return sm.Registration() == RegistrationRegistered
}

// SetStatus sets the free-text status line
func (sm *StateMachine) SetStatus(text string) {
	sm.state.RegistrationStatus = text
}

// BeginRegistration moves to registering
func (sm *StateMachine) BeginRegistration() error {
	return sm.fire(sm.reg, "register")
}

// MarkRegistered moves to registered
func (sm *StateMachine) MarkRegistered() error {
	return sm.fire(sm.reg, "registered")
}

// MarkRegistrationFailed moves to registration_failed
func (sm *StateMachine) MarkRegistrationFailed() error {
	return sm.fire(sm.reg, "fail")
}

// MarkDisconnected returns registration to idle
func (sm *StateMachine) MarkDisconnected() error {
	return sm.fire(sm.reg, "reset")
}

// BeginOutgoing makes s current and enters ringing_out
func (sm *StateMachine) BeginOutgoing(s *Session) error {
	if err := sm.fire(sm.call, "dial"); err != nil {
		return err
	}
	sm.session = s
	sm.answered = false
	return nil
}

// BeginIncoming makes s current and enters ringing_in
func (sm *StateMachine) BeginIncoming(s *Session) error {
	if err := sm.fire(sm.call, "ring"); err != nil {
		return err
	}
	sm.session = s
	sm.answered = false
	sm.state.IncomingFrom = s.Remote
	return nil
}

// Activate enters active and starts the duration clock at now
func (sm *StateMachine) Activate(now time.Time) error {
	if err := sm.fire(sm.call, "answer"); err != nil {
		return err
	}
	sm.answered = true
	sm.activeSince = now
	sm.state.CallDuration = FormatDuration(0)
	sm.state.HoldInProgress = false
	return nil
}

// SetHold moves between active and on_hold and clears the hold latch
func (sm *StateMachine) SetHold(hold bool) error {
	sm.state.HoldInProgress = false
	event := "unhold"
	if hold {
		event = "hold"
	}
	return sm.fire(sm.call, event)
}

// SetHoldInProgress sets the latch guarding the hold round-trip
func (sm *StateMachine) SetHoldInProgress(v bool) {
	sm.state.HoldInProgress = v
}

// End returns to idle. A ringing_in session that never became active is
// counted as missed.
func (sm *StateMachine) End(cause string, now time.Time) (EndedCall, error) {
	phase := sm.Phase()
	ended := EndedCall{
		Session:  sm.session,
		Cause:    cause,
		Answered: sm.answered,
		Missed:   phase == PhaseRingingIn && !sm.answered,
		EndedAt:  now,
	}
	if sm.answered {
		ended.Duration = now.Sub(sm.activeSince)
	}

	if err := sm.fire(sm.call, "end"); err != nil {
		return ended, err
	}
	if ended.Missed {
		sm.state.MissedCalls++
	}

	sm.session = nil
	sm.answered = false
	sm.activeSince = time.Time{}
	sm.state.HoldInProgress = false
	sm.state.Muted = false
	sm.state.DTMFSequence = ""
	sm.state.CallDuration = FormatDuration(0)
	return ended, nil
}

// Tick refreshes CallDuration from the wall clock
func (sm *StateMachine) Tick(now time.Time) {
	if !sm.state.CallActive || sm.activeSince.IsZero() {
		return
	}
	sm.state.CallDuration = FormatDuration(now.Sub(sm.activeSince))
}

// SetMuted records the mute flag reported by the media pipeline
func (sm *StateMachine) SetMuted(muted bool) {
	sm.state.Muted = muted
}

// SetMicrophoneError sets the sticky microphone flag
func (sm *StateMachine) SetMicrophoneError(v bool) {
	sm.state.MicrophoneError = v
}

// AppendDTMF adds sent digits, keeping the last DTMFBufferSize
func (sm *StateMachine) AppendDTMF(digits string) {
	seq := sm.state.DTMFSequence + digits
	if len(seq) > DTMFBufferSize {
		seq = seq[len(seq)-DTMFBufferSize:]
	}
	sm.state.DTMFSequence = seq
}

// AppendDialed adds keys to the number to dial
func (sm *StateMachine) AppendDialed(keys string) {
	sm.state.DialedNumber += keys
}

// SetDialedNumber replaces the number to dial
func (sm *StateMachine) SetDialedNumber(number string) {
	sm.state.DialedNumber = number
}

// Backspace drops the last dialed character
func (sm *StateMachine) Backspace() {
	if n := len(sm.state.DialedNumber); n > 0 {
		sm.state.DialedNumber = sm.state.DialedNumber[:n-1]
	}
}

// SetTransferTarget sets where Transfer sends the call
func (sm *StateMachine) SetTransferTarget(target string) {
	sm.state.TransferTarget = target
}

// ResetMissedCalls clears the missed-call counter
func (sm *StateMachine) ResetMissedCalls() {
	sm.state.MissedCalls = 0
}
