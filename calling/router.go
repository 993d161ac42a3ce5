/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/crm-softphone/tones"
)

// StatusBusyHere is the SIP status used to refuse a call
const StatusBusyHere = 486

// routerHooks let the Controller react to transitions without the Router
// depending on it
type routerHooks struct {
	onRegistered func()
	onActive     func()
	onEnded      func(EndedCall)
}

// Router turns transport events into state transitions and side effects.
// Dispatch must be called from a single goroutine or under a lock; it
// never blocks.
type Router struct {
	sm        *StateMachine
	media     MediaPipeline
	tones     ToneGenerator
	transport Transport
	notifier  Notifier
	metrics   *Metrics
	hooks     routerHooks
	now       func() time.Time
	log       logrus.FieldLogger
}

// Dispatch handles one event. It returns false when the event was dropped.
func (r *Router) Dispatch(ev Event) bool {
	if se, ok := ev.(SessionEvent); ok {
		if _, isNew := ev.(NewSession); !isNew && se.EventSession() != r.sm.Session() {
			r.log.WithField("event", fmt.Sprintf("%T", ev)).Debug("dropping event for stale session")
			return false
		}
	}

	switch e := ev.(type) {
	case Connecting:
		if !r.sm.Registered() {
			r.sm.SetStatus("Connecting…")
		}
	case Connected:
		if !r.sm.Registered() {
			r.sm.SetStatus("Connected, registering…")
		}
	case Disconnected:
		r.warn(r.sm.MarkDisconnected(), ev)
		r.sm.SetStatus(withCause("Disconnected", e.Cause))
	case Registered:
		r.warn(r.sm.MarkRegistered(), ev)
		r.sm.SetStatus("Registered")
		if r.hooks.onRegistered != nil {
			r.hooks.onRegistered()
		}
	case RegistrationFailed:
		r.warn(r.sm.MarkRegistrationFailed(), ev)
		r.sm.SetStatus(withCause("Registration failed", e.Cause))
		r.metrics.registrationFailed()
	case NewSession:
		return r.newSession(e)
	case Progress:
		if r.sm.Phase() == PhaseRingingOut {
			if kind, ok := r.tones.Active(); !ok || kind != tones.Ringback {
				r.tones.Start(tones.Ringback)
			}
			r.sm.SetStatus("Ringing…")
		}
	case Confirmed:
		r.established(e.Session)
	case Accepted:
		r.established(e.Session)
	case Ended:
		r.end(e.Cause, false, 0, e.Originator)
	case Failed:
		r.end(e.Cause, true, e.Code, e.Originator)
	case Hold:
		switch r.sm.Phase() {
		case PhaseActive:
			r.warn(r.sm.SetHold(true), ev)
			r.media.ApplyHoldState(true)
			r.sm.SetStatus(holdStatus(e.Originator))
		default:
			r.sm.SetHoldInProgress(false)
		}
	case Unhold:
		switch r.sm.Phase() {
		case PhaseOnHold:
			r.warn(r.sm.SetHold(false), ev)
			r.sm.SetMuted(r.media.ApplyHoldState(false))
			r.sm.SetStatus("In call")
		default:
			r.sm.SetHoldInProgress(false)
		}
	case HoldFailed:
		r.sm.SetHoldInProgress(false)
		action := "Resume"
		if e.Hold {
			action = "Hold"
		}
		r.sm.SetStatus(withCause(action+" failed", e.Cause))
	case Track:
		r.media.AttachTrack(e.Track)
	default:
		r.log.Warnf("unhandled event %T", ev)
		return false
	}
	return true
}

func (r *Router) newSession(e NewSession) bool {
	s := e.Session
	if s == nil || !s.IsIncoming() {
		// Outgoing sessions became current in Controller.Call
		return s != nil && s == r.sm.Session()
	}

	if r.sm.Session() != nil {
		r.log.WithField("remote", s.Remote).Info("rejecting second incoming call: busy")
		r.transport.Reject(s, StatusBusyHere)
		return false
	}

	if err := r.sm.BeginIncoming(s); err != nil {
		r.warn(err, e)
		return false
	}
	r.tones.Start(tones.Ring)
	r.sm.SetStatus("Incoming call from " + s.Remote)
	r.notify("Incoming call", s.Remote)
	return true
}

func (r *Router) established(s *Session) {
	switch r.sm.Phase() {
	case PhaseRingingOut, PhaseRingingIn:
	default:
		// Accepted and Confirmed both arrive for one answer
		return
	}

	r.tones.Stop()
	if err := r.sm.Activate(r.now()); err != nil {
		r.warn(err, Confirmed{Session: s})
		return
	}
	if s.Peer != nil {
		r.media.Bind(s.Peer)
	}
	r.sm.SetMuted(false)
	r.sm.SetStatus("In call")
	r.metrics.callActive()
	if r.hooks.onActive != nil {
		r.hooks.onActive()
	}
}

func (r *Router) end(cause string, failed bool, code int, by Originator) {
	r.tones.Stop()
	r.media.Unbind()

	ended, err := r.sm.End(cause, r.now())
	if err != nil {
		r.log.WithError(err).Warn("ending call from unexpected phase")
		return
	}

	outcome := "completed"
	status := withCause("Call ended", cause)
	switch {
	case ended.Missed:
		outcome = "missed"
		status = withCause("Missed call", cause)
	case failed:
		outcome = "failed"
		status = withCause("Call failed", cause)
	}
	if isBusy(cause, code) {
		outcome = "busy"
	}
	if busyTone(ended.Session, failed, cause, code, by) {
		r.tones.Start(tones.Busy)
	}
	r.sm.SetStatus(status)
	r.metrics.callEnded(ended, outcome)

	if r.hooks.onEnded != nil {
		r.hooks.onEnded(ended)
	}
}

// notify is best-effort: neither an error nor a panic escapes
func (r *Router) notify(title, body string) {
	if r.notifier == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Debugf("notification panicked: %v", p)
		}
	}()
	if err := r.notifier.Notify(title, body); err != nil {
		r.log.WithError(err).Debug("notification failed")
	}
}

func (r *Router) warn(err error, ev Event) {
	if err != nil {
		r.log.WithError(err).Warnf("ignoring transition for %T", ev)
	}
}

func isBusy(cause string, code int) bool {
	switch code {
	case StatusBusyHere, 600, 603:
		return true
	}
	return strings.Contains(strings.ToLower(cause), "busy")
}

// busyTone reports whether an ended call gets the busy tone: every failed
// outgoing call and any explicit busy cause, except our own rejection of
// an incoming call.
func busyTone(s *Session, failed bool, cause string, code int, by Originator) bool {
	if s == nil {
		return false
	}
	if s.IsIncoming() {
		return by != OriginatorLocal && isBusy(cause, code)
	}
	return failed || isBusy(cause, code)
}

func holdStatus(o Originator) string {
	if o == OriginatorRemote {
		return "Held by remote party"
	}
	return "On hold"
}

func withCause(prefix, cause string) string {
	if cause == "" {
		return prefix
	}
	return prefix + ": " + cause
}
