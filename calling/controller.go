/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calling is the softphone core: the call state machine, the
// event router that drives it from transport events, and the Controller
// facade the UI talks to.
package calling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/crm-softphone/calllogs"
	"github.com/tejzpr/crm-softphone/crmsdk"
	"github.com/tejzpr/crm-softphone/media"
	"github.com/tejzpr/crm-softphone/queues"
	"github.com/tejzpr/crm-softphone/tasks"
	"github.com/tejzpr/crm-softphone/transfers"
)

const topicState = "state"

var (
	// ErrNoFinishedCall is returned by SaveCallLog before any call ended
	ErrNoFinishedCall = errors.New("no finished call")

	// ErrNotConfigured is returned when an optional collaborator is missing
	ErrNotConfigured = errors.New("collaborator not configured")
)

// Config holds the controller's timeouts and policies
type Config struct {
	// PermissionTimeout bounds the microphone permission request in Connect
	PermissionTimeout time.Duration
	// ClipboardTimeout bounds the clipboard read in PasteClipboard
	ClipboardTimeout time.Duration
	// CollaboratorTimeout bounds each backend call
	CollaboratorTimeout time.Duration
	// TickInterval is how often CallDuration is refreshed
	TickInterval time.Duration
	// AutoLogCalls saves a call log when a call ends
	AutoLogCalls bool
	// DefaultTransferType is used when Transfer gets an empty type
	DefaultTransferType transfers.Type
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PermissionTimeout:   10 * time.Second,
		ClipboardTimeout:    2 * time.Second,
		CollaboratorTimeout: 10 * time.Second,
		TickInterval:        time.Second,
		AutoLogCalls:        true,
		DefaultTransferType: transfers.TypeBlind,
	}
}

// Dependencies are the components and collaborators the Controller
// coordinates. Transport, Media and Tones are required.
type Dependencies struct {
	Transport  Transport
	Media      MediaPipeline
	Tones      ToneGenerator
	Microphone Microphone

	CallLogs  CallLogger
	Queues    QueueMembership
	Transfers Transferer
	Scripts   ScriptCatalog
	Tasks     TaskCreator

	Notifier  Notifier
	Focus     FocusTracker
	Clipboard Clipboard

	Metrics *Metrics
	Logger  logrus.FieldLogger
}

// WrapUp is what the agent records about a call
type WrapUp struct {
	Note           string
	CallType       calllogs.CallType
	ScriptBranchID string
	Disposition    string
	// CreateTask requests a follow-up task with the note and script title
	CreateTask bool
}

// Snapshot is what observers receive after every change. Seq increases
// with each published snapshot.
type Snapshot struct {
	Seq   uint64
	Call  CallState
	Queue queues.State
}

// Controller is the facade over the softphone. All mutations run under
// one mutex, so transport events, timer ticks and user commands are
// processed one at a time.
type Controller struct {
	mu       sync.Mutex
	sm       *StateMachine
	router   *Router
	deps     Dependencies
	config   *Config
	emitter  *EventEmitter[Snapshot]
	queue    queues.State
	wrapUp   *WrapUp
	lastCall *EndedCall

	connecting bool
	tickStop   chan struct{}
	seq        uint64
	last       Snapshot

	bg  sync.WaitGroup
	now func() time.Time
	log logrus.FieldLogger
}

// NewController wires the state machine and router to deps
func NewController(deps Dependencies, config *Config) (*Controller, error) {
	if deps.Transport == nil || deps.Media == nil || deps.Tones == nil {
		return nil, fmt.Errorf("transport, media and tones are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Microphone == nil {
		deps.Microphone = media.SilenceMicrophone{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	c := &Controller{
		sm:      NewStateMachine(),
		deps:    deps,
		config:  config,
		emitter: NewEventEmitter[Snapshot](),
		now:     time.Now,
		log:     deps.Logger.WithField("component", "controller"),
	}
	c.last = Snapshot{Call: c.sm.State()}
	c.router = &Router{
		sm:        c.sm,
		media:     deps.Media,
		tones:     deps.Tones,
		transport: deps.Transport,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		now:       func() time.Time { return c.now() },
		log:       deps.Logger.WithField("component", "router"),
		hooks: routerHooks{
			onRegistered: c.onRegistered,
			onActive:     c.startTickerLocked,
			onEnded:      c.onEnded,
		},
	}
	return c, nil
}

// ---- Observation ----

// Subscribe registers fn for every published Snapshot. fn runs outside
// the controller lock and may call back into the Controller.
func (c *Controller) Subscribe(fn func(Snapshot)) {
	c.emitter.On(topicState, fn)
}

// State returns the current snapshot
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Seq: c.seq, Call: c.sm.State(), Queue: c.queue}
}

// mutate runs fn under the lock and publishes the result if it changed
func (c *Controller) mutate(fn func()) {
	c.mu.Lock()
	fn()
	snap := Snapshot{Call: c.sm.State(), Queue: c.queue}
	changed := snap.Call != c.last.Call || snap.Queue != c.last.Queue
	if changed {
		c.seq++
		snap.Seq = c.seq
		c.last = snap
	}
	c.mu.Unlock()

	if changed {
		c.emitter.Emit(topicState, snap)
	}
}

// ---- Event Pump ----

// Run feeds transport events to the router in order until ctx is done or
// the event stream closes.
func (c *Controller) Run(ctx context.Context) error {
	events := c.deps.Transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleEvent(ev)
		}
	}
}

// HandleEvent routes one transport event. It reports false for dropped
// events.
func (c *Controller) HandleEvent(ev Event) bool {
	var handled bool
	c.mutate(func() { handled = c.router.Dispatch(ev) })
	return handled
}

// ---- Registration ----

// Connect requests microphone access and then registers. Failures end up
// in the status line.
func (c *Controller) Connect(ctx context.Context, identity, credential string) {
	if identity == "" || credential == "" {
		c.mutate(func() { c.sm.SetStatus("Identity and credential are required") })
		return
	}

	proceed := false
	c.mutate(func() {
		if c.connecting {
			return
		}
		c.connecting = true
		proceed = true
		c.sm.SetStatus("Requesting microphone access…")
	})
	if !proceed {
		return
	}

	_, err := RunTask(ctx, c.config.PermissionTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.deps.Microphone.RequestAccess(ctx)
	})

	c.mutate(func() {
		c.connecting = false
		if err != nil {
			c.log.WithError(err).Warn("microphone access failed")
			c.sm.SetMicrophoneError(true)
			if errors.Is(err, ErrTaskTimeout) {
				c.sm.SetStatus("Microphone permission request timed out")
			} else {
				c.sm.SetStatus("Microphone access denied")
			}
			return
		}
		c.sm.SetMicrophoneError(false)
		if err := c.sm.BeginRegistration(); err != nil {
			c.log.WithError(err).Warn("unexpected registration transition")
		}
		c.sm.SetStatus("Registering…")
		c.deps.Transport.Connect(identity, credential)
	})
}

// Disconnect unregisters
func (c *Controller) Disconnect() {
	c.deps.Transport.Disconnect()
}

func (c *Controller) onRegistered() {
	if c.deps.Queues == nil {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := c.RefreshQueueState(context.Background()); err != nil {
			c.log.WithError(err).Warn("could not read queue state")
		}
	}()
}

// ---- Call Control ----

// Call dials target, or the dialed number when target is empty
func (c *Controller) Call(target string) {
	c.mutate(func() {
		target = strings.TrimSpace(target)
		if target == "" {
			target = c.sm.State().DialedNumber
		}
		switch {
		case target == "":
			c.sm.SetStatus("Enter a number to call")
			return
		case !c.sm.Registered():
			c.sm.SetStatus("Not registered")
			return
		case c.sm.Session() != nil:
			c.sm.SetStatus("A call is already in progress")
			return
		}

		s, err := c.deps.Transport.Call(target, CallOptions{})
		if err != nil {
			c.log.WithError(err).WithField("target", target).Warn("call not placed")
			c.sm.SetStatus(withCause("Call failed", err.Error()))
			return
		}
		if err := c.sm.BeginOutgoing(s); err != nil {
			c.log.WithError(err).Warn("unexpected call transition")
			return
		}
		c.wrapUp = nil
		c.sm.SetStatus("Calling " + target + "…")
		c.log.WithFields(logrus.Fields{"correlation_id": s.CorrelationID, "call_id": s.ID}).Info("outgoing call")
	})
}

// Answer accepts the ringing incoming call
func (c *Controller) Answer() {
	c.mutate(func() {
		s := c.sm.Session()
		if s == nil || c.sm.Phase() != PhaseRingingIn {
			c.sm.SetStatus("No incoming call")
			return
		}
		c.deps.Tones.Stop()
		c.deps.Transport.Answer(s)
		c.sm.SetStatus("Answering…")
	})
}

// Reject refuses the ringing incoming call with 486 Busy Here
func (c *Controller) Reject() {
	c.mutate(func() {
		s := c.sm.Session()
		if s == nil || c.sm.Phase() != PhaseRingingIn {
			c.sm.SetStatus("No incoming call")
			return
		}
		c.deps.Tones.Stop()
		c.deps.Transport.Reject(s, StatusBusyHere)
		c.sm.SetStatus("Rejecting call…")
	})
}

// Hangup ends the current call in any phase
func (c *Controller) Hangup() {
	c.mutate(func() {
		if c.sm.Session() == nil {
			return
		}
		c.deps.Transport.Hangup()
		c.sm.SetStatus("Hanging up…")
	})
}

// ToggleMute flips the local microphone. It does nothing while on hold.
func (c *Controller) ToggleMute() {
	c.mutate(func() {
		st := c.sm.State()
		if !st.CallActive {
			return
		}
		if st.OnHold {
			c.sm.SetStatus("Resume the call to change mute")
			return
		}
		muted, err := c.deps.Media.ToggleMute()
		if err != nil {
			c.log.WithError(err).Warn("toggle mute failed")
			c.sm.SetStatus("No microphone stream")
			return
		}
		c.sm.SetMuted(muted)
	})
}

// ToggleHold starts a hold or resume round-trip. A second call before the
// first completes is dropped.
func (c *Controller) ToggleHold() {
	c.mutate(func() {
		st := c.sm.State()
		if !st.CallActive || st.HoldInProgress {
			return
		}
		c.sm.SetHoldInProgress(true)
		if st.OnHold {
			c.deps.Transport.Unhold()
			c.sm.SetStatus("Resuming…")
		} else {
			c.deps.Transport.Hold()
			c.sm.SetStatus("Placing call on hold…")
		}
	})
}

// Transfer moves the active call to the transfer target. A failure only
// changes the status line; the call continues.
func (c *Controller) Transfer(ctx context.Context, transferType transfers.Type) {
	var req *transfers.Request
	c.mutate(func() {
		st := c.sm.State()
		s := c.sm.Session()
		target := strings.TrimSpace(st.TransferTarget)
		switch {
		case !st.CallActive || s == nil:
			c.sm.SetStatus("No active call to transfer")
			return
		case target == "":
			c.sm.SetStatus("Enter a transfer target")
			return
		case c.deps.Transfers == nil:
			c.sm.SetStatus("Transfer is not available")
			return
		}
		if transferType == "" {
			transferType = c.config.DefaultTransferType
		}
		req = &transfers.Request{
			SessionID: s.CorrelationID,
			CallID:    s.ID,
			Target:    target,
			Type:      transferType,
		}
		c.sm.SetStatus("Transferring to " + target + "…")
	})
	if req == nil {
		return
	}

	_, err := RunTask(ctx, c.config.CollaboratorTimeout, func(ctx context.Context) (*transfers.Result, error) {
		return c.deps.Transfers.Transfer(ctx, req)
	})

	c.mutate(func() {
		if err != nil {
			c.log.WithError(err).WithField("target", req.Target).Warn("transfer failed")
			c.deps.Metrics.transferFailed()
			c.sm.SetStatus(withCause("Transfer failed", crmsdk.Cause(err)))
			return
		}
		c.sm.SetStatus("Transferred to " + req.Target)
	})
}

// ---- Keypad ----

// PressKey handles one keypad key. During a call it is sent as DTMF,
// otherwise it extends the number to dial.
func (c *Controller) PressKey(key string) {
	if !isKeypadKey(key) {
		return
	}
	c.mutate(func() {
		if c.sm.State().CallActive {
			c.deps.Transport.SendDTMF(key)
			c.sm.AppendDTMF(key)
			return
		}
		c.sm.AppendDialed(key)
	})
}

// ApplyClipboardNumber replaces the number to dial with the dialable
// characters of raw. It is ignored during a call, while an editable
// field has focus, or when nothing dialable remains.
func (c *Controller) ApplyClipboardNumber(raw string) bool {
	number := SanitizeNumber(raw)
	if number == "" {
		return false
	}
	if c.deps.Focus != nil && c.deps.Focus.EditableFocused() {
		return false
	}

	applied := false
	c.mutate(func() {
		if c.sm.State().CallActive {
			return
		}
		c.sm.SetDialedNumber(number)
		applied = true
	})
	return applied
}

// PasteClipboard reads the clipboard and applies it as the number to dial
func (c *Controller) PasteClipboard(ctx context.Context) bool {
	if c.deps.Clipboard == nil {
		return false
	}
	text, err := RunTask(ctx, c.config.ClipboardTimeout, c.deps.Clipboard.ReadText)
	if err != nil {
		c.log.WithError(err).Debug("clipboard read failed")
		return false
	}
	return c.ApplyClipboardNumber(text)
}

// SetDialedNumber replaces the number to dial, keeping dialable characters
func (c *Controller) SetDialedNumber(number string) {
	c.mutate(func() { c.sm.SetDialedNumber(SanitizeNumber(number)) })
}

// Backspace removes the last character of the number to dial
func (c *Controller) Backspace() {
	c.mutate(c.sm.Backspace)
}

// SetTransferTarget sets where Transfer sends the call
func (c *Controller) SetTransferTarget(target string) {
	c.mutate(func() { c.sm.SetTransferTarget(strings.TrimSpace(target)) })
}

// ResetMissedCalls clears the missed-call counter
func (c *Controller) ResetMissedCalls() {
	c.mutate(c.sm.ResetMissedCalls)
}

// ---- Queue Membership ----

// SetPause updates the pause state optimistically and rolls it back if
// the backend refuses.
func (c *Controller) SetPause(ctx context.Context, paused bool, reason string) error {
	if c.deps.Queues == nil {
		return fmt.Errorf("queue membership: %w", ErrNotConfigured)
	}

	var previous queues.State
	c.mutate(func() {
		previous = c.queue
		c.queue = queues.State{Paused: paused}
		if paused {
			c.queue.PauseReason = reason
		}
	})

	state, err := RunTask(ctx, c.config.CollaboratorTimeout, func(ctx context.Context) (*queues.State, error) {
		return c.deps.Queues.SetPause(ctx, &queues.PauseRequest{Paused: paused, Reason: reason})
	})

	c.mutate(func() {
		if err != nil {
			c.queue = previous
			c.sm.SetStatus(withCause("Could not update pause state", crmsdk.Cause(err)))
			return
		}
		if state != nil {
			c.queue = *state
		}
	})
	if err != nil {
		c.log.WithError(err).Warn("pause update failed, rolled back")
		return fmt.Errorf("error setting pause state: %w", err)
	}
	return nil
}

// RefreshQueueState reads the pause state from the backend
func (c *Controller) RefreshQueueState(ctx context.Context) error {
	if c.deps.Queues == nil {
		return fmt.Errorf("queue membership: %w", ErrNotConfigured)
	}
	state, err := RunTask(ctx, c.config.CollaboratorTimeout, c.deps.Queues.GetMyState)
	if err != nil {
		return fmt.Errorf("error reading queue state: %w", err)
	}
	if state != nil {
		c.ApplyQueueState(*state)
	}
	return nil
}

// ApplyQueueState accepts a pause state pushed by the backend
func (c *Controller) ApplyQueueState(state queues.State) {
	c.mutate(func() { c.queue = state })
}

// ---- Wrap-up and Call Logs ----

// SetWrapUp stores the wrap-up for the current call. It is consumed when
// the call ends.
func (c *Controller) SetWrapUp(w WrapUp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wrapUp = &w
}

// LastCall returns the most recently ended call
func (c *Controller) LastCall() (EndedCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastCall == nil {
		return EndedCall{}, false
	}
	return *c.lastCall, true
}

// SaveCallLog registers a call log for the last ended call
func (c *Controller) SaveCallLog(ctx context.Context, w WrapUp) error {
	if c.deps.CallLogs == nil {
		return fmt.Errorf("call logs: %w", ErrNotConfigured)
	}
	last, ok := c.LastCall()
	if !ok || last.Session == nil {
		return ErrNoFinishedCall
	}
	return c.logCall(ctx, last, &w)
}

func (c *Controller) onEnded(ended EndedCall) {
	c.stopTickerLocked()
	c.lastCall = &ended
	wrapUp := c.wrapUp
	c.wrapUp = nil

	if !c.config.AutoLogCalls || c.deps.CallLogs == nil || ended.Session == nil {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.CollaboratorTimeout)
		defer cancel()
		_ = c.logCall(ctx, ended, wrapUp)
	}()
}

// logCall saves the call log and, when requested, a follow-up task.
// Errors are logged; the returned error is the call log's.
func (c *Controller) logCall(ctx context.Context, ended EndedCall, w *WrapUp) error {
	s := ended.Session
	entry := &calllogs.Entry{
		CallType:    callTypeOf(ended),
		Duration:    int(ended.Duration / time.Second),
		Disposition: ended.Cause,
		Phone:       s.Remote,
		EndedAt:     ended.EndedAt,
	}
	if w != nil {
		entry.Note = w.Note
		if w.CallType != "" {
			entry.CallType = w.CallType
		}
		if w.Disposition != "" {
			entry.Disposition = w.Disposition
		}
		if w.ScriptBranchID != "" {
			entry.ScriptBranch = c.scriptTitle(ctx, w.ScriptBranchID)
		}
	}

	log := c.log.WithField("correlation_id", s.CorrelationID)
	err := c.deps.CallLogs.Save(ctx, s.CorrelationID, entry)
	if err != nil {
		log.WithError(err).Warn("call log not saved")
	} else {
		log.Debug("call log saved")
	}

	if w != nil && w.CreateTask {
		c.createTask(ctx, s, entry)
	}
	return err
}

func (c *Controller) scriptTitle(ctx context.Context, id string) string {
	if c.deps.Scripts == nil {
		return id
	}
	title, err := c.deps.Scripts.ResolveTitle(ctx, id)
	if err != nil {
		c.log.WithError(err).WithField("script_branch", id).Debug("script title not resolved")
		return id
	}
	return title
}

func (c *Controller) createTask(ctx context.Context, s *Session, entry *calllogs.Entry) {
	if c.deps.Tasks == nil {
		return
	}
	title := "Follow up with " + s.Remote
	if entry.ScriptBranch != "" {
		title = "Follow up: " + entry.ScriptBranch
	}
	if _, err := c.deps.Tasks.Create(ctx, &tasks.Task{
		Title:         title,
		Description:   entry.Note,
		Phone:         s.Remote,
		CorrelationID: s.CorrelationID,
	}); err != nil {
		c.log.WithError(err).WithField("correlation_id", s.CorrelationID).Warn("follow-up task not created")
	}
}

func callTypeOf(ended EndedCall) calllogs.CallType {
	switch {
	case ended.Missed:
		return calllogs.CallTypeMissed
	case ended.Session != nil && ended.Session.IsIncoming():
		return calllogs.CallTypeIncoming
	default:
		return calllogs.CallTypeOutgoing
	}
}

// ---- Duration Timer ----

func (c *Controller) startTickerLocked() {
	c.stopTickerLocked()
	interval := c.config.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	stop := make(chan struct{})
	c.tickStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mutate(func() {
					select {
					case <-stop:
					default:
						c.sm.Tick(c.now())
					}
				})
			}
		}
	}()
}

func (c *Controller) stopTickerLocked() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
}

// ---- Shutdown ----

// Wait blocks until background collaborator calls finished
func (c *Controller) Wait() {
	c.bg.Wait()
}

// Close stops timers and tones, releases media and unregisters
func (c *Controller) Close() {
	c.mutate(func() {
		c.stopTickerLocked()
		c.deps.Tones.Stop()
		c.deps.Media.Unbind()
	})
	c.deps.Transport.Disconnect()
	c.bg.Wait()
}

// ---- Helpers ----

func isKeypadKey(key string) bool {
	if len(key) != 1 {
		return false
	}
	k := key[0]
	return (k >= '0' && k <= '9') || k == '*' || k == '#'
}

// SanitizeNumber keeps digits, '*', '#' and '+'
func SanitizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '*' || r == '#' || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
