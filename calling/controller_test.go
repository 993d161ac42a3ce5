/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/crm-softphone/calllogs"
	"github.com/tejzpr/crm-softphone/crmsdk"
	"github.com/tejzpr/crm-softphone/media"
	"github.com/tejzpr/crm-softphone/queues"
	"github.com/tejzpr/crm-softphone/tones"
	"github.com/tejzpr/crm-softphone/transfers"
)

type harness struct {
	c         *Controller
	transport *fakeTransport
	tones     *fakeTones
	pipeline  *media.Pipeline
	peer      *fakePeer
	logs      *fakeCallLogs
	queues    *fakeQueues
	transfers *fakeTransferer
	tasks     *fakeTasks
	notifier  *fakeNotifier
	metrics   *Metrics
	clock     *fakeClock
}

func newHarness(t *testing.T, opts ...func(*Dependencies, *Config)) *harness {
	t.Helper()
	logger := quietLogger()
	h := &harness{
		transport: newFakeTransport(),
		tones:     &fakeTones{},
		pipeline:  media.NewPipeline(media.NewSink(media.DiscardOutput{}, logger), logger),
		peer:      newFakePeer(),
		logs:      &fakeCallLogs{},
		queues:    &fakeQueues{},
		transfers: &fakeTransferer{},
		tasks:     &fakeTasks{},
		notifier:  &fakeNotifier{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
		clock:     newFakeClock(),
	}
	h.transport.peer = h.peer

	deps := Dependencies{
		Transport:  h.transport,
		Media:      h.pipeline,
		Tones:      h.tones,
		Microphone: fakeMicrophone{},
		CallLogs:   h.logs,
		Queues:     h.queues,
		Transfers:  h.transfers,
		Scripts:    fakeScripts{"b-7": "Sales / Pricing"},
		Tasks:      h.tasks,
		Notifier:   h.notifier,
		Metrics:    h.metrics,
		Logger:     logger,
	}
	config := DefaultConfig()
	config.TickInterval = 5 * time.Millisecond
	config.PermissionTimeout = 50 * time.Millisecond
	config.CollaboratorTimeout = time.Second
	for _, opt := range opts {
		opt(&deps, config)
	}

	c, err := NewController(deps, config)
	require.NoError(t, err)
	c.now = h.clock.Now
	h.c = c
	t.Cleanup(c.Close)
	return h
}

func (h *harness) session() *Session {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.sm.Session()
}

func (h *harness) call() CallState {
	return h.c.State().Call
}

func (h *harness) register(t *testing.T) {
	t.Helper()
	h.c.Connect(context.Background(), "agent-7", "secret")
	require.True(t, h.c.HandleEvent(Registered{}))
	require.Equal(t, RegistrationRegistered, h.call().RegistrationPhase)
}

// activeCall registers, dials 1000 and confirms the call
func (h *harness) activeCall(t *testing.T) *Session {
	t.Helper()
	h.register(t)
	h.c.Call("1000")
	s := h.session()
	require.NotNil(t, s)
	require.True(t, h.c.HandleEvent(Confirmed{Session: s}))
	require.True(t, h.call().CallActive)
	return s
}

func (h *harness) incoming(t *testing.T, remote string) *Session {
	t.Helper()
	s := CreateSession("in-"+remote, DirectionIncoming, remote, nil, h.peer)
	require.True(t, h.c.HandleEvent(NewSession{Session: s}))
	return s
}

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric %v", m.Desc())
	return 0
}

func TestNewControllerRequiresCore(t *testing.T) {
	_, err := NewController(Dependencies{}, nil)
	assert.Error(t, err)
}

func TestOutgoingCallLifecycle(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.c.Call("1000")
	s := h.session()
	require.NotNil(t, s)
	assert.Equal(t, []string{"1000"}, h.transport.calls)
	assert.Equal(t, PhaseRingingOut, h.call().Phase)
	assert.NotEmpty(t, s.CorrelationID)

	require.True(t, h.c.HandleEvent(Progress{Session: s, Code: 180}))
	kind, playing := h.tones.Active()
	assert.True(t, playing)
	assert.Equal(t, tones.Ringback, kind)

	// A second 183 does not restart the ringback
	h.c.HandleEvent(Progress{Session: s, Code: 183})
	assert.Len(t, h.tones.history(), 1)

	require.True(t, h.c.HandleEvent(Confirmed{Session: s}))
	state := h.call()
	assert.True(t, state.CallActive)
	assert.False(t, state.Incoming)
	assert.Equal(t, "00:00", state.CallDuration)
	_, playing = h.tones.Active()
	assert.False(t, playing, "ringback stops on answer")
	assert.True(t, h.pipeline.Bound())
	assert.Equal(t, 1.0, metricValue(t, h.metrics.callsActive))

	h.clock.Advance(65 * time.Second)
	assert.Eventually(t, func() bool {
		return h.call().CallDuration == "01:05"
	}, time.Second, 5*time.Millisecond)

	require.True(t, h.c.HandleEvent(Ended{Session: s, Cause: "Normal Clearing", Originator: OriginatorRemote}))
	state = h.call()
	assert.False(t, state.CallActive)
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Equal(t, "00:00", state.CallDuration)
	assert.Equal(t, "Call ended: Normal Clearing", state.RegistrationStatus)
	assert.False(t, h.pipeline.Bound())

	h.c.Wait()
	saved := h.logs.all()
	require.Len(t, saved, 1)
	assert.Equal(t, s.CorrelationID, saved[0].correlationID)
	assert.Equal(t, calllogs.CallTypeOutgoing, saved[0].entry.CallType)
	assert.Equal(t, 65, saved[0].entry.Duration)
	assert.Equal(t, "Normal Clearing", saved[0].entry.Disposition)
	assert.Equal(t, "1000", saved[0].entry.Phone)

	// The timer no longer moves the duration
	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "00:00", h.call().CallDuration)

	last, ok := h.c.LastCall()
	require.True(t, ok)
	assert.True(t, last.Answered)
	assert.Equal(t, 65*time.Second, last.Duration)
}

func TestAcceptedThenConfirmedActivatesOnce(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.c.Call("1000")
	s := h.session()

	require.True(t, h.c.HandleEvent(Accepted{Session: s}))
	require.True(t, h.c.HandleEvent(Confirmed{Session: s}))
	assert.Equal(t, PhaseActive, h.call().Phase)
}

func TestMissedCallCountedOnce(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	s := h.incoming(t, "5551234")
	state := h.call()
	assert.True(t, state.Incoming)
	assert.False(t, state.CallActive)
	assert.Equal(t, "5551234", state.IncomingFrom)
	kind, playing := h.tones.Active()
	assert.True(t, playing)
	assert.Equal(t, tones.Ring, kind)
	assert.Equal(t, []string{"Incoming call"}, h.notifier.titles)

	require.True(t, h.c.HandleEvent(Failed{Session: s, Cause: "Canceled", Code: 487, Originator: OriginatorRemote}))
	assert.Equal(t, 1, h.call().MissedCalls)
	assert.False(t, h.call().Incoming)

	// The same session ending again is stale
	assert.False(t, h.c.HandleEvent(Ended{Session: s, Cause: "Canceled"}))
	assert.Equal(t, 1, h.call().MissedCalls)
	assert.Equal(t, 1.0, metricValue(t, h.metrics.missedCalls))

	h.c.Wait()
	saved := h.logs.all()
	require.Len(t, saved, 1)
	assert.Equal(t, calllogs.CallTypeMissed, saved[0].entry.CallType)

	h.c.ResetMissedCalls()
	assert.Equal(t, 0, h.call().MissedCalls)
}

func TestAnswerIncoming(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	s := h.incoming(t, "5551234")

	h.c.Answer()
	require.Len(t, h.transport.answered, 1)
	assert.Same(t, s, h.transport.answered[0])
	_, playing := h.tones.Active()
	assert.False(t, playing)

	require.True(t, h.c.HandleEvent(Accepted{Session: s}))
	state := h.call()
	assert.True(t, state.CallActive)
	assert.False(t, state.Incoming)

	require.True(t, h.c.HandleEvent(Ended{Session: s, Cause: "Normal Clearing"}))
	assert.Equal(t, 0, h.call().MissedCalls)

	h.c.Wait()
	saved := h.logs.all()
	require.Len(t, saved, 1)
	assert.Equal(t, calllogs.CallTypeIncoming, saved[0].entry.CallType)
}

func TestRejectIncoming(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	s := h.incoming(t, "5551234")

	h.c.Reject()
	assert.Equal(t, []int{StatusBusyHere}, h.transport.rejected)

	require.True(t, h.c.HandleEvent(Failed{Session: s, Cause: "Busy Here", Code: 486, Originator: OriginatorLocal}))
	assert.Equal(t, 1, h.call().MissedCalls)
	_, playing := h.tones.Active()
	assert.False(t, playing, "no busy tone for our own rejection")
}

func TestAnswerWithoutIncomingCall(t *testing.T) {
	h := newHarness(t)
	h.c.Answer()
	h.c.Reject()
	assert.Empty(t, h.transport.answered)
	assert.Empty(t, h.transport.rejected)
	assert.Equal(t, "No incoming call", h.call().RegistrationStatus)
}

func TestOutgoingBusyPlaysBusyTone(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.c.Call("1000")
	s := h.session()

	require.True(t, h.c.HandleEvent(Failed{Session: s, Cause: "Busy Here", Code: 486, Originator: OriginatorRemote}))
	kind, playing := h.tones.Active()
	assert.True(t, playing)
	assert.Equal(t, tones.Busy, kind)
	assert.Equal(t, "Call failed: Busy Here", h.call().RegistrationStatus)
	assert.Equal(t, 0, h.call().MissedCalls)
}

func TestOutgoingFailurePlaysBusyTone(t *testing.T) {
	tests := []struct {
		name  string
		event func(*Session) Event
	}{
		{"not found", func(s *Session) Event {
			return Failed{Session: s, Cause: "Not Found", Code: 404, Originator: OriginatorRemote}
		}},
		{"timeout", func(s *Session) Event {
			return Failed{Session: s, Cause: "Request Timeout", Code: 408, Originator: OriginatorRemote}
		}},
		{"ended busy", func(s *Session) Event {
			return Ended{Session: s, Cause: "Busy", Originator: OriginatorRemote}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.register(t)
			h.c.Call("1000")
			s := h.session()

			require.True(t, h.c.HandleEvent(tt.event(s)))
			kind, playing := h.tones.Active()
			assert.True(t, playing)
			assert.Equal(t, tones.Busy, kind)
		})
	}
}

func TestLocalHangupPlaysNoTone(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.c.Call("1000")
	s := h.session()

	require.True(t, h.c.HandleEvent(Ended{Session: s, Cause: "Canceled", Originator: OriginatorLocal}))
	_, playing := h.tones.Active()
	assert.False(t, playing)
}

func TestSecondIncomingRejectedBusy(t *testing.T) {
	h := newHarness(t)
	s := h.activeCall(t)

	other := CreateSession("in-2", DirectionIncoming, "777", nil, nil)
	assert.False(t, h.c.HandleEvent(NewSession{Session: other}))
	assert.Equal(t, []int{StatusBusyHere}, h.transport.rejected)
	assert.Same(t, s, h.session())
	assert.True(t, h.call().CallActive)
	assert.False(t, h.call().Incoming)
}

func TestStaleSessionEventsDropped(t *testing.T) {
	h := newHarness(t)
	h.activeCall(t)

	stale := CreateSession("old", DirectionOutgoing, "999", nil, nil)
	assert.False(t, h.c.HandleEvent(Ended{Session: stale, Cause: "Normal Clearing"}))
	assert.False(t, h.c.HandleEvent(Hold{Session: stale}))
	assert.True(t, h.call().CallActive)
	assert.False(t, h.call().OnHold)
}

func TestNotifierPanicIsContained(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, _ *Config) {
		d.Notifier = &fakeNotifier{panics: true}
	})
	h.register(t)
	h.incoming(t, "5551234")
	assert.True(t, h.call().Incoming)
}

func TestCallRequiresRegistration(t *testing.T) {
	h := newHarness(t)
	h.c.Call("1000")
	assert.Empty(t, h.transport.calls)
	assert.Nil(t, h.session())
	assert.Equal(t, "Not registered", h.call().RegistrationStatus)
}

func TestCallUsesDialedNumber(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.c.Call("")
	assert.Equal(t, "Enter a number to call", h.call().RegistrationStatus)

	h.c.SetDialedNumber("+1 555-0100")
	h.c.Call("")
	assert.Equal(t, []string{"+15550100"}, h.transport.calls)
}

func TestCallWhileBusy(t *testing.T) {
	h := newHarness(t)
	h.activeCall(t)
	h.c.Call("2000")
	assert.Equal(t, []string{"1000"}, h.transport.calls)
	assert.Equal(t, "A call is already in progress", h.call().RegistrationStatus)
}

func TestCallTransportError(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.transport.callErr = errors.New("not registered")

	h.c.Call("1000")
	assert.Nil(t, h.session())
	assert.Equal(t, PhaseIdle, h.call().Phase)
	assert.Equal(t, "Call failed: not registered", h.call().RegistrationStatus)
}

func TestHangup(t *testing.T) {
	h := newHarness(t)
	h.c.Hangup()
	assert.Equal(t, 0, h.transport.hangups)

	h.activeCall(t)
	h.c.Hangup()
	assert.Equal(t, 1, h.transport.hangups)
}

func TestDoubleToggleHoldIsNoop(t *testing.T) {
	h := newHarness(t)
	s := h.activeCall(t)

	h.c.ToggleHold()
	h.c.ToggleHold()
	holds, _ := h.transport.counts()
	assert.Equal(t, 1, holds)
	assert.True(t, h.call().HoldInProgress)

	require.True(t, h.c.HandleEvent(Hold{Session: s, Originator: OriginatorLocal}))
	state := h.call()
	assert.True(t, state.OnHold)
	assert.True(t, state.CallActive)
	assert.False(t, state.HoldInProgress)

	h.c.ToggleHold()
	h.c.ToggleHold()
	_, unholds := h.transport.counts()
	assert.Equal(t, 1, unholds)

	require.True(t, h.c.HandleEvent(Unhold{Session: s, Originator: OriginatorLocal}))
	assert.False(t, h.call().OnHold)
	assert.False(t, h.call().HoldInProgress)
}

func TestHoldFailedClearsLatch(t *testing.T) {
	h := newHarness(t)
	s := h.activeCall(t)

	h.c.ToggleHold()
	require.True(t, h.c.HandleEvent(HoldFailed{Session: s, Hold: true, Cause: "488 Not Acceptable Here"}))
	state := h.call()
	assert.False(t, state.HoldInProgress)
	assert.False(t, state.OnHold)
	assert.Equal(t, "Hold failed: 488 Not Acceptable Here", state.RegistrationStatus)

	h.c.ToggleHold()
	holds, _ := h.transport.counts()
	assert.Equal(t, 2, holds)
}

func TestToggleHoldWithoutCall(t *testing.T) {
	h := newHarness(t)
	h.c.ToggleHold()
	holds, unholds := h.transport.counts()
	assert.Zero(t, holds)
	assert.Zero(t, unholds)
}

func TestMuteSurvivesHold(t *testing.T) {
	h := newHarness(t)
	s := h.activeCall(t)

	h.c.ToggleMute()
	assert.True(t, h.call().Muted)
	assert.False(t, h.peer.sender.Enabled())

	require.True(t, h.c.HandleEvent(Hold{Session: s, Originator: OriginatorRemote}))
	assert.Equal(t, "Held by remote party", h.call().RegistrationStatus)

	// Mute cannot change while on hold
	h.c.ToggleMute()
	assert.True(t, h.call().Muted)

	require.True(t, h.c.HandleEvent(Unhold{Session: s, Originator: OriginatorRemote}))
	assert.True(t, h.call().Muted)
	assert.False(t, h.peer.sender.Enabled())

	h.c.ToggleMute()
	assert.False(t, h.call().Muted)
	assert.True(t, h.peer.sender.Enabled())
}

func TestUnmutedStaysUnmutedAfterHold(t *testing.T) {
	h := newHarness(t)
	s := h.activeCall(t)

	require.True(t, h.c.HandleEvent(Hold{Session: s}))
	assert.False(t, h.peer.sender.Enabled())
	require.True(t, h.c.HandleEvent(Unhold{Session: s}))
	assert.False(t, h.call().Muted)
	assert.True(t, h.peer.sender.Enabled())
}

func TestToggleMuteWithoutSender(t *testing.T) {
	h := newHarness(t)
	h.transport.peer = nil
	h.activeCall(t)

	h.c.ToggleMute()
	assert.False(t, h.call().Muted)
	assert.Equal(t, "No microphone stream", h.call().RegistrationStatus)
}

func TestPressKey(t *testing.T) {
	h := newHarness(t)

	for _, k := range []string{"1", "2", "x", "12", "", "*", "#"} {
		h.c.PressKey(k)
	}
	assert.Equal(t, "12*#", h.call().DialedNumber)

	h.c.Backspace()
	assert.Equal(t, "12*", h.call().DialedNumber)

	h.activeCall(t)
	h.c.PressKey("5")
	h.c.PressKey("#")
	assert.Equal(t, []string{"5", "#"}, h.transport.dtmf)
	assert.Equal(t, "5#", h.call().DTMFSequence)
	assert.Equal(t, "12*", h.call().DialedNumber)
}

func TestDTMFSequenceClearedOnEnd(t *testing.T) {
	h := newHarness(t)
	s := h.activeCall(t)
	h.c.PressKey("9")
	require.True(t, h.c.HandleEvent(Ended{Session: s}))
	assert.Empty(t, h.call().DTMFSequence)
}

func TestApplyClipboardNumber(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		focused bool
		applied bool
		want    string
	}{
		{name: "formatted number", raw: "+1 (555) 123-4567", applied: true, want: "+15551234567"},
		{name: "no digits", raw: "abc", want: "42"},
		{name: "editable focus", raw: "5550100", focused: true, want: "42"},
		{name: "star codes", raw: "*72#", applied: true, want: "*72#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(d *Dependencies, _ *Config) {
				d.Focus = fakeFocus(tt.focused)
			})
			h.c.SetDialedNumber("42")
			assert.Equal(t, tt.applied, h.c.ApplyClipboardNumber(tt.raw))
			assert.Equal(t, tt.want, h.call().DialedNumber)
		})
	}
}

func TestApplyClipboardNumberDuringCall(t *testing.T) {
	h := newHarness(t)
	h.activeCall(t)
	assert.False(t, h.c.ApplyClipboardNumber("5550100"))
	assert.Empty(t, h.call().DialedNumber)
}

func TestPasteClipboard(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, _ *Config) {
		d.Clipboard = fakeClipboard("call me at 555-0199")
	})
	assert.True(t, h.c.PasteClipboard(context.Background()))
	assert.Equal(t, "5550199", h.call().DialedNumber)
}

func TestConnectRequiresCredentials(t *testing.T) {
	h := newHarness(t)
	h.c.Connect(context.Background(), "", "secret")
	assert.Empty(t, h.transport.connects)
	assert.Equal(t, RegistrationIdle, h.call().RegistrationPhase)
	assert.Equal(t, "Identity and credential are required", h.call().RegistrationStatus)
}

func TestConnectMicrophoneDenied(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, _ *Config) {
		d.Microphone = fakeMicrophone{err: media.ErrMicrophoneDenied}
	})
	h.c.Connect(context.Background(), "agent-7", "secret")
	state := h.call()
	assert.True(t, state.MicrophoneError)
	assert.Equal(t, RegistrationIdle, state.RegistrationPhase)
	assert.Equal(t, "Microphone access denied", state.RegistrationStatus)
	assert.Empty(t, h.transport.connects)
}

func TestConnectPermissionTimeout(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, c *Config) {
		d.Microphone = fakeMicrophone{block: true}
		c.PermissionTimeout = 20 * time.Millisecond
	})
	h.c.Connect(context.Background(), "agent-7", "secret")
	assert.True(t, h.call().MicrophoneError)
	assert.Equal(t, "Microphone permission request timed out", h.call().RegistrationStatus)
	assert.Empty(t, h.transport.connects)
}

func TestConnectClearsMicrophoneError(t *testing.T) {
	mic := &switchableMic{err: media.ErrMicrophoneDenied}
	h := newHarness(t, func(d *Dependencies, _ *Config) { d.Microphone = mic })

	h.c.Connect(context.Background(), "agent-7", "secret")
	assert.True(t, h.call().MicrophoneError)

	mic.set(nil)
	h.c.Connect(context.Background(), "agent-7", "secret")
	assert.False(t, h.call().MicrophoneError)
	assert.Equal(t, RegistrationRegistering, h.call().RegistrationPhase)
	assert.Equal(t, []string{"agent-7"}, h.transport.connects)
}

type switchableMic struct {
	mu  sync.Mutex
	err error
}

func (m *switchableMic) set(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *switchableMic) RequestAccess(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func TestRegistrationFailureAndRefresh(t *testing.T) {
	h := newHarness(t)
	h.c.Connect(context.Background(), "agent-7", "secret")

	require.True(t, h.c.HandleEvent(RegistrationFailed{Cause: "403 Forbidden"}))
	assert.Equal(t, RegistrationFailedPhase, h.call().RegistrationPhase)
	assert.Equal(t, "Registration failed: 403 Forbidden", h.call().RegistrationStatus)
	assert.Equal(t, 1.0, metricValue(t, h.metrics.registrationFailures))

	require.True(t, h.c.HandleEvent(Registered{}))
	require.True(t, h.c.HandleEvent(Registered{}))
	assert.Equal(t, RegistrationRegistered, h.call().RegistrationPhase)

	// Transport chatter does not hide the registered status
	h.c.HandleEvent(Connected{})
	assert.Equal(t, "Registered", h.call().RegistrationStatus)

	require.True(t, h.c.HandleEvent(Disconnected{Cause: "socket closed"}))
	assert.Equal(t, RegistrationIdle, h.call().RegistrationPhase)
}

func TestQueueStateLoadedOnRegistration(t *testing.T) {
	h := newHarness(t)
	h.queues.state = queues.State{Paused: true, PauseReason: "Lunch"}
	h.register(t)

	assert.Eventually(t, func() bool {
		return h.c.State().Queue.Paused
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Lunch", h.c.State().Queue.PauseReason)
}

func TestSetPause(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.SetPause(context.Background(), true, "Training"))
	assert.Equal(t, queues.State{Paused: true, PauseReason: "Training"}, h.c.State().Queue)

	require.NoError(t, h.c.SetPause(context.Background(), false, "ignored"))
	assert.Equal(t, queues.State{}, h.c.State().Queue)
	assert.Len(t, h.queues.requests, 2)
}

func TestSetPauseRollsBack(t *testing.T) {
	h := newHarness(t)
	h.c.ApplyQueueState(queues.State{Paused: true, PauseReason: "Lunch"})
	h.queues.err = errors.New("backend down")

	var seen []queues.State
	var mu sync.Mutex
	h.c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Queue)
	})

	err := h.c.SetPause(context.Background(), false, "")
	require.Error(t, err)
	assert.Equal(t, queues.State{Paused: true, PauseReason: "Lunch"}, h.c.State().Queue)
	assert.Equal(t, "Could not update pause state: backend down", h.call().RegistrationStatus)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.False(t, seen[0].Paused, "optimistic update is published first")
}

func TestSetPauseForbiddenStatus(t *testing.T) {
	h := newHarness(t)
	h.queues.err = &crmsdk.ForbiddenError{APIError: &crmsdk.APIError{StatusCode: 403, Status: "403 Forbidden"}}

	err := h.c.SetPause(context.Background(), true, "Lunch")
	require.Error(t, err)
	assert.True(t, crmsdk.IsForbidden(err))
	assert.Equal(t, "Could not update pause state: not permitted", h.call().RegistrationStatus)
}

func TestSetPauseWithoutQueues(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, _ *Config) { d.Queues = nil })
	err := h.c.SetPause(context.Background(), true, "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTransfer(t *testing.T) {
	h := newHarness(t)
	s := h.activeCall(t)

	h.c.Transfer(context.Background(), "")
	assert.Equal(t, "Enter a transfer target", h.call().RegistrationStatus)
	assert.Empty(t, h.transfers.requests)

	h.c.SetTransferTarget(" 2001 ")
	h.c.Transfer(context.Background(), "")
	require.Len(t, h.transfers.requests, 1)
	req := h.transfers.requests[0]
	assert.Equal(t, "2001", req.Target)
	assert.Equal(t, transfers.TypeBlind, req.Type)
	assert.Equal(t, s.CorrelationID, req.SessionID)
	assert.Equal(t, s.ID, req.CallID)
	assert.Equal(t, "Transferred to 2001", h.call().RegistrationStatus)
}

func TestTransferFailureKeepsCall(t *testing.T) {
	h := newHarness(t)
	h.activeCall(t)
	h.transfers.err = transfers.ErrRejected
	h.c.SetTransferTarget("2001")

	h.c.Transfer(context.Background(), transfers.TypeAttended)
	state := h.call()
	assert.True(t, state.CallActive)
	assert.True(t, strings.HasPrefix(state.RegistrationStatus, "Transfer failed"))
	assert.Equal(t, 1.0, metricValue(t, h.metrics.transferFailures))
}

func TestTransferWithoutCall(t *testing.T) {
	h := newHarness(t)
	h.c.SetTransferTarget("2001")
	h.c.Transfer(context.Background(), "")
	assert.Empty(t, h.transfers.requests)
	assert.Equal(t, "No active call to transfer", h.call().RegistrationStatus)
}

func TestWrapUpLogsScriptAndTask(t *testing.T) {
	h := newHarness(t)
	s := h.activeCall(t)
	h.c.SetWrapUp(WrapUp{
		Note:           "Wants a quote",
		ScriptBranchID: "b-7",
		Disposition:    "interested",
		CreateTask:     true,
	})

	require.True(t, h.c.HandleEvent(Ended{Session: s, Cause: "Normal Clearing"}))
	h.c.Wait()

	saved := h.logs.all()
	require.Len(t, saved, 1)
	entry := saved[0].entry
	assert.Equal(t, "Wants a quote", entry.Note)
	assert.Equal(t, "Sales / Pricing", entry.ScriptBranch)
	assert.Equal(t, "interested", entry.Disposition)

	created := h.tasks.all()
	require.Len(t, created, 1)
	assert.Equal(t, s.CorrelationID, created[0].CorrelationID)
	assert.Equal(t, "Follow up: Sales / Pricing", created[0].Title)
	assert.Equal(t, "1000", created[0].Phone)
}

func TestSaveCallLogManually(t *testing.T) {
	h := newHarness(t, func(_ *Dependencies, c *Config) { c.AutoLogCalls = false })
	assert.ErrorIs(t, h.c.SaveCallLog(context.Background(), WrapUp{}), ErrNoFinishedCall)

	s := h.activeCall(t)
	require.True(t, h.c.HandleEvent(Ended{Session: s, Cause: "Normal Clearing"}))
	h.c.Wait()
	assert.Empty(t, h.logs.all())

	require.NoError(t, h.c.SaveCallLog(context.Background(), WrapUp{Note: "callback tomorrow", ScriptBranchID: "unknown"}))
	saved := h.logs.all()
	require.Len(t, saved, 1)
	assert.Equal(t, s.CorrelationID, saved[0].correlationID)
	assert.Equal(t, "unknown", saved[0].entry.ScriptBranch, "unresolved branch keeps its id")
}

func TestSubscribeSeesIncreasingSeq(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var seqs []uint64
	h.c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, s.Seq)
	})

	h.c.PressKey("1")
	h.c.PressKey("2")
	h.c.Backspace()
	// No change, nothing published
	h.c.ToggleHold()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seqs, 3)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
	assert.Equal(t, seqs[len(seqs)-1], h.c.State().Seq)
}

func TestRunPumpsEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	h.transport.events <- Registered{}
	assert.Eventually(t, func() bool {
		return h.call().RegistrationPhase == RegistrationRegistered
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCloseReleasesMedia(t *testing.T) {
	h := newHarness(t)
	h.activeCall(t)
	require.True(t, h.pipeline.Bound())

	h.c.Close()
	assert.False(t, h.pipeline.Bound())
	assert.Equal(t, 1, h.transport.disconnects)
}
