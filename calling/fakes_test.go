/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tejzpr/crm-softphone/calllogs"
	"github.com/tejzpr/crm-softphone/media"
	"github.com/tejzpr/crm-softphone/queues"
	"github.com/tejzpr/crm-softphone/tasks"
	"github.com/tejzpr/crm-softphone/tones"
	"github.com/tejzpr/crm-softphone/transfers"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// ---- Transport ----

type fakeTransport struct {
	mu          sync.Mutex
	events      chan Event
	connects    []string
	disconnects int
	calls       []string
	answered    []*Session
	rejected    []int
	hangups     int
	dtmf        []string
	holds       int
	unholds     int
	callErr     error
	peer        media.Peer
	seq         int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 64)}
}

func (t *fakeTransport) Connect(identity, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects = append(t.connects, identity)
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
}

func (t *fakeTransport) Events() <-chan Event { return t.events }

func (t *fakeTransport) Call(target string, _ CallOptions) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.callErr != nil {
		return nil, t.callErr
	}
	t.seq++
	t.calls = append(t.calls, target)
	return CreateSession(fmt.Sprintf("call-%d", t.seq), DirectionOutgoing, target, nil, t.peer), nil
}

func (t *fakeTransport) Answer(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answered = append(t.answered, s)
}

func (t *fakeTransport) Reject(_ *Session, code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejected = append(t.rejected, code)
}

func (t *fakeTransport) Hangup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangups++
}

func (t *fakeTransport) SendDTMF(digit string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dtmf = append(t.dtmf, digit)
}

func (t *fakeTransport) Hold() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.holds++
}

func (t *fakeTransport) Unhold() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unholds++
}

func (t *fakeTransport) counts() (holds, unholds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.holds, t.unholds
}

// ---- Tones ----

type fakeTones struct {
	mu      sync.Mutex
	active  *tones.Kind
	started []tones.Kind
}

func (f *fakeTones) Start(kind tones.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = &kind
	f.started = append(f.started, kind)
}

func (f *fakeTones) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
}

func (f *fakeTones) Active() (tones.Kind, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return 0, false
	}
	return *f.active, true
}

func (f *fakeTones) history() []tones.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tones.Kind(nil), f.started...)
}

// ---- Media ----

type fakeSender struct {
	mu      sync.Mutex
	enabled bool
}

func (s *fakeSender) ID() string { return "mic" }

func (s *fakeSender) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeSender) SetEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = v
}

type fakePeer struct {
	sender *fakeSender
}

func newFakePeer() *fakePeer {
	return &fakePeer{sender: &fakeSender{enabled: true}}
}

func (p *fakePeer) Senders() []media.Sender          { return []media.Sender{p.sender} }
func (p *fakePeer) RemoteTracks() []media.RemoteTrack { return nil }
func (p *fakePeer) OnTrack(func(media.RemoteTrack))   {}

// ---- Collaborators ----

type savedLog struct {
	correlationID string
	entry         calllogs.Entry
}

type fakeCallLogs struct {
	mu    sync.Mutex
	saved []savedLog
	err   error
}

func (f *fakeCallLogs) Save(_ context.Context, correlationID string, entry *calllogs.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, savedLog{correlationID: correlationID, entry: *entry})
	return f.err
}

func (f *fakeCallLogs) all() []savedLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedLog(nil), f.saved...)
}

type fakeQueues struct {
	mu       sync.Mutex
	state    queues.State
	err      error
	requests []queues.PauseRequest
}

func (f *fakeQueues) GetMyState(context.Context) (*queues.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	st := f.state
	return &st, nil
}

func (f *fakeQueues) SetPause(_ context.Context, req *queues.PauseRequest) (*queues.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
	if f.err != nil {
		return nil, f.err
	}
	f.state = queues.State{Paused: req.Paused}
	if req.Paused {
		f.state.PauseReason = req.Reason
	}
	st := f.state
	return &st, nil
}

type fakeTransferer struct {
	mu       sync.Mutex
	requests []transfers.Request
	err      error
}

func (f *fakeTransferer) Transfer(_ context.Context, req *transfers.Request) (*transfers.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
	if f.err != nil {
		return &transfers.Result{OK: false, Error: f.err.Error()}, f.err
	}
	return &transfers.Result{OK: true}, nil
}

type fakeScripts map[string]string

func (f fakeScripts) ResolveTitle(_ context.Context, id string) (string, error) {
	title, ok := f[id]
	if !ok {
		return "", fmt.Errorf("unknown script branch %s", id)
	}
	return title, nil
}

type fakeTasks struct {
	mu      sync.Mutex
	created []tasks.Task
}

func (f *fakeTasks) Create(_ context.Context, task *tasks.Task) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *task)
	return task, nil
}

func (f *fakeTasks) all() []tasks.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tasks.Task(nil), f.created...)
}

type fakeMicrophone struct {
	err   error
	block bool
}

func (m fakeMicrophone) RequestAccess(ctx context.Context) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
	panics bool
}

func (n *fakeNotifier) Notify(title, _ string) error {
	if n.panics {
		panic("notification backend gone")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

type fakeFocus bool

func (f fakeFocus) EditableFocused() bool { return bool(f) }

type fakeClipboard string

func (c fakeClipboard) ReadText(context.Context) (string, error) { return string(c), nil }

// ---- Clock ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
