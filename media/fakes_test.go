/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"io"
	"sync"

	"github.com/pion/rtp"
)

type fakeSender struct {
	mu      sync.Mutex
	id      string
	enabled bool
}

func newFakeSender(id string) *fakeSender { return &fakeSender{id: id, enabled: true} }

func (s *fakeSender) ID() string { return s.id }

func (s *fakeSender) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *fakeSender) SetEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
}

type fakeTrack struct {
	id      string
	packets chan *rtp.Packet
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, packets: make(chan *rtp.Packet, 16)}
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

type fakePeer struct {
	mu      sync.Mutex
	senders []Sender
	tracks  []RemoteTrack
	onTrack func(RemoteTrack)
}

func (p *fakePeer) Senders() []Sender { return p.senders }

func (p *fakePeer) RemoteTracks() []RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RemoteTrack(nil), p.tracks...)
}

func (p *fakePeer) OnTrack(handler func(RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = handler
	p.mu.Unlock()
}

func (p *fakePeer) addTrack(t RemoteTrack) {
	p.mu.Lock()
	p.tracks = append(p.tracks, t)
	handler := p.onTrack
	p.mu.Unlock()
	if handler != nil {
		handler(t)
	}
}

type captureOutput struct {
	mu      sync.Mutex
	samples []int16
}

func (o *captureOutput) WriteSamples(s []int16) error {
	o.mu.Lock()
	o.samples = append(o.samples, s...)
	o.mu.Unlock()
	return nil
}

func (o *captureOutput) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.samples)
}

func (o *captureOutput) snapshot() []int16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int16(nil), o.samples...)
}
