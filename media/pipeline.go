/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// holdMemo is what entering hold saved and leaving hold restores
type holdMemo struct {
	muted      bool
	sinkVolume float64
	sinkMuted  bool
}

// Pipeline binds the current session's peer to the shared Sink and
// implements mute and hold on top of the peer's local senders.
type Pipeline struct {
	mu    sync.Mutex
	sink  *Sink
	peer  Peer
	bound map[string]struct{}
	hold  *holdMemo
	log   logrus.FieldLogger
}

// NewPipeline creates a pipeline playing remote audio through sink
func NewPipeline(sink *Sink, logger logrus.FieldLogger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if sink == nil {
		sink = NewSink(nil, logger)
	}
	return &Pipeline{
		sink:  sink,
		bound: make(map[string]struct{}),
		log:   logger.WithField("component", "media.pipeline"),
	}
}

// Sink returns the shared remote-audio sink
func (p *Pipeline) Sink() *Sink {
	return p.sink
}

// Bind makes peer the current media peer. Tracks already present are
// played immediately, later ones through the peer's OnTrack.
func (p *Pipeline) Bind(peer Peer) {
	if peer == nil {
		return
	}

	p.mu.Lock()
	if p.peer == peer {
		p.mu.Unlock()
		return
	}
	p.unbindLocked()
	p.peer = peer
	p.mu.Unlock()

	peer.OnTrack(func(track RemoteTrack) {
		p.mu.Lock()
		current := p.peer
		p.mu.Unlock()
		if current != peer {
			return
		}
		p.AttachTrack(track)
	})

	for _, track := range peer.RemoteTracks() {
		p.AttachTrack(track)
	}
}

// Unbind releases the current peer and stops remote playback. A pending
// hold is undone on the sink so the next call starts audible.
func (p *Pipeline) Unbind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unbindLocked()
}

func (p *Pipeline) unbindLocked() {
	if p.peer == nil {
		return
	}
	if p.hold != nil {
		p.sink.SetVolume(p.hold.sinkVolume)
		p.sink.SetMuted(p.hold.sinkMuted)
		p.hold = nil
	}
	p.peer = nil
	p.bound = make(map[string]struct{})
	p.sink.Stop()
}

// Bound reports whether a peer is bound
func (p *Pipeline) Bound() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer != nil
}

// AttachTrack plays track unless it was already attached for this peer
func (p *Pipeline) AttachTrack(track RemoteTrack) {
	if track == nil {
		return
	}
	p.mu.Lock()
	if p.peer == nil {
		p.mu.Unlock()
		return
	}
	if _, ok := p.bound[track.ID()]; ok {
		p.mu.Unlock()
		return
	}
	p.bound[track.ID()] = struct{}{}
	p.mu.Unlock()

	p.log.WithField("track_id", track.ID()).Debug("attaching remote track")
	p.sink.Play(track)
}

// ToggleMute flips the first local sender's enabled flag, applies it to
// all senders and returns the new muted state.
func (p *Pipeline) ToggleMute() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders := p.sendersLocked()
	if len(senders) == 0 {
		return false, ErrNoLocalSender
	}
	enable := !senders[0].Enabled()
	for _, s := range senders {
		s.SetEnabled(enable)
	}
	return !enable, nil
}

// Muted reads the mute state from the first local sender
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hold != nil {
		return p.hold.muted
	}
	senders := p.sendersLocked()
	return len(senders) > 0 && !senders[0].Enabled()
}

// ApplyHoldState silences both directions on hold and restores them on
// resume. Entering hold twice keeps the first memo. It returns the mute
// state the user had before hold.
func (p *Pipeline) ApplyHoldState(hold bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders := p.sendersLocked()
	if hold {
		if p.hold != nil {
			return p.hold.muted
		}
		p.hold = &holdMemo{
			muted:      len(senders) > 0 && !senders[0].Enabled(),
			sinkVolume: p.sink.Volume(),
			sinkMuted:  p.sink.Muted(),
		}
		for _, s := range senders {
			s.SetEnabled(false)
		}
		p.sink.SetMuted(true)
		p.sink.SetVolume(0)
		return p.hold.muted
	}

	if p.hold == nil {
		return len(senders) > 0 && !senders[0].Enabled()
	}
	memo := p.hold
	p.hold = nil
	for _, s := range senders {
		s.SetEnabled(!memo.muted)
	}
	p.sink.SetVolume(memo.sinkVolume)
	p.sink.SetMuted(memo.sinkMuted)
	return memo.muted
}

// OnHold reports whether a hold memo is outstanding
func (p *Pipeline) OnHold() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hold != nil
}

func (p *Pipeline) sendersLocked() []Sender {
	if p.peer == nil {
		return nil
	}
	return p.peer.Senders()
}
