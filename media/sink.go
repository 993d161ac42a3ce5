/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zaf/g711"
)

// Sink plays one remote track at a time. Playing a new track stops the
// previous one.
type Sink struct {
	mu     sync.Mutex
	out    Output
	volume float64
	muted  bool
	track  RemoteTrack
	stop   chan struct{}
	log    logrus.FieldLogger
}

// NewSink creates a sink writing to out at full volume
func NewSink(out Output, logger logrus.FieldLogger) *Sink {
	if out == nil {
		out = DiscardOutput{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sink{
		out:    out,
		volume: 1,
		log:    logger.WithField("component", "media.sink"),
	}
}

// Play starts reading track into the output
func (s *Sink) Play(track RemoteTrack) {
	if track == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	stop := make(chan struct{})
	s.track = track
	s.stop = stop
	go s.pump(track, stop)
}

// Stop detaches the current track. The read loop exits on its next packet
// or when the track is closed with its peer connection.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sink) stopLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.track = nil
}

// Track returns the track being played, if any
func (s *Sink) Track() RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// Volume returns the playback gain in [0, 1]
func (s *Sink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume sets the playback gain, clamped to [0, 1]
func (s *Sink) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

// Muted reports whether playback is muted
func (s *Sink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetMuted mutes or unmutes playback
func (s *Sink) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *Sink) pump(track RemoteTrack, stop <-chan struct{}) {
	var packets int
	for {
		pkt, err := track.ReadRTP()
		if err != nil {
			s.log.WithError(err).Debugf("remote track %s ended after %d packets", track.ID(), packets)
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		packets++

		samples := decodeG711(pkt.PayloadType, pkt.Payload)
		if samples == nil {
			continue
		}

		s.mu.Lock()
		volume, muted := s.volume, s.muted
		s.mu.Unlock()
		if muted || volume == 0 {
			continue
		}
		if volume < 1 {
			for i, v := range samples {
				samples[i] = int16(float64(v) * volume)
			}
		}
		if err := s.out.WriteSamples(samples); err != nil {
			s.log.WithError(err).Warn("audio output write failed")
			return
		}
	}
}

// decodeG711 returns nil for payload types other than PCMU and PCMA
func decodeG711(payloadType uint8, payload []byte) []int16 {
	var decode func(uint8) int16
	switch payloadType {
	case payloadTypePCMU:
		decode = g711.DecodeUlawFrame
	case payloadTypePCMA:
		decode = g711.DecodeAlawFrame
	default:
		return nil
	}
	samples := make([]int16, len(payload))
	for i, b := range payload {
		samples[i] = decode(b)
	}
	return samples
}
