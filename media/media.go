/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package media binds the audio of the current call: local senders on the
// peer connection, the single remote-audio sink, and the mute/hold rules
// that drive both.
package media

import (
	"errors"

	"github.com/pion/rtp"
)

var (
	// ErrMicrophoneDenied is returned when the microphone cannot be opened
	ErrMicrophoneDenied = errors.New("microphone access denied")

	// ErrNoLocalSender is returned by ToggleMute when no local audio sender is bound
	ErrNoLocalSender = errors.New("no local audio sender")
)

// Sender is a local audio sender on a peer connection. A disabled sender
// keeps the RTP stream alive but transmits silence.
type Sender interface {
	ID() string
	Enabled() bool
	SetEnabled(enabled bool)
}

// RemoteTrack is an inbound audio track
type RemoteTrack interface {
	ID() string
	ReadRTP() (*rtp.Packet, error)
}

// Peer is the media side of a session as seen by the Pipeline
type Peer interface {
	Senders() []Sender
	RemoteTracks() []RemoteTrack
	// OnTrack registers the handler for tracks that arrive later. It
	// replaces any previous handler.
	OnTrack(handler func(RemoteTrack))
}

// Output consumes decoded 16-bit mono PCM at 8 kHz
type Output interface {
	WriteSamples(samples []int16) error
}

// DiscardOutput drops all samples
type DiscardOutput struct{}

// WriteSamples implements Output
func (DiscardOutput) WriteSamples([]int16) error { return nil }

const (
	// SampleRate is the G.711 clock rate
	SampleRate = 8000
	// FrameSamples is one 20ms packet at SampleRate
	FrameSamples = 160

	payloadTypePCMU = 0
	payloadTypePCMA = 8
)
