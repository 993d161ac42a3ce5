/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/zaf/g711"
)

// PeerConfig holds configuration for new peer connections
type PeerConfig struct {
	// ICEServers are STUN/TURN URLs
	ICEServers []string
	// GatherTimeout bounds ICE gathering when building an offer or answer
	GatherTimeout time.Duration
}

// DefaultPeerConfig returns a PeerConfig with a public STUN server
func DefaultPeerConfig() *PeerConfig {
	return &PeerConfig{
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		GatherTimeout: 5 * time.Second,
	}
}

// PeerFactory creates one PionPeer per session. All peers share the
// codec and interceptor setup.
type PeerFactory struct {
	api    *webrtc.API
	config *PeerConfig
	mic    Microphone
	log    logrus.FieldLogger
}

// NewPeerFactory registers PCMU and PCMA only, matching what G.711 SIP
// endpoints negotiate.
func NewPeerFactory(config *PeerConfig, mic Microphone, logger logrus.FieldLogger) (*PeerFactory, error) {
	if config == nil {
		config = DefaultPeerConfig()
	}
	if mic == nil {
		mic = SilenceMicrophone{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: SampleRate},
		PayloadType:        payloadTypePCMU,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: SampleRate},
		PayloadType:        payloadTypePCMA,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMA: %w", err)
	}

	// Early media can arrive before the answer is applied
	settings := webrtc.SettingEngine{}
	settings.SetHandleUndeclaredSSRCWithoutAnswer(true)

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	return &PeerFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithSettingEngine(settings),
			webrtc.WithInterceptorRegistry(i),
		),
		config: config,
		mic:    mic,
		log:    logger.WithField("component", "media.peer"),
	}, nil
}

// NewPeer creates a peer connection with one sendrecv PCMU sender
func (f *PeerFactory) NewPeer() (*PionPeer, error) {
	pcConfig := webrtc.Configuration{}
	if len(f.config.ICEServers) > 0 {
		pcConfig.ICEServers = []webrtc.ICEServer{{URLs: f.config.ICEServers}}
	}

	pc, err := f.api.NewPeerConnection(pcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	id := uuid.New().String()
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: SampleRate},
		"audio-"+id, "softphone",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	transceiver, err := pc.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	peer := &PionPeer{
		pc:            pc,
		gatherTimeout: f.config.GatherTimeout,
		sender:        &localSender{id: track.ID()},
		done:          make(chan struct{}),
		log:           f.log.WithField("peer_id", id),
	}
	peer.sender.enabled.Store(true)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		peer.log.Debugf("connection state -> %s", s)
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		peer.log.Debugf("remote track codec=%s ssrc=%d", remote.Codec().MimeType, remote.SSRC())
		t := &pionRemoteTrack{track: remote}
		peer.mu.Lock()
		peer.remote = append(peer.remote, t)
		handler := peer.onTrack
		peer.mu.Unlock()
		if handler != nil {
			handler(t)
		}
	})

	// RTCP must be drained for the interceptors to work
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := transceiver.Sender().Read(buf); err != nil {
				return
			}
		}
	}()
	go peer.capture(f.mic, track)

	return peer, nil
}

// PionPeer is a Peer backed by a pion PeerConnection
type PionPeer struct {
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration
	sender        *localSender
	done          chan struct{}
	closeOnce     sync.Once
	log           logrus.FieldLogger

	mu      sync.Mutex
	remote  []RemoteTrack
	onTrack func(RemoteTrack)
}

// Senders implements Peer
func (p *PionPeer) Senders() []Sender {
	return []Sender{p.sender}
}

// RemoteTracks implements Peer
func (p *PionPeer) RemoteTracks() []RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RemoteTrack, len(p.remote))
	copy(out, p.remote)
	return out
}

// OnTrack implements Peer
func (p *PionPeer) OnTrack(handler func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = handler
}

// CreateOffer returns the local offer with gathered candidates
func (p *PionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return p.setLocal(ctx, offer)
}

// CreateAnswer answers the remote offer set with SetRemoteOffer
func (p *PionPeer) CreateAnswer(ctx context.Context) (string, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return p.setLocal(ctx, answer)
}

func (p *PionPeer) setLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	timeout := p.gatherTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		p.log.Warn("ICE gathering timed out, sending partial candidates")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return local.SDP, nil
}

// LocalDescription returns the current local SDP, or "" before negotiation
func (p *PionPeer) LocalDescription() string {
	if d := p.pc.LocalDescription(); d != nil {
		return d.SDP
	}
	return ""
}

// SetRemoteOffer applies an incoming offer
func (p *PionPeer) SetRemoteOffer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

// SetRemoteAnswer applies the answer to our offer. A duplicate answer
// arriving in the stable state is ignored.
func (p *PionPeer) SetRemoteAnswer(sdp string) error {
	if p.pc.SignalingState() == webrtc.SignalingStateStable {
		p.log.Debug("ignoring duplicate SDP answer")
		return nil
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// Close stops capture and closes the peer connection
func (p *PionPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if closeErr := p.pc.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close peer connection: %w", closeErr)
		}
	})
	return err
}

// capture sends one PCMU packet every 20ms. A disabled sender sends
// silence so the far end keeps its jitter buffer.
func (p *PionPeer) capture(mic Microphone, track *webrtc.TrackLocalStaticRTP) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	frame := make([]int16, FrameSamples)
	payload := make([]byte, FrameSamples)
	var seq uint16
	var ts uint32
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		if p.sender.Enabled() && mic.ReadFrame(frame) == nil {
			for i, s := range frame {
				payload[i] = g711.EncodeUlawFrame(s)
			}
		} else {
			for i := range payload {
				payload[i] = 0xFF
			}
		}

		seq++
		ts += FrameSamples
		if err := track.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    payloadTypePCMU,
				SequenceNumber: seq,
				Timestamp:      ts,
				Marker:         seq == 1,
			},
			Payload: payload,
		}); err != nil {
			p.log.WithError(err).Debug("local audio write failed")
			return
		}
	}
}

type localSender struct {
	id      string
	enabled atomic.Bool
}

func (s *localSender) ID() string         { return s.id }
func (s *localSender) Enabled() bool      { return s.enabled.Load() }
func (s *localSender) SetEnabled(on bool) { s.enabled.Store(on) }

type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionRemoteTrack) ID() string {
	return fmt.Sprintf("%s-%d", t.track.ID(), t.track.SSRC())
}

func (t *pionRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}
