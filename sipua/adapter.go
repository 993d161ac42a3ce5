/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package sipua is the signaling side of the softphone: a SIP user agent
// built on sipgo that registers, places and receives calls, and reports
// everything as calling.Event values on one ordered stream.
package sipua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/sirupsen/logrus"
	"github.com/tejzpr/crm-softphone/calling"
	"github.com/tejzpr/crm-softphone/media"
)

var (
	// ErrNotRegistered is returned by Call before registration succeeded
	ErrNotRegistered = errors.New("not registered")

	// ErrSessionInProgress is returned by Call while a session exists
	ErrSessionInProgress = errors.New("a session is already in progress")

	// ErrNoSession is returned by Transfer without an established call
	ErrNoSession = errors.New("no established session")

	// ErrUnsupportedTransfer is returned for transfer types REFER cannot carry
	ErrUnsupportedTransfer = errors.New("transfer type not supported")
)

// Config holds the user agent settings
type Config struct {
	// Domain is used for identities and targets without a host part
	Domain string
	// Registrar is host[:port] of the registrar, defaulting to the identity's host
	Registrar string
	// Transport is udp, tcp, ws or wss
	Transport string
	// ListenAddr is where in-dialog requests are received. Leave it empty
	// for ws/wss, where requests arrive over the outbound connection.
	ListenAddr string
	// ContactHost and ContactPort are advertised in Contact headers
	ContactHost string
	ContactPort int
	DisplayName string
	UserAgent   string
	// Expiry is the requested registration lifetime
	Expiry time.Duration
	// RefreshRatio is the part of the granted expiry after which REGISTER is re-sent
	RefreshRatio float64
	// RequestTimeout bounds every non-INVITE transaction
	RequestTimeout time.Duration
	// DTMFDuration is the Duration field of SIP INFO digits
	DTMFDuration time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Transport:      "udp",
		ListenAddr:     "0.0.0.0:5060",
		ContactPort:    5060,
		UserAgent:      "crm-softphone",
		Expiry:         300 * time.Second,
		RefreshRatio:   0.8,
		RequestTimeout: 10 * time.Second,
		DTMFDuration:   160 * time.Millisecond,
	}
}

// Peer is the WebRTC side of one call
type Peer interface {
	media.Peer
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetRemoteOffer(sdp string) error
	SetRemoteAnswer(sdp string) error
	LocalDescription() string
	Close() error
}

// PeerFunc creates the peer for a new call
type PeerFunc func() (Peer, error)

// Adapter is the SIP transport. Its methods never block on the network;
// outcomes arrive on Events.
type Adapter struct {
	config  *Config
	ua      *sipgo.UserAgent
	client  *sipgo.Client
	server  *sipgo.Server
	newPeer PeerFunc
	events  *eventQueue
	log     logrus.FieldLogger

	// ctx bounds the listener for the lifetime of the adapter
	ctx  context.Context
	stop context.CancelFunc

	mu         sync.Mutex
	aor        sip.Uri
	password   string
	contact    sip.ContactHeader
	registered bool
	regCancel  context.CancelFunc
	unreg      chan struct{}
	listening  bool
	regCallID  string
	regCSeq    uint32
	current    *call
	calls      map[string]*call
}

// NewAdapter creates the user agent. Nothing is sent until Connect.
func NewAdapter(config *Config, newPeer PeerFunc, logger logrus.FieldLogger) (*Adapter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if newPeer == nil {
		return nil, fmt.Errorf("peer factory is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(config.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("error creating user agent: %w", err)
	}
	var clientOpts []sipgo.ClientOption
	if config.ContactHost != "" {
		clientOpts = append(clientOpts, sipgo.WithClientHostname(config.ContactHost))
	}
	client, err := sipgo.NewClient(ua, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("error creating client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("error creating server: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	a := &Adapter{
		ctx:     ctx,
		stop:    stop,
		config:  config,
		ua:      ua,
		client:  client,
		server:  server,
		newPeer: newPeer,
		events:  newEventQueue(),
		log:     logger.WithField("component", "sipua"),
		calls:   make(map[string]*call),
	}
	server.OnInvite(a.onInvite)
	server.OnAck(a.onAck)
	server.OnBye(a.onBye)
	server.OnCancel(a.onCancel)
	server.OnNotify(a.onNotify)
	server.OnOptions(a.onOptions)
	return a, nil
}

// Events returns the ordered event stream. It is closed by Close.
func (a *Adapter) Events() <-chan calling.Event {
	return a.events.out
}

// Registered reports whether the last REGISTER succeeded
func (a *Adapter) Registered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registered
}

// Close unregisters, ends the current call and closes the event stream.
// It waits for the unregister transaction, bounded by RequestTimeout,
// before the transports go down.
func (a *Adapter) Close() error {
	a.Disconnect()
	a.mu.Lock()
	unreg := a.unreg
	a.mu.Unlock()
	if unreg != nil {
		<-unreg
	}
	a.stop()
	a.events.close()
	return a.ua.Close()
}

func (a *Adapter) emit(ev calling.Event) {
	a.events.push(ev)
}

// lookup returns the live call behind s
func (a *Adapter) lookup(s *calling.Session) *call {
	if s == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.calls[s.ID]
	if c == nil || c.session != s {
		return nil
	}
	return c
}

func (a *Adapter) byCallID(id string) *call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[id]
}

func (a *Adapter) currentCall() *call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Adapter) contactHeader() sip.ContactHeader {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contact
}

func (a *Adapter) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", allowedMethods))
	if err := tx.Respond(res); err != nil {
		a.log.WithError(err).Debug("OPTIONS response failed")
	}
}

// listen starts the listener once. It stays up across reconnects until
// Close.
func (a *Adapter) listen() {
	if a.config.ListenAddr == "" {
		return
	}
	a.mu.Lock()
	if a.listening {
		a.mu.Unlock()
		return
	}
	a.listening = true
	a.mu.Unlock()
	go a.serve(a.ctx)
}

// serve receives requests until ctx is done
func (a *Adapter) serve(ctx context.Context) {
	err := a.server.ListenAndServe(ctx, a.config.Transport, a.config.ListenAddr)
	a.mu.Lock()
	a.listening = false
	a.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		a.log.WithError(err).Error("SIP listener stopped")
		a.emit(calling.Disconnected{Cause: err.Error()})
	}
}

const allowedMethods = "INVITE, ACK, CANCEL, BYE, NOTIFY, REFER, OPTIONS, INFO"
var _ calling.Transport = (*Adapter)(nil)
