/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/tejzpr/crm-softphone/calling"
	"github.com/tejzpr/crm-softphone/media"
)

// call is the SIP side of one session
type call struct {
	session  *calling.Session
	peer     Peer
	incoming bool
	ctx      context.Context
	cancel   context.CancelFunc
	dtmf     chan string

	mu         sync.Mutex
	invite     *sip.Request
	inviteTx   sip.ServerTransaction
	localTag   string
	dlg        *dialog
	sdp        string
	settled    bool
	confirmed  bool
	ended      bool
	localHold  bool
	remoteHold bool
}

func newCall(s *calling.Session, peer Peer, incoming bool) *call {
	ctx, cancel := context.WithCancel(context.Background())
	c := &call{
		session:  s,
		peer:     peer,
		incoming: incoming,
		ctx:      ctx,
		cancel:   cancel,
		dtmf:     make(chan string, 64),
	}
	s.Handle = c
	return c
}

func (a *Adapter) domain() string {
	if a.config.Domain != "" {
		return a.config.Domain
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aor.Host
}

// Call places an outgoing call. The session is returned before the INVITE
// is sent.
func (a *Adapter) Call(target string, opts calling.CallOptions) (*calling.Session, error) {
	a.mu.Lock()
	registered, busy := a.registered, a.current != nil
	a.mu.Unlock()
	if !registered {
		return nil, ErrNotRegistered
	}
	if busy {
		return nil, ErrSessionInProgress
	}

	uri, err := targetURI(target, a.domain())
	if err != nil {
		return nil, err
	}
	peer, err := a.newPeer()
	if err != nil {
		return nil, err
	}

	s := calling.CreateSession(uuid.NewString(), calling.DirectionOutgoing, remoteParty(uri), nil, peer)
	c := newCall(s, peer, false)

	a.mu.Lock()
	if a.current != nil {
		a.mu.Unlock()
		c.cancel()
		_ = peer.Close()
		return nil, ErrSessionInProgress
	}
	a.current = c
	a.calls[s.ID] = c
	a.mu.Unlock()

	a.watchTracks(c)
	a.emit(calling.NewSession{Session: s})
	go a.invite(c, uri, opts)
	return s, nil
}

func (a *Adapter) watchTracks(c *call) {
	c.peer.OnTrack(func(t media.RemoteTrack) {
		a.emit(calling.Track{Session: c.session, Track: t})
	})
}

// invite runs the outgoing INVITE transaction until the call is answered,
// refused or canceled
func (a *Adapter) invite(c *call, uri sip.Uri, opts calling.CallOptions) {
	s := c.session
	offer, err := c.peer.CreateOffer(c.ctx)
	if err != nil {
		if c.ctx.Err() != nil {
			a.finish(c, calling.Ended{Session: s, Cause: "Canceled", Originator: calling.OriginatorLocal})
			return
		}
		a.finish(c, calling.Failed{Session: s, Cause: "Media error: " + err.Error(), Originator: calling.OriginatorSystem})
		return
	}

	req := a.buildInvite(s.ID, uri, offer, opts)
	c.mu.Lock()
	c.invite = req
	c.sdp = offer
	c.mu.Unlock()

	authorized := false
	for {
		res, err := a.inviteTransaction(c, req)
		if err != nil {
			if c.ctx.Err() != nil {
				a.finish(c, calling.Ended{Session: s, Cause: "Canceled", Originator: calling.OriginatorLocal})
				return
			}
			a.finish(c, calling.Failed{Session: s, Cause: err.Error(), Originator: calling.OriginatorSystem})
			return
		}

		code := int(res.StatusCode)
		if (code == 401 || code == 407) && !authorized {
			authorized = true
			if err := a.authorize(req, res); err != nil {
				a.finish(c, calling.Failed{Session: s, Cause: responseCause(res), Code: code, Originator: calling.OriginatorRemote})
				return
			}
			req.CSeq().SeqNo++
			continue
		}
		if code >= 300 {
			a.finish(c, calling.Failed{Session: s, Cause: responseCause(res), Code: code, Originator: calling.OriginatorRemote})
			return
		}
		a.answered(c, req, res)
		return
	}
}

func (a *Adapter) buildInvite(callID string, uri sip.Uri, offer string, opts calling.CallOptions) *sip.Request {
	a.mu.Lock()
	aor, contact := a.aor, a.contact
	a.mu.Unlock()

	req := sip.NewRequest(sip.INVITE, uri)
	req.AppendHeader(&sip.ToHeader{Address: uri, Params: sip.NewParams()})
	req.AppendHeader(&sip.FromHeader{
		DisplayName: a.config.DisplayName,
		Address:     aor,
		Params:      sip.NewParams().Add("tag", newTag()),
	})
	req.AppendHeader(&contact)
	cid := sip.CallIDHeader(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(sip.NewHeader("Allow", allowedMethods))
	for name, value := range opts.Headers {
		req.AppendHeader(sip.NewHeader(name, value))
	}
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody([]byte(offer))
	return req
}

// inviteTransaction waits for the final response to req. When the call is
// hung up first it sends CANCEL and returns the context error.
func (a *Adapter) inviteTransaction(c *call, req *sip.Request) (*sip.Response, error) {
	tx, err := a.client.TransactionRequest(context.Background(), req)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()

	for {
		select {
		case <-c.ctx.Done():
			a.sendCancel(req)
			return nil, c.ctx.Err()
		case res := <-tx.Responses():
			code := int(res.StatusCode)
			if code >= 200 {
				return res, nil
			}
			if code == 180 || code == 183 {
				a.emit(calling.Progress{Session: c.session, Code: code})
			}
		case <-tx.Done():
			select {
			case res := <-tx.Responses():
				if int(res.StatusCode) >= 200 {
					return res, nil
				}
			default:
			}
			if err := tx.Err(); err != nil {
				return nil, err
			}
			return nil, errNoFinalResponse
		}
	}
}

// sendCancel cancels the pending INVITE req
func (a *Adapter) sendCancel(req *sip.Request) {
	cancel := sip.NewRequest(sip.CANCEL, req.Recipient)
	if via := req.Via(); via != nil {
		cancel.AppendHeader(via)
	}
	cancel.AppendHeader(req.From())
	cancel.AppendHeader(req.To())
	cancel.AppendHeader(req.CallID())
	cancel.AppendHeader(&sip.CSeqHeader{SeqNo: req.CSeq().SeqNo, MethodName: sip.CANCEL})
	cancel.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	if err := a.client.WriteRequest(cancel); err != nil {
		a.log.WithError(err).Warn("CANCEL failed")
	}
}

// answered completes an outgoing call on its 2xx
func (a *Adapter) answered(c *call, req *sip.Request, res *sip.Response) {
	s := c.session
	if err := a.client.WriteRequest(sip.NewAckRequest(req, res, nil)); err != nil {
		a.log.WithError(err).Warn("ACK failed")
	}

	c.mu.Lock()
	c.dlg = uacDialog(req, res)
	c.settled = true
	c.confirmed = true
	c.mu.Unlock()

	if c.ctx.Err() != nil {
		a.bye(c, calling.Ended{Session: s, Cause: "Canceled", Originator: calling.OriginatorLocal})
		return
	}
	if err := c.peer.SetRemoteAnswer(string(res.Body())); err != nil {
		a.log.WithError(err).Warn("Remote answer rejected")
		a.bye(c, calling.Failed{Session: s, Cause: "Media error: " + err.Error(), Code: 488, Originator: calling.OriginatorSystem})
		return
	}

	a.emit(calling.Accepted{Session: s})
	a.emit(calling.Confirmed{Session: s})
	go a.dtmfWorker(c)
}

func (a *Adapter) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	if to := req.To(); to != nil && hasTag(to.Params) {
		a.onReinvite(req, tx)
		return
	}
	if !a.Registered() {
		a.respond(tx, req, 480, "Temporarily Unavailable")
		return
	}
	callID := req.CallID().Value()
	if a.byCallID(callID) != nil {
		return
	}

	peer, err := a.newPeer()
	if err != nil {
		a.log.WithError(err).Error("Error creating peer")
		a.respond(tx, req, 500, "Server Internal Error")
		return
	}
	if err := peer.SetRemoteOffer(string(req.Body())); err != nil {
		a.log.WithError(err).Warn("Remote offer rejected")
		_ = peer.Close()
		a.respond(tx, req, 488, "Not Acceptable Here")
		return
	}

	s := calling.CreateSession(callID, calling.DirectionIncoming, remoteParty(req.From().Address), nil, peer)
	c := newCall(s, peer, true)
	c.invite = req
	c.inviteTx = tx
	c.localTag = newTag()

	a.mu.Lock()
	a.calls[callID] = c
	if a.current == nil {
		a.current = c
	}
	a.mu.Unlock()

	a.watchTracks(c)
	if err := a.respondInvite(c, 180, "Ringing", nil); err != nil {
		a.log.WithError(err).Warn("Ringing response failed")
	}
	a.emit(calling.NewSession{Session: s})
	go a.watchInvite(c, tx)
}

func (a *Adapter) respond(tx sip.ServerTransaction, req *sip.Request, code int, reason string) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCode(code), reason, nil)); err != nil {
		a.log.WithError(err).WithField("code", code).Debug("Response failed")
	}
}

// respondInvite answers the incoming INVITE of c with our To tag
func (a *Adapter) respondInvite(c *call, code int, reason string, body []byte) error {
	res := sip.NewResponseFromRequest(c.invite, sip.StatusCode(code), reason, body)
	if to := res.To(); to != nil && !hasTag(to.Params) {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params = to.Params.Add("tag", c.localTag)
	}
	if code < 300 {
		contact := a.contactHeader()
		res.AppendHeader(&contact)
	}
	if body != nil {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	return c.inviteTx.Respond(res)
}

// watchInvite reports an incoming call that went away before we settled it
func (a *Adapter) watchInvite(c *call, tx sip.ServerTransaction) {
	select {
	case <-c.ctx.Done():
		return
	case <-tx.Done():
	}
	c.mu.Lock()
	settled := c.settled
	c.settled = true
	c.mu.Unlock()
	if !settled {
		a.finish(c, calling.Failed{Session: c.session, Cause: "Canceled", Code: 487, Originator: calling.OriginatorRemote})
	}
}

// Answer accepts the incoming session s
func (a *Adapter) Answer(s *calling.Session) {
	c := a.lookup(s)
	if c == nil || !c.incoming || !c.settle() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, a.config.RequestTimeout)
		defer cancel()
		answer, err := c.peer.CreateAnswer(ctx)
		if err != nil {
			_ = a.respondInvite(c, 500, "Server Internal Error", nil)
			a.finish(c, calling.Failed{Session: s, Cause: "Media error: " + err.Error(), Code: 500, Originator: calling.OriginatorSystem})
			return
		}
		// the ACK may arrive as soon as the 200 is out; onAck waits for
		// the dialog and Accepted under c.mu
		c.mu.Lock()
		if err := a.respondInvite(c, 200, "OK", []byte(answer)); err != nil {
			c.mu.Unlock()
			a.finish(c, calling.Failed{Session: s, Cause: err.Error(), Originator: calling.OriginatorSystem})
			return
		}
		c.dlg = uasDialog(c.invite, c.localTag)
		c.sdp = answer
		a.emit(calling.Accepted{Session: s})
		c.mu.Unlock()

		a.mu.Lock()
		if a.current == nil {
			a.current = c
		}
		a.mu.Unlock()
		go a.dtmfWorker(c)
	}()
}

// Reject refuses the incoming session s with statusCode
func (a *Adapter) Reject(s *calling.Session, statusCode int) {
	c := a.lookup(s)
	if c == nil || !c.incoming || !c.settle() {
		return
	}
	reason := reasonPhrase(statusCode)
	go func() {
		if err := a.respondInvite(c, statusCode, reason, nil); err != nil {
			a.log.WithError(err).Warn("Reject response failed")
		}
		a.finish(c, calling.Failed{Session: s, Cause: reason, Code: statusCode, Originator: calling.OriginatorLocal})
	}()
}

// nextSDP is the last local SDP sent with its direction set to dir and
// its origin version bumped. Callers hold c.mu.
func (c *call) nextSDP(dir media.Direction) (string, error) {
	base := c.sdp
	if base == "" {
		base = c.peer.LocalDescription()
	}
	out, err := media.SetDirection(base, dir)
	if err != nil {
		return "", err
	}
	c.sdp = out
	return out, nil
}

// settle marks the final INVITE response as decided, once
func (c *call) settle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled || c.ended {
		return false
	}
	c.settled = true
	return true
}

func (a *Adapter) onAck(req *sip.Request, tx sip.ServerTransaction) {
	c := a.byCallID(req.CallID().Value())
	if c == nil {
		return
	}
	c.mu.Lock()
	first := c.incoming && c.dlg != nil && !c.confirmed && !c.ended
	if first {
		c.confirmed = true
	}
	c.mu.Unlock()
	if first {
		a.emit(calling.Confirmed{Session: c.session})
	}
}

func (a *Adapter) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	a.respond(tx, req, 200, "OK")
	c := a.byCallID(req.CallID().Value())
	if c == nil || !c.incoming || !c.settle() {
		return
	}
	if err := a.respondInvite(c, 487, "Request Terminated", nil); err != nil {
		a.log.WithError(err).Debug("487 response failed")
	}
	a.finish(c, calling.Failed{Session: c.session, Cause: "Canceled", Code: 487, Originator: calling.OriginatorRemote})
}

func (a *Adapter) onBye(req *sip.Request, tx sip.ServerTransaction) {
	c := a.byCallID(req.CallID().Value())
	if c == nil {
		a.respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}
	a.respond(tx, req, 200, "OK")
	a.finish(c, calling.Ended{Session: c.session, Cause: "Normal Clearing", Originator: calling.OriginatorRemote})
}

// Hangup ends the current session whatever its phase
func (a *Adapter) Hangup() {
	c := a.currentCall()
	if c == nil {
		return
	}
	c.mu.Lock()
	established := c.dlg != nil
	c.mu.Unlock()

	switch {
	case established:
		a.bye(c, calling.Ended{Session: c.session, Cause: "Terminated", Originator: calling.OriginatorLocal})
	case c.incoming:
		a.Reject(c.session, 603)
	default:
		// the INVITE goroutine sends CANCEL and reports the end
		c.cancel()
	}
}

// bye sends BYE on an established call and finishes it with ev
func (a *Adapter) bye(c *call, ev calling.Event) {
	contact := a.contactHeader()
	c.mu.Lock()
	if c.ended || c.dlg == nil {
		c.mu.Unlock()
		return
	}
	req := c.dlg.request(sip.BYE, contact)
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.RequestTimeout)
		defer cancel()
		res, err := a.transact(ctx, req)
		if err != nil {
			a.log.WithError(err).Warn("BYE failed")
			return
		}
		if int(res.StatusCode) >= 300 {
			a.log.WithField("response", responseCause(res)).Warn("BYE refused")
		}
	}()
	a.finish(c, ev)
}

// finish removes c and reports its end once
func (a *Adapter) finish(c *call, ev calling.Event) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()

	a.mu.Lock()
	if a.calls[c.session.ID] == c {
		delete(a.calls, c.session.ID)
	}
	if a.current == c {
		a.current = nil
	}
	a.mu.Unlock()

	a.emit(ev)
	c.cancel()
	if err := c.peer.Close(); err != nil {
		a.log.WithError(err).Debug("Error closing peer")
	}
}
