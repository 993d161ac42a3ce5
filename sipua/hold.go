/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"fmt"

	"github.com/emiago/sipgo/sip"
	"github.com/tejzpr/crm-softphone/calling"
	"github.com/tejzpr/crm-softphone/media"
	"github.com/tejzpr/crm-softphone/transfers"
)

// Hold re-offers the current call as sendonly
func (a *Adapter) Hold() {
	a.reinvite(true)
}

// Unhold re-offers the current call as sendrecv
func (a *Adapter) Unhold() {
	a.reinvite(false)
}

func (a *Adapter) reinvite(hold bool) {
	c := a.currentCall()
	if c == nil {
		return
	}
	s := c.session
	contact := a.contactHeader()

	dir := media.DirectionSendRecv
	if hold {
		dir = media.DirectionSendOnly
	}

	c.mu.Lock()
	if c.dlg == nil || c.ended {
		c.mu.Unlock()
		return
	}
	offer, err := c.nextSDP(dir)
	var req *sip.Request
	if err == nil {
		req = c.dlg.request(sip.INVITE, contact)
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
		req.SetBody([]byte(offer))
	}
	c.mu.Unlock()

	if err != nil {
		a.emit(calling.HoldFailed{Session: s, Hold: hold, Cause: err.Error()})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, a.config.RequestTimeout)
		defer cancel()
		res, err := a.transact(ctx, req)
		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			a.emit(calling.HoldFailed{Session: s, Hold: hold, Cause: err.Error()})
			return
		}
		if int(res.StatusCode) >= 300 {
			a.emit(calling.HoldFailed{Session: s, Hold: hold, Cause: responseCause(res)})
			return
		}
		if err := a.client.WriteRequest(sip.NewAckRequest(req, res, nil)); err != nil {
			a.log.WithError(err).Warn("ACK failed")
		}
		c.mu.Lock()
		c.localHold = hold
		c.mu.Unlock()
		if hold {
			a.emit(calling.Hold{Session: s, Originator: calling.OriginatorLocal})
		} else {
			a.emit(calling.Unhold{Session: s, Originator: calling.OriginatorLocal})
		}
	}()
}

// answerDirection is the direction we answer an offer of dir with. While
// we hold the call we never answer with a receiving direction of our own
// that would resume it.
func answerDirection(dir media.Direction, localHold bool) media.Direction {
	if localHold {
		if dir.IsRemoteHold() {
			return media.DirectionInactive
		}
		return media.DirectionSendOnly
	}
	switch dir {
	case media.DirectionSendOnly:
		return media.DirectionRecvOnly
	case media.DirectionRecvOnly:
		return media.DirectionSendOnly
	case media.DirectionInactive:
		return media.DirectionInactive
	default:
		return media.DirectionSendRecv
	}
}

// onReinvite answers a re-INVITE on an established call and reports a
// change of remote hold
func (a *Adapter) onReinvite(req *sip.Request, tx sip.ServerTransaction) {
	c := a.byCallID(req.CallID().Value())
	if c == nil {
		a.respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}

	offered := media.DirectionSendRecv
	if body := req.Body(); len(body) > 0 {
		dir, err := media.DetectDirection(string(body))
		if err != nil {
			a.respond(tx, req, 488, "Not Acceptable Here")
			return
		}
		offered = dir
	}

	c.mu.Lock()
	if c.dlg == nil || c.ended {
		c.mu.Unlock()
		a.respond(tx, req, 491, "Request Pending")
		return
	}
	answer, err := c.nextSDP(answerDirection(offered, c.localHold))
	held := offered.IsRemoteHold()
	changed := err == nil && c.remoteHold != held
	if changed {
		c.remoteHold = held
	}
	c.mu.Unlock()

	if err != nil {
		a.log.WithError(err).Warn("Error answering re-INVITE")
		a.respond(tx, req, 500, "Server Internal Error")
		return
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", []byte(answer))
	contact := a.contactHeader()
	res.AppendHeader(&contact)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(res); err != nil {
		a.log.WithError(err).Warn("re-INVITE response failed")
		return
	}

	if !changed {
		return
	}
	if held {
		a.emit(calling.Hold{Session: c.session, Originator: calling.OriginatorRemote})
	} else {
		a.emit(calling.Unhold{Session: c.session, Originator: calling.OriginatorRemote})
	}
}

// SendDTMF queues digit for the current call. Digits are sent in order
// as SIP INFO.
func (a *Adapter) SendDTMF(digit string) {
	c := a.currentCall()
	if c == nil {
		return
	}
	c.mu.Lock()
	ready := c.dlg != nil && !c.ended
	c.mu.Unlock()
	if !ready {
		return
	}
	select {
	case c.dtmf <- digit:
	default:
		a.log.WithField("digit", digit).Warn("DTMF queue full, dropping digit")
	}
}

func (a *Adapter) dtmfWorker(c *call) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case digit := <-c.dtmf:
			a.sendInfo(c, digit)
		}
	}
}

func (a *Adapter) sendInfo(c *call, digit string) {
	contact := a.contactHeader()
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	req := c.dlg.request(sip.INFO, contact)
	c.mu.Unlock()
	req.AppendHeader(sip.NewHeader("Content-Type", "application/dtmf-relay"))
	req.SetBody([]byte(dtmfInfoBody(digit, a.config.DTMFDuration)))

	ctx, cancel := context.WithTimeout(c.ctx, a.config.RequestTimeout)
	defer cancel()
	res, err := a.transact(ctx, req)
	switch {
	case err != nil:
		a.log.WithError(err).WithField("digit", digit).Warn("DTMF INFO failed")
	case int(res.StatusCode) >= 300:
		a.log.WithField("response", responseCause(res)).Warn("DTMF INFO refused")
	}
}

// Transfer moves the current call with REFER. Only blind transfers are
// supported.
func (a *Adapter) Transfer(ctx context.Context, req *transfers.Request) (*transfers.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("transfer request is required")
	}
	kind := req.Type
	if kind == "" {
		kind = transfers.TypeBlind
	}
	if kind != transfers.TypeBlind {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransfer, kind)
	}

	c := a.currentCall()
	if c == nil || (req.CallID != "" && req.CallID != c.session.ID) {
		return nil, ErrNoSession
	}
	uri, err := targetURI(req.Target, a.domain())
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	aor, contact := a.aor, a.contact
	a.mu.Unlock()

	c.mu.Lock()
	if c.dlg == nil || c.ended {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	refer := c.dlg.request(sip.REFER, contact)
	c.mu.Unlock()
	refer.AppendHeader(sip.NewHeader("Refer-To", "<"+uri.String()+">"))
	refer.AppendHeader(sip.NewHeader("Referred-By", "<"+aor.String()+">"))

	res, err := a.transact(ctx, refer)
	if err != nil {
		return nil, fmt.Errorf("error sending REFER: %w", err)
	}
	if code := int(res.StatusCode); code != 200 && code != 202 {
		cause := responseCause(res)
		return &transfers.Result{OK: false, Error: cause}, fmt.Errorf("%w: %s", transfers.ErrRejected, cause)
	}
	a.log.WithField("target", uri.String()).Info("Transfer accepted")
	return &transfers.Result{OK: true}, nil
}

// onNotify follows the progress of a REFER. The call is released once
// the target answered.
func (a *Adapter) onNotify(req *sip.Request, tx sip.ServerTransaction) {
	c := a.byCallID(req.CallID().Value())
	if c == nil {
		a.respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}
	a.respond(tx, req, 200, "OK")

	code := sipfragStatus(req.Body())
	a.log.WithField("status", code).Debug("Transfer progress")
	if code >= 200 && code < 300 {
		a.bye(c, calling.Ended{Session: c.session, Cause: "Transferred", Originator: calling.OriginatorLocal})
	}
}
