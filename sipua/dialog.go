/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"errors"

	"github.com/emiago/sipgo/sip"
)

var errNoFinalResponse = errors.New("transaction ended without a final response")

// dialog is what requests inside an established call need
type dialog struct {
	callID    sip.CallIDHeader
	localURI  sip.Uri
	localTag  string
	remoteURI sip.Uri
	remoteTag string
	target    sip.Uri
	routes    []sip.Uri
	cseq      uint32
}

// uacDialog is the dialog of a call we placed, from our INVITE and its 2xx
func uacDialog(invite *sip.Request, ok *sip.Response) *dialog {
	d := &dialog{
		callID:    *invite.CallID(),
		localURI:  invite.From().Address,
		localTag:  tagOf(invite.From().Params),
		remoteURI: ok.To().Address,
		remoteTag: tagOf(ok.To().Params),
		target:    invite.Recipient,
		cseq:      invite.CSeq().SeqNo,
	}
	if contact := ok.Contact(); contact != nil {
		d.target = contact.Address
	}
	rr := ok.GetHeaders("Record-Route")
	for i := len(rr) - 1; i >= 0; i-- {
		if h, isRR := rr[i].(*sip.RecordRouteHeader); isRR {
			d.routes = append(d.routes, h.Address)
		}
	}
	return d
}

// uasDialog is the dialog of a call we answered
func uasDialog(invite *sip.Request, localTag string) *dialog {
	d := &dialog{
		callID:    *invite.CallID(),
		localURI:  invite.To().Address,
		localTag:  localTag,
		remoteURI: invite.From().Address,
		remoteTag: tagOf(invite.From().Params),
		target:    invite.From().Address,
	}
	if contact := invite.Contact(); contact != nil {
		d.target = contact.Address
	}
	for _, hdr := range invite.GetHeaders("Record-Route") {
		if h, isRR := hdr.(*sip.RecordRouteHeader); isRR {
			d.routes = append(d.routes, h.Address)
		}
	}
	return d
}

func tagOf(params sip.HeaderParams) string {
	if params == nil {
		return ""
	}
	tag, _ := params.Get("tag")
	return tag
}

// request builds the next in-dialog request. Callers hold the call lock.
func (d *dialog) request(method sip.RequestMethod, contact sip.ContactHeader) *sip.Request {
	d.cseq++
	req := sip.NewRequest(method, d.target)

	from := &sip.FromHeader{Address: d.localURI, Params: sip.NewParams()}
	from.Params = from.Params.Add("tag", d.localTag)
	to := &sip.ToHeader{Address: d.remoteURI, Params: sip.NewParams()}
	if d.remoteTag != "" {
		to.Params = to.Params.Add("tag", d.remoteTag)
	}
	callID := d.callID

	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: d.cseq, MethodName: method})
	req.AppendHeader(&contact)
	for _, route := range d.routes {
		req.AppendHeader(&sip.RouteHeader{Address: route})
	}
	return req
}

// transact sends req and waits for its final response
func (a *Adapter) transact(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := a.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-tx.Responses():
			if int(res.StatusCode) < 200 {
				continue
			}
			return res, nil
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
