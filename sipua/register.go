/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"
	"github.com/tejzpr/crm-softphone/calling"
)

// Connect starts the listener and the registration loop for identity.
// A previous registration loop is stopped first.
func (a *Adapter) Connect(identity, credential string) {
	aor, err := parseIdentity(identity, a.config.Domain)
	if err != nil {
		a.emit(calling.RegistrationFailed{Cause: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if a.regCancel != nil {
		a.regCancel()
	}
	a.regCancel = cancel
	a.aor = aor
	a.password = credential
	a.registered = false
	a.regCallID = uuid.NewString()
	a.contact = sip.ContactHeader{Address: a.contactURI(aor)}
	a.mu.Unlock()

	a.log.WithField("aor", aor.String()).Info("Connecting")
	a.emit(calling.Connecting{})
	a.listen()
	go a.registerLoop(ctx)
}

func (a *Adapter) contactURI(aor sip.Uri) sip.Uri {
	host := a.config.ContactHost
	if host == "" {
		host = "127.0.0.1"
	}
	return sip.Uri{Scheme: "sip", User: aor.User, Host: host, Port: a.config.ContactPort}
}

// Disconnect stops registering, ends the current call and unregisters.
// The unregister runs in the background; Close waits for it.
func (a *Adapter) Disconnect() {
	done := make(chan struct{})
	a.mu.Lock()
	cancel := a.regCancel
	a.regCancel = nil
	wasRegistered := a.registered
	a.registered = false
	if cancel != nil {
		a.unreg = done
	}
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	a.Hangup()

	go func() {
		defer close(done)
		if wasRegistered {
			ctx, stop := context.WithTimeout(context.Background(), a.config.RequestTimeout)
			defer stop()
			if _, err := a.register(ctx, 0); err != nil {
				a.log.WithError(err).Warn("Unregister failed")
			}
		}
		a.emit(calling.Disconnected{Cause: "Unregistered"})
	}()
}

// registerLoop registers and refreshes before the granted expiry runs out
func (a *Adapter) registerLoop(ctx context.Context) {
	connected := false
	for {
		reqCtx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
		granted, err := a.register(reqCtx, a.config.Expiry)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if !connected && !isTransportError(err) {
			connected = true
			a.emit(calling.Connected{})
		}
		if err != nil {
			a.mu.Lock()
			a.registered = false
			a.mu.Unlock()
			a.log.WithError(err).Warn("Registration failed")
			a.emit(calling.RegistrationFailed{Cause: err.Error()})
			return
		}

		a.mu.Lock()
		a.registered = true
		a.mu.Unlock()
		a.log.WithField("expires", granted).Debug("Registered")
		a.emit(calling.Registered{})

		refresh := time.Duration(float64(granted) * a.config.RefreshRatio)
		if refresh <= 0 {
			refresh = granted
		}
		timer := time.NewTimer(refresh)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// registrationError is a final non-2xx answer from the registrar
type registrationError struct {
	res *sip.Response
}

func (e *registrationError) Error() string {
	return responseCause(e.res)
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*registrationError)
	return !ok
}

// register sends one REGISTER, answering a digest challenge once, and
// returns the granted expiry
func (a *Adapter) register(ctx context.Context, expiry time.Duration) (time.Duration, error) {
	a.mu.Lock()
	aor := a.aor
	contact := a.contact
	callID := sip.CallIDHeader(a.regCallID)
	a.mu.Unlock()

	recipient, err := registrarURI(aor, a.config.Registrar)
	if err != nil {
		return 0, err
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})
	req.AppendHeader(&sip.FromHeader{
		DisplayName: a.config.DisplayName,
		Address:     aor,
		Params:      sip.NewParams().Add("tag", newTag()),
	})
	req.AppendHeader(&contact)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: atomic.AddUint32(&a.regCSeq, 1), MethodName: sip.REGISTER})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expiry.Seconds()))))
	req.AppendHeader(sip.NewHeader("Allow", allowedMethods))

	res, err := a.transact(ctx, req)
	if err != nil {
		return 0, err
	}
	if code := int(res.StatusCode); code == 401 || code == 407 {
		if err := a.authorize(req, res); err != nil {
			return 0, err
		}
		req.CSeq().SeqNo = atomic.AddUint32(&a.regCSeq, 1)
		if res, err = a.transact(ctx, req); err != nil {
			return 0, err
		}
	}
	if int(res.StatusCode) >= 300 {
		return 0, &registrationError{res: res}
	}
	return parseExpires(res, expiry), nil
}

// authorize adds digest credentials answering the challenge in res and
// prepares req to be sent again as a new transaction
func (a *Adapter) authorize(req *sip.Request, res *sip.Response) error {
	challengeName, credentialName := "WWW-Authenticate", "Authorization"
	if int(res.StatusCode) == 407 {
		challengeName, credentialName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	h := res.GetHeader(challengeName)
	if h == nil {
		return fmt.Errorf("%s without %s header", responseCause(res), challengeName)
	}
	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return fmt.Errorf("error parsing challenge: %w", err)
	}

	a.mu.Lock()
	username, password := a.aor.User, a.password
	a.mu.Unlock()

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: username,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("error computing digest: %w", err)
	}

	req.RemoveHeader(credentialName)
	req.AppendHeader(sip.NewHeader(credentialName, cred.String()))
	req.RemoveHeader("Via")
	return nil
}
