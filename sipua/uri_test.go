/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/crm-softphone/media"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		domain   string
		user     string
		host     string
		port     int
		wantErr  bool
	}{
		{name: "bare user", identity: "alice", domain: "pbx.example.com", user: "alice", host: "pbx.example.com"},
		{name: "user at host", identity: " 1001@pbx.example.com ", user: "1001", host: "pbx.example.com"},
		{name: "full uri", identity: "sip:bob@pbx.example.com:5080", user: "bob", host: "pbx.example.com", port: 5080},
		{name: "no domain", identity: "alice", wantErr: true},
		{name: "empty", identity: "  ", domain: "pbx.example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := parseIdentity(tt.identity, tt.domain)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, uri.User)
			assert.Equal(t, tt.host, uri.Host)
			assert.Equal(t, tt.port, uri.Port)
		})
	}
}

func TestTargetURI(t *testing.T) {
	uri, err := targetURI("+15551234", "pbx.example.com")
	require.NoError(t, err)
	assert.Equal(t, "+15551234", uri.User)
	assert.Equal(t, "pbx.example.com", uri.Host)

	uri, err = targetURI("queue@other.example.com", "pbx.example.com")
	require.NoError(t, err)
	assert.Equal(t, "other.example.com", uri.Host)

	_, err = targetURI("100", "")
	assert.Error(t, err)
	_, err = targetURI("", "pbx.example.com")
	assert.Error(t, err)
}

func TestRegistrarURI(t *testing.T) {
	aor, err := parseIdentity("sip:alice@pbx.example.com:5080", "")
	require.NoError(t, err)

	uri, err := registrarURI(aor, "")
	require.NoError(t, err)
	assert.Equal(t, "pbx.example.com", uri.Host)
	assert.Equal(t, 5080, uri.Port)
	assert.Empty(t, uri.User)

	uri, err = registrarURI(aor, "registrar.example.com:5061")
	require.NoError(t, err)
	assert.Equal(t, "registrar.example.com", uri.Host)
	assert.Equal(t, 5061, uri.Port)
}

func TestRemoteParty(t *testing.T) {
	assert.Equal(t, "1001", remoteParty(sip.Uri{User: "1001", Host: "pbx"}))
	assert.Equal(t, "pbx", remoteParty(sip.Uri{Host: "pbx"}))
}

func TestNewTag(t *testing.T) {
	a, b := newTag(), newTag()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}

func TestDTMFInfoBody(t *testing.T) {
	assert.Equal(t, "Signal=5\r\nDuration=160\r\n", dtmfInfoBody("5", 160*time.Millisecond))
	assert.Equal(t, "Signal=#\r\nDuration=250\r\n", dtmfInfoBody("#", 250*time.Millisecond))
}

func TestParseExpires(t *testing.T) {
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Host: "pbx.example.com"})
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	assert.Equal(t, 300*time.Second, parseExpires(res, 300*time.Second))

	res.AppendHeader(sip.NewHeader("Expires", "120"))
	assert.Equal(t, 120*time.Second, parseExpires(res, 300*time.Second))

	assert.Equal(t, time.Minute, parseExpires(nil, time.Minute))
}

func TestSipfragStatus(t *testing.T) {
	assert.Equal(t, 200, sipfragStatus([]byte("SIP/2.0 200 OK\r\n")))
	assert.Equal(t, 180, sipfragStatus([]byte("SIP/2.0 180 Ringing")))
	assert.Equal(t, 0, sipfragStatus([]byte("garbage")))
	assert.Equal(t, 0, sipfragStatus(nil))
}

func TestReasonPhrase(t *testing.T) {
	assert.Equal(t, "Busy Here", reasonPhrase(486))
	assert.Equal(t, "Decline", reasonPhrase(603))
	assert.Equal(t, "Rejected", reasonPhrase(499))
}

func TestAnswerDirection(t *testing.T) {
	tests := []struct {
		offered   media.Direction
		localHold bool
		want      media.Direction
	}{
		{media.DirectionSendOnly, false, media.DirectionRecvOnly},
		{media.DirectionRecvOnly, false, media.DirectionSendOnly},
		{media.DirectionInactive, false, media.DirectionInactive},
		{media.DirectionSendRecv, false, media.DirectionSendRecv},
		{media.DirectionSendRecv, true, media.DirectionSendOnly},
		{media.DirectionRecvOnly, true, media.DirectionSendOnly},
		{media.DirectionSendOnly, true, media.DirectionInactive},
		{media.DirectionInactive, true, media.DirectionInactive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, answerDirection(tt.offered, tt.localHold), "%s held=%v", tt.offered, tt.localHold)
	}
}
