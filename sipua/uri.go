/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// parseIdentity turns "alice", "alice@pbx.example.com" or a sip: URI into
// an address-of-record
func parseIdentity(identity, domain string) (sip.Uri, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return sip.Uri{}, fmt.Errorf("identity is empty")
	}
	if hasScheme(identity) {
		return parseURI(identity)
	}
	if !strings.Contains(identity, "@") {
		if domain == "" {
			return sip.Uri{}, fmt.Errorf("identity %q has no domain", identity)
		}
		identity += "@" + domain
	}
	return parseURI("sip:" + identity)
}

// targetURI turns a dialed number or address into a request URI. Bare
// numbers use domain.
func targetURI(target, domain string) (sip.Uri, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return sip.Uri{}, fmt.Errorf("target is empty")
	}
	if hasScheme(target) {
		return parseURI(target)
	}
	if strings.Contains(target, "@") {
		return parseURI("sip:" + target)
	}
	if domain == "" {
		return sip.Uri{}, fmt.Errorf("target %q has no domain", target)
	}
	return parseURI("sip:" + target + "@" + domain)
}

func hasScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:")
}

func parseURI(s string) (sip.Uri, error) {
	var uri sip.Uri
	if err := sip.ParseUri(s, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("invalid SIP URI %q: %w", s, err)
	}
	return uri, nil
}

// registrarURI is the REGISTER request URI
func registrarURI(aor sip.Uri, registrar string) (sip.Uri, error) {
	if registrar == "" {
		registrar = aor.Host
		if aor.Port > 0 {
			registrar += ":" + strconv.Itoa(aor.Port)
		}
	}
	return parseURI("sip:" + registrar)
}

// remoteParty is what the UI shows for the other side
func remoteParty(addr sip.Uri) string {
	if addr.User != "" {
		return addr.User
	}
	return addr.Host
}

func hasTag(params sip.HeaderParams) bool {
	if params == nil {
		return false
	}
	tag, ok := params.Get("tag")
	return ok && tag != ""
}

func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// dtmfInfoBody is an application/dtmf-relay payload
func dtmfInfoBody(digit string, duration time.Duration) string {
	return fmt.Sprintf("Signal=%s\r\nDuration=%d\r\n", digit, duration.Milliseconds())
}

// parseExpires reads the granted registration lifetime, falling back to
// requested
func parseExpires(res *sip.Response, requested time.Duration) time.Duration {
	if res == nil {
		return requested
	}
	if h := res.GetHeader("Expires"); h != nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return requested
}

// sipfragStatus reads the status code from a message/sipfrag body
func sipfragStatus(body []byte) int {
	line, _, _ := strings.Cut(string(body), "\n")
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "SIP/") {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

func reasonPhrase(code int) string {
	switch code {
	case 480:
		return "Temporarily Unavailable"
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 488:
		return "Not Acceptable Here"
	case 603:
		return "Decline"
	default:
		return "Rejected"
	}
}

func responseCause(res *sip.Response) string {
	return fmt.Sprintf("%d %s", int(res.StatusCode), res.Reason)
}
