/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package media

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// Direction is an SDP media direction attribute
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
)

func isDirection(key string) bool {
	switch Direction(key) {
	case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
		return true
	}
	return false
}

// IsRemoteHold reports whether an offer with this direction puts us on hold
func (d Direction) IsRemoteHold() bool {
	return d == DirectionSendOnly || d == DirectionInactive
}

// SetDirection rewrites the direction of every audio section of raw and
// bumps the origin version so the result is a valid re-offer.
func SetDirection(raw string, dir Direction) (string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("error parsing SDP: %w", err)
	}

	sd.Attributes = withoutDirection(sd.Attributes)
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		md.Attributes = append(withoutDirection(md.Attributes), sdp.NewPropertyAttribute(string(dir)))
	}
	sd.Origin.SessionVersion++

	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("error encoding SDP: %w", err)
	}
	return string(out), nil
}

// DetectDirection returns the direction of the first audio section,
// falling back to the session level and then to sendrecv.
func DetectDirection(raw string) (Direction, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("error parsing SDP: %w", err)
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		for _, a := range md.Attributes {
			if isDirection(a.Key) {
				return Direction(a.Key), nil
			}
		}
		break
	}
	for _, a := range sd.Attributes {
		if isDirection(a.Key) {
			return Direction(a.Key), nil
		}
	}
	return DirectionSendRecv, nil
}

func withoutDirection(attrs []sdp.Attribute) []sdp.Attribute {
	out := attrs[:0:0]
	for _, a := range attrs {
		if !isDirection(a.Key) {
			out = append(out, a)
		}
	}
	return out
}
