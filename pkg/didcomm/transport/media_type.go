/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import "strings"

const (
	// MediaTypeEncryptedEnvelope is the media type for encrypted JWM envelopes.
	MediaTypeEncryptedEnvelope = "application/didcomm-envelope-enc"
	// MediaTypeSSIAgentWire is the legacy media type for encrypted envelopes still sent by older agents.
	MediaTypeSSIAgentWire = "application/ssi-agent-wire"
	// MediaTypePlaintext is the media type for plaintext messages.
	MediaTypePlaintext = "application/json"
)

// IsSupportedMediaType reports whether an inbound content type can be handed to the tunnel.
func IsSupportedMediaType(contentType string) bool {
	mt := strings.TrimSpace(strings.Split(contentType, ";")[0])

	switch mt {
	case MediaTypeEncryptedEnvelope, MediaTypeSSIAgentWire, MediaTypePlaintext:
		return true
	default:
		return false
	}
}
