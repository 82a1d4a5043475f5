/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

// Envelope holds the result of unpacking an encrypted envelope.
// FromVerKey is nil for anonymously encrypted envelopes.
type Envelope struct {
	Message    []byte
	FromVerKey []byte
	ToVerKey   []byte
}

// Event is the raw inbound event delivered by an event source.
type Event struct {
	Message         map[string]interface{} `json:"message"`
	SenderVerKey    string                 `json:"sender_verkey,omitempty"`
	RecipientVerKey string                 `json:"recipient_verkey,omitempty"`
	ForwardedKeys   []string               `json:"forwarded_keys,omitempty"`
	ContentType     string                 `json:"content_type,omitempty"`
}
