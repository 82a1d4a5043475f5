/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package legacy packs and unpacks legacy JWM envelopes (Aries RFC 0019), both the authenticated
// (Authcrypt) and the anonymous (Anoncrypt) forms.
//
// Payloads are encrypted with ChaCha20-Poly1305-IETF under a random content encryption key (CEK). The CEK
// is wrapped once per recipient: with a crypto box between sender and recipient for Authcrypt, or with a
// sealed box for Anoncrypt.
package legacy

import (
	"crypto/rand"
	"io"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

const (
	// encodingType is the `typ` string identifier in a message that identifies the format as being legacy.
	encodingType = "JWM/1.0"
	encAlg       = "chacha20poly1305_ietf"

	// AlgAuthcrypt identifies envelopes that authenticate the sender.
	AlgAuthcrypt = "Authcrypt"
	// AlgAnoncrypt identifies envelopes with an anonymous sender.
	AlgAnoncrypt = "Anoncrypt"
)

var logger = log.New("aries-agent/packer/legacy")

// Packer represents a Pack/Unpacker that outputs/reads legacy Aries envelopes.
type Packer struct {
	randSource io.Reader
}

// Option configures a Packer.
type Option func(p *Packer)

// WithRandSource overrides the entropy source used for keys and nonces.
func WithRandSource(r io.Reader) Option {
	return func(p *Packer) {
		p.randSource = r
	}
}

// New will create a Packer that encrypts messages using the legacy Aries format.
func New(opts ...Option) *Packer {
	p := &Packer{randSource: rand.Reader}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// EncodingType returns the type of the encoding, as in the `Typ` field of the envelope header.
func (p *Packer) EncodingType() string {
	return encodingType
}

// Envelope is the full payload envelope for the JSON message.
type Envelope struct {
	Protected  string `json:"protected,omitempty"`
	IV         string `json:"iv,omitempty"`
	CipherText string `json:"ciphertext,omitempty"`
	Tag        string `json:"tag,omitempty"`
}

// protected is the protected header of the JSON envelope.
type protected struct {
	Enc        string      `json:"enc,omitempty"`
	Typ        string      `json:"typ,omitempty"`
	Alg        string      `json:"alg,omitempty"`
	Recipients []recipient `json:"recipients,omitempty"`
}

// recipient holds the data for a recipient in the envelope header.
type recipient struct {
	EncryptedKey string          `json:"encrypted_key,omitempty"`
	Header       recipientHeader `json:"header,omitempty"`
}

// recipientHeader holds the header data for a recipient.
type recipientHeader struct {
	KID    string `json:"kid,omitempty"`
	Sender string `json:"sender,omitempty"`
	IV     string `json:"iv,omitempty"`
}

var defaultPacker = New() //nolint:gochecknoglobals

// Pack encrypts payload for recipients with the default packer. See (*Packer).Pack.
func Pack(payload []byte, recipients [][]byte, sender *keypair.KeyPair) ([]byte, error) {
	return defaultPacker.Pack(payload, recipients, sender)
}
