/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package tunnel carries DIDComm messages over a transport pair, packing and unpacking envelopes
// according to a trust context.
package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcutil/base58"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/packer/legacy"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

var logger = log.New("aries-agent/tunnel")

// Trust is the key material a tunnel packs and unpacks with.
type Trust struct {
	// MyKeys are tried, in order, as recipient keys of inbound envelopes.
	MyKeys []*keypair.KeyPair
	// Sender authenticates outbound envelopes. Nil sends Anoncrypt envelopes.
	Sender *keypair.KeyPair
	// TheirVerKeys are the recipients of outbound envelopes.
	TheirVerKeys [][]byte
}

// Received is one inbound message along with how it arrived.
type Received struct {
	Message         message.Map
	Encrypted       bool
	SenderVerKey    []byte
	RecipientVerKey []byte
}

// SenderVerKeyBase58 renders the sender verkey, empty for plaintext or anonymous messages.
func (r *Received) SenderVerKeyBase58() string {
	if len(r.SenderVerKey) == 0 {
		return ""
	}

	return base58.Encode(r.SenderVerKey)
}

// Tunnel is a bidirectional message pipe bound to a trust context.
type Tunnel struct {
	in     transport.Reader
	out    transport.Writer
	trust  Trust
	packer *legacy.Packer
}

// Option configures a Tunnel.
type Option func(t *Tunnel)

// WithPacker overrides the envelope packer.
func WithPacker(p *legacy.Packer) Option {
	return func(t *Tunnel) {
		t.packer = p
	}
}

// New creates a tunnel reading from in and writing to out.
func New(in transport.Reader, out transport.Writer, trust Trust, opts ...Option) *Tunnel {
	t := &Tunnel{in: in, out: out, trust: trust, packer: legacy.New()}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// NewDuplex creates a tunnel over a single read/write transport.
func NewDuplex(rw transport.ReadWriter, trust Trust, opts ...Option) *Tunnel {
	return New(rw, rw, trust, opts...)
}

// WithTrust returns a tunnel sharing the transport pair but using another trust context.
func (t *Tunnel) WithTrust(trust Trust) *Tunnel {
	c := *t
	c.trust = trust

	return &c
}

// Trust returns the tunnel's trust context.
func (t *Tunnel) Trust() Trust {
	return t.trust
}

// Receive reads the next message. A single-element JSON array is unwrapped. Objects carrying a
// "protected" header are unpacked with the trust context's keys, anything else is taken as plaintext.
func (t *Tunnel) Receive(ctx context.Context) (*Received, error) {
	raw, err := t.in.Read(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.ErrTimeout, err, "receive")
		}

		return nil, errs.Wrap(errs.ErrIO, err, "receive")
	}

	return t.Open(raw)
}

// Open decodes one raw inbound unit already taken off the transport.
func (t *Tunnel) Open(raw []byte) (*Received, error) {
	raw, err := unwrapArray(raw)
	if err != nil {
		return nil, err
	}

	var probe map[string]json.RawMessage

	if err = json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return nil, errs.New(errs.ErrPayloadStructure, "inbound unit is not a JSON object")
	}

	if _, ok := probe["protected"]; !ok {
		msg, err := message.ParseMap(raw)
		if err != nil {
			return nil, err
		}

		logger.Debugf("received plaintext message %s", msg.Type())

		return &Received{Message: msg}, nil
	}

	env, err := t.packer.Unpack(raw, t.trust.MyKeys...)
	if err != nil {
		return nil, err
	}

	msg, err := message.ParseMap(env.Message)
	if err != nil {
		return nil, err
	}

	logger.Debugf("received encrypted message %s", msg.Type())

	return &Received{
		Message:         msg,
		Encrypted:       true,
		SenderVerKey:    env.FromVerKey,
		RecipientVerKey: env.ToVerKey,
	}, nil
}

// RecipientKIDs returns the base58 recipient verkeys of a raw inbound unit, or nil when the unit is
// plaintext.
func RecipientKIDs(raw []byte) ([]string, error) {
	raw, err := unwrapArray(raw)
	if err != nil {
		return nil, err
	}

	var probe map[string]json.RawMessage

	if err = json.Unmarshal(raw, &probe); err != nil || probe == nil {
		return nil, errs.New(errs.ErrPayloadStructure, "inbound unit is not a JSON object")
	}

	if _, ok := probe["protected"]; !ok {
		return nil, nil
	}

	return legacy.RecipientKIDs(raw)
}

// Post sends msg, a typed message or a message.Map. With encrypt set the message is packed for the trust
// context's recipients.
func (t *Tunnel) Post(ctx context.Context, msg interface{}, encrypt bool) error {
	payload, err := marshal(msg)
	if err != nil {
		return err
	}

	if encrypt {
		if len(t.trust.TheirVerKeys) == 0 {
			return errs.New(errs.ErrCrypto, "post: no recipient keys in trust context")
		}

		payload, err = t.packer.Pack(payload, t.trust.TheirVerKeys, t.trust.Sender)
		if err != nil {
			return err
		}
	}

	if err := t.out.Write(ctx, payload); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.Wrap(errs.ErrTimeout, err, "post")
		}

		return errs.Wrap(errs.ErrIO, err, "post")
	}

	return nil
}

func marshal(msg interface{}) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "marshal outbound message")
	}

	return b, nil
}

func unwrapArray(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return trimmed, nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(trimmed, &arr); err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "parse inbound array")
	}

	if len(arr) != 1 {
		return nil, errs.New(errs.ErrPayloadStructure, "inbound array has %d elements, expected 1", len(arr))
	}

	return arr[0], nil
}
