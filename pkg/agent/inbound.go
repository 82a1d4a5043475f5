/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcutil/base58"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/connection"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/tunnel"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// routeInbound takes every unit handed to the inbound queue until it is closed.
func (a *Agent) routeInbound(ctx context.Context) {
	for {
		raw, err := a.inbound.Read(ctx)
		if err != nil {
			return
		}

		if err := a.deliver(ctx, raw); err != nil {
			logger.Warnf("dropping inbound unit: %s", err)
		}
	}
}

// deliver opens raw with the local keys it is addressed to. Handshake traffic for a key minted by an
// in-flight handshake goes to that handshake, everything else becomes an event.
func (a *Agent) deliver(ctx context.Context, raw []byte) error {
	kids, err := tunnel.RecipientKIDs(raw)
	if err != nil {
		return err
	}

	var keys []*keypair.KeyPair

	for _, kid := range kids {
		kp, err := a.kms.Get(kid)
		if err != nil {
			continue
		}

		keys = append(keys, kp)
	}

	if len(kids) > 0 && len(keys) == 0 {
		return errs.New(errs.ErrCrypto, "no local key among recipients %v", kids)
	}

	recv, err := tunnel.New(nil, nil, tunnel.Trust{MyKeys: keys}).Open(raw)
	if err != nil {
		return err
	}

	if recv.Encrypted && isHandshake(recv.Message) {
		if hs := a.claimant(base58.Encode(recv.RecipientVerKey)); hs != nil {
			return hs.queue.Write(ctx, raw)
		}
	}

	ev := transport.Event{
		Message:      recv.Message,
		SenderVerKey: recv.SenderVerKeyBase58(),
	}

	if recv.Encrypted {
		ev.RecipientVerKey = base58.Encode(recv.RecipientVerKey)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(errs.ErrPayloadStructure, err, "encode inbound event")
	}

	return a.events.Write(ctx, b)
}

func isHandshake(msg message.Map) bool {
	t, err := message.ParseType(msg.Type())
	if err != nil {
		return false
	}

	return t.Protocol == connection.Protocol || t.Protocol == model.NotificationProtocol
}

// forwardExternal copies events of the external source into the event stream.
func (a *Agent) forwardExternal(ctx context.Context) {
	for {
		raw, err := a.external.Pull(ctx)

		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, transport.ErrClosed):
			return
		default:
			logger.Errorf("external event source failed: %s", err)

			return
		}

		if err := a.events.Write(ctx, raw); err != nil {
			return
		}
	}
}
