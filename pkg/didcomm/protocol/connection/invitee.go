/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/tunnel"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// Invitee runs the invited side of the handshake.
type Invitee struct {
	*machine
}

// NewInvitee creates an invitee.
func NewInvitee(p Provider, opts ...Option) *Invitee {
	return &Invitee{machine: newMachine(RoleInvitee, p, opts...)}
}

// AcceptInvitation validates inv and records it. The returned record is invited.
func (i *Invitee) AcceptInvitation(ctx context.Context, inv *Invitation) (*Record, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	sess, err := i.hub.Current(ctx)
	if err != nil {
		return nil, err
	}

	inviteKey, _ := keypair.ParseVerKey(inv.RecipientKeys[0]) //nolint:errcheck

	rec := &Record{
		ConnectionID:  uuid.New().String(),
		Role:          RoleInvitee,
		InvitationID:  inv.ID,
		InvitationKey: base58.Encode(inviteKey),
		MyLabel:       sess.Label,
		TheirLabel:    inv.Label,
		TheirEndpoint: inv.ServiceEndpoint,
	}

	if err := i.transition(rec, stateInvited); err != nil {
		return nil, err
	}

	return rec, nil
}

// Run sends the connection request, verifies the signed response and acknowledges it.
func (i *Invitee) Run(ctx context.Context, rec *Record, tun *tunnel.Tunnel) (*Record, error) {
	sess, err := i.hub.Current(ctx)
	if err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	me, err := i.newPairwiseIdentity(sess.Endpoint)
	if err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	inviteKey := base58.Decode(rec.InvitationKey)

	trust := tunnel.Trust{
		MyKeys:       []*keypair.KeyPair{me.key},
		Sender:       me.key,
		TheirVerKeys: [][]byte{inviteKey},
	}

	scopedCtx, release, err := i.enter(ctx, me, trust)
	if err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}
	defer release()

	ctx = scopedCtx
	tun = tun.WithTrust(trust)

	request := &Request{
		Type:       RequestMsgType,
		ID:         uuid.New().String(),
		Label:      sess.Label,
		Connection: me.conn,
		Thread:     &decorator.Thread{PID: rec.InvitationID},
	}

	rec.ThreadID = request.ID
	rec.MyDID = me.did
	rec.MyVerKey = me.key.VerKeyBase58()

	if err := tun.Post(ctx, request, true); err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	if err := i.transition(rec, stateRequested); err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	theirKey, err := i.awaitResponse(ctx, rec, tun, inviteKey)
	if err != nil {
		return rec, err
	}

	tun = tun.WithTrust(tunnel.Trust{
		MyKeys:       []*keypair.KeyPair{me.key},
		Sender:       me.key,
		TheirVerKeys: [][]byte{theirKey},
	})

	if err := i.transition(rec, stateResponded); err != nil {
		return i.fail(ctx, rec, tun, ProblemResponseProcessingError, err, false)
	}

	if err := tun.Post(ctx, model.NewAck(rec.ThreadID, model.AckStatusOK), true); err != nil {
		return i.fail(ctx, rec, nil, ProblemResponseProcessingError, err, false)
	}

	return i.complete(rec)
}

// awaitResponse receives the response threaded by the request, checks it is signed by the invitation key
// and records their side of the connection. It returns their verkey.
func (i *Invitee) awaitResponse(ctx context.Context, rec *Record, tun *tunnel.Tunnel, inviteKey []byte) ([]byte,
	error) {
	recv, msg, err := i.receive(ctx, tun)
	if err != nil {
		code := ProblemResponseNotAccepted
		if errors.Is(err, errs.ErrTimeout) {
			code = ProblemTimeoutOccurred
		}

		_, perr := i.fail(ctx, rec, tun, code, err, true)

		return nil, perr
	}

	if thid, _ := recv.Message.ThreadID(); thid != rec.ThreadID { //nolint:errcheck
		_, perr := i.fail(ctx, rec, tun, ProblemResponseNotAccepted,
			errs.New(errs.ErrValidation, "response thread %s does not match request %s", thid, rec.ThreadID), true)

		return nil, perr
	}

	var response *Response

	switch m := msg.(type) {
	case *Response:
		response = m
	case *model.ProblemReport:
		_, perr := i.rejected(rec, m)

		return nil, perr
	default:
		_, perr := i.fail(ctx, rec, tun, ProblemResponseNotAccepted,
			errs.New(errs.ErrValidation, "expected connection response, got %s", recv.Message.Type()), true)

		return nil, perr
	}

	conn, err := verifyResponse(response, inviteKey)
	if err != nil {
		_, perr := i.fail(ctx, rec, tun, ProblemResponseNotAccepted, err, true)

		return nil, perr
	}

	theirKey, _ := theirVerKey(conn) //nolint:errcheck

	rec.TheirDID = conn.DID
	rec.TheirVerKey = base58.Encode(theirKey)

	if endpoint := conn.DIDDoc.Endpoint(); endpoint != "" {
		rec.TheirEndpoint = endpoint
	}

	return theirKey, nil
}

// verifyResponse checks the connection~sig of a response against the invitation key and returns the signed
// connection.
func verifyResponse(response *Response, inviteKey []byte) (*Connection, error) {
	sig := response.ConnectionSignature
	if sig == nil {
		return nil, errs.New(errs.ErrValidation, "response has no connection~sig")
	}

	if !sig.SignedBy(inviteKey) {
		return nil, errs.New(errs.ErrCrypto, "connection~sig signer %s is not the invitation key", sig.Signer)
	}

	data, _, err := sig.Verify()
	if err != nil {
		return nil, err
	}

	conn := &Connection{}
	if err := json.Unmarshal(data, conn); err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "signed connection")
	}

	if err := conn.Validate(); err != nil {
		return nil, err
	}

	return conn, nil
}
