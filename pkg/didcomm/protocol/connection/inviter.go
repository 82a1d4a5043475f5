/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/tunnel"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// Inviter runs the inviting side of the handshake.
type Inviter struct {
	*machine
}

// NewInviter creates an inviter.
func NewInviter(p Provider, opts ...Option) *Inviter {
	return &Inviter{machine: newMachine(RoleInviter, p, opts...)}
}

// CreateInvitation mints an invitation key and an invitation carrying it with the label and endpoint of
// the current session. The returned record is invited.
func (i *Inviter) CreateInvitation(ctx context.Context) (*Invitation, *Record, error) {
	sess, err := i.hub.Current(ctx)
	if err != nil {
		return nil, nil, err
	}

	key, err := i.kms.Create()
	if err != nil {
		return nil, nil, fmt.Errorf("create invitation key: %w", err)
	}

	inv := &Invitation{
		Type:            InvitationMsgType,
		ID:              uuid.New().String(),
		Label:           sess.Label,
		RecipientKeys:   []string{key.VerKeyBase58()},
		ServiceEndpoint: sess.Endpoint,
	}

	if err := i.records.SaveInvitation(inv.ID, inv); err != nil {
		return nil, nil, fmt.Errorf("save invitation: %w", err)
	}

	rec := &Record{
		ConnectionID:  uuid.New().String(),
		Role:          RoleInviter,
		InvitationID:  inv.ID,
		InvitationKey: key.VerKeyBase58(),
		MyLabel:       sess.Label,
	}

	if err := i.transition(rec, stateInvited); err != nil {
		return nil, nil, err
	}

	return inv, rec, nil
}

// Run waits for the connection request answering rec's invitation and completes the handshake.
func (i *Inviter) Run(ctx context.Context, rec *Record, tun *tunnel.Tunnel) (*Record, error) {
	req, err := i.AwaitRequest(ctx, rec, tun)
	if err != nil {
		return rec, err
	}

	return i.HandleRequest(ctx, rec, req, tun)
}

// AwaitRequest receives the connection request within the time to live of the invitation, counted from
// when rec entered the invited state. On failure rec is in the error state and the error is a *ProblemError.
func (i *Inviter) AwaitRequest(ctx context.Context, rec *Record, tun *tunnel.Tunnel) (*Request, error) {
	inviteKey, err := i.invitationKey(rec.InvitationKey)
	if err != nil {
		_, perr := i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)

		return nil, perr
	}

	tun = tun.WithTrust(tunnel.Trust{MyKeys: []*keypair.KeyPair{inviteKey}})

	issued := rec.CreatedAt
	if issued.IsZero() {
		issued = time.Now()
	}

	recv, msg, err := i.receiveBy(ctx, tun, issued.Add(i.ttl))
	if err != nil {
		code := ProblemRequestNotAccepted
		if errors.Is(err, errs.ErrTimeout) {
			code = ProblemTimeoutOccurred
		}

		_, perr := i.fail(ctx, rec, nil, code, err, false)

		return nil, perr
	}

	req, ok := msg.(*Request)
	if !ok {
		rec.ThreadID = recv.Message.ID()

		_, perr := i.fail(ctx, rec, tun, ProblemRequestNotAccepted,
			errs.New(errs.ErrValidation, "expected connection request, got %s", recv.Message.Type()), false)

		return nil, perr
	}

	if !senderMatches(recv, req) {
		rec.ThreadID = req.ID

		_, perr := i.fail(ctx, rec, i.replyTunnel(tun, inviteKey, req), ProblemRequestNotAccepted,
			errs.New(errs.ErrValidation, "request sender does not match its DIDDoc verkey"), true)

		return nil, perr
	}

	return req, nil
}

// HandleRequest validates req, answers it with a signed response and waits for the ack.
func (i *Inviter) HandleRequest(ctx context.Context, rec *Record, req *Request, tun *tunnel.Tunnel) (*Record,
	error) {
	inviteKey, err := i.invitationKey(rec.InvitationKey)
	if err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	rec.ThreadID = req.ID

	if err := validateRequest(req, rec); err != nil {
		return i.fail(ctx, rec, i.replyTunnel(tun, inviteKey, req), ProblemRequestNotAccepted, err, true)
	}

	theirKey, _ := theirVerKey(req.Connection) //nolint:errcheck

	rec.TheirDID = req.Connection.DID
	rec.TheirVerKey = base58.Encode(theirKey)
	rec.TheirLabel = req.Label
	rec.TheirEndpoint = req.Connection.DIDDoc.Endpoint()

	if err := i.transition(rec, stateRequested); err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	sess, err := i.hub.Current(ctx)
	if err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	me, err := i.newPairwiseIdentity(sess.Endpoint)
	if err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	trust := tunnel.Trust{
		MyKeys:       []*keypair.KeyPair{me.key, inviteKey},
		Sender:       me.key,
		TheirVerKeys: [][]byte{theirKey},
	}

	scopedCtx, release, err := i.enter(ctx, me, trust)
	if err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}
	defer release()

	ctx = scopedCtx

	tun = tun.WithTrust(trust)

	rec.MyDID = me.did
	rec.MyVerKey = me.key.VerKeyBase58()

	response, err := i.prepareResponse(req, me, inviteKey)
	if err != nil {
		return i.fail(ctx, rec, tun, ProblemRequestProcessingError, err, true)
	}

	if err := tun.Post(ctx, response, true); err != nil {
		return i.fail(ctx, rec, nil, ProblemRequestProcessingError, err, false)
	}

	if err := i.transition(rec, stateResponded); err != nil {
		return i.fail(ctx, rec, tun, ProblemRequestProcessingError, err, false)
	}

	return i.awaitAck(ctx, rec, tun)
}

func (i *Inviter) prepareResponse(req *Request, me *pairwiseIdentity, inviteKey *keypair.KeyPair) (*Response,
	error) {
	connBytes, err := json.Marshal(me.conn)
	if err != nil {
		return nil, fmt.Errorf("marshal connection: %w", err)
	}

	response := &Response{
		Type:                ResponseMsgType,
		ID:                  uuid.New().String(),
		ConnectionSignature: decorator.Sign(connBytes, inviteKey, time.Now()),
		Thread: &decorator.Thread{
			ID: req.ID,
		},
	}

	if req.Thread != nil {
		response.Thread.PID = req.Thread.PID
	}

	if i.ackRequired {
		response.PleaseAck = &decorator.PleaseAck{On: []string{decorator.AckOnReceipt}}
	}

	return response, nil
}

// awaitAck completes on an ack threaded by the request. Messages of other threads are ignored. Without an
// ack the handshake completes when the time to live passes, unless acks are required.
func (i *Inviter) awaitAck(ctx context.Context, rec *Record, tun *tunnel.Tunnel) (*Record, error) {
	deadline := time.Now().Add(i.ttl)

	ackCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		recv, msg, err := i.receive(ackCtx, tun)

		switch {
		case errors.Is(err, errs.ErrTimeout):
			if i.ackRequired {
				return i.fail(ctx, rec, tun, ProblemTimeoutOccurred,
					errs.New(errs.ErrTimeout, "no ack within %s", i.ttl), true)
			}

			logger.Debugf("no ack for %s, completing", rec.ConnectionID)

			return i.complete(rec)
		case err != nil:
			return i.fail(ctx, rec, tun, ProblemResponseProcessingError, err, false)
		}

		if thid, _ := recv.Message.ThreadID(); thid != rec.ThreadID { //nolint:errcheck
			logger.Debugf("ignoring %s on thread %s while awaiting ack", recv.Message.Type(), thid)

			continue
		}

		switch m := msg.(type) {
		case *model.Ack:
			return i.complete(rec)
		case *model.ProblemReport:
			return i.rejected(rec, m)
		default:
			return i.fail(ctx, rec, tun, ProblemRequestNotAccepted,
				errs.New(errs.ErrValidation, "unexpected %s while awaiting ack", recv.Message.Type()), true)
		}
	}
}

// replyTunnel answers the sender of req: encrypted from the invitation key when req names a usable verkey.
func (i *Inviter) replyTunnel(tun *tunnel.Tunnel, inviteKey *keypair.KeyPair, req *Request) *tunnel.Tunnel {
	trust := tunnel.Trust{MyKeys: []*keypair.KeyPair{inviteKey}}

	if req.Connection != nil && req.Connection.DIDDoc != nil {
		if key, err := keypair.ParseVerKey(req.Connection.DIDDoc.VerKey()); err == nil {
			trust.Sender = inviteKey
			trust.TheirVerKeys = [][]byte{key}
		}
	}

	return tun.WithTrust(trust)
}

// senderMatches reports whether an authenticated request was sent by the key its DIDDoc names.
func senderMatches(recv *tunnel.Received, req *Request) bool {
	if len(recv.SenderVerKey) == 0 || req.Connection == nil || req.Connection.DIDDoc == nil {
		return true
	}

	key, err := keypair.ParseVerKey(req.Connection.DIDDoc.VerKey())
	if err != nil {
		// left to validateRequest
		return true
	}

	return bytes.Equal(key, recv.SenderVerKey)
}

func validateRequest(req *Request, rec *Record) error {
	if req.ID == "" {
		return errs.New(errs.ErrValidation, "request has no @id")
	}

	if req.Label == "" {
		return errs.New(errs.ErrValidation, "request has no label")
	}

	if req.Thread != nil && req.Thread.PID != "" && req.Thread.PID != rec.InvitationID {
		return errs.New(errs.ErrValidation, "request answers invitation %s, expected %s", req.Thread.PID,
			rec.InvitationID)
	}

	return req.Connection.Validate()
}
