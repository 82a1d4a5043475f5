/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"time"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/listener"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/trustping"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/rpc"
	connectionstore "github.com/hyperledger/aries-agent-sdk-go/pkg/store/connection"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

// Post sends msg encrypted to a connected peer.
func (a *Agent) Post(ctx context.Context, theirVerKey string, msg interface{}) error {
	tun, err := a.tunnelFor(theirVerKey)
	if err != nil {
		return err
	}

	return tun.Post(ctx, msg, true)
}

// Call invokes method on a connected peer and waits up to ttl for its reply.
func (a *Agent) Call(ctx context.Context, theirVerKey, method string, params interface{},
	ttl time.Duration) (interface{}, error) {
	tun, err := a.tunnelFor(theirVerKey)
	if err != nil {
		return nil, err
	}

	return rpc.New(tun, a.futures, true).Call(ctx, method, params, ttl)
}

// Reply answers an rpc request event with value, or with err as a remote exception.
func (a *Agent) Reply(ctx context.Context, ev *listener.Event, value interface{}, err error) error {
	req, ok := ev.Message.(*rpc.Request)
	if !ok {
		return errs.New(errs.ErrValidation, "cannot reply to %s", ev.Type())
	}

	tun, tunErr := a.tunnelFor(ev.SenderVerKey)
	if tunErr != nil {
		return tunErr
	}

	return rpc.Reply(ctx, tun, req, value, err, true)
}

// Ping sends a trust ping to a connected peer and returns its response and the round trip time.
func (a *Agent) Ping(ctx context.Context, theirVerKey, comment string) (*trustping.PingResponse, time.Duration,
	error) {
	tun, err := a.tunnelFor(theirVerKey)
	if err != nil {
		return nil, 0, err
	}

	return trustping.Send(ctx, tun, a.futures, comment, a.cfg.TTL)
}

// Connections lists the completed connections.
func (a *Agent) Connections() ([]*pairwise.Record, error) {
	return a.pairwise.List()
}

// Connection returns the handshake record of a connection.
func (a *Agent) Connection(connectionID string) (*connectionstore.Record, error) {
	return a.lookup.GetConnectionRecord(connectionID)
}

// ConnectionsByState lists the handshake records in a state, such as "completed".
func (a *Agent) ConnectionsByState(state string) ([]*connectionstore.Record, error) {
	return a.lookup.QueryConnectionRecords(state)
}
