/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package trustping checks that a pairwise connection is alive.
package trustping

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/future"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/listener"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
)

var logger = log.New("aries-agent/trustping")

const (
	// Protocol is the trust ping protocol name.
	Protocol = "trust_ping"
	// Version is the supported trust ping version.
	Version = "1.0"
)

// nolint:gochecknoglobals
var (
	// PingMsgType is the ping message type.
	PingMsgType = message.TypeURI(Protocol, Version, "ping")
	// PingResponseMsgType is the ping response message type.
	PingResponseMsgType = message.TypeURI(Protocol, Version, "ping_response")
)

// Ping asks the peer to answer.
type Ping struct {
	Type              string            `json:"@type,omitempty"`
	ID                string            `json:"@id,omitempty"`
	Comment           string            `json:"comment,omitempty"`
	ResponseRequested bool              `json:"response_requested"`
	Thread            *decorator.Thread `json:"~thread,omitempty"`
}

// PingResponse answers a ping; its thread id is the ping id.
type PingResponse struct {
	Type    string            `json:"@type,omitempty"`
	ID      string            `json:"@id,omitempty"`
	Comment string            `json:"comment,omitempty"`
	Thread  *decorator.Thread `json:"~thread,omitempty"`
}

// Kinds returns the registry entries of the trust ping protocol.
func Kinds() []message.Entry {
	return []message.Entry{
		{Protocol: Protocol, Version: Version, Name: "ping", New: func() interface{} { return &Ping{} }},
		{Protocol: Protocol, Version: Version, Name: "ping_response", New: func() interface{} { return &PingResponse{} }},
	}
}

// Poster sends a message; *tunnel.Tunnel implements it.
type Poster interface {
	Post(ctx context.Context, msg interface{}, encrypt bool) error
}

// Send pings the peer behind p and waits for the response, which a dispatcher delivers to futures. It
// returns the response and the round trip time.
func Send(ctx context.Context, p Poster, futures *future.Registry, comment string,
	ttl time.Duration) (*PingResponse, time.Duration, error) {
	f, err := futures.New("", ttl)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()

	ping := &Ping{Type: PingMsgType, ID: f.ID(), Comment: comment, ResponseRequested: true}

	if err := p.Post(ctx, ping, true); err != nil {
		futures.Resolve(f.ID(), nil, err)

		return nil, 0, err
	}

	if !f.WaitContext(ctx) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, 0, ctx.Err()
		}

		return nil, 0, errs.New(errs.ErrTimeout, "no ping response within %s", ttl)
	}

	v, err := f.Value()
	if err != nil {
		return nil, 0, err
	}

	ev, ok := v.(*listener.Event)
	if !ok {
		return nil, 0, errs.New(errs.ErrPayloadStructure, "unexpected ping reply %T", v)
	}

	resp, ok := ev.Message.(*PingResponse)
	if !ok {
		return nil, 0, errs.New(errs.ErrPayloadStructure, "unexpected ping reply %s", ev.Type())
	}

	return resp, time.Since(start), nil
}

// Route picks the poster a ping from ev is answered on.
type Route func(ev *listener.Event) (Poster, error)

// NewResponder returns a dispatcher handler answering pings that request a response.
func NewResponder(route Route) future.Handler {
	return func(ctx context.Context, ev *listener.Event) {
		ping, ok := ev.Message.(*Ping)
		if !ok || !ping.ResponseRequested {
			return
		}

		p, err := route(ev)
		if err != nil {
			logger.Warnf("no route to answer ping %s from %s: %v", ping.ID, ev.SenderVerKey, err)

			return
		}

		resp := &PingResponse{
			Type:   PingResponseMsgType,
			ID:     uuid.New().String(),
			Thread: &decorator.Thread{ID: ping.ID},
		}

		if err := p.Post(ctx, resp, true); err != nil {
			logger.Errorf("answering ping %s: %v", ping.ID, err)
		}
	}
}
