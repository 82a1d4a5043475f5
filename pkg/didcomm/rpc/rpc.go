/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package rpc forwards calls to a remote agent and waits for the correlated reply.
package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/future"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
)

//go:generate mockgen -destination ../../internal/gomocks/didcomm/rpc/mocks.gen.go -package rpc -source=rpc.go Poster

var logger = log.New("aries-agent/rpc")

// RequestMsgType is the type of a remote call.
var RequestMsgType = message.TypeURI(future.RPCProtocol, future.RPCVersion, "request") //nolint:gochecknoglobals

// DefaultTTL bounds a call when none is given.
const DefaultTTL = 30 * time.Second

// Request is a remote call. Its @id and thread id are the id of the future awaiting the reply.
type Request struct {
	Type   string            `json:"@type,omitempty"`
	ID     string            `json:"@id,omitempty"`
	Method string            `json:"method"`
	Params interface{}       `json:"params,omitempty"`
	Thread *decorator.Thread `json:"~thread,omitempty"`
}

// Kinds returns the registry entries of the rpc protocol.
func Kinds() []message.Entry {
	return append([]message.Entry{
		{
			Protocol: future.RPCProtocol, Version: future.RPCVersion, Name: "request",
			New: func() interface{} { return &Request{} },
		},
	}, future.Kinds()...)
}

// Poster sends a message; *tunnel.Tunnel implements it.
type Poster interface {
	Post(ctx context.Context, msg interface{}, encrypt bool) error
}

// Client issues remote calls over a poster. Replies reach the futures registry through a dispatcher
// reading the agent's event stream.
type Client struct {
	poster  Poster
	futures *future.Registry
	encrypt bool
}

// New creates a client. Calls are encrypted unless encrypt is false.
func New(poster Poster, futures *future.Registry, encrypt bool) *Client {
	return &Client{poster: poster, futures: futures, encrypt: encrypt}
}

// Call posts method(params) and waits up to ttl for the reply. A remote exception is a *future.RemoteError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, ttl time.Duration) (interface{}, error) {
	if method == "" {
		return nil, errs.New(errs.ErrValidation, "rpc method is empty")
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	f, err := c.futures.New("", ttl)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Type:   RequestMsgType,
		ID:     f.ID(),
		Method: method,
		Params: params,
		Thread: &decorator.Thread{ID: f.ID()},
	}

	if err := c.poster.Post(ctx, req, c.encrypt); err != nil {
		c.futures.Resolve(f.ID(), nil, err)

		return nil, err
	}

	logger.Debugf("called %s as %s", method, f.ID())

	if !f.WaitContext(ctx) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}

		return nil, errs.New(errs.ErrTimeout, "no reply to %s within %s", method, ttl)
	}

	return f.Value()
}

// Reply answers req with value, or with err as a remote exception.
func Reply(ctx context.Context, p Poster, req *Request, value interface{}, err error, encrypt bool) error {
	thid := req.ID
	if req.Thread != nil && req.Thread.ID != "" {
		thid = req.Thread.ID
	}

	reply := &future.Reply{
		Type:   future.ReplyMsgType,
		ID:     uuid.New().String(),
		Thread: &decorator.Thread{ID: thid},
	}

	switch {
	case err != nil:
		reply.Exception = &future.Exception{ClassName: className(err), Printable: err.Error()}
	default:
		if tuple, ok := value.(future.Tuple); ok {
			reply.Value = []interface{}(tuple)
			reply.IsTuple = true
		} else {
			reply.Value = value
		}
	}

	return p.Post(ctx, reply, encrypt)
}

func className(err error) string {
	var remote *future.RemoteError
	if errors.As(err, &remote) {
		return remote.ClassName
	}

	if kind := errs.KindOf(err); kind != nil {
		return kind.Error()
	}

	return "Error"
}
