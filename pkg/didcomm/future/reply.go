/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package future

import (
	"fmt"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/listener"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
)

const (
	// RPCProtocol is the protocol of remote calls and their replies.
	RPCProtocol = "rpc"
	// RPCVersion is the supported rpc protocol version.
	RPCVersion = "1.0"
)

// ReplyMsgType is the type of the reply resolving a future.
var ReplyMsgType = message.TypeURI(RPCProtocol, RPCVersion, "future") //nolint:gochecknoglobals

// Reply carries the outcome of a remote call, threaded by the id of the future it resolves.
type Reply struct {
	Type      string            `json:"@type,omitempty"`
	ID        string            `json:"@id,omitempty"`
	Value     interface{}       `json:"value,omitempty"`
	IsTuple   bool              `json:"is_tuple,omitempty"`
	Exception *Exception        `json:"exception,omitempty"`
	Thread    *decorator.Thread `json:"~thread,omitempty"`
}

// Exception describes an error raised by the remote side.
type Exception struct {
	ClassName string `json:"class_name"`
	Printable string `json:"printable"`
}

// Tuple is a reply value flagged as a tuple.
type Tuple []interface{}

// RemoteError is the error of a future resolved with a remote exception.
type RemoteError struct {
	ClassName string
	Printable string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.ClassName, e.Printable)
}

// Result converts the reply into the value and error a future resolves with.
func (r *Reply) Result() (interface{}, error) {
	if r.Exception != nil {
		return nil, &RemoteError{ClassName: r.Exception.ClassName, Printable: r.Exception.Printable}
	}

	if arr, ok := r.Value.([]interface{}); ok && r.IsTuple {
		return Tuple(arr), nil
	}

	return r.Value, nil
}

// Kinds returns the registry entries of the future reply.
func Kinds() []message.Entry {
	return []message.Entry{
		{
			Protocol: RPCProtocol, Version: RPCVersion, Name: "future",
			New: func() interface{} { return &Reply{} },
		},
	}
}

// Deliver resolves the future threaded by the event. A Reply resolves with its result, any other message
// resolves with the event itself. It returns false when no future is pending for the event's thread, in
// which case the event is left to the caller.
func (r *Registry) Deliver(ev *listener.Event) bool {
	thid := ev.ThreadID()
	if thid == "" || !r.Pending(thid) {
		if _, ok := ev.Message.(*Reply); ok {
			logger.Debugf("late reply for %s", thid)
			r.metrics.LateReply()
		}

		return false
	}

	if reply, ok := ev.Message.(*Reply); ok {
		value, err := reply.Result()

		return r.Resolve(thid, value, err)
	}

	return r.Resolve(thid, ev, nil)
}
