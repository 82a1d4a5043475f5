/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

import (
	"github.com/google/uuid"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
)

const (
	// NotificationProtocol is the protocol of acks and generic problem reports.
	NotificationProtocol = "notification"
	// NotificationVersion is the supported notification protocol version.
	NotificationVersion = "1.0"

	// AckStatusOK acknowledges success.
	AckStatusOK = "OK"
	// AckStatusPending acknowledges receipt of a message whose outcome is pending.
	AckStatusPending = "PENDING"
	// AckStatusFail acknowledges failure.
	AckStatusFail = "FAIL"
)

// AckMsgType is the notification ack message type.
var AckMsgType = message.TypeURI(NotificationProtocol, NotificationVersion, "ack") //nolint:gochecknoglobals

// Ack acknowledgement struct.
type Ack struct {
	Type   string            `json:"@type,omitempty"`
	ID     string            `json:"@id,omitempty"`
	Status string            `json:"status,omitempty"`
	Thread *decorator.Thread `json:"~thread,omitempty"`
}

// NewAck acknowledges the message threaded by thid.
func NewAck(thid, status string) *Ack {
	return &Ack{
		Type:   AckMsgType,
		ID:     uuid.New().String(),
		Status: status,
		Thread: &decorator.Thread{ID: thid},
	}
}
