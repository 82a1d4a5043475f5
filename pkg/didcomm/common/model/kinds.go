/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

import "github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"

// Kinds returns the registry entries of the notification protocol.
func Kinds() []message.Entry {
	return []message.Entry{
		{
			Protocol: NotificationProtocol, Version: NotificationVersion, Name: "ack",
			New: func() interface{} { return &Ack{} },
		},
		{
			Protocol: NotificationProtocol, Version: NotificationVersion, Name: "problem_report",
			New: func() interface{} { return &ProblemReport{} },
		},
	}
}
