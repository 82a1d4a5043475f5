/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package model

// Event properties of a connection state change.
type Event interface {
	// connection ID
	ConnectionID() string
	// invitation ID
	InvitationID() string
	// state entered
	StateID() string
}
