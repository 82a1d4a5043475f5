/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

// connectionEvent implements model.Event interface.
type connectionEvent struct {
	connectionID string
	invitationID string
	stateID      string
	problemCode  string
}

// ConnectionID returns Connection connectionID.
func (ex *connectionEvent) ConnectionID() string {
	return ex.connectionID
}

// InvitationID returns Connection invitationID.
func (ex *connectionEvent) InvitationID() string {
	return ex.invitationID
}

// StateID returns the state entered.
func (ex *connectionEvent) StateID() string {
	return ex.stateID
}

// All implements EventProperties interface.
func (ex *connectionEvent) All() map[string]interface{} {
	props := map[string]interface{}{
		"connectionID": ex.ConnectionID(),
		"invitationID": ex.InvitationID(),
		"stateID":      ex.StateID(),
	}

	if ex.problemCode != "" {
		props["problemCode"] = ex.problemCode
	}

	return props
}
