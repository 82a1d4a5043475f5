/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"golang.org/x/exp/slices"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	connectionstore "github.com/hyperledger/aries-agent-sdk-go/pkg/store/connection"
)

// Record states, as stored in Record.State.
const (
	// StateIDInvited marks the invited phase of the connection protocol.
	StateIDInvited = "invited"
	// StateIDRequested marks the requested phase of the connection protocol.
	StateIDRequested = "requested"
	// StateIDResponded marks the responded phase of the connection protocol.
	StateIDResponded = "responded"
	// StateIDCompleted marks the completed phase of the connection protocol.
	StateIDCompleted = connectionstore.StateCompleted
	// StateIDError marks a handshake that failed.
	StateIDError = connectionstore.StateError
)

// state is a step of the handshake. A new record starts in stateNull.
type state string

const (
	stateNull      state = "null"
	stateInvited   state = StateIDInvited
	stateRequested state = StateIDRequested
	stateResponded state = StateIDResponded
	stateCompleted state = StateIDCompleted
	stateError     state = StateIDError
)

// successors of each state. Completed and error are terminal.
var successors = map[state][]state{ //nolint:gochecknoglobals
	stateNull:      {stateInvited, stateError},
	stateInvited:   {stateRequested, stateError},
	stateRequested: {stateResponded, stateError},
	stateResponded: {stateCompleted, stateError},
	stateCompleted: nil,
	stateError:     nil,
}

func parseState(name string) (state, error) {
	if name == "" {
		return stateNull, nil
	}

	s := state(name)
	if _, ok := successors[s]; !ok {
		return "", errs.New(errs.ErrValidation, "invalid state name %s", name)
	}

	return s, nil
}

func (s state) canMoveTo(next state) bool {
	return slices.Contains(successors[s], next)
}
