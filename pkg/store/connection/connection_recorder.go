/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/aries-framework-go/spi/storage"
)

const (
	// StateCompleted is the state after which a record is kept in the permanent store.
	StateCompleted = "completed"
	// StateError is the terminal failure state, also kept in the permanent store.
	StateError = "error"
)

// NewRecorder returns a Recorder over the connection stores of p.
func NewRecorder(p Provider) (*Recorder, error) {
	lookup, err := NewLookup(p)
	if err != nil {
		return nil, fmt.Errorf("connection recorder: %w", err)
	}

	return &Recorder{lookup}, nil
}

// Recorder adds the write side to Lookup.
type Recorder struct {
	*Lookup
}

// SaveInvitation keeps an invitation in the permanent store.
func (c *Recorder) SaveInvitation(id string, invitation interface{}) error {
	if id == "" {
		return ErrInvalidKey
	}

	return save(c.store, invitationKey(id), invitation)
}

// SaveConnectionRecord saves given connection record. In-flight records live in the protocol state store,
// terminal records are moved to the permanent store.
func (c *Recorder) SaveConnectionRecord(record *Record) error {
	if record.ConnectionID == "" {
		return ErrInvalidKey
	}

	key := recordKey(record.ConnectionID)
	tags := []storage.Tag{
		{Name: tagConnectionID, Value: tagValue(record.ConnectionID)},
		{Name: tagThreadID, Value: tagValue(record.ThreadID)},
		{Name: tagState, Value: tagValue(record.State)},
	}

	if record.State != StateCompleted && record.State != StateError {
		if err := save(c.protocolStateStore, key, record, tags...); err != nil {
			return fmt.Errorf("save connection record in protocol state store: %w", err)
		}

		return nil
	}

	if err := save(c.store, key, record, tags...); err != nil {
		return fmt.Errorf("save connection record in permanent store: %w", err)
	}

	if err := c.protocolStateStore.Delete(key); err != nil {
		logger.Warnf("failed to remove connection %s from protocol state store: %s", record.ConnectionID, err)
	}

	return nil
}

// RemoveConnection removes a connection record from both stores.
func (c *Recorder) RemoveConnection(connectionID string) error {
	key := recordKey(connectionID)

	if err := c.store.Delete(key); err != nil {
		return fmt.Errorf("remove connection from permanent store: %w", err)
	}

	if err := c.protocolStateStore.Delete(key); err != nil {
		return fmt.Errorf("remove connection from protocol state store: %w", err)
	}

	return nil
}

func save(store storage.Store, key string, v interface{}, tags ...storage.Tag) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	return store.Put(key, raw, tags...)
}
