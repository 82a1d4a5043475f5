/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
)

const (
	// Namespace is the store name of connection records and invitations.
	Namespace = "connection"

	recordPrefix     = "conn_"
	invitationPrefix = "inv_"

	tagConnectionID = "conn"
	tagThreadID     = "thid"
	tagState        = "state"
)

var logger = log.New("aries-agent/store/connection")

// ErrInvalidKey is returned for a record or invitation without an id.
var ErrInvalidKey = errs.New(errs.ErrValidation, "invalid key")

// Provider contains the stores used by Lookup and Recorder.
type Provider interface {
	ProtocolStateStorageProvider() storage.Provider
	StorageProvider() storage.Provider
}

// Record contains info about a connection handshake and its outcome.
type Record struct {
	ConnectionID  string    `json:"connection_id,omitempty"`
	Role          string    `json:"role,omitempty"`
	State         string    `json:"state,omitempty"`
	ThreadID      string    `json:"thread_id,omitempty"`
	InvitationID  string    `json:"invitation_id,omitempty"`
	InvitationKey string    `json:"invitation_key,omitempty"`
	MyLabel       string    `json:"my_label,omitempty"`
	MyDID         string    `json:"my_did,omitempty"`
	MyVerKey      string    `json:"my_verkey,omitempty"`
	TheirDID      string    `json:"their_did,omitempty"`
	TheirVerKey   string    `json:"their_verkey,omitempty"`
	TheirLabel    string    `json:"their_label,omitempty"`
	TheirEndpoint string    `json:"their_endpoint,omitempty"`
	ProblemCode   string    `json:"problem_code,omitempty"`
	Explain       string    `json:"explain,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// NewLookup opens the connection stores of p. Lookup is the read side: records of running handshakes are
// found in the protocol state store, finished ones in the permanent store.
func NewLookup(p Provider) (*Lookup, error) {
	store, err := openStore(p.StorageProvider())
	if err != nil {
		return nil, fmt.Errorf("permanent store: %w", err)
	}

	protocolStateStore, err := openStore(p.ProtocolStateStorageProvider())
	if err != nil {
		return nil, fmt.Errorf("protocol state store: %w", err)
	}

	return &Lookup{protocolStateStore: protocolStateStore, store: store}, nil
}

func openStore(p storage.Provider) (storage.Store, error) {
	store, err := p.OpenStore(Namespace)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", Namespace, err)
	}

	err = p.SetStoreConfig(Namespace,
		storage.StoreConfiguration{TagNames: []string{tagConnectionID, tagThreadID, tagState}})
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", Namespace, err)
	}

	return store, nil
}

// Lookup reads connection records and invitations.
type Lookup struct {
	protocolStateStore storage.Store
	store              storage.Store
}

// GetConnectionRecord returns the record of a connection, finished or not.
func (c *Lookup) GetConnectionRecord(connectionID string) (*Record, error) {
	rec := &Record{}

	err := load(c.store, recordKey(connectionID), rec)
	if errors.Is(err, storage.ErrDataNotFound) {
		err = load(c.protocolStateStore, recordKey(connectionID), rec)
	}

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// GetConnectionRecordByThreadID returns the record of the handshake threaded by thid.
func (c *Lookup) GetConnectionRecordByThreadID(thid string) (*Record, error) {
	recs, err := c.query(tagThreadID + ":" + tagValue(thid))
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("connection record for thread %s: %w", thid, storage.ErrDataNotFound)
	}

	return recs[0], nil
}

// QueryConnectionRecords returns the records in the given state, or all records for an empty state.
func (c *Lookup) QueryConnectionRecords(state string) ([]*Record, error) {
	expression := tagConnectionID
	if state != "" {
		expression = tagState + ":" + tagValue(state)
	}

	return c.query(expression)
}

// GetInvitation loads a stored invitation into target.
func (c *Lookup) GetInvitation(id string, target interface{}) error {
	if id == "" {
		return ErrInvalidKey
	}

	return load(c.store, invitationKey(id), target)
}

// query merges the matches of both stores. A record present in both is read from the permanent store.
func (c *Lookup) query(expression string) ([]*Record, error) {
	seen := make(map[string]struct{})

	var records []*Record

	for _, store := range []storage.Store{c.store, c.protocolStateStore} {
		err := scan(store, expression, func(key string, value []byte) error {
			if _, dup := seen[key]; dup || !strings.HasPrefix(key, recordPrefix) {
				return nil
			}

			rec := &Record{}
			if err := json.Unmarshal(value, rec); err != nil {
				return fmt.Errorf("unmarshal connection record %s: %w", key, err)
			}

			seen[key] = struct{}{}
			records = append(records, rec)

			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return records, nil
}

// scan calls fn with every entry of store matching expression.
func scan(store storage.Store, expression string, fn func(key string, value []byte) error) error {
	itr, err := store.Query(expression)
	if err != nil {
		return fmt.Errorf("query %q: %w", expression, err)
	}

	defer storage.Close(itr, logger)

	for {
		more, err := itr.Next()
		if err != nil {
			return fmt.Errorf("iterate %q: %w", expression, err)
		}

		if !more {
			return nil
		}

		key, err := itr.Key()
		if err != nil {
			return fmt.Errorf("iterator key: %w", err)
		}

		value, err := itr.Value()
		if err != nil {
			return fmt.Errorf("iterator value: %w", err)
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}
}

func load(store storage.Store, key string, target interface{}) error {
	raw, err := store.Get(key)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, target)
}

func recordKey(connectionID string) string {
	return recordPrefix + connectionID
}

func invitationKey(id string) string {
	return invitationPrefix + id
}

// tag values may not contain the query separator.
func tagValue(v string) string {
	return strings.ReplaceAll(v, ":", "%3A")
}
