/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package message models DIDComm messages: the generic JSON object form (Map), the message type URI and
// the registry that restores typed messages from their @type.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
)

const (
	jsonID       = "@id"
	jsonType     = "@type"
	jsonThread   = "~thread"
	jsonThreadID = "thid"
	jsonParentID = "pthid"
	// PleaseAckKey is the key of the please-ack decorator.
	PleaseAckKey = "~please_ack"
)

// ErrThreadIDNotFound is returned when a message carries neither ~thread.thid nor @id.
var ErrThreadIDNotFound = errors.New("threadID not found")

// Map is the generic form of a DIDComm message: a JSON object with the reserved keys @type, @id,
// ~thread and ~please_ack.
type Map map[string]interface{}

// NewMap converts a typed message, a JSON document ([]byte) or a Map into a Map.
func NewMap(v interface{}) (Map, error) {
	switch msg := v.(type) {
	case Map:
		return msg, nil
	case map[string]interface{}:
		return msg, nil
	case []byte:
		return ParseMap(msg)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "marshal message")
	}

	return ParseMap(raw)
}

// ParseMap parses a JSON object into a Map.
func ParseMap(raw []byte) (Map, error) {
	var m Map

	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "parse message")
	}

	if m == nil {
		return nil, errs.New(errs.ErrPayloadStructure, "message is not a JSON object")
	}

	return m, nil
}

// ID returns the message @id.
func (m Map) ID() string {
	return m.str(jsonID)
}

// Type returns the message @type.
func (m Map) Type() string {
	return m.str(jsonType)
}

// SetID sets the message @id.
func (m Map) SetID(id string) {
	m[jsonID] = id
}

// EnsureID sets a random @id when the message has none and returns the id.
func (m Map) EnsureID() string {
	if id := m.ID(); id != "" {
		return id
	}

	id := uuid.New().String()
	m.SetID(id)

	return id
}

// ThreadID returns ~thread.thid, falling back to @id for the first message of a thread.
func (m Map) ThreadID() (string, error) {
	if thid := m.thread()[jsonThreadID]; thid != nil {
		if s, ok := thid.(string); ok && s != "" {
			return s, nil
		}
	}

	if id := m.ID(); id != "" {
		return id, nil
	}

	return "", ErrThreadIDNotFound
}

// ParentThreadID returns ~thread.pthid.
func (m Map) ParentThreadID() string {
	s, _ := m.thread()[jsonParentID].(string) //nolint:errcheck

	return s
}

// SetThread sets ~thread.thid and, when given, ~thread.pthid.
func (m Map) SetThread(thid, pthid string) {
	if thid == "" {
		return
	}

	t := map[string]interface{}{jsonThreadID: thid}
	if pthid != "" {
		t[jsonParentID] = pthid
	}

	m[jsonThread] = t
}

// UnsetThread removes the ~thread decorator.
func (m Map) UnsetThread() {
	delete(m, jsonThread)
}

// PleaseAck reports whether the message carries a ~please_ack decorator.
func (m Map) PleaseAck() bool {
	_, ok := m[PleaseAckKey]

	return ok
}

// Decode converts the message into v, a pointer to a struct with json tags.
func (m Map) Decode(v interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       stringToTimeHook,
		WeaklyTypedInput: true,
		Result:           v,
		TagName:          "json",
		Squash:           true,
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}

	if err := decoder.Decode(map[string]interface{}(m)); err != nil {
		return errs.Wrap(errs.ErrPayloadStructure, err, "decode message")
	}

	return nil
}

// Clone returns a deep copy of the message.
func (m Map) Clone() Map {
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}

	c, err := ParseMap(raw)
	if err != nil {
		return m
	}

	return c
}

func (m Map) str(key string) string {
	s, _ := m[key].(string) //nolint:errcheck

	return s
}

func (m Map) thread() map[string]interface{} {
	t, _ := m[jsonThread].(map[string]interface{}) //nolint:errcheck

	return t
}

func stringToTimeHook(f, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(time.Time{}) {
		return data, nil
	}

	return time.Parse(time.RFC3339Nano, data.(string)) //nolint:forcetypeassert
}
