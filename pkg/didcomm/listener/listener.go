/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package listener pulls raw inbound events from an event source and turns them into typed messages
// annotated with the sender's pairwise identity.
package listener

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

//go:generate mockgen -destination ../../internal/gomocks/didcomm/listener/mocks.gen.go -package listener -source=listener.go EventSource,PairwiseResolver

var logger = log.New("aries-agent/listener")

// EventSource yields raw JSON encoded events, one per Pull, blocking until one is available or ctx is done.
type EventSource interface {
	Pull(ctx context.Context) ([]byte, error)
}

// PairwiseResolver resolves the pairwise record of a verkey. storage.ErrDataNotFound means no record.
type PairwiseResolver interface {
	LoadForVerKey(verKey string) (*pairwise.Record, error)
}

// Event is an inbound message restored to its typed form.
type Event struct {
	// Message is the typed message, or Raw itself when its type is not registered.
	Message         interface{}
	Raw             message.Map
	SenderVerKey    string
	RecipientVerKey string
	ForwardedKeys   []string
	ContentType     string
	// Pairwise is set when the sender verkey belongs to a known pairwise identity.
	Pairwise *pairwise.Record
}

// ThreadID returns the thread id of the message.
func (e *Event) ThreadID() string {
	thid, err := e.Raw.ThreadID()
	if err != nil {
		return ""
	}

	return thid
}

// Type returns the message type URI.
func (e *Event) Type() string {
	return e.Raw.Type()
}

// Generic reports whether the message type is not registered.
func (e *Event) Generic() bool {
	_, ok := e.Message.(message.Map)

	return ok
}

// Listener turns events into typed messages.
type Listener struct {
	source   EventSource
	registry *message.Registry
	resolver PairwiseResolver
}

// Option configures a Listener.
type Option func(l *Listener)

// WithPairwiseResolver attaches pairwise records to events whose sender verkey is known.
func WithPairwiseResolver(r PairwiseResolver) Option {
	return func(l *Listener) {
		l.resolver = r
	}
}

// New creates a listener.
func New(source EventSource, registry *message.Registry, opts ...Option) *Listener {
	l := &Listener{source: source, registry: registry}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// GetOne pulls and decodes the next event. A ctx deadline yields a timeout error.
func (l *Listener) GetOne(ctx context.Context) (*Event, error) {
	raw, err := l.source.Pull(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.ErrTimeout, err, "listener")
		}

		return nil, err
	}

	var ev transport.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "decode event")
	}

	if ev.Message == nil {
		return nil, errs.New(errs.ErrPayloadStructure, "event has no message")
	}

	msg := message.Map(ev.Message)

	typed, err := l.registry.Restore(msg)
	if err != nil {
		return nil, err
	}

	out := &Event{
		Message:         typed,
		Raw:             msg,
		SenderVerKey:    ev.SenderVerKey,
		RecipientVerKey: ev.RecipientVerKey,
		ForwardedKeys:   ev.ForwardedKeys,
		ContentType:     ev.ContentType,
	}

	if l.resolver != nil && ev.SenderVerKey != "" {
		rec, err := l.resolver.LoadForVerKey(ev.SenderVerKey)

		switch {
		case err == nil:
			out.Pairwise = rec
		case errors.Is(err, storage.ErrDataNotFound):
			logger.Debugf("no pairwise for sender %s", ev.SenderVerKey)
		default:
			return nil, err
		}
	}

	return out, nil
}
