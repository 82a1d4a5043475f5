/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package future

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/listener"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/metrics"
)

const defaultPollInterval = time.Second

// Source yields inbound events; *listener.Listener implements it.
type Source interface {
	GetOne(ctx context.Context) (*listener.Event, error)
}

// Handler consumes events of a registered message kind.
type Handler func(ctx context.Context, ev *listener.Event)

// Dispatcher is the single reader of the shared event stream. Each event goes to the future waiting on
// its thread, else to the handler of its kind, else to Sink.
type Dispatcher struct {
	Source   Source
	Registry *Registry
	// Sink receives generic events. Nil drops them.
	Sink chan<- *listener.Event
	// PollInterval bounds each read so that expired futures are swept while the stream is idle.
	PollInterval time.Duration
	Metrics      *metrics.Metrics

	mu       sync.RWMutex
	handlers map[message.Kind]Handler
}

// Handle routes events of typeURI's kind to h. Handlers run on the dispatch goroutine and should hand
// long work off.
func (d *Dispatcher) Handle(typeURI string, h Handler) error {
	t, err := message.ParseType(typeURI)
	if err != nil {
		return fmt.Errorf("handle: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handlers == nil {
		d.handlers = make(map[message.Kind]Handler)
	}

	d.handlers[t.Kind()] = h

	return nil
}

// Run dispatches events until ctx is done or the source fails. Malformed events are logged and skipped.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		ev, err := d.pull(ctx, interval)

		switch {
		case err == nil:
			d.Dispatch(ctx, ev)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errs.ErrTimeout):
			d.Registry.Sweep()
		case errors.Is(err, errs.ErrPayloadStructure), errors.Is(err, errs.ErrValidation):
			logger.Warnf("dropping inbound event: %s", err)
		default:
			return fmt.Errorf("dispatcher: %w", err)
		}
	}
}

func (d *Dispatcher) pull(ctx context.Context, interval time.Duration) (*listener.Event, error) {
	pollCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	return d.Source.GetOne(pollCtx)
}

// Dispatch routes a single event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *listener.Event) {
	if d.Registry != nil && d.Registry.Deliver(ev) {
		d.Metrics.InboundMessage("future")

		return
	}

	if h := d.handler(ev.Type()); h != nil {
		d.Metrics.InboundMessage("handler")
		h(ctx, ev)

		return
	}

	d.Metrics.InboundMessage("generic")

	if d.Sink == nil {
		logger.Debugf("no sink, dropping %s", ev.Type())

		return
	}

	select {
	case d.Sink <- ev:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) handler(typeURI string) Handler {
	t, err := message.ParseType(typeURI)
	if err != nil {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.handlers[t.Kind()]
}
