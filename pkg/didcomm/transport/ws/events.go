/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
)

const (
	defaultDialRetries  = 5
	defaultDialInterval = 250 * time.Millisecond
	defaultBufferSize   = 64
)

type eventSourceOpts struct {
	maxRetries uint64
	interval   time.Duration
	bufferSize int
}

// EventSourceOpt configures an EventSource.
type EventSourceOpt func(opts *eventSourceOpts)

// WithDialRetry redials up to maxRetries times, backing off exponentially from interval.
func WithDialRetry(maxRetries uint64, interval time.Duration) EventSourceOpt {
	return func(opts *eventSourceOpts) {
		opts.maxRetries = maxRetries
		opts.interval = interval
	}
}

// WithBufferSize sets how many events are held while nobody pulls.
func WithBufferSize(size int) EventSourceOpt {
	return func(opts *eventSourceOpts) {
		opts.bufferSize = size
	}
}

// EventSource streams inbound events from a websocket endpoint. Each text message is one event. A dropped
// connection is redialed; when redialing fails the source closes and Pull returns transport.ErrClosed.
type EventSource struct {
	url    string
	opts   eventSourceOpts
	queue  *transport.Queue
	cancel context.CancelFunc
	done   chan struct{}
}

// DialEventSource connects to url and starts reading events in the background.
func DialEventSource(ctx context.Context, url string, opts ...EventSourceOpt) (*EventSource, error) {
	if url == "" {
		return nil, errs.New(errs.ErrValidation, "event source url is mandatory")
	}

	o := eventSourceOpts{
		maxRetries: defaultDialRetries,
		interval:   defaultDialInterval,
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(&o)
	}

	s := &EventSource{
		url:   url,
		opts:  o,
		queue: transport.NewQueue(o.bufferSize),
		done:  make(chan struct{}),
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.run(runCtx, conn)

	return s, nil
}

// Pull returns the next event.
func (s *EventSource) Pull(ctx context.Context) ([]byte, error) {
	return s.queue.Pull(ctx)
}

// Close stops reading and closes the connection.
func (s *EventSource) Close() error {
	s.cancel()
	<-s.done

	return s.queue.Close()
}

func (s *EventSource) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer s.queue.Close() //nolint:errcheck

	for {
		err := s.drain(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		logger.Warnf("event stream %s dropped: %v", s.url, err)

		conn, err = s.dial(ctx)
		if err != nil {
			logger.Errorf("event stream %s lost: %v", s.url, err)

			return
		}
	}
}

func (s *EventSource) drain(ctx context.Context, conn *websocket.Conn) error {
	defer closeConn(conn)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageText {
			logger.Warnf("event stream %s: skipping binary message", s.url)

			continue
		}

		if err := s.queue.Write(ctx, data); err != nil {
			return err
		}
	}
}

func (s *EventSource) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.interval

	err := backoff.Retry(func() error {
		c, _, err := websocket.Dial(ctx, s.url, nil) //nolint:bodyclose
		if err != nil {
			logger.Debugf("dialing event stream %s: %v", s.url, err)

			return err
		}

		conn = c

		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.opts.maxRetries), ctx))
	if err != nil {
		return nil, errs.Wrapf(errs.ErrIO, err, "dial event stream %s", s.url)
	}

	conn.SetReadLimit(MaxMessageSize)

	logger.Infof("connected to event stream %s", s.url)

	return conn, nil
}
