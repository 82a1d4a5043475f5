/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a closed Queue.
var ErrClosed = errors.New("transport closed")

const defaultQueueSize = 64

// Queue is an in-memory FIFO of transport units. It implements Reader, Writer and the listener event
// source (Pull), and is what inbound transports hand received units to.
type Queue struct {
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue buffering up to size units. A size below 1 uses a default.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = defaultQueueSize
	}

	return &Queue{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Write enqueues data, blocking while the queue is full.
func (q *Queue) Write(ctx context.Context, data []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- data:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read dequeues the oldest unit. Units buffered before Close are still handed out.
func (q *Queue) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-q.ch:
		return data, nil
	case <-q.done:
		select {
		case data := <-q.ch:
			return data, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pull is Read under the event source name.
func (q *Queue) Pull(ctx context.Context) ([]byte, error) {
	return q.Read(ctx)
}

// Close unblocks pending readers and writers and rejects further writes.
func (q *Queue) Close() error {
	q.once.Do(func() {
		close(q.done)

		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
	})

	return nil
}

type duplex struct {
	in  *Queue
	out *Queue
}

func (d *duplex) Read(ctx context.Context) ([]byte, error) {
	return d.in.Read(ctx)
}

func (d *duplex) Write(ctx context.Context, data []byte) error {
	return d.out.Write(ctx, data)
}

// Pipe returns two connected in-memory ends: what one end writes the other reads.
func Pipe() (ReadWriter, ReadWriter) {
	a, b := NewQueue(0), NewQueue(0)

	return &duplex{in: a, out: b}, &duplex{in: b, out: a}
}
