/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package future correlates replies with the requests that are waiting for them. A Future is registered
// under a thread id and resolved at most once, by the first reply carrying that thread id.
package future

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/metrics"
)

var logger = log.New("aries-agent/future")

// ErrDuplicateID is returned when a future is registered under an id that is still pending.
var ErrDuplicateID = errors.New("future id already pending")

// Future is a one-shot result slot.
type Future struct {
	id       string
	deadline time.Time
	done     chan struct{}
	once     sync.Once
	value    interface{}
	err      error
	registry *Registry
}

// ID returns the future id, used as the thread id of the request it answers.
func (f *Future) ID() string {
	return f.id
}

// Deadline returns the time after which the future is evicted.
func (f *Future) Deadline() time.Time {
	return f.deadline
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved, the timeout passes or the deadline passes, whichever comes
// first. It returns false when the future was not resolved; the future is then evicted.
func (f *Future) Wait(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return f.WaitContext(ctx)
}

// WaitContext is Wait bounded by ctx instead of a timeout.
func (f *Future) WaitContext(ctx context.Context) bool {
	timer := time.NewTimer(time.Until(f.deadline))
	defer timer.Stop()

	select {
	case <-f.done:
		return true
	case <-ctx.Done():
	case <-timer.C:
	}

	f.registry.evict(f)

	// a resolution may have won the race against eviction
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Value returns the resolved value. Before resolution it fails with errs.ErrPendingOperation. A reply carrying
// a remote exception yields a *RemoteError.
func (f *Future) Value() (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		return nil, errs.New(errs.ErrPendingOperation, "future %s is not resolved", f.id)
	}
}

func (f *Future) resolve(value interface{}, err error) bool {
	resolved := false

	f.once.Do(func() {
		f.value = value
		f.err = err
		resolved = true

		close(f.done)
	})

	return resolved
}

// Registry holds the pending futures.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Future
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(r *Registry)

// WithMetrics records future lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{pending: make(map[string]*Future)}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// New registers a pending future that expires after ttl. An empty id is replaced with a random uuid.
func (r *Registry) New(id string, ttl time.Duration) (*Future, error) {
	if ttl <= 0 {
		return nil, errs.New(errs.ErrValidation, "future ttl must be positive, got %s", ttl)
	}

	if id == "" {
		id = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.pending[id]; ok {
		if time.Now().Before(f.deadline) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}

		r.metrics.FutureExpired()
	}

	f := &Future{
		id:       id,
		deadline: time.Now().Add(ttl),
		done:     make(chan struct{}),
		registry: r,
	}

	r.pending[id] = f
	r.metrics.FuturePending()

	return f, nil
}

// Pending reports whether id belongs to a future awaiting resolution.
func (r *Registry) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pending[id]

	return ok
}

// Resolve resolves the pending future id. It returns false, doing nothing, when id is unknown, evicted or
// already resolved.
func (r *Registry) Resolve(id string, value interface{}, err error) bool {
	r.mu.Lock()
	f, ok := r.pending[id]

	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		logger.Debugf("no pending future %s", id)

		return false
	}

	if !f.resolve(value, err) {
		return false
	}

	r.metrics.FutureResolved()

	return true
}

// Sweep evicts every future whose deadline has passed and returns how many were evicted.
func (r *Registry) Sweep() int {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for id, f := range r.pending {
		if now.Before(f.deadline) {
			continue
		}

		delete(r.pending, id)
		r.metrics.FutureExpired()

		n++
	}

	if n > 0 {
		logger.Debugf("swept %d expired futures", n)
	}

	return n
}

func (r *Registry) evict(f *Future) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.pending[f.id]; ok && cur == f {
		delete(r.pending, f.id)
		r.metrics.FutureExpired()
	}
}
