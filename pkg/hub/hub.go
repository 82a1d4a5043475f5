/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package hub holds the session an operation runs in: the active identity, its trust context and the
// collaborators serving it. A process root is configured once; scoped overrides travel in a
// context.Context and are released on exit.
package hub

import (
	"context"
	"io"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/future"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/tunnel"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

var logger = log.New("aries-agent/hub")

// Scope tells where a session was found.
type Scope string

const (
	// ScopeNone means no session is configured.
	ScopeNone Scope = ""
	// ScopeRoot is the process-wide session.
	ScopeRoot Scope = "root"
	// ScopeThread is the outermost override of a unit of work.
	ScopeThread Scope = "thread"
	// ScopeTask is an override nested within a thread scope.
	ScopeTask Scope = "task"
)

// Session is the identity and collaborators an operation runs with.
type Session struct {
	Label    string
	Endpoint string
	Identity *keypair.KeyPair
	DID      string
	Trust    tunnel.Trust
	Tunnel   *tunnel.Tunnel
	Futures  *future.Registry
	Pairwise *pairwise.Store
	// Closers are closed when the scope holding the session is released. Root closers are never closed by
	// the hub.
	Closers []io.Closer
}

// Clone returns a shallow copy without closers, to be customized for a nested scope.
func (s *Session) Clone() *Session {
	c := *s
	c.Closers = nil

	return &c
}

// Release ends a scope. Calling it more than once is a no-op.
type Release func()

type scope struct {
	session *Session
	parent  *scope
	kind    Scope

	mu       sync.RWMutex
	released bool
	once     sync.Once
}

func (s *scope) live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return !s.released
}

func (s *scope) release() {
	s.once.Do(func() {
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()

		for _, c := range s.session.Closers {
			if err := c.Close(); err != nil {
				logger.Warnf("failed to close %s scope collaborator: %s", s.kind, err)
			}
		}
	})
}

type scopeKey struct{}

// Hub resolves the current session.
type Hub struct {
	mu   sync.RWMutex
	root *Session
}

// New creates a hub with no root.
func New() *Hub {
	return &Hub{}
}

var defaultHub = New() //nolint:gochecknoglobals

// Default returns the process hub.
func Default() *Hub {
	return defaultHub
}

// Init sets the root session.
func (h *Hub) Init(root *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.root != nil {
		logger.Infof("replacing root session %s", h.root.Label)
	}

	h.root = root
}

// Root returns the root session, nil when none is configured.
func (h *Hub) Root() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.root
}

// Enter returns a context carrying s as an override of the current session. The first override in a
// context chain is a thread scope, nested ones are task scopes. The returned Release must be called on
// every exit path; it closes s.Closers.
func (h *Hub) Enter(ctx context.Context, s *Session) (context.Context, Release) {
	parent := nearest(ctx)

	kind := ScopeThread
	if parent != nil {
		kind = ScopeTask
	}

	sc := &scope{session: s, parent: parent, kind: kind}

	return context.WithValue(ctx, scopeKey{}, sc), sc.release
}

// Current returns the nearest live override in ctx, else the root. With neither it fails with
// errs.ErrInitialization.
func (h *Hub) Current(ctx context.Context) (*Session, error) {
	s, _, err := h.Lookup(ctx)

	return s, err
}

// Lookup is Current that also tells which scope served the session.
func (h *Hub) Lookup(ctx context.Context) (*Session, Scope, error) {
	for sc := nearest(ctx); sc != nil; sc = sc.parent {
		if sc.live() {
			return sc.session, sc.kind, nil
		}
	}

	if root := h.Root(); root != nil {
		return root, ScopeRoot, nil
	}

	return nil, ScopeNone, errs.New(errs.ErrInitialization, "no session configured")
}

func nearest(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}

	sc, _ := ctx.Value(scopeKey{}).(*scope) //nolint:errcheck

	return sc
}
