/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package agent composes the key store, connection handshakes, pairwise tunnels and the inbound event
// stream into a single DIDComm agent.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/future"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/listener"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/connection"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/trustping"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/rpc"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport/http"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport/ws"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/tunnel"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/hub"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/localkms"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/metrics"
	connectionstore "github.com/hyperledger/aries-agent-sdk-go/pkg/store/connection"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

var logger = log.New("aries-agent/agent")

const (
	queueSize         = 64
	pollInterval      = 200 * time.Millisecond
	pairwiseCacheSize = 256
)

// Outbound delivers units to the endpoints whose scheme it accepts.
type Outbound interface {
	Accept(url string) bool
	Writer(url string) transport.Writer
}

// Agent is a DIDComm agent: it mints identities, runs connection handshakes and exchanges messages with
// the peers it is connected to.
type Agent struct {
	cfg           Config
	storeProvider storage.Provider
	stateProvider storage.Provider
	outbounds     []Outbound
	external      listener.EventSource
	registerer    prometheus.Registerer
	stateEvents   chan<- model.Event

	kms        *localkms.LocalKMS
	recorder   *connectionstore.Recorder
	lookup     *connectionstore.Lookup
	pairwise   *pairwise.Store
	registry   *message.Registry
	futures    *future.Registry
	metrics    *metrics.Metrics
	hub        *hub.Hub
	identity   *keypair.KeyPair
	dispatcher *future.Dispatcher

	inbound *transport.Queue
	events  *transport.Queue
	sink    chan *listener.Event

	mu      sync.RWMutex
	claims  map[string]*handshake
	pending map[string]*handshake
	live    map[*handshake]struct{}
	tunnels map[string]*tunnel.Tunnel

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures the agent.
type Option func(a *Agent) error

// WithConfig replaces the default settings.
func WithConfig(cfg Config) Option {
	return func(a *Agent) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		a.cfg = cfg

		return nil
	}
}

// WithStorageProvider stores keys, connections and pairwise records in p. The default is in memory.
func WithStorageProvider(p storage.Provider) Option {
	return func(a *Agent) error {
		a.storeProvider = p

		return nil
	}
}

// WithProtocolStateStorageProvider stores in-flight connection records in p. The default is in memory.
func WithProtocolStateStorageProvider(p storage.Provider) Option {
	return func(a *Agent) error {
		a.stateProvider = p

		return nil
	}
}

// WithOutbound replaces the outbound transports. The default delivers over HTTP and websockets.
func WithOutbound(outbounds ...Outbound) Option {
	return func(a *Agent) error {
		a.outbounds = outbounds

		return nil
	}
}

// WithEventSource forwards events of an external source, such as a websocket event stream, into the
// agent's event stream.
func WithEventSource(src listener.EventSource) Option {
	return func(a *Agent) error {
		a.external = src

		return nil
	}
}

// WithMetricsRegisterer registers the agent collectors with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(a *Agent) error {
		a.registerer = reg

		return nil
	}
}

// WithHub uses h as the session hub instead of a private one.
func WithHub(h *hub.Hub) Option {
	return func(a *Agent) error {
		a.hub = h

		return nil
	}
}

// WithConnectionEvents publishes the connection states the agent's handshakes enter.
func WithConnectionEvents(ch chan<- model.Event) Option {
	return func(a *Agent) error {
		a.stateEvents = ch

		return nil
	}
}

// New creates an agent and starts routing inbound units.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{
		cfg:     DefaultConfig(),
		claims:  make(map[string]*handshake),
		pending: make(map[string]*handshake),
		live:    make(map[*handshake]struct{}),
		tunnels: make(map[string]*tunnel.Tunnel),
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			closeErr := a.closeStores()
			return nil, fmt.Errorf("close err: %v error in option passed to New: %w", closeErr, err)
		}
	}

	if err := a.init(); err != nil {
		closeErr := a.closeStores()
		return nil, fmt.Errorf("close err: %v agent initialization failed: %w", closeErr, err)
	}

	a.start()

	return a, nil
}

func (a *Agent) init() error {
	if err := a.defaults(); err != nil {
		return err
	}

	if err := a.createStores(); err != nil {
		return err
	}

	if err := a.createIdentity(); err != nil {
		return err
	}

	a.hub.Init(&hub.Session{
		Label:    a.cfg.Label,
		Endpoint: a.cfg.Endpoint,
		Identity: a.identity,
		DID:      a.identity.DID(),
		Futures:  a.futures,
		Pairwise: a.pairwise,
	})

	if err := a.createDispatcher(); err != nil {
		return err
	}

	return a.restoreTunnels()
}

func (a *Agent) defaults() error {
	if a.storeProvider == nil {
		a.storeProvider = mem.NewProvider()
	}

	if a.stateProvider == nil {
		a.stateProvider = mem.NewProvider()
	}

	if a.hub == nil {
		a.hub = hub.New()
	}

	if a.outbounds == nil {
		httpOut, err := http.NewOutbound()
		if err != nil {
			return err
		}

		a.outbounds = []Outbound{httpOut, ws.NewOutbound()}
	}

	a.metrics = metrics.New(a.registerer)
	a.futures = future.NewRegistry(future.WithMetrics(a.metrics))
	a.registry = message.MustRegistry(kinds()...)
	a.inbound = transport.NewQueue(queueSize)
	a.events = transport.NewQueue(queueSize)
	a.sink = make(chan *listener.Event, queueSize)

	return nil
}

func kinds() []message.Entry {
	var entries []message.Entry

	entries = append(entries, connection.Kinds()...)
	entries = append(entries, model.Kinds()...)
	entries = append(entries, rpc.Kinds()...)

	return append(entries, trustping.Kinds()...)
}

func (a *Agent) createStores() error {
	var err error

	a.kms, err = localkms.New(a)
	if err != nil {
		return errs.Wrap(errs.ErrInitialization, err, "create kms")
	}

	a.recorder, err = connectionstore.NewRecorder(a)
	if err != nil {
		return errs.Wrap(errs.ErrInitialization, err, "create connection recorder")
	}

	a.lookup, err = connectionstore.NewLookup(a)
	if err != nil {
		return errs.Wrap(errs.ErrInitialization, err, "create connection lookup")
	}

	a.pairwise, err = pairwise.New(a, pairwise.WithCache(pairwiseCacheSize, a.cfg.TTL))
	if err != nil {
		return errs.Wrap(errs.ErrInitialization, err, "create pairwise store")
	}

	return nil
}

func (a *Agent) createIdentity() error {
	if a.cfg.Seed == "" {
		kp, err := a.kms.Create()
		if err != nil {
			return errs.Wrap(errs.ErrInitialization, err, "create root identity")
		}

		a.identity = kp

		return nil
	}

	seed, err := a.cfg.seed()
	if err != nil {
		return err
	}

	kp, err := keypair.FromSeed(seed)
	if err != nil {
		return err
	}

	if err := a.kms.Import(kp); err != nil {
		return errs.Wrap(errs.ErrInitialization, err, "import root identity")
	}

	a.identity = kp

	return nil
}

func (a *Agent) createDispatcher() error {
	a.dispatcher = &future.Dispatcher{
		Source:       listener.New(a.events, a.registry, listener.WithPairwiseResolver(a.pairwise)),
		Registry:     a.futures,
		Sink:         a.sink,
		PollInterval: pollInterval,
		Metrics:      a.metrics,
	}

	return a.dispatcher.Handle(trustping.PingMsgType, trustping.NewResponder(func(ev *listener.Event) (
		trustping.Poster, error) {
		return a.tunnelFor(ev.SenderVerKey)
	}))
}

// restoreTunnels reopens the pairwise tunnels of connections completed by an earlier run.
func (a *Agent) restoreTunnels() error {
	records, err := a.pairwise.List()
	if err != nil {
		return errs.Wrap(errs.ErrInitialization, err, "list pairwise records")
	}

	for _, rec := range records {
		if err := a.register(rec); err != nil {
			logger.Warnf("skipping pairwise %s: %s", rec.TheirVerKey, err)
		}
	}

	return nil
}

func (a *Agent) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(2)

	go func() {
		defer a.wg.Done()

		a.routeInbound(ctx)
	}()

	go func() {
		defer a.wg.Done()

		if err := a.dispatcher.Run(ctx); err != nil {
			logger.Errorf("dispatcher stopped: %s", err)
		}
	}()

	if a.external != nil {
		a.wg.Add(1)

		go func() {
			defer a.wg.Done()

			a.forwardExternal(ctx)
		}()
	}
}

// StorageProvider returns the store of keys, connections and pairwise records.
func (a *Agent) StorageProvider() storage.Provider {
	return a.storeProvider
}

// ProtocolStateStorageProvider returns the store of in-flight connection records.
func (a *Agent) ProtocolStateStorageProvider() storage.Provider {
	return a.stateProvider
}

// Config returns the agent settings.
func (a *Agent) Config() Config {
	return a.cfg
}

// Identity returns the root identity.
func (a *Agent) Identity() *keypair.KeyPair {
	return a.identity
}

// Hub returns the session hub whose root is the agent's session.
func (a *Agent) Hub() *hub.Hub {
	return a.hub
}

// Metrics returns the agent collectors.
func (a *Agent) Metrics() *metrics.Metrics {
	return a.metrics
}

// Inbound is where inbound transports hand received units.
func (a *Agent) Inbound() transport.Writer {
	return a.inbound
}

// Events yields inbound messages not consumed by a pending call or a protocol handler. It is closed by
// Close.
func (a *Agent) Events() <-chan *listener.Event {
	return a.sink
}

// Close stops routing, abandons running handshakes and closes the stores.
func (a *Agent) Close() error {
	var err error

	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}

		a.inbound.Close() //nolint:errcheck
		a.events.Close()  //nolint:errcheck

		a.mu.Lock()
		live := make([]*handshake, 0, len(a.live))
		for hs := range a.live {
			live = append(live, hs)
		}
		a.pending = make(map[string]*handshake)
		a.mu.Unlock()

		for _, hs := range live {
			hs.release()
		}

		a.wg.Wait()
		close(a.sink)

		err = a.closeStores()
	})

	return err
}

func (a *Agent) closeStores() error {
	if a.storeProvider != nil {
		if err := a.storeProvider.Close(); err != nil {
			return fmt.Errorf("failed to close the store: %w", err)
		}
	}

	if a.stateProvider != nil {
		if err := a.stateProvider.Close(); err != nil {
			return fmt.Errorf("failed to close the protocol state store: %w", err)
		}
	}

	return nil
}
