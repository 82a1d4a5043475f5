/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"sync"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/connection"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/tunnel"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
	connectionstore "github.com/hyperledger/aries-agent-sdk-go/pkg/store/connection"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

// handshake is the private inbox of one connection handshake. Keys minted while it runs are claimed so
// that the router hands it the messages addressed to them.
type handshake struct {
	a     *Agent
	queue *transport.Queue

	mu   sync.Mutex
	keys []string
}

func (a *Agent) newHandshake() *handshake {
	hs := &handshake{a: a, queue: transport.NewQueue(queueSize)}

	a.mu.Lock()
	a.live[hs] = struct{}{}
	a.mu.Unlock()

	return hs
}

func (h *handshake) claim(verKey string) {
	h.mu.Lock()
	h.keys = append(h.keys, verKey)
	h.mu.Unlock()

	h.a.mu.Lock()
	h.a.claims[verKey] = h
	h.a.mu.Unlock()
}

func (h *handshake) release() {
	h.mu.Lock()
	keys := h.keys
	h.keys = nil
	h.mu.Unlock()

	h.a.mu.Lock()
	for _, k := range keys {
		if h.a.claims[k] == h {
			delete(h.a.claims, k)
		}
	}
	delete(h.a.live, h)
	h.a.mu.Unlock()

	h.queue.Close() //nolint:errcheck
}

func (a *Agent) claimant(verKey string) *handshake {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.claims[verKey]
}

// KMS implements connection.Provider.
func (h *handshake) KMS() connection.KeyManager {
	return h
}

// ConnectionRecorder implements connection.Provider.
func (h *handshake) ConnectionRecorder() *connectionstore.Recorder {
	return h.a.recorder
}

// PairwiseStore implements connection.Provider.
func (h *handshake) PairwiseStore() connection.PairwiseSaver {
	return h.a.pairwise
}

// Create mints a key in the agent's KMS and claims it.
func (h *handshake) Create() (*keypair.KeyPair, error) {
	kp, err := h.a.kms.Create()
	if err != nil {
		return nil, err
	}

	h.claim(kp.VerKeyBase58())

	return kp, nil
}

// Get loads a key from the agent's KMS.
func (h *handshake) Get(verKey string) (*keypair.KeyPair, error) {
	return h.a.kms.Get(verKey)
}

func (a *Agent) connectionOptions() []connection.Option {
	opts := []connection.Option{
		connection.WithTimeToLive(a.cfg.TTL),
		connection.WithAckRequired(a.cfg.AckRequired),
		connection.WithHub(a.hub),
		connection.WithMetrics(a.metrics),
	}

	if a.stateEvents != nil {
		opts = append(opts, connection.WithStateEvents(a.stateEvents))
	}

	return opts
}

// Invite creates an invitation. The returned record is passed to Serve to accept the request answering
// it.
func (a *Agent) Invite(ctx context.Context) (*connection.Invitation, *connection.Record, error) {
	hs := a.newHandshake()

	inv, rec, err := connection.NewInviter(hs, a.connectionOptions()...).CreateInvitation(ctx)
	if err != nil {
		hs.release()

		return nil, nil, err
	}

	a.mu.Lock()
	a.pending[rec.ConnectionID] = hs
	a.mu.Unlock()

	logger.Infof("created invitation %s", inv.ID)

	return inv, rec, nil
}

// Serve waits for the connection request answering rec's invitation and completes the handshake as the
// inviter. On success the peer can be called, pinged and posted to by its verkey.
func (a *Agent) Serve(ctx context.Context, rec *connection.Record) (*connection.Record, error) {
	a.mu.Lock()
	hs, ok := a.pending[rec.ConnectionID]
	delete(a.pending, rec.ConnectionID)
	a.mu.Unlock()

	if !ok {
		return rec, errs.New(errs.ErrValidation, "no pending invitation for connection %s", rec.ConnectionID)
	}

	defer hs.release()

	tun := tunnel.New(hs.queue, a.endpointWriter(func() string { return rec.TheirEndpoint }), tunnel.Trust{})

	out, err := connection.NewInviter(hs, a.connectionOptions()...).Run(ctx, rec, tun)
	if err != nil {
		return out, err
	}

	return out, a.registerRecord(out)
}

// Connect accepts an invitation and completes the handshake as the invitee.
func (a *Agent) Connect(ctx context.Context, inv *connection.Invitation) (*connection.Record, error) {
	hs := a.newHandshake()
	defer hs.release()

	invitee := connection.NewInvitee(hs, a.connectionOptions()...)

	rec, err := invitee.AcceptInvitation(ctx, inv)
	if err != nil {
		return nil, err
	}

	tun := tunnel.New(hs.queue, a.endpointWriter(func() string { return rec.TheirEndpoint }), tunnel.Trust{})

	out, err := invitee.Run(ctx, rec, tun)
	if err != nil {
		return out, err
	}

	return out, a.registerRecord(out)
}

// ConnectURL accepts an invitation URL.
func (a *Agent) ConnectURL(ctx context.Context, invitationURL string) (*connection.Record, error) {
	inv, err := connection.ParseInvitationURL(invitationURL)
	if err != nil {
		return nil, err
	}

	return a.Connect(ctx, inv)
}

func (a *Agent) registerRecord(rec *connection.Record) error {
	return a.register(&pairwise.Record{
		ConnectionID:  rec.ConnectionID,
		MyDID:         rec.MyDID,
		MyVerKey:      rec.MyVerKey,
		TheirDID:      rec.TheirDID,
		TheirVerKey:   rec.TheirVerKey,
		TheirLabel:    rec.TheirLabel,
		TheirEndpoint: rec.TheirEndpoint,
	})
}

// register opens the pairwise tunnel of a completed connection.
func (a *Agent) register(rec *pairwise.Record) error {
	me, err := a.kms.Get(rec.MyVerKey)
	if err != nil {
		return err
	}

	their, err := keypair.ParseVerKey(rec.TheirVerKey)
	if err != nil {
		return err
	}

	endpoint := rec.TheirEndpoint
	tun := tunnel.New(nil, a.endpointWriter(func() string { return endpoint }), tunnel.Trust{
		MyKeys:       []*keypair.KeyPair{me},
		Sender:       me,
		TheirVerKeys: [][]byte{their},
	})

	a.mu.Lock()
	a.tunnels[rec.TheirVerKey] = tun
	a.mu.Unlock()

	logger.Debugf("registered pairwise %s at %s", rec.TheirVerKey, endpoint)

	return nil
}

// tunnelFor returns the pairwise tunnel to a peer, loading it from the pairwise store when the connection
// was completed by another agent sharing the store.
func (a *Agent) tunnelFor(theirVerKey string) (*tunnel.Tunnel, error) {
	a.mu.RLock()
	tun, ok := a.tunnels[theirVerKey]
	a.mu.RUnlock()

	if ok {
		return tun, nil
	}

	rec, err := a.pairwise.LoadForVerKey(theirVerKey)
	if err == nil && rec.TheirVerKey != theirVerKey {
		err = storage.ErrDataNotFound
	}

	if err != nil {
		return nil, errs.Wrapf(errs.ErrValidation, err, "no connection to %s", theirVerKey)
	}

	if err := a.register(rec); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.tunnels[theirVerKey], nil
}

func (a *Agent) outboundFor(endpoint string) (Outbound, error) {
	for _, o := range a.outbounds {
		if o.Accept(endpoint) {
			return o, nil
		}
	}

	return nil, errs.New(errs.ErrValidation, "no outbound transport for endpoint %q", endpoint)
}

// endpointWriter resolves the endpoint when a unit is written, since a handshake learns it mid-flight.
type endpointWriter struct {
	a        *Agent
	endpoint func() string
}

func (a *Agent) endpointWriter(endpoint func() string) transport.Writer {
	return &endpointWriter{a: a, endpoint: endpoint}
}

func (w *endpointWriter) Write(ctx context.Context, data []byte) error {
	url := w.endpoint()
	if url == "" {
		return errs.New(errs.ErrValidation, "peer endpoint is unknown")
	}

	out, err := w.a.outboundFor(url)
	if err != nil {
		return err
	}

	return out.Writer(url).Write(ctx, data)
}
