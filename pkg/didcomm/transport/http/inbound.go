/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package http carries DIDComm transport units over HTTP POST.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/rs/cors"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
)

var logger = log.New("aries-agent/transport/http")

const (
	// MaxPayloadSize bounds the body of an inbound POST.
	MaxPayloadSize = 4 << 20

	readHeaderTimeout = 5 * time.Second
)

// NewInboundHandler creates a handler enforcing the DIDComm HTTP transport rules: POST only, a supported
// content type and a non-empty body. Accepted bodies are written to sink and answered with 202.
func NewInboundHandler(sink transport.Writer) (http.Handler, error) {
	if sink == nil {
		return nil, errs.New(errs.ErrInitialization, "inbound handler: sink is nil")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		processPOSTRequest(w, r, sink)
	}), nil
}

func processPOSTRequest(w http.ResponseWriter, r *http.Request, sink transport.Writer) {
	if !validateHTTPMethod(w, r) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadSize))
	if err != nil {
		logger.Warnf("reading request body: %v", err)
		http.Error(w, "Failed to read payload", http.StatusRequestEntityTooLarge)

		return
	}

	if len(body) == 0 {
		http.Error(w, "Empty payload", http.StatusBadRequest)

		return
	}

	if err := sink.Write(r.Context(), body); err != nil {
		logger.Errorf("queueing inbound payload: %v", err)

		status := http.StatusInternalServerError
		if errors.Is(err, transport.ErrClosed) {
			status = http.StatusServiceUnavailable
		}

		http.Error(w, "Failed to queue payload", status)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func validateHTTPMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "HTTP Method not allowed", http.StatusMethodNotAllowed)

		return false
	}

	ct := r.Header.Get("Content-Type")
	if !transport.IsSupportedMediaType(ct) {
		http.Error(w, fmt.Sprintf("Unsupported Content-type %q", ct), http.StatusUnsupportedMediaType)

		return false
	}

	return true
}

// Inbound is an HTTP server handing every accepted POST body to a sink, normally a *transport.Queue read
// by a tunnel.
type Inbound struct {
	externalAddr string
	server       *http.Server
	router       *mux.Router
	listener     net.Listener
}

// NewInbound creates an inbound transport listening on internalAddr. externalAddr is the endpoint
// advertised to peers and defaults to internalAddr.
func NewInbound(internalAddr, externalAddr string, sink transport.Writer) (*Inbound, error) {
	if internalAddr == "" {
		return nil, errs.New(errs.ErrValidation, "http inbound address is mandatory")
	}

	handler, err := NewInboundHandler(sink)
	if err != nil {
		return nil, err
	}

	if externalAddr == "" {
		externalAddr = internalAddr
	}

	router := mux.NewRouter()
	router.Handle("/", handler)

	return &Inbound{
		externalAddr: externalAddr,
		router:       router,
		server: &http.Server{
			Addr:              internalAddr,
			Handler:           cors.Default().Handler(router),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Router exposes the inbound router so other endpoints can share the listener.
func (i *Inbound) Router() *mux.Router {
	return i.router
}

// Start listens and serves in the background.
func (i *Inbound) Start() error {
	l, err := net.Listen("tcp", i.server.Addr)
	if err != nil {
		return errs.Wrapf(errs.ErrIO, err, "http inbound listen on %s", i.server.Addr)
	}

	i.listener = l

	go func() {
		if err := i.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http inbound on %s stopped: %v", i.server.Addr, err)
		}
	}()

	logger.Infof("http inbound listening on %s", l.Addr())

	return nil
}

// Addr returns the bound address once started.
func (i *Inbound) Addr() string {
	if i.listener == nil {
		return i.server.Addr
	}

	return i.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (i *Inbound) Stop(ctx context.Context) error {
	if err := i.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http inbound shutdown: %w", err)
	}

	return nil
}

// Endpoint is the advertised address.
func (i *Inbound) Endpoint() string {
	return i.externalAddr
}
