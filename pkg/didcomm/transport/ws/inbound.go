/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ws carries DIDComm transport units and inbound events over websockets.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"
	"nhooyr.io/websocket"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
)

var logger = log.New("aries-agent/transport/ws")

const (
	// MaxMessageSize bounds a single websocket message.
	MaxMessageSize = 4 << 20

	webSocketScheme   = "ws"
	readHeaderTimeout = 5 * time.Second
)

// Inbound is a websocket server writing every received message to a sink.
type Inbound struct {
	externalAddr string
	server       *http.Server
	listener     net.Listener
}

// NewInbound creates a websocket inbound transport listening on internalAddr. externalAddr is the endpoint
// advertised to peers and defaults to internalAddr.
func NewInbound(internalAddr, externalAddr string, sink transport.Writer) (*Inbound, error) {
	if internalAddr == "" {
		return nil, errs.New(errs.ErrValidation, "websocket address is mandatory")
	}

	handler, err := NewInboundHandler(sink)
	if err != nil {
		return nil, err
	}

	if externalAddr == "" {
		externalAddr = internalAddr
	}

	return &Inbound{
		externalAddr: externalAddr,
		server: &http.Server{
			Addr:              internalAddr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Start listens and serves in the background.
func (i *Inbound) Start() error {
	l, err := net.Listen("tcp", i.server.Addr)
	if err != nil {
		return errs.Wrapf(errs.ErrIO, err, "websocket listen on %s", i.server.Addr)
	}

	i.listener = l

	go func() {
		if err := i.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("websocket server on %s stopped: %v", i.server.Addr, err)
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (i *Inbound) Addr() string {
	if i.listener == nil {
		return i.server.Addr
	}

	return i.listener.Addr().String()
}

// Stop the websocket server.
func (i *Inbound) Stop(ctx context.Context) error {
	if err := i.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("websocket server shutdown failed: %w", err)
	}

	return nil
}

// Endpoint provides the websocket connection details.
func (i *Inbound) Endpoint() string {
	return i.externalAddr
}

// NewInboundHandler upgrades requests to websocket connections and writes each message read from them
// to sink.
func NewInboundHandler(sink transport.Writer) (http.Handler, error) {
	if sink == nil {
		return nil, errs.New(errs.ErrInitialization, "websocket inbound handler: sink is nil")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		processRequest(w, r, sink)
	}), nil
}

func processRequest(w http.ResponseWriter, r *http.Request, sink transport.Writer) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Errorf("failed to upgrade the connection : %v", err)

		return
	}

	c.SetReadLimit(MaxMessageSize)

	defer closeConn(c)

	for {
		_, message, err := c.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Warnf("reading websocket message: %v", err)
			}

			return
		}

		if err := sink.Write(r.Context(), message); err != nil {
			logger.Errorf("queueing websocket message: %v", err)

			return
		}
	}
}

func closeConn(c *websocket.Conn) {
	err := c.Close(websocket.StatusNormalClosure, "closing the connection")
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		logger.Debugf("closing websocket connection: %v", err)
	}
}
