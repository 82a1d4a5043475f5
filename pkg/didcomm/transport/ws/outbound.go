/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"strings"

	"nhooyr.io/websocket"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
)

// Outbound sends each transport unit over a short-lived websocket connection.
type Outbound struct{}

// NewOutbound creates a client for the outbound websocket transport.
func NewOutbound() *Outbound {
	return &Outbound{}
}

// Send writes data as one text message to url.
func (o *Outbound) Send(ctx context.Context, data []byte, url string) error {
	if url == "" {
		return errs.New(errs.ErrValidation, "websocket outbound: url is mandatory")
	}

	client, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose
	if err != nil {
		return errs.Wrapf(errs.ErrIO, err, "websocket client dial %s", url)
	}

	defer closeConn(client)

	if err := client.Write(ctx, websocket.MessageText, data); err != nil {
		return errs.Wrap(errs.ErrIO, err, "websocket write message")
	}

	return nil
}

// Accept checks for the url scheme.
func (o *Outbound) Accept(url string) bool {
	return strings.HasPrefix(url, webSocketScheme+"://") || strings.HasPrefix(url, webSocketScheme+"s://")
}

// Writer binds the transport to one endpoint.
func (o *Outbound) Writer(url string) transport.Writer {
	return &endpointWriter{outbound: o, url: url}
}

type endpointWriter struct {
	outbound *Outbound
	url      string
}

func (w *endpointWriter) Write(ctx context.Context, data []byte) error {
	return w.outbound.Send(ctx, data, w.url)
}
