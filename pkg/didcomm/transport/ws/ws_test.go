/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func pull(t *testing.T, src interface {
	Pull(ctx context.Context) ([]byte, error)
}) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := src.Pull(ctx)
	require.NoError(t, err)

	return string(data)
}

func TestInboundTransport(t *testing.T) {
	t.Run("missing address", func(t *testing.T) {
		_, err := NewInbound("", "", transport.NewQueue(1))
		require.ErrorIs(t, err, errs.ErrValidation)
		require.Contains(t, err.Error(), "websocket address is mandatory")
	})

	t.Run("nil sink", func(t *testing.T) {
		_, err := NewInbound("localhost:0", "", nil)
		require.ErrorIs(t, err, errs.ErrInitialization)
	})

	t.Run("external address", func(t *testing.T) {
		inbound, err := NewInbound("localhost:0", "ws://example.com:9000", transport.NewQueue(1))
		require.NoError(t, err)
		require.Equal(t, "ws://example.com:9000", inbound.Endpoint())

		inbound, err = NewInbound("example.com:9000", "", transport.NewQueue(1))
		require.NoError(t, err)
		require.Equal(t, "example.com:9000", inbound.Endpoint())
	})

	t.Run("messages from outbound reach the sink", func(t *testing.T) {
		q := transport.NewQueue(4)

		inbound, err := NewInbound("localhost:0", "", q)
		require.NoError(t, err)
		require.NoError(t, inbound.Start())

		defer func() {
			require.NoError(t, inbound.Stop(context.Background()))
		}()

		outbound := NewOutbound()
		url := "ws://" + inbound.Addr()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		require.NoError(t, outbound.Send(ctx, []byte("first"), url))
		require.NoError(t, outbound.Writer(url).Write(ctx, []byte("second")))

		require.Equal(t, "first", pull(t, q))
		require.Equal(t, "second", pull(t, q))
	})
}

func TestOutbound(t *testing.T) {
	outbound := NewOutbound()

	require.True(t, outbound.Accept("ws://agent.example.com"))
	require.True(t, outbound.Accept("wss://agent.example.com"))
	require.False(t, outbound.Accept("http://agent.example.com"))

	err := outbound.Send(context.Background(), []byte("x"), "")
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Contains(t, err.Error(), "url is mandatory")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Infof("inside http path")
	}))
	defer server.Close()

	err = outbound.Send(context.Background(), []byte("x"), wsURL(server))
	require.ErrorIs(t, err, errs.ErrIO)
	require.Contains(t, err.Error(), "websocket client")
}

func TestEventSource(t *testing.T) {
	t.Run("reads events and redials dropped connections", func(t *testing.T) {
		var conns int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := websocket.Accept(w, r, nil)
			if !assert.NoError(t, err) {
				return
			}

			if atomic.AddInt32(&conns, 1) == 1 {
				assert.NoError(t, c.Write(r.Context(), websocket.MessageBinary, []byte("skipped")))
				assert.NoError(t, c.Write(r.Context(), websocket.MessageText, []byte("a")))
				assert.NoError(t, c.Write(r.Context(), websocket.MessageText, []byte("b")))
				closeConn(c)

				return
			}

			assert.NoError(t, c.Write(r.Context(), websocket.MessageText, []byte("c")))

			// hold the connection until the client goes away
			_, _, _ = c.Read(r.Context()) //nolint:dogsled
		}))
		defer server.Close()

		src, err := DialEventSource(context.Background(), wsURL(server), WithDialRetry(3, time.Millisecond))
		require.NoError(t, err)

		require.Equal(t, "a", pull(t, src))
		require.Equal(t, "b", pull(t, src))
		require.Equal(t, "c", pull(t, src))
		require.EqualValues(t, 2, atomic.LoadInt32(&conns))

		require.NoError(t, src.Close())

		_, err = src.Pull(context.Background())
		require.ErrorIs(t, err, transport.ErrClosed)
	})

	t.Run("closes when redial fails", func(t *testing.T) {
		var conns int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&conns, 1) > 1 {
				http.Error(w, "gone", http.StatusServiceUnavailable)

				return
			}

			c, err := websocket.Accept(w, r, nil)
			if !assert.NoError(t, err) {
				return
			}

			assert.NoError(t, c.Write(r.Context(), websocket.MessageText, []byte("only")))
			closeConn(c)
		}))
		defer server.Close()

		src, err := DialEventSource(context.Background(), wsURL(server),
			WithDialRetry(1, time.Millisecond), WithBufferSize(1))
		require.NoError(t, err)

		require.Equal(t, "only", pull(t, src))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err = src.Pull(ctx)
		require.ErrorIs(t, err, transport.ErrClosed)

		require.NoError(t, src.Close())
	})

	t.Run("dial failures", func(t *testing.T) {
		_, err := DialEventSource(context.Background(), "")
		require.ErrorIs(t, err, errs.ErrValidation)

		server := httptest.NewServer(http.NotFoundHandler())
		url := wsURL(server)
		server.Close()

		_, err = DialEventSource(context.Background(), url, WithDialRetry(1, time.Millisecond))
		require.ErrorIs(t, err, errs.ErrIO)
	})
}
