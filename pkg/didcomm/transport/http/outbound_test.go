/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
)

func TestWithOutboundOpts(t *testing.T) {
	clOpts := &outboundCommHTTPOpts{}
	WithOutboundHTTPClient(nil)(clOpts)
	require.Nil(t, clOpts.client)

	// client is nil, so setting timeout should panic
	require.Panics(t, func() { WithOutboundTimeout(clientTimeout)(clOpts) })

	clOpts = &outboundCommHTTPOpts{client: &http.Client{Timeout: clientTimeout}}
	WithOutboundTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})(clOpts)
	require.Equal(t, clientTimeout, clOpts.client.Timeout)

	_, err := NewOutbound(WithOutboundHTTPClient(nil))
	require.ErrorIs(t, err, errs.ErrInitialization)
}

func TestOutbound_Accept(t *testing.T) {
	o, err := NewOutbound()
	require.NoError(t, err)

	require.True(t, o.Accept("http://localhost:8080"))
	require.True(t, o.Accept("https://agent.example.com/endpoint"))
	require.False(t, o.Accept("ws://agent.example.com"))
	require.False(t, o.Accept(""))
}

func TestOutbound_Send(t *testing.T) {
	t.Run("delivers body and content type", func(t *testing.T) {
		received := make(chan string, 1)
		bodies := make(chan []byte, 1)

		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body) //nolint:errcheck
			received <- r.Header.Get("Content-Type")
			bodies <- body

			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		o, err := NewOutbound(WithOutboundHTTPClient(server.Client()))
		require.NoError(t, err)

		require.NoError(t, o.Writer(server.URL).Write(context.Background(), []byte("envelope")))
		require.Equal(t, transport.MediaTypeEncryptedEnvelope, <-received)
		require.Equal(t, "envelope", string(<-bodies))
	})

	t.Run("plaintext content type", func(t *testing.T) {
		contentTypes := make(chan string, 1)

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contentTypes <- r.Header.Get("Content-Type")
		}))
		defer server.Close()

		o, err := NewOutbound(WithContentType(transport.MediaTypePlaintext))
		require.NoError(t, err)

		require.NoError(t, o.Send(context.Background(), []byte("{}"), server.URL))
		require.Equal(t, transport.MediaTypePlaintext, <-contentTypes)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var hits int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)

				return
			}

			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		o, err := NewOutbound(WithRetry(5, time.Millisecond))
		require.NoError(t, err)

		require.NoError(t, o.Send(context.Background(), []byte("x"), server.URL))
		require.EqualValues(t, 3, atomic.LoadInt32(&hits))
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var hits int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		o, err := NewOutbound(WithRetry(2, time.Millisecond))
		require.NoError(t, err)

		err = o.Send(context.Background(), []byte("x"), server.URL)
		require.ErrorIs(t, err, errs.ErrIO)
		require.Contains(t, err.Error(), "502")
		require.EqualValues(t, 3, atomic.LoadInt32(&hits))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var hits int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusUnsupportedMediaType)
		}))
		defer server.Close()

		o, err := NewOutbound(WithRetry(5, time.Millisecond))
		require.NoError(t, err)

		err = o.Send(context.Background(), []byte("x"), server.URL)
		require.ErrorIs(t, err, errs.ErrIO)
		require.EqualValues(t, 1, atomic.LoadInt32(&hits))
	})

	t.Run("invalid url", func(t *testing.T) {
		o, err := NewOutbound(WithRetry(0, time.Millisecond))
		require.NoError(t, err)

		require.ErrorIs(t, o.Send(context.Background(), []byte("x"), ""), errs.ErrValidation)
		require.ErrorIs(t, o.Send(context.Background(), []byte("x"), "http://a b"), errs.ErrValidation)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		o, err := NewOutbound(WithRetry(1, time.Millisecond), WithOutboundTimeout(time.Second))
		require.NoError(t, err)

		require.ErrorIs(t, o.Send(context.Background(), []byte("x"), url), errs.ErrIO)
	})
}
