/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryInterval = 200 * time.Millisecond
	defaultMaxRetries    = 3
)

type outboundCommHTTPOpts struct {
	client        *http.Client
	contentType   string
	maxRetries    uint64
	retryInterval time.Duration
}

// OutboundHTTPOpt is an outbound HTTP transport option.
type OutboundHTTPOpt func(opts *outboundCommHTTPOpts)

// WithOutboundHTTPClient sends with client.
func WithOutboundHTTPClient(client *http.Client) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.client = client
	}
}

// WithOutboundTimeout sets the per-attempt client timeout.
func WithOutboundTimeout(timeout time.Duration) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.client.Timeout = timeout
	}
}

// WithOutboundTLSConfig sends through a client using tlsConfig.
func WithOutboundTLSConfig(tlsConfig *tls.Config) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.client = &http.Client{
			Timeout: opts.client.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		}
	}
}

// WithContentType overrides the media type of posted units.
func WithContentType(contentType string) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.contentType = contentType
	}
}

// WithRetry retries failed posts up to maxRetries times, backing off exponentially from interval.
// Zero maxRetries disables retries.
func WithRetry(maxRetries uint64, interval time.Duration) OutboundHTTPOpt {
	return func(opts *outboundCommHTTPOpts) {
		opts.maxRetries = maxRetries
		opts.retryInterval = interval
	}
}

// Outbound posts transport units to agent endpoints.
type Outbound struct {
	client        *http.Client
	contentType   string
	maxRetries    uint64
	retryInterval time.Duration
}

// NewOutbound creates an outbound HTTP transport.
func NewOutbound(opts ...OutboundHTTPOpt) (*Outbound, error) {
	clOpts := &outboundCommHTTPOpts{
		client:        &http.Client{Timeout: defaultTimeout},
		contentType:   transport.MediaTypeEncryptedEnvelope,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}

	for _, opt := range opts {
		opt(clOpts)
	}

	if clOpts.client == nil {
		return nil, errs.New(errs.ErrInitialization, "can't create an outbound transport without an HTTP client")
	}

	return &Outbound{
		client:        clOpts.client,
		contentType:   clOpts.contentType,
		maxRetries:    clOpts.maxRetries,
		retryInterval: clOpts.retryInterval,
	}, nil
}

// Accept reports whether url can be reached over this transport.
func (o *Outbound) Accept(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// Send posts data to url. Network failures and 5xx answers are retried; any other non-2xx answer fails
// immediately.
func (o *Outbound) Send(ctx context.Context, data []byte, url string) error {
	if url == "" {
		return errs.New(errs.ErrValidation, "http outbound: url is mandatory")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryInterval

	attempt := 0

	err := backoff.Retry(func() error {
		attempt++

		return o.post(ctx, data, url)
	}, backoff.WithContext(backoff.WithMaxRetries(b, o.maxRetries), ctx))
	if err != nil {
		logger.Errorf("posting to %s failed after %d attempt(s): %v", url, attempt, err)

		return err
	}

	return nil
}

func (o *Outbound) post(ctx context.Context, data []byte, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(errs.Wrapf(errs.ErrValidation, err, "http outbound request to %s", url))
	}

	req.Header.Set("Content-Type", o.contentType)

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(errs.Wrapf(errs.ErrIO, err, "post to %s", url))
		}

		return errs.Wrapf(errs.ErrIO, err, "post to %s", url)
	}

	defer func() {
		if _, e := io.Copy(io.Discard, resp.Body); e != nil {
			logger.Debugf("draining response body: %v", e)
		}

		if e := resp.Body.Close(); e != nil {
			logger.Errorf("closing response body: %v", e)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return errs.New(errs.ErrIO, "post to %s: status %s", url, resp.Status)
	default:
		return backoff.Permanent(errs.New(errs.ErrIO, "post to %s: status %s", url, resp.Status))
	}
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
