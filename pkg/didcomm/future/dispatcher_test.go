/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package future

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/listener"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
)

func newTestListener(t *testing.T) (*transport.Queue, *listener.Listener) {
	t.Helper()

	registry := message.MustRegistry(append(Kinds(), model.Kinds()...)...)
	q := transport.NewQueue(10)

	return q, listener.New(q, registry)
}

func pushEvent(t *testing.T, q *transport.Queue, msg map[string]interface{}) {
	t.Helper()

	raw, err := json.Marshal(transport.Event{Message: msg})
	require.NoError(t, err)
	require.NoError(t, q.Write(context.Background(), raw))
}

func TestDispatcher(t *testing.T) {
	q, l := newTestListener(t)
	registry := NewRegistry()
	sink := make(chan *listener.Event, 10)
	handled := make(chan *listener.Event, 1)

	d := &Dispatcher{Source: l, Registry: registry, Sink: sink, PollInterval: 20 * time.Millisecond}
	require.NoError(t, d.Handle(model.AckMsgType, func(_ context.Context, ev *listener.Event) {
		handled <- ev
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- d.Run(ctx)
	}()

	f, err := registry.New("call-1", time.Minute)
	require.NoError(t, err)

	pushEvent(t, q, map[string]interface{}{
		"@type": ReplyMsgType, "@id": "r-1", "value": 42, "~thread": map[string]interface{}{"thid": "call-1"},
	})

	require.True(t, f.Wait(time.Second))

	v, err := f.Value()
	require.NoError(t, err)
	require.Equal(t, 42.0, v)

	t.Run("late reply is generic", func(t *testing.T) {
		pushEvent(t, q, map[string]interface{}{
			"@type": ReplyMsgType, "@id": "r-2", "value": 1, "~thread": map[string]interface{}{"thid": "call-1"},
		})

		select {
		case ev := <-sink:
			require.Equal(t, "call-1", ev.ThreadID())
		case <-time.After(time.Second):
			require.Fail(t, "late reply not forwarded")
		}
	})

	t.Run("handler", func(t *testing.T) {
		pushEvent(t, q, map[string]interface{}{"@type": model.AckMsgType, "@id": "ack-1", "status": "OK"})

		select {
		case ev := <-handled:
			require.Equal(t, "ack-1", ev.ThreadID())
		case <-time.After(time.Second):
			require.Fail(t, "handler not called")
		}
	})

	t.Run("non reply resolves with the event", func(t *testing.T) {
		w, err := registry.New("ack-thread", time.Minute)
		require.NoError(t, err)

		pushEvent(t, q, map[string]interface{}{
			"@type": model.AckMsgType, "@id": "ack-2", "~thread": map[string]interface{}{"thid": "ack-thread"},
		})

		require.True(t, w.Wait(time.Second))

		v, err := w.Value()
		require.NoError(t, err)
		require.IsType(t, &listener.Event{}, v)
	})

	t.Run("malformed events are skipped", func(t *testing.T) {
		require.NoError(t, q.Write(context.Background(), []byte("garbage")))
		pushEvent(t, q, map[string]interface{}{"@type": "https://didcomm.org/custom/1.0/x", "@id": "g-1"})

		select {
		case ev := <-sink:
			require.Equal(t, "g-1", ev.ThreadID())
		case <-time.After(time.Second):
			require.Fail(t, "generic event not forwarded")
		}
	})

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "dispatcher did not stop")
	}
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		d.Run(ctx) //nolint:errcheck
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func replyTo(thid string, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"@type": ReplyMsgType, "@id": "reply-" + thid, "value": value,
		"~thread": map[string]interface{}{"thid": thid},
	}
}

func TestDispatcher_Correlation(t *testing.T) {
	t.Run("replies in reverse order resolve their own futures", func(t *testing.T) {
		q, l := newTestListener(t)
		registry := NewRegistry()
		sink := make(chan *listener.Event, 10)

		runDispatcher(t, &Dispatcher{Source: l, Registry: registry, Sink: sink, PollInterval: 20 * time.Millisecond})

		a, err := registry.New("a", time.Minute)
		require.NoError(t, err)

		b, err := registry.New("b", time.Minute)
		require.NoError(t, err)

		pushEvent(t, q, replyTo("b", "value of b"))
		pushEvent(t, q, replyTo("a", "value of a"))

		require.True(t, b.Wait(time.Second))
		require.True(t, a.Wait(time.Second))

		v, err := a.Value()
		require.NoError(t, err)
		require.Equal(t, "value of a", v)

		v, err = b.Value()
		require.NoError(t, err)
		require.Equal(t, "value of b", v)

		require.Empty(t, sink)
	})

	t.Run("reply after eviction is generic", func(t *testing.T) {
		q, l := newTestListener(t)
		registry := NewRegistry()
		sink := make(chan *listener.Event, 10)

		runDispatcher(t, &Dispatcher{Source: l, Registry: registry, Sink: sink, PollInterval: 20 * time.Millisecond})

		f, err := registry.New("evicted", time.Minute)
		require.NoError(t, err)
		require.False(t, f.Wait(10*time.Millisecond))
		require.False(t, registry.Pending("evicted"))

		pushEvent(t, q, replyTo("evicted", "too late"))

		select {
		case ev := <-sink:
			require.Equal(t, "evicted", ev.ThreadID())

			reply, ok := ev.Message.(*Reply)
			require.True(t, ok)
			require.Equal(t, "too late", reply.Value)
		case <-time.After(time.Second):
			require.Fail(t, "late reply not forwarded")
		}

		_, err = f.Value()
		require.ErrorIs(t, err, errs.ErrPendingOperation)
	})
}

func TestDispatcher_SourceFailure(t *testing.T) {
	q, l := newTestListener(t)
	require.NoError(t, q.Close())

	d := &Dispatcher{Source: l, Registry: NewRegistry()}

	err := d.Run(context.Background())
	require.True(t, errors.Is(err, transport.ErrClosed))
}

func TestDispatcher_SweepsWhileIdle(t *testing.T) {
	_, l := newTestListener(t)
	registry := NewRegistry()

	_, err := registry.New("idle", 5*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	d := &Dispatcher{Source: l, Registry: registry, PollInterval: 10 * time.Millisecond}
	require.NoError(t, d.Run(ctx))
	require.False(t, registry.Pending("idle"))
}

func TestDispatcher_HandleInvalidType(t *testing.T) {
	d := &Dispatcher{}
	require.Error(t, d.Handle("not a type", nil))
}
