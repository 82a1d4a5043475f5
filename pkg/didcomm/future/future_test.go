/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/metrics"
)

func TestRegistry_New(t *testing.T) {
	r := NewRegistry()

	f, err := r.New("", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, f.ID())
	require.True(t, r.Pending(f.ID()))

	_, err = r.New(f.ID(), time.Minute)
	require.ErrorIs(t, err, ErrDuplicateID)

	_, err = r.New("x", 0)
	require.ErrorIs(t, err, errs.ErrValidation)

	t.Run("expired id can be reused", func(t *testing.T) {
		_, err := r.New("short", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		_, err = r.New("short", time.Minute)
		require.NoError(t, err)
	})
}

func TestFuture_Resolve(t *testing.T) {
	r := NewRegistry(WithMetrics(metrics.New(prometheus.NewRegistry())))

	f, err := r.New("f-1", time.Minute)
	require.NoError(t, err)

	_, err = f.Value()
	require.ErrorIs(t, err, errs.ErrPendingOperation)

	resolved := make(chan bool, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		resolved <- r.Resolve("f-1", "first", nil)
	}()

	require.True(t, f.Wait(time.Second))
	require.True(t, <-resolved)

	v, err := f.Value()
	require.NoError(t, err)
	require.Equal(t, "first", v)

	require.False(t, r.Resolve("f-1", "second", nil))
	require.False(t, r.Resolve("unknown", "x", nil))
	require.False(t, r.Pending("f-1"))

	v, err = f.Value()
	require.NoError(t, err)
	require.Equal(t, "first", v)
}

func TestFuture_ResolveConcurrently(t *testing.T) {
	r := NewRegistry()

	f, err := r.New("race", time.Minute)
	require.NoError(t, err)

	var (
		wins int32
		wg   sync.WaitGroup
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			if r.Resolve("race", i, nil) {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}

	wg.Wait()

	require.Equal(t, int32(1), wins)
	require.True(t, f.Wait(time.Second))
}

func TestFuture_Timeout(t *testing.T) {
	r := NewRegistry()

	t.Run("wait timeout evicts", func(t *testing.T) {
		f, err := r.New("slow", time.Minute)
		require.NoError(t, err)

		require.False(t, f.Wait(10*time.Millisecond))
		require.False(t, r.Pending("slow"))
		require.False(t, r.Resolve("slow", "late", nil))

		_, err = f.Value()
		require.ErrorIs(t, err, errs.ErrPendingOperation)
	})

	t.Run("deadline bounds wait", func(t *testing.T) {
		f, err := r.New("", 10*time.Millisecond)
		require.NoError(t, err)

		start := time.Now()

		require.False(t, f.Wait(time.Minute))
		require.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("context cancel", func(t *testing.T) {
		f, err := r.New("", time.Minute)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.False(t, f.WaitContext(ctx))
		require.False(t, r.Pending(f.ID()))
	})
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry()

	_, err := r.New("a", time.Millisecond)
	require.NoError(t, err)
	_, err = r.New("b", time.Millisecond)
	require.NoError(t, err)
	_, err = r.New("c", time.Minute)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	require.Equal(t, 2, r.Sweep())
	require.True(t, r.Pending("c"))
	require.Equal(t, 0, r.Sweep())
}

func TestReply_Result(t *testing.T) {
	v, err := (&Reply{Value: []interface{}{"a", 1.0}, IsTuple: true}).Result()
	require.NoError(t, err)
	require.Equal(t, Tuple{"a", 1.0}, v)

	v, err = (&Reply{Value: []interface{}{"a"}}).Result()
	require.NoError(t, err)
	require.Equal(t, []interface{}{"a"}, v)

	_, err = (&Reply{Exception: &Exception{ClassName: "WalletItemNotFound", Printable: "no such item"}}).Result()

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "WalletItemNotFound", remote.ClassName)
	require.EqualError(t, err, "remote WalletItemNotFound: no such item")
}
