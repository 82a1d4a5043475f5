/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package pairwise

import (
	"errors"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"
)

type provider struct {
	sp storage.Provider
}

func (p *provider) StorageProvider() storage.Provider {
	return p.sp
}

type failingProvider struct {
	storage.Provider
}

func (f *failingProvider) OpenStore(string) (storage.Store, error) {
	return nil, errors.New("open failed")
}

func TestStore(t *testing.T) {
	s, err := New(&provider{sp: mem.NewProvider()}, WithCache(8, time.Minute))
	require.NoError(t, err)

	rec := &Record{
		ConnectionID:  "conn-1",
		MyDID:         "myDID",
		MyVerKey:      "myVerKey",
		TheirDID:      "theirDID",
		TheirVerKey:   "theirVerKey",
		TheirLabel:    "Bob",
		TheirEndpoint: "http://bob.example.com",
	}

	require.NoError(t, s.Save(rec))

	t.Run("load by their verkey", func(t *testing.T) {
		got, err := s.LoadForVerKey("theirVerKey")
		require.NoError(t, err)
		require.Equal(t, rec, got)
	})

	t.Run("load by my verkey", func(t *testing.T) {
		got, err := s.LoadForVerKey("myVerKey")
		require.NoError(t, err)
		require.Equal(t, "theirDID", got.TheirDID)
	})

	t.Run("load by did", func(t *testing.T) {
		got, err := s.LoadForDID("theirDID")
		require.NoError(t, err)
		require.Equal(t, "conn-1", got.ConnectionID)

		_, err = s.LoadForDID("unknown")
		require.ErrorIs(t, err, storage.ErrDataNotFound)
	})

	t.Run("absent", func(t *testing.T) {
		_, err := s.LoadForVerKey("unknown")
		require.ErrorIs(t, err, storage.ErrDataNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		require.NoError(t, s.Save(&Record{MyVerKey: "k1", TheirVerKey: "k2", TheirDID: "d2"}))

		recs, err := s.List()
		require.NoError(t, err)
		require.Len(t, recs, 2)

		require.NoError(t, s.Delete("k2"))

		_, err = s.LoadForVerKey("k2")
		require.ErrorIs(t, err, storage.ErrDataNotFound)
	})

	t.Run("persisted record survives a cold cache", func(t *testing.T) {
		sp := mem.NewProvider()

		first, err := New(&provider{sp: sp})
		require.NoError(t, err)
		require.NoError(t, first.Save(rec))

		second, err := New(&provider{sp: sp})
		require.NoError(t, err)

		got, err := second.LoadForVerKey("theirVerKey")
		require.NoError(t, err)
		require.Equal(t, rec, got)
	})

	t.Run("find by metadata", func(t *testing.T) {
		require.NoError(t, s.Save(&Record{
			MyVerKey: "m1", TheirVerKey: "t1", TheirDID: "d1",
			Metadata: map[string]string{"role": "issuer", "tier": "1"},
		}))
		require.NoError(t, s.Save(&Record{
			MyVerKey: "m2", TheirVerKey: "t2", TheirDID: "d2",
			Metadata: map[string]string{"role": "holder", "a:b": "c"},
		}))

		recs, err := s.FindByMetadata("role", "issuer")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "t1", recs[0].TheirVerKey)

		recs, err = s.FindByMetadata("a:b", "c")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "t2", recs[0].TheirVerKey)

		recs, err = s.FindByMetadata("tier", "2")
		require.NoError(t, err)
		require.Empty(t, recs)
	})

	t.Run("invalid record", func(t *testing.T) {
		require.Error(t, s.Save(&Record{TheirVerKey: "x"}))
	})

	t.Run("open failure", func(t *testing.T) {
		_, err := New(&provider{sp: &failingProvider{}})
		require.EqualError(t, err, "failed to open pairwise store: open failed")
	})
}

func TestQualifiedDID(t *testing.T) {
	s, err := New(&provider{sp: mem.NewProvider()})
	require.NoError(t, err)

	require.NoError(t, s.Save(&Record{MyVerKey: "a", TheirVerKey: "b", TheirDID: "did:sov:123"}))

	got, err := s.LoadForDID("did:sov:123")
	require.NoError(t, err)
	require.Equal(t, "b", got.TheirVerKey)
}
