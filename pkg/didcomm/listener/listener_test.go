/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package listener

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
	listenerMocks "github.com/hyperledger/aries-agent-sdk-go/pkg/internal/gomocks/didcomm/listener"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

const ackEvent = `{
	"message": {"@type": "https://didcomm.org/notification/1.0/ack", "@id": "a-1", "status": "OK",
		"~thread": {"thid": "t-1"}},
	"sender_verkey": "senderKey",
	"recipient_verkey": "myKey",
	"content_type": "application/didcomm-envelope-enc"
}`

func TestListener_GetOne(t *testing.T) {
	registry := message.MustRegistry(model.Kinds()...)

	t.Run("typed message from queue", func(t *testing.T) {
		q := transport.NewQueue(1)
		require.NoError(t, q.Write(context.Background(), []byte(ackEvent)))

		ev, err := New(q, registry).GetOne(context.Background())
		require.NoError(t, err)

		ack, ok := ev.Message.(*model.Ack)
		require.True(t, ok)
		require.Equal(t, "OK", ack.Status)
		require.Equal(t, "t-1", ev.ThreadID())
		require.Equal(t, model.AckMsgType, ev.Type())
		require.Equal(t, "senderKey", ev.SenderVerKey)
		require.Equal(t, "myKey", ev.RecipientVerKey)
		require.False(t, ev.Generic())
		require.Nil(t, ev.Pairwise)
	})

	t.Run("unregistered type stays generic", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		source := listenerMocks.NewMockEventSource(ctrl)
		source.EXPECT().Pull(gomock.Any()).Return(
			[]byte(`{"message": {"@type": "https://didcomm.org/custom/1.0/thing", "@id": "x"}}`), nil)

		ev, err := New(source, registry).GetOne(context.Background())
		require.NoError(t, err)
		require.True(t, ev.Generic())
		require.Equal(t, "x", ev.ThreadID())
	})

	t.Run("typeless message stays generic", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		source := listenerMocks.NewMockEventSource(ctrl)
		source.EXPECT().Pull(gomock.Any()).Return([]byte(`{"message": {"@id": "x", "content": "hi"}}`), nil)

		ev, err := New(source, registry).GetOne(context.Background())
		require.NoError(t, err)
		require.True(t, ev.Generic())
		require.Empty(t, ev.Type())
		require.Equal(t, "hi", ev.Raw["content"])
	})

	t.Run("pairwise attached", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		source := listenerMocks.NewMockEventSource(ctrl)
		source.EXPECT().Pull(gomock.Any()).Return([]byte(ackEvent), nil)

		resolver := listenerMocks.NewMockPairwiseResolver(ctrl)
		resolver.EXPECT().LoadForVerKey("senderKey").Return(&pairwise.Record{TheirLabel: "Bob"}, nil)

		ev, err := New(source, registry, WithPairwiseResolver(resolver)).GetOne(context.Background())
		require.NoError(t, err)
		require.NotNil(t, ev.Pairwise)
		require.Equal(t, "Bob", ev.Pairwise.TheirLabel)
	})

	t.Run("unknown sender is not an error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		source := listenerMocks.NewMockEventSource(ctrl)
		source.EXPECT().Pull(gomock.Any()).Return([]byte(ackEvent), nil)

		resolver := listenerMocks.NewMockPairwiseResolver(ctrl)
		resolver.EXPECT().LoadForVerKey("senderKey").
			Return(nil, fmt.Errorf("load: %w", storage.ErrDataNotFound))

		ev, err := New(source, registry, WithPairwiseResolver(resolver)).GetOne(context.Background())
		require.NoError(t, err)
		require.Nil(t, ev.Pairwise)
	})

	t.Run("resolver failure propagates", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		source := listenerMocks.NewMockEventSource(ctrl)
		source.EXPECT().Pull(gomock.Any()).Return([]byte(ackEvent), nil)

		resolver := listenerMocks.NewMockPairwiseResolver(ctrl)
		resolver.EXPECT().LoadForVerKey(gomock.Any()).Return(nil, errors.New("store down"))

		_, err := New(source, registry, WithPairwiseResolver(resolver)).GetOne(context.Background())
		require.EqualError(t, err, "store down")
	})

	t.Run("malformed events", func(t *testing.T) {
		for _, raw := range []string{`not json`, `{}`, `{"message": null}`} {
			ctrl := gomock.NewController(t)

			source := listenerMocks.NewMockEventSource(ctrl)
			source.EXPECT().Pull(gomock.Any()).Return([]byte(raw), nil)

			_, err := New(source, registry).GetOne(context.Background())
			require.ErrorIs(t, err, errs.ErrPayloadStructure, raw)

			ctrl.Finish()
		}
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := New(transport.NewQueue(1), registry).GetOne(ctx)
		require.ErrorIs(t, err, errs.ErrTimeout)
	})

	t.Run("source error propagates", func(t *testing.T) {
		q := transport.NewQueue(1)
		require.NoError(t, q.Close())

		_, err := New(q, registry).GetOne(context.Background())
		require.ErrorIs(t, err, transport.ErrClosed)
	})
}
