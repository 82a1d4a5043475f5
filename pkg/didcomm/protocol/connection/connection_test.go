/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/tunnel"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/hub"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/localkms"
	connectionstore "github.com/hyperledger/aries-agent-sdk-go/pkg/store/connection"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

const testTTL = 2 * time.Second

type storageProviders struct {
	store storage.Provider
	state storage.Provider
}

func (p *storageProviders) StorageProvider() storage.Provider {
	return p.store
}

func (p *storageProviders) ProtocolStateStorageProvider() storage.Provider {
	return p.state
}

type testProvider struct {
	kms      *localkms.LocalKMS
	recorder *connectionstore.Recorder
	pairwise *pairwise.Store
}

func (p *testProvider) KMS() KeyManager {
	return p.kms
}

func (p *testProvider) ConnectionRecorder() *connectionstore.Recorder {
	return p.recorder
}

func (p *testProvider) PairwiseStore() PairwiseSaver {
	return p.pairwise
}

func newTestProvider(t *testing.T) *testProvider {
	t.Helper()

	sp := &storageProviders{store: mem.NewProvider(), state: mem.NewProvider()}

	kms, err := localkms.New(sp)
	require.NoError(t, err)

	recorder, err := connectionstore.NewRecorder(sp)
	require.NoError(t, err)

	pw, err := pairwise.New(sp)
	require.NoError(t, err)

	return &testProvider{kms: kms, recorder: recorder, pairwise: pw}
}

func newTestHub(label, endpoint string) *hub.Hub {
	h := hub.New()
	h.Init(&hub.Session{Label: label, Endpoint: endpoint})

	return h
}

func newTunnels() (*tunnel.Tunnel, *tunnel.Tunnel) {
	a, b := transport.Pipe()

	return tunnel.NewDuplex(a, tunnel.Trust{}), tunnel.NewDuplex(b, tunnel.Trust{})
}

type runResult struct {
	rec *Record
	err error
}

func TestHandshake(t *testing.T) {
	for _, ackRequired := range []bool{false, true} {
		ackRequired := ackRequired

		t.Run("ack required "+map[bool]string{false: "no", true: "yes"}[ackRequired], func(t *testing.T) {
			aliceProvider, bobProvider := newTestProvider(t), newTestProvider(t)
			events := make(chan model.Event, 10)

			alice := NewInviter(aliceProvider, WithHub(newTestHub("Alice", "http://alice.example")),
				WithTimeToLive(testTTL), WithAckRequired(ackRequired), WithStateEvents(events))
			bob := NewInvitee(bobProvider, WithHub(newTestHub("Bob", "http://bob.example")),
				WithTimeToLive(testTTL))

			ctx := context.Background()

			inv, aliceRec, err := alice.CreateInvitation(ctx)
			require.NoError(t, err)
			require.Equal(t, StateIDInvited, aliceRec.State)
			require.Equal(t, "Alice", inv.Label)
			require.Equal(t, "http://alice.example", inv.ServiceEndpoint)
			require.Equal(t, []string{aliceRec.InvitationKey}, inv.RecipientKeys)

			invURL, err := inv.URL("http://alice.example/invite")
			require.NoError(t, err)

			parsed, err := ParseInvitationURL(invURL)
			require.NoError(t, err)
			require.Equal(t, inv, parsed)

			bobRec, err := bob.AcceptInvitation(ctx, parsed)
			require.NoError(t, err)
			require.Equal(t, StateIDInvited, bobRec.State)

			aliceTun, bobTun := newTunnels()
			aliceDone := make(chan runResult, 1)

			go func() {
				rec, err := alice.Run(ctx, aliceRec, aliceTun)
				aliceDone <- runResult{rec, err}
			}()

			bobRec, err = bob.Run(ctx, bobRec, bobTun)
			require.NoError(t, err)
			require.Equal(t, StateIDCompleted, bobRec.State)

			res := <-aliceDone
			require.NoError(t, res.err)
			require.Equal(t, StateIDCompleted, res.rec.State)

			require.Equal(t, bobRec.MyDID, res.rec.TheirDID)
			require.Equal(t, bobRec.MyVerKey, res.rec.TheirVerKey)
			require.Equal(t, "Bob", res.rec.TheirLabel)
			require.Equal(t, "http://bob.example", res.rec.TheirEndpoint)
			require.Equal(t, res.rec.MyDID, bobRec.TheirDID)
			require.Equal(t, res.rec.MyVerKey, bobRec.TheirVerKey)
			require.Equal(t, "Alice", bobRec.TheirLabel)
			require.Equal(t, res.rec.ThreadID, bobRec.ThreadID)

			stored, err := alice.GetRecord(res.rec.ConnectionID)
			require.NoError(t, err)
			require.Equal(t, StateIDCompleted, stored.State)

			completedRecs, err := bob.QueryByState(StateIDCompleted)
			require.NoError(t, err)
			require.Len(t, completedRecs, 1)

			pw, err := aliceProvider.pairwise.LoadForVerKey(bobRec.MyVerKey)
			require.NoError(t, err)
			require.Equal(t, "Bob", pw.TheirLabel)
			require.Equal(t, res.rec.MyVerKey, pw.MyVerKey)

			pw, err = bobProvider.pairwise.LoadForVerKey(res.rec.MyVerKey)
			require.NoError(t, err)
			require.Equal(t, bobRec.ConnectionID, pw.ConnectionID)

			var states []string

			for len(events) > 0 {
				ev := <-events
				require.Equal(t, res.rec.ConnectionID, ev.ConnectionID())
				require.Equal(t, inv.ID, ev.InvitationID())
				states = append(states, ev.StateID())
			}

			require.Equal(t, []string{StateIDInvited, StateIDRequested, StateIDResponded, StateIDCompleted}, states)
		})
	}
}

func TestInviter_NoHub(t *testing.T) {
	_, _, err := NewInviter(newTestProvider(t), WithHub(hub.New())).CreateInvitation(context.Background())
	require.ErrorIs(t, err, errs.ErrInitialization)
}

func TestInviter_Timeout(t *testing.T) {
	alice := NewInviter(newTestProvider(t), WithHub(newTestHub("Alice", "http://alice.example")),
		WithTimeToLive(50*time.Millisecond))

	_, rec, err := alice.CreateInvitation(context.Background())
	require.NoError(t, err)

	aliceTun, _ := newTunnels()

	rec, err = alice.Run(context.Background(), rec, aliceTun)
	require.ErrorIs(t, err, errs.ErrTimeout)

	var perr *ProblemError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, ProblemTimeoutOccurred, perr.Code)
	require.Equal(t, StateIDError, rec.State)
	require.Equal(t, ProblemTimeoutOccurred, rec.ProblemCode)

	stored, err := alice.GetRecord(rec.ConnectionID)
	require.NoError(t, err)
	require.Equal(t, StateIDError, stored.State)
}

func TestInviter_TimeToLiveFromInvitation(t *testing.T) {
	const ttl = 100 * time.Millisecond

	alice := NewInviter(newTestProvider(t), WithHub(newTestHub("Alice", "http://alice.example")),
		WithTimeToLive(ttl))

	inv, rec, err := alice.CreateInvitation(context.Background())
	require.NoError(t, err)
	require.False(t, rec.CreatedAt.IsZero())

	time.Sleep(3 * ttl)

	aliceTun, otherTun := newTunnels()
	bob := newFakeInvitee(t, otherTun, inv)

	postCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		bob.tun.Post(postCtx, bob.request("Bob"), true) //nolint:errcheck
	}()

	rec, err = alice.Run(context.Background(), rec, aliceTun)
	require.ErrorIs(t, err, errs.ErrTimeout)

	var perr *ProblemError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, ProblemTimeoutOccurred, perr.Code)
	require.Equal(t, StateIDError, rec.State)
	require.Equal(t, ProblemTimeoutOccurred, rec.ProblemCode)
}

// fakeInvitee plays the invitee side by hand.
type fakeInvitee struct {
	key       *keypair.KeyPair
	inviteKey []byte
	tun       *tunnel.Tunnel
}

func newFakeInvitee(t *testing.T, tun *tunnel.Tunnel, inv *Invitation) *fakeInvitee {
	t.Helper()

	kp, err := keypair.New(rand.Reader)
	require.NoError(t, err)

	inviteKey, err := keypair.ParseVerKey(inv.RecipientKeys[0])
	require.NoError(t, err)

	return &fakeInvitee{
		key:       kp,
		inviteKey: inviteKey,
		tun: tun.WithTrust(tunnel.Trust{
			MyKeys:       []*keypair.KeyPair{kp},
			Sender:       kp,
			TheirVerKeys: [][]byte{inviteKey},
		}),
	}
}

func (f *fakeInvitee) request(label string) *Request {
	return &Request{
		Type:  RequestMsgType,
		ID:    uuid.New().String(),
		Label: label,
		Connection: &Connection{
			DID:    f.key.DID(),
			DIDDoc: NewDIDDoc(f.key.DID(), f.key.VerKeyBase58(), "http://bob.example"),
		},
	}
}

func startInviter(t *testing.T, opts ...Option) (*Inviter, *Invitation, chan runResult, *tunnel.Tunnel) {
	t.Helper()

	opts = append([]Option{WithHub(newTestHub("Alice", "http://alice.example")), WithTimeToLive(testTTL)}, opts...)
	alice := NewInviter(newTestProvider(t), opts...)

	inv, rec, err := alice.CreateInvitation(context.Background())
	require.NoError(t, err)

	aliceTun, otherTun := newTunnels()
	done := make(chan runResult, 1)

	go func() {
		rec, err := alice.Run(context.Background(), rec, aliceTun)
		done <- runResult{rec, err}
	}()

	return alice, inv, done, otherTun
}

func TestInviter_InvalidRequest(t *testing.T) {
	t.Run("missing DIDDoc gets a plaintext problem report", func(t *testing.T) {
		_, inv, done, tun := startInviter(t)
		bob := newFakeInvitee(t, tun, inv)

		req := bob.request("Bob")
		req.Connection.DIDDoc = nil
		require.NoError(t, bob.tun.WithTrust(tunnel.Trust{TheirVerKeys: [][]byte{bob.inviteKey}}).
			Post(context.Background(), req, true))

		res := <-done
		require.ErrorIs(t, res.err, errs.ErrValidation)
		require.Equal(t, StateIDError, res.rec.State)
		require.Equal(t, ProblemRequestNotAccepted, res.rec.ProblemCode)

		recv, err := bob.tun.Receive(context.Background())
		require.NoError(t, err)
		require.False(t, recv.Encrypted)
		require.Equal(t, ProblemReportMsgType, recv.Message.Type())
		require.Equal(t, ProblemRequestNotAccepted, recv.Message["problem-code"])

		thid, err := recv.Message.ThreadID()
		require.NoError(t, err)
		require.Equal(t, req.ID, thid)
	})

	t.Run("missing label gets an encrypted problem report", func(t *testing.T) {
		_, inv, done, tun := startInviter(t)
		bob := newFakeInvitee(t, tun, inv)

		require.NoError(t, bob.tun.Post(context.Background(), bob.request(""), true))

		res := <-done
		require.Equal(t, ProblemRequestNotAccepted, res.rec.ProblemCode)

		recv, err := bob.tun.Receive(context.Background())
		require.NoError(t, err)
		require.True(t, recv.Encrypted)
		require.Equal(t, bob.inviteKey, recv.SenderVerKey)
		require.Equal(t, ProblemReportMsgType, recv.Message.Type())
	})

	t.Run("wrong invitation", func(t *testing.T) {
		_, inv, done, tun := startInviter(t)
		bob := newFakeInvitee(t, tun, inv)

		req := bob.request("Bob")
		req.Thread = &decorator.Thread{PID: "another-invitation"}
		require.NoError(t, bob.tun.Post(context.Background(), req, true))

		res := <-done
		require.Equal(t, ProblemRequestNotAccepted, res.rec.ProblemCode)
	})

	t.Run("sender does not own the DIDDoc", func(t *testing.T) {
		_, inv, done, tun := startInviter(t)
		bob := newFakeInvitee(t, tun, inv)
		mallory := newFakeInvitee(t, tun, inv)

		req := bob.request("Bob")
		require.NoError(t, mallory.tun.Post(context.Background(), req, true))

		res := <-done
		require.Equal(t, ProblemRequestNotAccepted, res.rec.ProblemCode)
	})

	t.Run("out of sequence message", func(t *testing.T) {
		_, inv, done, tun := startInviter(t)
		bob := newFakeInvitee(t, tun, inv)

		require.NoError(t, bob.tun.Post(context.Background(), model.NewAck("x", model.AckStatusOK), true))

		res := <-done
		require.ErrorIs(t, res.err, errs.ErrValidation)
		require.Equal(t, ProblemRequestNotAccepted, res.rec.ProblemCode)
	})
}

// readResponse reads the response the inviter sent to the fake invitee.
func readResponse(t *testing.T, bob *fakeInvitee) *Response {
	t.Helper()

	recv, err := bob.tun.Receive(context.Background())
	require.NoError(t, err)
	require.True(t, recv.Encrypted)
	require.Equal(t, ResponseMsgType, recv.Message.Type())

	resp := &Response{}
	require.NoError(t, recv.Message.Decode(resp))

	return resp
}

func TestInviter_Ack(t *testing.T) {
	t.Run("completes without ack", func(t *testing.T) {
		_, inv, done, tun := startInviter(t, WithTimeToLive(100*time.Millisecond))
		bob := newFakeInvitee(t, tun, inv)

		req := bob.request("Bob")
		require.NoError(t, bob.tun.Post(context.Background(), req, true))

		resp := readResponse(t, bob)
		require.Nil(t, resp.PleaseAck)
		require.Equal(t, req.ID, resp.Thread.ID)

		res := <-done
		require.NoError(t, res.err)
		require.Equal(t, StateIDCompleted, res.rec.State)
	})

	t.Run("required ack missing", func(t *testing.T) {
		_, inv, done, tun := startInviter(t, WithTimeToLive(100*time.Millisecond), WithAckRequired(true))
		bob := newFakeInvitee(t, tun, inv)

		require.NoError(t, bob.tun.Post(context.Background(), bob.request("Bob"), true))

		resp := readResponse(t, bob)
		require.Equal(t, []string{decorator.AckOnReceipt}, resp.PleaseAck.On)

		res := <-done
		require.ErrorIs(t, res.err, errs.ErrTimeout)
		require.Equal(t, ProblemTimeoutOccurred, res.rec.ProblemCode)
	})

	t.Run("peer problem report", func(t *testing.T) {
		_, inv, done, tun := startInviter(t)
		bob := newFakeInvitee(t, tun, inv)

		req := bob.request("Bob")
		require.NoError(t, bob.tun.Post(context.Background(), req, true))

		resp := readResponse(t, bob)

		theirKey, err := keypair.ParseVerKey(resp.ConnectionSignature.Signer)
		require.NoError(t, err)
		require.Equal(t, bob.inviteKey, theirKey)

		report := model.NewProblemReport(ProblemReportMsgType, req.ID, ProblemResponseNotAccepted, "no thanks")
		require.NoError(t, bob.tun.Post(context.Background(), report, true))

		res := <-done
		require.ErrorIs(t, res.err, errs.ErrValidation)
		require.Equal(t, StateIDError, res.rec.State)
		require.Equal(t, ProblemResponseNotAccepted, res.rec.ProblemCode)
		require.Equal(t, "no thanks", res.rec.Explain)
	})
}

// fakeInviter plays the inviter side by hand.
type fakeInviter struct {
	inviteKey *keypair.KeyPair
	inv       *Invitation
	tun       *tunnel.Tunnel
}

func newFakeInviter(t *testing.T, tun *tunnel.Tunnel) *fakeInviter {
	t.Helper()

	kp, err := keypair.New(rand.Reader)
	require.NoError(t, err)

	return &fakeInviter{
		inviteKey: kp,
		inv: &Invitation{
			Type:            InvitationMsgType,
			ID:              uuid.New().String(),
			Label:           "Alice",
			RecipientKeys:   []string{kp.VerKeyBase58()},
			ServiceEndpoint: "http://alice.example",
		},
		tun: tun.WithTrust(tunnel.Trust{MyKeys: []*keypair.KeyPair{kp}}),
	}
}

func (f *fakeInviter) readRequest(t *testing.T) (*Request, []byte) {
	t.Helper()

	recv, err := f.tun.Receive(context.Background())
	require.NoError(t, err)
	require.True(t, recv.Encrypted)

	req := &Request{}
	require.NoError(t, recv.Message.Decode(req))
	require.Equal(t, f.inv.ID, req.Thread.PID)

	return req, recv.SenderVerKey
}

func startInvitee(t *testing.T) (*fakeInviter, chan runResult) {
	t.Helper()

	bobTun, aliceTun := newTunnels()
	alice := newFakeInviter(t, aliceTun)

	bob := NewInvitee(newTestProvider(t), WithHub(newTestHub("Bob", "http://bob.example")),
		WithTimeToLive(200*time.Millisecond))

	rec, err := bob.AcceptInvitation(context.Background(), alice.inv)
	require.NoError(t, err)

	done := make(chan runResult, 1)

	go func() {
		rec, err := bob.Run(context.Background(), rec, bobTun)
		done <- runResult{rec, err}
	}()

	return alice, done
}

func TestInvitee_Failures(t *testing.T) {
	t.Run("invalid invitation", func(t *testing.T) {
		bob := NewInvitee(newTestProvider(t), WithHub(newTestHub("Bob", "http://bob.example")))

		_, err := bob.AcceptInvitation(context.Background(), &Invitation{ServiceEndpoint: "http://alice"})
		require.ErrorIs(t, err, errs.ErrValidation)

		_, err = bob.AcceptInvitation(context.Background(), &Invitation{RecipientKeys: []string{"short"}})
		require.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("timeout notifies the inviter", func(t *testing.T) {
		alice, done := startInvitee(t)

		req, _ := alice.readRequest(t)

		res := <-done
		require.ErrorIs(t, res.err, errs.ErrTimeout)
		require.Equal(t, ProblemTimeoutOccurred, res.rec.ProblemCode)

		recv, err := alice.tun.Receive(context.Background())
		require.NoError(t, err)
		require.True(t, recv.Encrypted)
		require.Equal(t, ProblemReportMsgType, recv.Message.Type())

		thid, err := recv.Message.ThreadID()
		require.NoError(t, err)
		require.Equal(t, req.ID, thid)
	})

	t.Run("response signed by another key", func(t *testing.T) {
		alice, done := startInvitee(t)

		req, bobKey := alice.readRequest(t)

		other, err := keypair.New(rand.Reader)
		require.NoError(t, err)

		resp := signedResponse(t, req, other)
		require.NoError(t, alice.replyTo(bobKey).Post(context.Background(), resp, true))

		res := <-done
		require.ErrorIs(t, res.err, errs.ErrCrypto)
		require.Equal(t, ProblemResponseNotAccepted, res.rec.ProblemCode)
	})

	t.Run("tampered signature", func(t *testing.T) {
		alice, done := startInvitee(t)

		req, bobKey := alice.readRequest(t)

		resp := signedResponse(t, req, alice.inviteKey)
		resp.ConnectionSignature.Signature = signedResponse(t, req, alice.inviteKey).ConnectionSignature.SignedData
		require.NoError(t, alice.replyTo(bobKey).Post(context.Background(), resp, true))

		res := <-done
		require.Equal(t, ProblemResponseNotAccepted, res.rec.ProblemCode)
	})

	t.Run("wrong thread", func(t *testing.T) {
		alice, done := startInvitee(t)

		req, bobKey := alice.readRequest(t)

		resp := signedResponse(t, req, alice.inviteKey)
		resp.Thread.ID = "another-thread"
		require.NoError(t, alice.replyTo(bobKey).Post(context.Background(), resp, true))

		res := <-done
		require.ErrorIs(t, res.err, errs.ErrValidation)
		require.Equal(t, ProblemResponseNotAccepted, res.rec.ProblemCode)
	})

	t.Run("peer problem report", func(t *testing.T) {
		alice, done := startInvitee(t)

		req, bobKey := alice.readRequest(t)

		report := model.NewProblemReport(ProblemReportMsgType, req.ID, ProblemRequestNotAccepted, "unknown")
		require.NoError(t, alice.replyTo(bobKey).Post(context.Background(), report, true))

		res := <-done
		require.Equal(t, StateIDError, res.rec.State)
		require.Equal(t, ProblemRequestNotAccepted, res.rec.ProblemCode)
	})

	t.Run("signed response completes", func(t *testing.T) {
		alice, done := startInvitee(t)

		req, bobKey := alice.readRequest(t)

		pairwiseKey, err := keypair.New(rand.Reader)
		require.NoError(t, err)

		resp := signedResponseFor(t, req, alice.inviteKey, pairwiseKey)
		require.NoError(t, alice.replyTo(bobKey).Post(context.Background(), resp, true))

		res := <-done
		require.NoError(t, res.err)
		require.Equal(t, StateIDCompleted, res.rec.State)
		require.Equal(t, base58.Encode(bobKey), res.rec.MyVerKey)
		require.Equal(t, pairwiseKey.VerKeyBase58(), res.rec.TheirVerKey)

		recv, err := alice.tun.WithTrust(tunnel.Trust{MyKeys: []*keypair.KeyPair{pairwiseKey}}).
			Receive(context.Background())
		require.NoError(t, err)
		require.Equal(t, model.AckMsgType, recv.Message.Type())

		thid, err := recv.Message.ThreadID()
		require.NoError(t, err)
		require.Equal(t, req.ID, thid)
	})
}

func (f *fakeInviter) replyTo(theirKey []byte) *tunnel.Tunnel {
	return f.tun.WithTrust(tunnel.Trust{
		MyKeys:       []*keypair.KeyPair{f.inviteKey},
		Sender:       f.inviteKey,
		TheirVerKeys: [][]byte{theirKey},
	})
}

// signedResponse answers req with a fresh connection signed by signer.
func signedResponse(t *testing.T, req *Request, signer *keypair.KeyPair) *Response {
	t.Helper()

	kp, err := keypair.New(rand.Reader)
	require.NoError(t, err)

	return signedResponseFor(t, req, signer, kp)
}

// signedResponseFor answers req with the connection of kp signed by signer.
func signedResponseFor(t *testing.T, req *Request, signer, kp *keypair.KeyPair) *Response {
	t.Helper()

	conn := &Connection{DID: kp.DID(), DIDDoc: NewDIDDoc(kp.DID(), kp.VerKeyBase58(), "http://alice.example")}

	connBytes, err := json.Marshal(conn)
	require.NoError(t, err)

	return &Response{
		Type:                ResponseMsgType,
		ID:                  uuid.New().String(),
		ConnectionSignature: decorator.Sign(connBytes, signer, time.Now()),
		Thread:              &decorator.Thread{ID: req.ID},
	}
}
