/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connection runs the connection handshake (invitation, request, response, ack) for either role,
// recording every state transition and ending in completed or error.
package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/tunnel"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/hub"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/metrics"
	connectionstore "github.com/hyperledger/aries-agent-sdk-go/pkg/store/connection"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/store/pairwise"
)

var logger = log.New("aries-agent/connection")

const (
	// RoleInviter issues invitations and answers requests.
	RoleInviter = "inviter"
	// RoleInvitee accepts invitations and sends requests.
	RoleInvitee = "invitee"

	// DefaultTimeToLive bounds each handshake step.
	DefaultTimeToLive = 60 * time.Second
)

// Problem codes reported to the peer and recorded on failed handshakes.
const (
	ProblemRequestNotAccepted      = "request_not_accepted"
	ProblemRequestProcessingError  = "request_processing_error"
	ProblemResponseNotAccepted     = "response_not_accepted"
	ProblemResponseProcessingError = "response_processing_error"
	ProblemTimeoutOccurred         = "timeout_occurred"
)

// Record is a connection handshake record.
type Record = connectionstore.Record

// ProblemError is the error of a handshake that ended in the error state.
type ProblemError struct {
	// Kind is one of the errs sentinels.
	Kind    error
	Code    string
	Explain string
	Err     error
}

func (e *ProblemError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Explain)
}

// Unwrap returns the underlying failure.
func (e *ProblemError) Unwrap() error {
	return e.Err
}

// Is matches the error kind.
func (e *ProblemError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// KeyManager mints and loads identity keys.
type KeyManager interface {
	Create() (*keypair.KeyPair, error)
	Get(verKey string) (*keypair.KeyPair, error)
}

// PairwiseSaver stores the pairwise record of a completed connection.
type PairwiseSaver interface {
	Save(rec *pairwise.Record) error
}

// Provider contains dependencies for the connection protocol.
type Provider interface {
	KMS() KeyManager
	ConnectionRecorder() *connectionstore.Recorder
	PairwiseStore() PairwiseSaver
}

// Option configures an Inviter or Invitee.
type Option func(m *machine)

// WithTimeToLive bounds every handshake step.
func WithTimeToLive(ttl time.Duration) Option {
	return func(m *machine) {
		m.ttl = ttl
	}
}

// WithAckRequired makes a missing ack fail the inviter's handshake instead of completing it.
func WithAckRequired(required bool) Option {
	return func(m *machine) {
		m.ackRequired = required
	}
}

// WithHub sets the hub the session is read from. The default is hub.Default().
func WithHub(h *hub.Hub) Option {
	return func(m *machine) {
		m.hub = h
	}
}

// WithMetrics records handshake outcomes.
func WithMetrics(mm *metrics.Metrics) Option {
	return func(m *machine) {
		m.metrics = mm
	}
}

// WithStateEvents publishes every state entered. Events are dropped when ch is full.
func WithStateEvents(ch chan<- model.Event) Option {
	return func(m *machine) {
		m.events = ch
	}
}

type machine struct {
	role        string
	kms         KeyManager
	records     *connectionstore.Recorder
	pairwise    PairwiseSaver
	registry    *message.Registry
	hub         *hub.Hub
	metrics     *metrics.Metrics
	events      chan<- model.Event
	ttl         time.Duration
	ackRequired bool
}

func newMachine(role string, p Provider, opts ...Option) *machine {
	m := &machine{
		role:     role,
		kms:      p.KMS(),
		records:  p.ConnectionRecorder(),
		pairwise: p.PairwiseStore(),
		registry: message.MustRegistry(append(Kinds(), model.Kinds()...)...),
		hub:      hub.Default(),
		ttl:      DefaultTimeToLive,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// GetRecord returns the record of a connection.
func (m *machine) GetRecord(connectionID string) (*Record, error) {
	return m.records.GetConnectionRecord(connectionID)
}

// QueryByState returns the records in state.
func (m *machine) QueryByState(state string) ([]*Record, error) {
	return m.records.QueryConnectionRecords(state)
}

func (m *machine) transition(rec *Record, next state) error {
	cur, err := parseState(rec.State)
	if err != nil {
		return err
	}

	if !cur.canMoveTo(next) {
		return errs.New(errs.ErrValidation, "invalid state transition: %s -> %s", cur, next)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.State = string(next)
	rec.UpdatedAt = now

	if err := m.records.SaveConnectionRecord(rec); err != nil {
		return fmt.Errorf("save connection record: %w", err)
	}

	logger.Debugf("connection %s (%s) entered %s", rec.ConnectionID, m.role, rec.State)

	m.publish(rec)

	return nil
}

func (m *machine) publish(rec *Record) {
	if m.events == nil {
		return
	}

	ev := &connectionEvent{
		connectionID: rec.ConnectionID,
		invitationID: rec.InvitationID,
		stateID:      rec.State,
		problemCode:  rec.ProblemCode,
	}

	select {
	case m.events <- ev:
	default:
		logger.Warnf("state event channel full, dropping %s for %s", rec.State, rec.ConnectionID)
	}
}

// fail moves rec to the error state. When notify is set a problem report threaded by rec.ThreadID is
// posted over tun: encrypted when tun knows a recipient, plaintext otherwise.
func (m *machine) fail(ctx context.Context, rec *Record, tun *tunnel.Tunnel, code string, cause error,
	notify bool) (*Record, error) {
	kind := errs.KindOf(cause)
	if kind == nil {
		kind = errs.ErrValidation
	}

	rec.ProblemCode = code
	rec.Explain = cause.Error()

	logger.Warnf("connection %s (%s) failed with %s: %s", rec.ConnectionID, m.role, code, cause)

	if err := m.transition(rec, stateError); err != nil {
		logger.Errorf("failed to record error state of %s: %s", rec.ConnectionID, err)
	}

	m.metrics.ConnectionFinished(m.role, StateIDError)

	if notify && tun != nil {
		report := model.NewProblemReport(ProblemReportMsgType, rec.ThreadID, code, cause.Error())
		encrypt := len(tun.Trust().TheirVerKeys) > 0

		// the step context may have expired, the report gets its own deadline
		parent := ctx
		if parent.Err() != nil {
			parent = context.Background()
		}

		postCtx, cancel := context.WithTimeout(parent, m.ttl)
		defer cancel()

		if err := tun.Post(postCtx, report, encrypt); err != nil {
			logger.Warnf("failed to send problem report for %s: %s", rec.ConnectionID, err)
		}
	}

	return rec, &ProblemError{Kind: kind, Code: code, Explain: cause.Error(), Err: cause}
}

// rejected records a problem report received from the peer.
func (m *machine) rejected(rec *Record, report *model.ProblemReport) (*Record, error) {
	code := report.Code()
	cause := errs.New(errs.ErrValidation, "peer reported %s: %s", code, report.Explain)

	rec.ProblemCode = code
	rec.Explain = report.Explain

	if err := m.transition(rec, stateError); err != nil {
		logger.Errorf("failed to record error state of %s: %s", rec.ConnectionID, err)
	}

	m.metrics.ConnectionFinished(m.role, StateIDError)

	return rec, &ProblemError{Kind: errs.ErrValidation, Code: code, Explain: report.Explain, Err: cause}
}

// complete moves rec to completed and stores the pairwise identity.
func (m *machine) complete(rec *Record) (*Record, error) {
	if err := m.transition(rec, stateCompleted); err != nil {
		return rec, err
	}

	err := m.pairwise.Save(&pairwise.Record{
		ConnectionID:  rec.ConnectionID,
		MyDID:         rec.MyDID,
		MyVerKey:      rec.MyVerKey,
		TheirDID:      rec.TheirDID,
		TheirVerKey:   rec.TheirVerKey,
		TheirLabel:    rec.TheirLabel,
		TheirEndpoint: rec.TheirEndpoint,
	})
	if err != nil {
		return rec, fmt.Errorf("save pairwise: %w", err)
	}

	m.metrics.ConnectionFinished(m.role, StateIDCompleted)

	return rec, nil
}

// receive reads the next message from tun within the step deadline and restores its typed form.
func (m *machine) receive(ctx context.Context, tun *tunnel.Tunnel) (*tunnel.Received, interface{}, error) {
	stepCtx, cancel := context.WithTimeout(ctx, m.ttl)
	defer cancel()

	recv, err := tun.Receive(stepCtx)
	if err != nil {
		return nil, nil, err
	}

	typed, err := m.registry.Restore(recv.Message)
	if err != nil {
		return nil, nil, err
	}

	return recv, typed, nil
}

// receiveBy is receive bounded by deadline as well as the time to live. A deadline already passed fails
// without reading.
func (m *machine) receiveBy(ctx context.Context, tun *tunnel.Tunnel, deadline time.Time) (*tunnel.Received,
	interface{}, error) {
	if !time.Now().Before(deadline) {
		return nil, nil, errs.New(errs.ErrTimeout, "deadline %s passed", deadline.Format(time.RFC3339Nano))
	}

	deadlineCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	return m.receive(deadlineCtx, tun)
}

// enter scopes the session of a handshake: the current session with the pairwise identity and trust.
func (m *machine) enter(ctx context.Context, id *pairwiseIdentity, trust tunnel.Trust) (context.Context,
	hub.Release, error) {
	sess, err := m.hub.Current(ctx)
	if err != nil {
		return nil, nil, err
	}

	scoped := sess.Clone()
	scoped.Identity = id.key
	scoped.DID = id.did
	scoped.Trust = trust

	scopedCtx, release := m.hub.Enter(ctx, scoped)

	return scopedCtx, release, nil
}
