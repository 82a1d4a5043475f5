/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"fmt"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/common/model"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/protocol/decorator"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

const (
	// Protocol is the connection protocol name.
	Protocol = "connections"
	// Version is the supported connection protocol version.
	Version = "1.0"

	didContext               = "https://w3id.org/did/v1"
	didPrefix                = "did:sov:"
	ed25519VerificationKey   = "Ed25519VerificationKey2018"
	legacyDIDCommServiceType = "IndyAgent"
)

// nolint:gochecknoglobals
var (
	// InvitationMsgType defines the connection invitation message type.
	InvitationMsgType = message.TypeURI(Protocol, Version, "invitation")
	// RequestMsgType defines the connection request message type.
	RequestMsgType = message.TypeURI(Protocol, Version, "request")
	// ResponseMsgType defines the connection response message type.
	ResponseMsgType = message.TypeURI(Protocol, Version, "response")
	// ProblemReportMsgType defines the connection problem report message type.
	ProblemReportMsgType = message.TypeURI(Protocol, Version, "problem_report")
)

// Invitation model
//
// Invitation defines Connection protocol invitation message
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0160-connection-protocol#0-invitation-to-connect
type Invitation struct {
	// the Type of the connection invitation
	Type string `json:"@type,omitempty"`

	// the ID of the connection invitation
	ID string `json:"@id,omitempty"`

	// the Label of the connection invitation
	Label string `json:"label,omitempty"`

	// the RecipientKeys for the connection invitation
	RecipientKeys []string `json:"recipientKeys,omitempty"`

	// the Service endpoint of the connection invitation
	ServiceEndpoint string `json:"serviceEndpoint,omitempty"`

	// the RoutingKeys of the connection invitation
	RoutingKeys []string `json:"routingKeys,omitempty"`
}

// Request defines a2a Connection request
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0160-connection-protocol#1-connection-request
type Request struct {
	Type       string            `json:"@type,omitempty"`
	ID         string            `json:"@id,omitempty"`
	Label      string            `json:"label"`
	Thread     *decorator.Thread `json:"~thread,omitempty"`
	Connection *Connection       `json:"connection,omitempty"`
}

// Response defines a2a Connection response
// https://github.com/hyperledger/aries-rfcs/tree/main/features/0160-connection-protocol#2-connection-response
type Response struct {
	Type                string               `json:"@type,omitempty"`
	ID                  string               `json:"@id,omitempty"`
	ConnectionSignature *decorator.Signature `json:"connection~sig,omitempty"`
	Thread              *decorator.Thread    `json:"~thread,omitempty"`
	PleaseAck           *decorator.PleaseAck `json:"~please_ack,omitempty"`
}

// Connection defines connection body of connection request.
type Connection struct {
	DID    string  `json:"DID,omitempty"`
	DIDDoc *DIDDoc `json:"DIDDoc,omitempty"`
}

// DIDDoc is the DID document exchanged inside a connection request or response.
type DIDDoc struct {
	Context   string      `json:"@context,omitempty"`
	ID        string      `json:"id"`
	PublicKey []PublicKey `json:"publicKey,omitempty"`
	Service   []Service   `json:"service,omitempty"`
}

// PublicKey is a verification key of a DID document.
type PublicKey struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Controller      string `json:"controller"`
	PublicKeyBase58 string `json:"publicKeyBase58"`
}

// Service is a DIDComm endpoint of a DID document.
type Service struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Priority        int      `json:"priority"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint"`
}

// NewDIDDoc builds the DID document of an unqualified DID whose only key is verKey, reachable at endpoint.
func NewDIDDoc(did, verKey, endpoint string) *DIDDoc {
	id := didPrefix + did

	return &DIDDoc{
		Context: didContext,
		ID:      id,
		PublicKey: []PublicKey{{
			ID:              id + "#1",
			Type:            ed25519VerificationKey,
			Controller:      id,
			PublicKeyBase58: verKey,
		}},
		Service: []Service{{
			ID:              id + ";indy",
			Type:            legacyDIDCommServiceType,
			RecipientKeys:   []string{verKey},
			ServiceEndpoint: endpoint,
		}},
	}
}

// VerKey returns the first recipient key of the first service, else the first public key.
func (d *DIDDoc) VerKey() string {
	for _, s := range d.Service {
		if len(s.RecipientKeys) > 0 {
			return s.RecipientKeys[0]
		}
	}

	for _, pk := range d.PublicKey {
		if pk.PublicKeyBase58 != "" {
			return pk.PublicKeyBase58
		}
	}

	return ""
}

// Endpoint returns the first service endpoint.
func (d *DIDDoc) Endpoint() string {
	for _, s := range d.Service {
		if s.ServiceEndpoint != "" {
			return s.ServiceEndpoint
		}
	}

	return ""
}

// Validate checks that the connection names a DID and a document with a usable verkey and endpoint.
func (c *Connection) Validate() error {
	if c == nil {
		return errs.New(errs.ErrValidation, "missing connection")
	}

	if c.DID == "" {
		return errs.New(errs.ErrValidation, "missing DID")
	}

	if c.DIDDoc == nil {
		return errs.New(errs.ErrValidation, "missing DIDDoc")
	}

	if _, err := keypair.ParseVerKey(c.DIDDoc.VerKey()); err != nil {
		return errs.Wrap(errs.ErrValidation, err, "DIDDoc verkey")
	}

	if c.DIDDoc.Endpoint() == "" {
		return errs.New(errs.ErrValidation, "DIDDoc has no service endpoint")
	}

	return nil
}

// Validate checks that an invitation can be answered.
func (i *Invitation) Validate() error {
	if len(i.RecipientKeys) == 0 {
		return errs.New(errs.ErrValidation, "invitation has no recipient keys")
	}

	if _, err := keypair.ParseVerKey(i.RecipientKeys[0]); err != nil {
		return errs.Wrap(errs.ErrValidation, err, "invitation recipient key")
	}

	if i.ServiceEndpoint == "" {
		return errs.New(errs.ErrValidation, "invitation has no service endpoint")
	}

	return nil
}

// Kinds returns the registry entries of the connection protocol.
func Kinds() []message.Entry {
	entry := func(name string, newFn func() interface{}) message.Entry {
		return message.Entry{Protocol: Protocol, Version: Version, Name: name, New: newFn}
	}

	return []message.Entry{
		entry("invitation", func() interface{} { return &Invitation{} }),
		entry("request", func() interface{} { return &Request{} }),
		entry("response", func() interface{} { return &Response{} }),
		entry("problem_report", func() interface{} { return &model.ProblemReport{} }),
	}
}

func theirVerKey(c *Connection) ([]byte, error) {
	key, err := keypair.ParseVerKey(c.DIDDoc.VerKey())
	if err != nil {
		return nil, fmt.Errorf("their verkey: %w", err)
	}

	return key, nil
}
