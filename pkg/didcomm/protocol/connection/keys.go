/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"fmt"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// pairwiseIdentity is the key, DID and DID document minted for one side of a connection.
type pairwiseIdentity struct {
	key  *keypair.KeyPair
	did  string
	conn *Connection
}

func (m *machine) newPairwiseIdentity(endpoint string) (*pairwiseIdentity, error) {
	kp, err := m.kms.Create()
	if err != nil {
		return nil, fmt.Errorf("create pairwise key: %w", err)
	}

	did := kp.DID()

	return &pairwiseIdentity{
		key: kp,
		did: did,
		conn: &Connection{
			DID:    did,
			DIDDoc: NewDIDDoc(did, kp.VerKeyBase58(), endpoint),
		},
	}, nil
}

func (m *machine) invitationKey(verKey string) (*keypair.KeyPair, error) {
	kp, err := m.kms.Get(verKey)
	if err != nil {
		return nil, fmt.Errorf("get invitation key: %w", err)
	}

	return kp, nil
}
