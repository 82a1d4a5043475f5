/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package decorator

import (
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcutil/base58"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// SignatureType is the ed25519 single signature scheme of the ~sig decorator.
const SignatureType = "https://didcomm.org/signature/1.0/ed25519Sha512_single"

const timestampSize = 8

// Sign produces a signature decorator over data: sig_data is an 8-byte big-endian unix timestamp
// followed by data, signed by kp.
func Sign(data []byte, kp *keypair.KeyPair, now time.Time) *Signature {
	sigData := make([]byte, timestampSize, timestampSize+len(data))
	binary.BigEndian.PutUint64(sigData, uint64(now.Unix()))
	sigData = append(sigData, data...)

	return &Signature{
		Type:       SignatureType,
		Signature:  base64.URLEncoding.EncodeToString(kp.Sign(sigData)),
		SignedData: base64.URLEncoding.EncodeToString(sigData),
		Signer:     kp.VerKeyBase58(),
	}
}

// Verify checks the signature against its signer and returns the signed data without the timestamp.
func (s *Signature) Verify() ([]byte, time.Time, error) {
	if s.Type != SignatureType {
		return nil, time.Time{}, errs.New(errs.ErrValidation, "unsupported signature type %q", s.Type)
	}

	signer, err := keypair.ParseVerKey(s.Signer)
	if err != nil {
		return nil, time.Time{}, err
	}

	sigData, err := base64.URLEncoding.DecodeString(s.SignedData)
	if err != nil {
		return nil, time.Time{}, errs.Wrap(errs.ErrPayloadStructure, err, "decode sig_data")
	}

	if len(sigData) < timestampSize {
		return nil, time.Time{}, errs.New(errs.ErrPayloadStructure, "sig_data is too short")
	}

	sig, err := base64.URLEncoding.DecodeString(s.Signature)
	if err != nil {
		return nil, time.Time{}, errs.Wrap(errs.ErrPayloadStructure, err, "decode signature")
	}

	if err := keypair.Verify(signer, sigData, sig); err != nil {
		return nil, time.Time{}, err
	}

	ts := time.Unix(int64(binary.BigEndian.Uint64(sigData[:timestampSize])), 0)

	return sigData[timestampSize:], ts, nil
}

// SignedBy reports whether the decorator names verKey (raw bytes) as its signer.
func (s *Signature) SignedBy(verKey []byte) bool {
	return s.Signer == base58.Encode(verKey)
}
