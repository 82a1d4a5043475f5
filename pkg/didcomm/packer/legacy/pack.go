/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package legacy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	chacha "golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/poly1305"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/internal/cryptoutil"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// Pack will encode the payload argument for every recipient ed25519 verkey.
// With a sender the envelope is Authcrypt, without one it is Anoncrypt.
func (p *Packer) Pack(payload []byte, recipients [][]byte, sender *keypair.KeyPair) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, errs.New(errs.ErrCrypto, "empty recipients")
	}

	var (
		senderCurvePriv []byte
		err             error
	)

	alg := AlgAnoncrypt

	if sender != nil {
		alg = AlgAuthcrypt

		_, senderCurvePriv, err = sender.Curve25519()
		if err != nil {
			return nil, err
		}
	}

	nonce := make([]byte, chacha.NonceSize)

	_, err = p.randSource.Read(nonce)
	if err != nil {
		return nil, fmt.Errorf("pack: generate nonce: %w", err)
	}

	// cek (content encryption key) is a symmetric key, for chacha20, a symmetric cipher
	_, cek, err := box.GenerateKey(p.randSource)
	if err != nil {
		return nil, fmt.Errorf("pack: generate cek: %w", err)
	}

	encodedRecipients := make([]recipient, 0, len(recipients))

	for _, recKey := range recipients {
		var rec *recipient

		if sender != nil {
			rec, err = p.buildAuthRecipient(cek[:], recKey, sender, senderCurvePriv)
		} else {
			rec, err = p.buildAnonRecipient(cek[:], recKey)
		}

		if err != nil {
			return nil, err
		}

		encodedRecipients = append(encodedRecipients, *rec)
	}

	protectedBytes, err := json.Marshal(protected{
		Enc:        encAlg,
		Typ:        encodingType,
		Alg:        alg,
		Recipients: encodedRecipients,
	})
	if err != nil {
		return nil, fmt.Errorf("pack: marshal protected header: %w", err)
	}

	chachaCipher, err := chacha.New(cek[:])
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "pack: create cipher")
	}

	aad := base64.URLEncoding.EncodeToString(protectedBytes)

	symPld := chachaCipher.Seal(nil, nonce, payload, []byte(aad))

	// symPld has a length of len(pld) + poly1035.TagSize, the tag sits at the tail
	tag := symPld[len(symPld)-poly1305.TagSize:]
	cipherText := symPld[0 : len(symPld)-poly1305.TagSize]

	out, err := json.Marshal(&Envelope{
		Protected:  aad,
		IV:         base64.URLEncoding.EncodeToString(nonce),
		CipherText: base64.URLEncoding.EncodeToString(cipherText),
		Tag:        base64.URLEncoding.EncodeToString(tag),
	})
	if err != nil {
		return nil, fmt.Errorf("pack: marshal envelope: %w", err)
	}

	logger.Debugf("packed %s envelope for %d recipient(s)", alg, len(recipients))

	return out, nil
}

// buildAuthRecipient encrypts the CEK and the sender verkey for one recipient.
func (p *Packer) buildAuthRecipient(cek, recKey []byte, sender *keypair.KeyPair, senderCurvePriv []byte) (*recipient, error) {
	recPKCurve, err := cryptoutil.PublicEd25519toCurve25519(recKey)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "pack: convert recipient key")
	}

	nonce := make([]byte, cryptoutil.NonceSize)

	_, err = p.randSource.Read(nonce)
	if err != nil {
		return nil, fmt.Errorf("pack: generate recipient nonce: %w", err)
	}

	encCEK, err := cryptoutil.Easy(cek, nonce, recPKCurve, senderCurvePriv)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "pack: encrypt cek")
	}

	encSender, err := cryptoutil.Seal([]byte(sender.VerKeyBase58()), recPKCurve, p.randSource)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "pack: encrypt sender")
	}

	return &recipient{
		EncryptedKey: base64.URLEncoding.EncodeToString(encCEK),
		Header: recipientHeader{
			KID:    base58.Encode(recKey),
			Sender: base64.URLEncoding.EncodeToString(encSender),
			IV:     base64.URLEncoding.EncodeToString(nonce),
		},
	}, nil
}

// buildAnonRecipient seals the CEK for one recipient.
func (p *Packer) buildAnonRecipient(cek, recKey []byte) (*recipient, error) {
	recPKCurve, err := cryptoutil.PublicEd25519toCurve25519(recKey)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "pack: convert recipient key")
	}

	encCEK, err := cryptoutil.Seal(cek, recPKCurve, p.randSource)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "pack: seal cek")
	}

	return &recipient{
		EncryptedKey: base64.URLEncoding.EncodeToString(encCEK),
		Header: recipientHeader{
			KID: base58.Encode(recKey),
		},
	}, nil
}
