/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package legacy

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	"github.com/btcsuite/btcutil/base58"
	chacha "golang.org/x/crypto/chacha20poly1305"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/transport"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/internal/cryptoutil"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// Unpack decrypts envelope with the first of keys named as a recipient.
func Unpack(envelope []byte, keys ...*keypair.KeyPair) (*transport.Envelope, error) {
	return defaultPacker.Unpack(envelope, keys...)
}

// Unpack will decode the envelope using the legacy format.
// Using Chacha20 encryption algorithm and Poly1035 authenticator.
func (p *Packer) Unpack(envelope []byte, keys ...*keypair.KeyPair) (*transport.Envelope, error) {
	envelopeData, protectedData, err := parseEnvelope(envelope)
	if err != nil {
		return nil, err
	}

	rec, myKey := findRecipient(protectedData.Recipients, keys)
	if rec == nil {
		return nil, errs.New(errs.ErrCrypto, "unpack: no matching recipient among %d key(s)", len(keys))
	}

	myCurvePub, myCurvePriv, err := myKey.Curve25519()
	if err != nil {
		return nil, err
	}

	var cek, senderKey []byte

	if protectedData.Alg == AlgAuthcrypt {
		cek, senderKey, err = authCEK(rec, myCurvePub, myCurvePriv)
	} else {
		cek, err = anonCEK(rec, myCurvePub, myCurvePriv)
	}

	if err != nil {
		return nil, err
	}

	data, err := decodeCipherText(cek, envelopeData)
	if err != nil {
		return nil, err
	}

	return &transport.Envelope{
		Message:    data,
		FromVerKey: senderKey,
		ToVerKey:   myKey.VerKey,
	}, nil
}

// RecipientKIDs lists the base58 verkeys an envelope is encrypted for, without decrypting it.
func RecipientKIDs(envelope []byte) ([]string, error) {
	_, protectedData, err := parseEnvelope(envelope)
	if err != nil {
		return nil, err
	}

	kids := make([]string, 0, len(protectedData.Recipients))

	for _, r := range protectedData.Recipients {
		kids = append(kids, r.Header.KID)
	}

	return kids, nil
}

func parseEnvelope(envelope []byte) (*Envelope, *protected, error) {
	var envelopeData Envelope

	err := json.Unmarshal(envelope, &envelopeData)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: parse envelope")
	}

	protectedBytes, err := base64.URLEncoding.DecodeString(envelopeData.Protected)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: decode protected header")
	}

	var protectedData protected

	err = json.Unmarshal(protectedBytes, &protectedData)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: parse protected header")
	}

	if protectedData.Typ != encodingType {
		return nil, nil, errs.New(errs.ErrPayloadStructure, "message type %s not supported", protectedData.Typ)
	}

	if protectedData.Alg != AlgAuthcrypt && protectedData.Alg != AlgAnoncrypt {
		return nil, nil, errs.New(errs.ErrPayloadStructure, "message format %s not supported", protectedData.Alg)
	}

	return &envelopeData, &protectedData, nil
}

func findRecipient(recipients []recipient, keys []*keypair.KeyPair) (*recipient, *keypair.KeyPair) {
	for i := range recipients {
		kid := base58.Decode(recipients[i].Header.KID)

		for _, k := range keys {
			if k != nil && bytes.Equal(kid, k.VerKey) {
				return &recipients[i], k
			}
		}
	}

	return nil, nil
}

func authCEK(rec *recipient, myCurvePub, myCurvePriv []byte) ([]byte, []byte, error) {
	encSender, err := base64.URLEncoding.DecodeString(rec.Header.Sender)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: decode sender")
	}

	senderB58, err := cryptoutil.SealOpen(encSender, myCurvePub, myCurvePriv)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrCrypto, err, "unpack: open sender")
	}

	senderPub := base58.Decode(string(senderB58))
	if len(senderPub) != ed25519.PublicKeySize {
		return nil, nil, errs.New(errs.ErrCrypto, "unpack: sender key has invalid length %d", len(senderPub))
	}

	senderCurve, err := cryptoutil.PublicEd25519toCurve25519(senderPub)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrCrypto, err, "unpack: convert sender key")
	}

	nonce, err := base64.URLEncoding.DecodeString(rec.Header.IV)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: decode recipient iv")
	}

	encCEK, err := base64.URLEncoding.DecodeString(rec.EncryptedKey)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: decode encrypted key")
	}

	cek, err := cryptoutil.EasyOpen(encCEK, nonce, senderCurve, myCurvePriv)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrCrypto, err, "unpack: decrypt cek")
	}

	return cek, senderPub, nil
}

func anonCEK(rec *recipient, myCurvePub, myCurvePriv []byte) ([]byte, error) {
	encCEK, err := base64.URLEncoding.DecodeString(rec.EncryptedKey)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: decode encrypted key")
	}

	cek, err := cryptoutil.SealOpen(encCEK, myCurvePub, myCurvePriv)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "unpack: open cek")
	}

	return cek, nil
}

// decodeCipherText decodes (from base64) and decrypts the ciphertext using chacha20poly1305.
func decodeCipherText(cek []byte, envelope *Envelope) ([]byte, error) {
	if len(cek) != chacha.KeySize {
		return nil, errs.New(errs.ErrCrypto, "unpack: cek has invalid length %d", len(cek))
	}

	cipherText, err := base64.URLEncoding.DecodeString(envelope.CipherText)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: decode ciphertext")
	}

	nonce, err := base64.URLEncoding.DecodeString(envelope.IV)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: decode iv")
	}

	if len(nonce) != chacha.NonceSize {
		return nil, errs.New(errs.ErrPayloadStructure, "unpack: iv has invalid length %d", len(nonce))
	}

	tag, err := base64.URLEncoding.DecodeString(envelope.Tag)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "unpack: decode tag")
	}

	chachaCipher, err := chacha.New(cek)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "unpack: create cipher")
	}

	payload := make([]byte, 0, len(cipherText)+len(tag))
	payload = append(payload, cipherText...)
	payload = append(payload, tag...)

	message, err := chachaCipher.Open(nil, nonce, payload, []byte(envelope.Protected))
	if err != nil {
		return nil, errs.Wrap(errs.ErrCrypto, err, "unpack: decrypt payload")
	}

	return message, nil
}
