/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cryptoutil

import (
	"errors"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// ErrBoxOpen is returned when a box or sealed box fails to authenticate.
var ErrBoxOpen = errors.New("failed to open box")

// Easy seals payload for theirPub with myPriv, both Curve25519 keys, using the provided nonce.
func Easy(payload, nonce, theirPub, myPriv []byte) ([]byte, error) {
	if len(theirPub) != Curve25519KeySize || len(myPriv) != Curve25519KeySize {
		return nil, ErrInvalidKey
	}

	var (
		pub     [Curve25519KeySize]byte
		priv    [Curve25519KeySize]byte
		nonce24 [NonceSize]byte
	)

	copy(pub[:], theirPub)
	copy(priv[:], myPriv)
	copy(nonce24[:], nonce)

	return box.Seal(nil, payload, &nonce24, &pub, &priv), nil
}

// EasyOpen opens a message sealed with Easy.
func EasyOpen(cipherText, nonce, theirPub, myPriv []byte) ([]byte, error) {
	if len(theirPub) != Curve25519KeySize || len(myPriv) != Curve25519KeySize {
		return nil, ErrInvalidKey
	}

	if len(nonce) != NonceSize {
		return nil, ErrBoxOpen
	}

	var (
		pub     [Curve25519KeySize]byte
		priv    [Curve25519KeySize]byte
		nonce24 [NonceSize]byte
	)

	copy(pub[:], theirPub)
	copy(priv[:], myPriv)
	copy(nonce24[:], nonce)

	out, ok := box.Open(nil, cipherText, &nonce24, &pub, &priv)
	if !ok {
		return nil, ErrBoxOpen
	}

	return out, nil
}

// Seal seals a payload using the equivalent of libsodium box_seal.
//
// An ephemeral sender keypair is generated and its public key is prepended to the output.
func Seal(payload, theirPub []byte, randSource io.Reader) ([]byte, error) {
	if len(theirPub) != Curve25519KeySize {
		return nil, ErrInvalidKey
	}

	epk, esk, err := box.GenerateKey(randSource)
	if err != nil {
		return nil, err
	}

	var recPub [Curve25519KeySize]byte

	copy(recPub[:], theirPub)

	nonce, err := Nonce(epk[:], theirPub)
	if err != nil {
		return nil, err
	}

	return box.Seal(epk[:], payload, nonce, &recPub, esk), nil
}

// SealOpen decrypts a payload encrypted with Seal, given the recipient Curve25519 keypair.
func SealOpen(cipherText, myPub, myPriv []byte) ([]byte, error) {
	if len(cipherText) < Curve25519KeySize {
		return nil, ErrBoxOpen
	}

	if len(myPub) != Curve25519KeySize || len(myPriv) != Curve25519KeySize {
		return nil, ErrInvalidKey
	}

	var (
		epk  [Curve25519KeySize]byte
		priv [Curve25519KeySize]byte
	)

	copy(epk[:], cipherText[:Curve25519KeySize])
	copy(priv[:], myPriv)

	nonce, err := Nonce(epk[:], myPub)
	if err != nil {
		return nil, err
	}

	out, ok := box.Open(nil, cipherText[Curve25519KeySize:], nonce, &epk, &priv)
	if !ok {
		return nil, ErrBoxOpen
	}

	return out, nil
}
