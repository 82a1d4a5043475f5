/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cryptoutil converts Ed25519 identity keys to the Curve25519 keys of NaCl boxes and implements the
// libsodium box primitives the legacy envelope is built on.
package cryptoutil

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/teserakt-io/golang-ed25519/extra25519"
	"golang.org/x/crypto/blake2b"
)

const (
	// Curve25519KeySize is the size of a Curve25519 public or private key.
	Curve25519KeySize = 32
	// NonceSize is the nonce size of XSalsa20-Poly1305 boxes.
	NonceSize = 24
)

// ErrInvalidKey is returned for keys of the wrong size or off the curve.
var ErrInvalidKey = errors.New("invalid key")

func checkSize(key []byte, size int) error {
	switch len(key) {
	case 0:
		return fmt.Errorf("%w: key is nil", ErrInvalidKey)
	case size:
		return nil
	default:
		return fmt.Errorf("%w: %d-byte key size is invalid", ErrInvalidKey, len(key))
	}
}

// PublicEd25519toCurve25519 maps an Ed25519 verification key to its Curve25519 public key.
func PublicEd25519toCurve25519(pub []byte) ([]byte, error) {
	if err := checkSize(pub, ed25519.PublicKeySize); err != nil {
		return nil, err
	}

	var edPub, curvePub [Curve25519KeySize]byte

	copy(edPub[:], pub)

	if !extra25519.PublicKeyToCurve25519(&curvePub, &edPub) {
		return nil, fmt.Errorf("%w: not a point on the curve", ErrInvalidKey)
	}

	return curvePub[:], nil
}

// SecretEd25519toCurve25519 maps a 64-byte Ed25519 signing key to its Curve25519 private key.
func SecretEd25519toCurve25519(priv []byte) ([]byte, error) {
	if err := checkSize(priv, ed25519.PrivateKeySize); err != nil {
		return nil, err
	}

	var (
		edPriv    [ed25519.PrivateKeySize]byte
		curvePriv [Curve25519KeySize]byte
	)

	copy(edPriv[:], priv)
	extra25519.PrivateKeyToCurve25519(&curvePriv, &edPriv)

	return curvePriv[:], nil
}

// Nonce derives the sealed box nonce blake2b-192(epk || pub), as libsodium does.
func Nonce(epk, pub []byte) (*[NonceSize]byte, error) {
	h, err := blake2b.New(NonceSize, nil)
	if err != nil {
		return nil, err
	}

	h.Write(epk) //nolint:errcheck
	h.Write(pub) //nolint:errcheck

	var nonce [NonceSize]byte

	copy(nonce[:], h.Sum(nil))

	return &nonce, nil
}
