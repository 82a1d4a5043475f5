/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keypair holds the ed25519 identity key pair of an agent or of one side of a pairwise connection.
package keypair

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/multiformats/go-multibase"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/internal/cryptoutil"
)

const (
	// SeedSize is the size of a deterministic key seed.
	SeedSize = ed25519.SeedSize

	didKeyPrefix = "did:key:"
	didLen       = 16
)

// ed25519 multicodec prefix, varint encoded.
var ed25519Codec = []byte{0xed, 0x01} //nolint:gochecknoglobals

// validation message signed at creation time.
var probe = []byte("aries-agent key pair probe") //nolint:gochecknoglobals

// KeyPair is an ed25519 key pair. VerKey is the public verification key, SigKey the private signing key.
type KeyPair struct {
	VerKey []byte
	SigKey []byte
}

// New generates a new key pair from randSource. A nil randSource uses crypto/rand.
func New(randSource io.Reader) (*KeyPair, error) {
	if randSource == nil {
		randSource = rand.Reader
	}

	pub, priv, err := ed25519.GenerateKey(randSource)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	return FromKeys(pub, priv)
}

// FromSeed derives a key pair deterministically from a 32-byte seed.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != SeedSize {
		return nil, errs.New(errs.ErrValidation, "seed must be %d bytes, got %d", SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)

	return FromKeys(priv.Public().(ed25519.PublicKey), priv)
}

// FromKeys builds a key pair from raw keys. The pair is validated by signing a probe with sigKey and
// verifying it with verKey.
func FromKeys(verKey, sigKey []byte) (*KeyPair, error) {
	kp := &KeyPair{VerKey: verKey, SigKey: sigKey}

	if err := kp.Validate(); err != nil {
		return nil, err
	}

	return kp, nil
}

// FromBase58 builds a key pair from base58 rendered keys.
func FromBase58(verKey, sigKey string) (*KeyPair, error) {
	return FromKeys(base58.Decode(verKey), base58.Decode(sigKey))
}

// Validate checks that SigKey signs messages verifiable by VerKey.
func (kp *KeyPair) Validate() error {
	if len(kp.VerKey) != ed25519.PublicKeySize {
		return errs.New(errs.ErrCrypto, "verkey must be %d bytes, got %d", ed25519.PublicKeySize, len(kp.VerKey))
	}

	if len(kp.SigKey) != ed25519.PrivateKeySize {
		return errs.New(errs.ErrCrypto, "sigkey must be %d bytes, got %d", ed25519.PrivateKeySize, len(kp.SigKey))
	}

	if !ed25519.Verify(kp.VerKey, probe, ed25519.Sign(kp.SigKey, probe)) {
		return errs.New(errs.ErrCrypto, "sigkey does not match verkey")
	}

	return nil
}

// Sign signs msg with SigKey.
func (kp *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.SigKey, msg)
}

// VerKeyBase58 renders the verification key as base58.
func (kp *KeyPair) VerKeyBase58() string {
	return base58.Encode(kp.VerKey)
}

// SigKeyBase58 renders the signing key as base58.
func (kp *KeyPair) SigKeyBase58() string {
	return base58.Encode(kp.SigKey)
}

// DID returns the unqualified DID derived from the first 16 bytes of the verification key.
func (kp *KeyPair) DID() string {
	return base58.Encode(kp.VerKey[:didLen])
}

// DIDKey renders the verification key as a did:key.
func (kp *KeyPair) DIDKey() string {
	k, err := DIDKey(kp.VerKey)
	if err != nil {
		// only fails on an unknown multibase encoding
		panic(err)
	}

	return k
}

// Curve25519 returns the X25519 forms of the key pair.
func (kp *KeyPair) Curve25519() (pub, priv []byte, err error) {
	pub, err = cryptoutil.PublicEd25519toCurve25519(kp.VerKey)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrCrypto, err, "convert verkey")
	}

	priv, err = cryptoutil.SecretEd25519toCurve25519(kp.SigKey)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrCrypto, err, "convert sigkey")
	}

	return pub, priv, nil
}

// Equal reports whether both pairs carry the same verification key.
func (kp *KeyPair) Equal(other *KeyPair) bool {
	return other != nil && bytes.Equal(kp.VerKey, other.VerKey)
}

// Verify checks sig over msg with the ed25519 verification key verKey.
func Verify(verKey, msg, sig []byte) error {
	if len(verKey) != ed25519.PublicKeySize {
		return errs.New(errs.ErrCrypto, "verkey must be %d bytes, got %d", ed25519.PublicKeySize, len(verKey))
	}

	if !ed25519.Verify(verKey, msg, sig) {
		return errs.New(errs.ErrCrypto, "signature does not verify")
	}

	return nil
}

// DIDKey renders an ed25519 verification key as a did:key identifier.
func DIDKey(verKey []byte) (string, error) {
	mb, err := multibase.Encode(multibase.Base58BTC, append(append([]byte{}, ed25519Codec...), verKey...))
	if err != nil {
		return "", err
	}

	return didKeyPrefix + mb, nil
}

// ParseVerKey accepts a base58 verkey or an ed25519 did:key and returns the raw 32-byte key.
func ParseVerKey(key string) ([]byte, error) {
	if strings.HasPrefix(key, didKeyPrefix) {
		id := strings.TrimPrefix(key, didKeyPrefix)
		if i := strings.IndexByte(id, '#'); i >= 0 {
			id = id[:i]
		}

		_, raw, err := multibase.Decode(id)
		if err != nil {
			return nil, errs.Wrapf(errs.ErrPayloadStructure, err, "decode did:key %s", key)
		}

		if !bytes.HasPrefix(raw, ed25519Codec) {
			return nil, errs.New(errs.ErrPayloadStructure, "did:key %s is not an ed25519 key", key)
		}

		raw = raw[len(ed25519Codec):]
		if len(raw) != ed25519.PublicKeySize {
			return nil, errs.New(errs.ErrPayloadStructure, "did:key %s has invalid length %d", key, len(raw))
		}

		return raw, nil
	}

	raw := base58.Decode(key)
	if len(raw) != ed25519.PublicKeySize {
		return nil, errs.New(errs.ErrPayloadStructure, "verkey %q has invalid length %d", key, len(raw))
	}

	return raw, nil
}
