/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package localkms keeps the agent's ed25519 key pairs in a storage provider, indexed by base58 verkey.
package localkms

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// StoreName is the name of the key store.
const StoreName = "kms"

var logger = log.New("aries-agent/kms")

// ErrKeyNotFound is returned when no key pair is stored for a verkey.
var ErrKeyNotFound = errors.New("key not found")

type storedKey struct {
	VerKey string `json:"verkey"`
	SigKey string `json:"sigkey"`
}

// Provider contains dependencies for the LocalKMS.
type Provider interface {
	StorageProvider() storage.Provider
}

// LocalKMS creates and stores key pairs.
type LocalKMS struct {
	store      storage.Store
	randSource io.Reader
}

// Option configures LocalKMS.
type Option func(k *LocalKMS)

// WithRandSource overrides the entropy source used for new keys.
func WithRandSource(r io.Reader) Option {
	return func(k *LocalKMS) {
		k.randSource = r
	}
}

// New opens the key store.
func New(p Provider, opts ...Option) (*LocalKMS, error) {
	store, err := p.StorageProvider().OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("open kms store: %w", err)
	}

	k := &LocalKMS{store: store}

	for _, opt := range opts {
		opt(k)
	}

	return k, nil
}

// Create generates, stores and returns a new key pair.
func (k *LocalKMS) Create() (*keypair.KeyPair, error) {
	kp, err := keypair.New(k.randSource)
	if err != nil {
		return nil, err
	}

	if err := k.Import(kp); err != nil {
		return nil, err
	}

	logger.Debugf("created key %s", kp.VerKeyBase58())

	return kp, nil
}

// Import stores an existing key pair.
func (k *LocalKMS) Import(kp *keypair.KeyPair) error {
	b, err := json.Marshal(&storedKey{VerKey: kp.VerKeyBase58(), SigKey: kp.SigKeyBase58()})
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	if err := k.store.Put(kp.VerKeyBase58(), b); err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	return nil
}

// Get returns the key pair stored for a base58 verkey.
func (k *LocalKMS) Get(verKey string) (*keypair.KeyPair, error) {
	b, err := k.store.Get(verKey)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, verKey)
		}

		return nil, fmt.Errorf("get key: %w", err)
	}

	var sk storedKey
	if err := json.Unmarshal(b, &sk); err != nil {
		return nil, fmt.Errorf("unmarshal key: %w", err)
	}

	return keypair.FromBase58(sk.VerKey, sk.SigKey)
}
