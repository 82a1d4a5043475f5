/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package pairwise stores the pairwise identities established by completed connections and resolves them
// by verkey.
package pairwise

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/codec"
)

const (
	// StoreName pairwise store name.
	StoreName = "pairwise"

	tagMyVerKey    = "my_verkey"
	tagTheirVerKey = "their_verkey"
	tagTheirDID    = "their_did"
	tagMetaPrefix  = "meta_"

	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
)

var logger = log.New("aries-agent/store/pairwise")

// Record is a pairwise identity: my side and their side of a completed connection.
type Record struct {
	ConnectionID  string            `json:"connection_id,omitempty"`
	MyDID         string            `json:"my_did,omitempty"`
	MyVerKey      string            `json:"my_verkey,omitempty"`
	TheirDID      string            `json:"their_did,omitempty"`
	TheirVerKey   string            `json:"their_verkey,omitempty"`
	TheirLabel    string            `json:"their_label,omitempty"`
	TheirEndpoint string            `json:"their_endpoint,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Provider contains dependencies for the Store.
type Provider interface {
	StorageProvider() storage.Provider
}

// Store persists pairwise records, keyed by their verkey, with an LRU cache in front.
type Store struct {
	store storage.Store
	cache gcache.Cache
}

// Option configures a Store.
type Option func(o *options)

type options struct {
	cacheSize int
	cacheTTL  time.Duration
}

// WithCache sets the resolver cache size and entry lifetime.
func WithCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.cacheSize = size
		o.cacheTTL = ttl
	}
}

// New returns a new pairwise store.
func New(p Provider, opts ...Option) (*Store, error) {
	o := &options{cacheSize: defaultCacheSize, cacheTTL: defaultCacheTTL}

	for _, opt := range opts {
		opt(o)
	}

	store, err := p.StorageProvider().OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("failed to open pairwise store: %w", err)
	}

	err = p.StorageProvider().SetStoreConfig(StoreName,
		storage.StoreConfiguration{TagNames: []string{tagMyVerKey, tagTheirVerKey, tagTheirDID}})
	if err != nil {
		return nil, fmt.Errorf("failed to set pairwise store config: %w", err)
	}

	return &Store{
		store: store,
		cache: gcache.New(o.cacheSize).LRU().Expiration(o.cacheTTL).Build(),
	}, nil
}

// Save stores rec, replacing any record for the same their verkey.
func (s *Store) Save(rec *Record) error {
	if rec.TheirVerKey == "" || rec.MyVerKey == "" {
		return errors.New("pairwise record needs both verkeys")
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pairwise record: %w", err)
	}

	tags := []storage.Tag{
		{Name: tagMyVerKey, Value: tagValue(rec.MyVerKey)},
		{Name: tagTheirVerKey, Value: tagValue(rec.TheirVerKey)},
		{Name: tagTheirDID, Value: tagValue(rec.TheirDID)},
	}

	for k, v := range rec.Metadata {
		tags = append(tags, storage.Tag{Name: metaTagName(k), Value: codec.MustEncodeAttribute(v)})
	}

	err = s.store.Put(rec.TheirVerKey, b, tags...)
	if err != nil {
		return fmt.Errorf("save pairwise record: %w", err)
	}

	if err := s.cache.Set(rec.TheirVerKey, rec); err != nil {
		logger.Warnf("failed to cache pairwise record for %s: %s", rec.TheirVerKey, err)
	}

	logger.Debugf("saved pairwise %s <-> %s", rec.MyDID, rec.TheirDID)

	return nil
}

// LoadForVerKey returns the record whose their verkey, or failing that my verkey, equals verKey.
// storage.ErrDataNotFound is returned when there is none.
func (s *Store) LoadForVerKey(verKey string) (*Record, error) {
	if v, err := s.cache.Get(verKey); err == nil {
		return v.(*Record), nil //nolint:forcetypeassert
	}

	b, err := s.store.Get(verKey)
	if err == nil {
		return s.decodeAndCache(verKey, b)
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("load pairwise record: %w", err)
	}

	recs, err := s.query(tagMyVerKey + ":" + tagValue(verKey))
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return nil, storage.ErrDataNotFound
	}

	return recs[0], nil
}

// LoadForDID returns the record for their DID.
func (s *Store) LoadForDID(theirDID string) (*Record, error) {
	recs, err := s.query(tagTheirDID + ":" + tagValue(theirDID))
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return nil, storage.ErrDataNotFound
	}

	return recs[0], nil
}

// FindByMetadata returns the records whose metadata maps key to value.
func (s *Store) FindByMetadata(key, value string) ([]*Record, error) {
	return s.query(metaTagName(key) + ":" + codec.MustEncodeAttribute(value))
}

// List returns every stored record.
func (s *Store) List() ([]*Record, error) {
	return s.query(tagTheirVerKey)
}

// Delete removes the record for their verkey.
func (s *Store) Delete(theirVerKey string) error {
	s.cache.Remove(theirVerKey)

	return s.store.Delete(theirVerKey)
}

func (s *Store) decodeAndCache(key string, b []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal pairwise record: %w", err)
	}

	if err := s.cache.Set(key, &rec); err != nil {
		logger.Warnf("failed to cache pairwise record for %s: %s", key, err)
	}

	return &rec, nil
}

func (s *Store) query(expression string) ([]*Record, error) {
	itr, err := s.store.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("query pairwise store: %w", err)
	}

	defer storage.Close(itr, logger)

	var recs []*Record

	more, err := itr.Next()
	if err != nil {
		return nil, fmt.Errorf("pairwise iterator next: %w", err)
	}

	for more {
		b, err := itr.Value()
		if err != nil {
			return nil, fmt.Errorf("pairwise iterator value: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal pairwise record: %w", err)
		}

		recs = append(recs, &rec)

		more, err = itr.Next()
		if err != nil {
			return nil, fmt.Errorf("pairwise iterator next: %w", err)
		}
	}

	return recs, nil
}

func metaTagName(key string) string {
	return tagMetaPrefix + strings.ReplaceAll(tagValue(key), "&&", "%26%26")
}

// tag values may not contain the query separator.
func tagValue(v string) string {
	return strings.ReplaceAll(v, ":", "%3A")
}
