/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"time"

	"github.com/btcsuite/btcutil/base58"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/config"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/config/lookup"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/kms/keypair"
)

// Config holds the agent settings.
type Config struct {
	// Label is advertised in invitations and requests.
	Label string
	// Endpoint is where peers deliver envelopes for this agent.
	Endpoint string
	// Seed derives the root identity: 32 raw bytes or their base58 form. Empty mints a random identity.
	Seed string
	// TTL bounds each handshake step and every ping.
	TTL         time.Duration
	AckRequired bool
	InboundAddr string
	EventsURL   string
	LogLevel    string
	MetricsAddr string
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	def := config.Default()

	ttl, err := time.ParseDuration(def.Agent.TTL)
	if err != nil {
		ttl = time.Minute
	}

	return Config{
		Label:       def.Agent.Label,
		Endpoint:    def.Agent.Endpoint,
		TTL:         ttl,
		InboundAddr: def.Transport.Inbound,
		LogLevel:    def.Log.Level,
	}
}

// ConfigFromLookup reads the agent settings from a config lookup.
func ConfigFromLookup(l *lookup.ConfigLookup) (Config, error) {
	cfg := Config{
		Label:       l.GetString(config.KeyAgentLabel),
		Endpoint:    l.GetString(config.KeyAgentEndpoint),
		Seed:        l.GetString(config.KeyAgentSeed),
		TTL:         l.GetDuration(config.KeyAgentTTL),
		AckRequired: l.GetBool(config.KeyAgentAckRequired),
		InboundAddr: l.GetString(config.KeyTransportInbound),
		EventsURL:   l.GetString(config.KeyTransportEvents),
		LogLevel:    l.GetString(config.KeyLogLevel),
		MetricsAddr: l.GetString(config.KeyMetricsAddr),
	}

	return cfg, cfg.Validate()
}

// Validate checks the settings an agent cannot start without.
func (c *Config) Validate() error {
	if c.Label == "" {
		return errs.New(errs.ErrValidation, "agent label is empty")
	}

	if c.Endpoint == "" {
		return errs.New(errs.ErrValidation, "agent endpoint is empty")
	}

	if c.TTL <= 0 {
		return errs.New(errs.ErrValidation, "agent ttl must be positive, got %s", c.TTL)
	}

	if c.Seed != "" {
		if _, err := c.seed(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) seed() ([]byte, error) {
	if len(c.Seed) == keypair.SeedSize {
		return []byte(c.Seed), nil
	}

	if b := base58.Decode(c.Seed); len(b) == keypair.SeedSize {
		return b, nil
	}

	return nil, errs.New(errs.ErrValidation, "agent seed must be %d bytes raw or base58", keypair.SeedSize)
}
