/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// Config keys.
const (
	KeyAgentLabel       = "agent.label"
	KeyAgentEndpoint    = "agent.endpoint"
	KeyAgentSeed        = "agent.seed"
	KeyAgentTTL         = "agent.ttl"
	KeyAgentAckRequired = "agent.ack_required"
	KeyTransportInbound = "transport.inbound"
	KeyTransportEvents  = "transport.events"
	KeyLogLevel         = "log.level"
	KeyMetricsAddr      = "metrics.addr"
)

// File is the layout of a config file.
type File struct {
	Agent     AgentSection     `toml:"agent"`
	Transport TransportSection `toml:"transport"`
	Log       LogSection       `toml:"log"`
	Metrics   MetricsSection   `toml:"metrics"`
}

// AgentSection holds the agent identity settings.
type AgentSection struct {
	Label       string `toml:"label"`
	Endpoint    string `toml:"endpoint"`
	Seed        string `toml:"seed"`
	TTL         string `toml:"ttl"`
	AckRequired bool   `toml:"ack_required"`
}

// TransportSection holds the transport addresses.
type TransportSection struct {
	Inbound string `toml:"inbound"`
	Events  string `toml:"events"`
}

// LogSection holds the log settings.
type LogSection struct {
	Level string `toml:"level"`
}

// MetricsSection holds the metrics settings. An empty Addr serves metrics on the inbound listener.
type MetricsSection struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration.
func Default() File {
	return File{
		Agent: AgentSection{
			Label:    "aries-agent",
			Endpoint: "http://localhost:8080",
			TTL:      "60s",
		},
		Transport: TransportSection{
			Inbound: "localhost:8080",
		},
		Log: LogSection{
			Level: "INFO",
		},
	}
}

func (f File) flatten() map[string]interface{} {
	return map[string]interface{}{
		KeyAgentLabel:       f.Agent.Label,
		KeyAgentEndpoint:    f.Agent.Endpoint,
		KeyAgentSeed:        f.Agent.Seed,
		KeyAgentTTL:         f.Agent.TTL,
		KeyAgentAckRequired: f.Agent.AckRequired,
		KeyTransportInbound: f.Transport.Inbound,
		KeyTransportEvents:  f.Transport.Events,
		KeyLogLevel:         f.Log.Level,
		KeyMetricsAddr:      f.Metrics.Addr,
	}
}

// WriteDefault writes the built-in configuration to w as TOML.
func WriteDefault(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(Default()); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	return nil
}
