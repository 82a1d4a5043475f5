/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/config/lookup"
)

func load(t *testing.T, p lookup.ConfigProvider) *lookup.ConfigLookup {
	t.Helper()

	backend, err := p()
	require.NoError(t, err)

	return lookup.New(backend)
}

func TestFromReader(t *testing.T) {
	t.Run("toml overrides defaults", func(t *testing.T) {
		l := load(t, FromReader(strings.NewReader(`
[agent]
label = "Alice"
ttl = "5s"
ack_required = true
`), "toml"))

		require.Equal(t, "Alice", l.GetString(KeyAgentLabel))
		require.Equal(t, 5*time.Second, l.GetDuration(KeyAgentTTL))
		require.True(t, l.GetBool(KeyAgentAckRequired))
		require.Equal(t, "http://localhost:8080", l.GetString(KeyAgentEndpoint))
		require.Equal(t, "INFO", l.GetString(KeyLogLevel))
	})

	t.Run("json", func(t *testing.T) {
		l := load(t, FromReader(strings.NewReader(`{"transport":{"events":"ws://events"}}`), "json"))
		require.Equal(t, "ws://events", l.GetString(KeyTransportEvents))
	})

	t.Run("empty type", func(t *testing.T) {
		_, err := FromReader(strings.NewReader(""), "")()
		require.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := FromReader(strings.NewReader("[agent"), "toml")()
		require.ErrorIs(t, err, errs.ErrInitialization)
	})
}

func TestFromFile(t *testing.T) {
	t.Run("default file round trip", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteDefault(&buf))
		require.Contains(t, buf.String(), "[agent]")
		require.Contains(t, buf.String(), `label = "aries-agent"`)

		name := filepath.Join(t.TempDir(), "agent.toml")
		require.NoError(t, os.WriteFile(name, buf.Bytes(), 0o600))

		l := load(t, FromFile(name))
		require.Equal(t, "aries-agent", l.GetString(KeyAgentLabel))
		require.Equal(t, time.Minute, l.GetDuration(KeyAgentTTL))
		require.Equal(t, "localhost:8080", l.GetString(KeyTransportInbound))
		require.Empty(t, l.GetString(KeyMetricsAddr))
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := FromFile("")()
		require.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := FromFile(filepath.Join(t.TempDir(), "absent.toml"))()
		require.ErrorIs(t, err, errs.ErrInitialization)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARIES_AGENT_AGENT_LABEL", "from-env")
	t.Setenv("CUSTOM_LOG_LEVEL", "DEBUG")

	l := load(t, FromEnv())
	require.Equal(t, "from-env", l.GetString(KeyAgentLabel))
	require.Equal(t, "INFO", l.GetString(KeyLogLevel))

	l = load(t, FromEnv(WithEnvPrefix("CUSTOM")))
	require.Equal(t, "DEBUG", l.GetString(KeyLogLevel))
	require.Equal(t, "aries-agent", l.GetString(KeyAgentLabel))
}
