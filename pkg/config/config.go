/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads agent configuration from files, readers and the environment. Every key has a
// default, so a backend answers lookups even when no file is given.
package config

import (
	"io"
	"strings"

	"github.com/spf13/viper"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/config/lookup"
)

type options struct {
	envPrefix string
}

const (
	cmdRoot = "ARIES_AGENT"
)

// Option configures the package.
type Option func(opts *options)

// FromReader loads configuration from in.
// configType can be "toml", "json" or "yaml".
func FromReader(in io.Reader, configType string, opts ...Option) lookup.ConfigProvider {
	return func() (lookup.ConfigBackend, error) {
		return initFromReader(in, configType, opts...)
	}
}

// FromFile reads from the named config file. The file type follows the extension.
func FromFile(name string, opts ...Option) lookup.ConfigProvider {
	return func() (lookup.ConfigBackend, error) {
		if name == "" {
			return nil, errs.New(errs.ErrValidation, "filename is required")
		}

		b := newBackend(opts...)
		b.configViper.SetConfigFile(name)

		if err := b.configViper.MergeInConfig(); err != nil {
			return nil, errs.Wrapf(errs.ErrInitialization, err, "loading config file %s failed", name)
		}

		return b, nil
	}
}

// FromEnv uses defaults and environment overrides only.
func FromEnv(opts ...Option) lookup.ConfigProvider {
	return func() (lookup.ConfigBackend, error) {
		return newBackend(opts...), nil
	}
}

func initFromReader(in io.Reader, configType string, opts ...Option) (lookup.ConfigBackend, error) {
	if configType == "" {
		return nil, errs.New(errs.ErrValidation, "empty config type")
	}

	b := newBackend(opts...)

	// viper needs the type to unmarshal a byte stream
	b.configViper.SetConfigType(configType)

	if err := b.configViper.MergeConfig(in); err != nil {
		return nil, errs.Wrap(errs.ErrInitialization, err, "viper MergeConfig failed")
	}

	return b, nil
}

// WithEnvPrefix defines the prefix for environment variable overrides. With the default prefix
// agent.label is overridden by ARIES_AGENT_AGENT_LABEL.
func WithEnvPrefix(prefix string) Option {
	return func(opts *options) {
		opts.envPrefix = prefix
	}
}

func newBackend(opts ...Option) *backend {
	o := options{
		envPrefix: cmdRoot,
	}

	for _, option := range opts {
		option(&o)
	}

	v := newViper(o.envPrefix)

	for key, value := range Default().flatten() {
		v.SetDefault(key, value)
	}

	return &backend{configViper: v}
}

// backend answers lookups from viper: environment first, then the merged config, then defaults.
type backend struct {
	configViper *viper.Viper
}

// Lookup implements lookup.ConfigBackend.
func (b *backend) Lookup(key string) (interface{}, bool) {
	value := b.configViper.Get(key)

	return value, value != nil
}

func newViper(cmdRootPrefix string) *viper.Viper {
	myViper := viper.New()
	myViper.SetEnvPrefix(cmdRootPrefix)
	myViper.AutomaticEnv()
	myViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return myViper
}
