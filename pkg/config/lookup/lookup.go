/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package lookup reads typed values out of a config backend.
package lookup

import (
	"time"

	"github.com/spf13/cast"
)

// ConfigProvider provides a config backend.
type ConfigProvider func() (ConfigBackend, error)

// ConfigBackend is a source of config values keyed by dotted paths such as "agent.label".
type ConfigBackend interface {
	Lookup(key string) (interface{}, bool)
}

// New provides a lookup wrapper around the given backend.
func New(backend ConfigBackend) *ConfigLookup {
	return &ConfigLookup{backend: backend}
}

// ConfigLookup is a wrapper for ConfigBackend which performs key lookup and casting.
type ConfigLookup struct {
	backend ConfigBackend
}

// Lookup returns the raw value of key.
func (c *ConfigLookup) Lookup(key string) (interface{}, bool) {
	return c.backend.Lookup(key)
}

// get casts the value of key, or returns the zero value of T when key is unset.
func get[T any](c *ConfigLookup, key string, to func(interface{}) T) T {
	var zero T

	value, ok := c.backend.Lookup(key)
	if !ok {
		return zero
	}

	return to(value)
}

// GetBool returns the bool value for the given key.
func (c *ConfigLookup) GetBool(key string) bool {
	return get(c, key, cast.ToBool)
}

// GetString returns the string value for the given key.
func (c *ConfigLookup) GetString(key string) string {
	return get(c, key, cast.ToString)
}

// GetInt returns the int value for the given key.
func (c *ConfigLookup) GetInt(key string) int {
	return get(c, key, cast.ToInt)
}

// GetDuration returns the duration of key. Strings are parsed with time.ParseDuration, bare numbers are
// nanoseconds.
func (c *ConfigLookup) GetDuration(key string) time.Duration {
	return get(c, key, cast.ToDuration)
}

// GetStringSlice returns the string slice of key. A single string is split on whitespace.
func (c *ConfigLookup) GetStringSlice(key string) []string {
	return get(c, key, cast.ToStringSlice)
}
