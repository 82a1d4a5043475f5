/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"fmt"
	"reflect"
	"sort"

	"golang.org/x/exp/maps"
)

// Entry registers a typed message for a protocol and message name. Version is used when rendering
// outbound types and does not take part in lookups. New returns a pointer to a fresh value of the typed
// message.
type Entry struct {
	Protocol string
	Version  string
	Name     string
	New      func() interface{}
}

// Registry maps message kinds to typed messages. It is built once at startup and is read only afterwards,
// so it is safe for concurrent use.
type Registry struct {
	entries map[Kind]Entry
}

// NewRegistry builds a registry from entries. Duplicate kinds are rejected.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[Kind]Entry, len(entries))}

	for _, e := range entries {
		if e.New == nil {
			return nil, fmt.Errorf("registry entry %s/%s has no constructor", e.Protocol, e.Name)
		}

		k := Kind{Protocol: e.Protocol, Name: e.Name}
		if _, ok := r.entries[k]; ok {
			return nil, fmt.Errorf("duplicate registry entry %s", k)
		}

		r.entries[k] = e
	}

	return r, nil
}

// MustRegistry is NewRegistry that panics on error, for package-level tables.
func MustRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}

	return r
}

// Kinds lists the registered kinds in a stable order.
func (r *Registry) Kinds() []Kind {
	kinds := maps.Keys(r.entries)

	sort.Slice(kinds, func(i, j int) bool {
		return kinds[i].String() < kinds[j].String()
	})

	return kinds
}

// Lookup returns the entry registered for a type URI.
func (r *Registry) Lookup(typeURI string) (Entry, bool) {
	t, err := ParseType(typeURI)
	if err != nil {
		return Entry{}, false
	}

	e, ok := r.entries[t.Kind()]

	return e, ok
}

// Restore returns the typed message for m's @type, or m itself when the type is missing or not
// registered. A registered type whose fields do not decode is a payload structure error.
func (r *Registry) Restore(m Map) (interface{}, error) {
	e, ok := r.Lookup(m.Type())
	if !ok {
		return m, nil
	}

	v := e.New()
	if reflect.ValueOf(v).Kind() != reflect.Ptr {
		return nil, fmt.Errorf("registry entry %s/%s must construct a pointer", e.Protocol, e.Name)
	}

	if err := m.Decode(v); err != nil {
		return nil, err
	}

	return v, nil
}
