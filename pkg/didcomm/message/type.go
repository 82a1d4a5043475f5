/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package message

import (
	"regexp"
	"strings"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
)

const (
	// DIDCommPrefix is the current message family prefix.
	DIDCommPrefix = "https://didcomm.org/"
	// DIDCommPrefixLegacy is the legacy sov message family prefix.
	DIDCommPrefixLegacy = "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/"
)

// <doc_uri><protocol>/<major.minor[.patch]>/<name>, doc_uri ending in "/" or ";spec/".
var typeRegexp = regexp.MustCompile(`^(.*?(?:/|;spec/))([a-zA-Z0-9._\-]+)/(\d+\.\d+(?:\.\d+)?)/([a-zA-Z0-9._\-]+)$`)

// Type is a parsed message type URI.
type Type struct {
	DocURI   string
	Protocol string
	Version  string
	Name     string
}

// ParseType parses a message type URI.
func ParseType(uri string) (*Type, error) {
	m := typeRegexp.FindStringSubmatch(strings.TrimSpace(uri))
	if m == nil {
		return nil, errs.New(errs.ErrPayloadStructure, "invalid message type %q", uri)
	}

	return &Type{DocURI: m[1], Protocol: m[2], Version: m[3], Name: m[4]}, nil
}

// String renders the URI.
func (t *Type) String() string {
	return t.DocURI + t.Protocol + "/" + t.Version + "/" + t.Name
}

// Major returns the major version component.
func (t *Type) Major() string {
	return strings.SplitN(t.Version, ".", 2)[0] //nolint:gomnd
}

// Kind identifies a message kind independently of the doc URI and version.
func (t *Type) Kind() Kind {
	return Kind{Protocol: t.Protocol, Name: t.Name}
}

// Kind is a protocol and message name pair.
type Kind struct {
	Protocol string
	Name     string
}

// String renders the kind.
func (k Kind) String() string {
	return k.Protocol + "/" + k.Name
}

// TypeURI renders the full message type URI for a protocol version and message name under the current
// prefix.
func TypeURI(protocol, version, name string) string {
	return DIDCommPrefix + protocol + "/" + version + "/" + name
}
