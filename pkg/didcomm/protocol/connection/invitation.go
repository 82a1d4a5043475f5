/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/hyperledger/aries-agent-sdk-go/pkg/common/errs"
	"github.com/hyperledger/aries-agent-sdk-go/pkg/didcomm/message"
)

const invitationURLParam = "c_i"

// URL renders the invitation as base?c_i=<base64url JSON>.
func (i *Invitation) URL(base string) (string, error) {
	raw, err := json.Marshal(i)
	if err != nil {
		return "", fmt.Errorf("marshal invitation: %w", err)
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}

	return base + sep + invitationURLParam + "=" + base64.URLEncoding.EncodeToString(raw), nil
}

// ParseInvitationURL extracts the invitation of an invitation URL. Padded and unpadded base64url as well as
// standard base64 payloads are accepted.
func ParseInvitationURL(invitationURL string) (*Invitation, error) {
	u, err := url.Parse(invitationURL)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "parse invitation url")
	}

	encoded := u.Query().Get(invitationURLParam)
	if encoded == "" {
		return nil, errs.New(errs.ErrPayloadStructure, "invitation url has no %s parameter", invitationURLParam)
	}

	// a '+' of standard base64 reads back as a space
	raw, err := decodeBase64(strings.ReplaceAll(encoded, " ", "+"))
	if err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "decode invitation")
	}

	inv := &Invitation{}
	if err := json.Unmarshal(raw, inv); err != nil {
		return nil, errs.Wrap(errs.ErrPayloadStructure, err, "unmarshal invitation")
	}

	if inv.Type != "" {
		t, err := message.ParseType(inv.Type)
		if err != nil {
			return nil, err
		}

		if t.Protocol != Protocol || t.Name != "invitation" {
			return nil, errs.New(errs.ErrPayloadStructure, "unexpected invitation type %s", inv.Type)
		}
	}

	return inv, nil
}

func decodeBase64(s string) ([]byte, error) {
	var lastErr error

	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding,
		base64.RawStdEncoding} {
		raw, err := enc.DecodeString(s)
		if err == nil {
			return raw, nil
		}

		lastErr = err
	}

	return nil, lastErr
}
