/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package decorator

import "time"

const (
	// AckOnReceipt asks the peer to acknowledge once the message is received.
	AckOnReceipt = "RECEIPT"
	// AckOnOutcome asks the peer to acknowledge once the message is processed.
	AckOnOutcome = "OUTCOME"
)

// Thread thread data.
type Thread struct {
	ID  string `json:"thid,omitempty"`
	PID string `json:"pthid,omitempty"`
}

// Timing keeps expiration time.
type Timing struct {
	ExpiresTime time.Time `json:"expires_time,omitempty"`
}

// PleaseAck asks the recipient to send an acknowledgement.
type PleaseAck struct {
	On []string `json:"on,omitempty"`
}

// Signature is the ~sig field decorator (RFC 0234).
type Signature struct {
	Type       string `json:"@type,omitempty"`
	Signature  string `json:"signature,omitempty"`
	SignedData string `json:"sig_data,omitempty"`
	Signer     string `json:"signer,omitempty"`
}
