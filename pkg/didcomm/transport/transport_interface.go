/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import "context"

// Reader reads one transport unit (an envelope or a plaintext message) at a time, in arrival order.
// Read blocks until a unit is available or ctx is done.
type Reader interface {
	Read(ctx context.Context) ([]byte, error)
}

// Writer delivers one transport unit to the remote party.
type Writer interface {
	Write(ctx context.Context, data []byte) error
}

// ReadWriter groups Reader and Writer.
type ReadWriter interface {
	Reader
	Writer
}
