/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package errs defines the error kinds shared by the agent packages.
//
// Every error surfaced by the envelope codec, the tunnel, the future registry, the session hub and the
// connection state machine matches exactly one of the sentinel kinds below with errors.Is, while still
// unwrapping to its original cause.
package errs

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrCrypto is returned when a signature, key unwrap or authentication tag does not verify.
	ErrCrypto = errors.New("crypto error")
	// ErrPayloadStructure is returned when a message or envelope cannot be parsed.
	ErrPayloadStructure = errors.New("payload structure error")
	// ErrTimeout is returned when a blocking operation exceeded its time budget.
	ErrTimeout = errors.New("timeout")
	// ErrValidation is returned when a message is well formed but violates protocol rules.
	ErrValidation = errors.New("validation error")
	// ErrInitialization is returned when no session context has been configured.
	ErrInitialization = errors.New("initialization error")
	// ErrPendingOperation is returned when the value of an unresolved future is read.
	ErrPendingOperation = errors.New("operation is pending")
	// ErrIO is returned when the transport failed to read or write.
	ErrIO = errors.New("transport error")
)

var kinds = []error{ //nolint:gochecknoglobals
	ErrCrypto, ErrPayloadStructure, ErrTimeout, ErrValidation, ErrInitialization, ErrPendingOperation, ErrIO,
}

// Error is a kinded error. Kind is one of the sentinels of this package, Err is the underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Cause implements the github.com/pkg/errors causer.
func (e *Error) Cause() error {
	return e.Err
}

// New returns an error of the given kind with a formatted message.
func New(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with msg under the given kind. A nil err yields nil.
func Wrap(kind, err error, msg string) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Msg: msg, Err: pkgerrors.WithStack(err)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: pkgerrors.WithStack(err)}
}

// KindOf returns the kind of err, or nil when err does not belong to any kind.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}

	return nil
}
