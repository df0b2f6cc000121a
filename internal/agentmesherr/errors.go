// Copyright (c) nano Authors. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package agentmesherr holds the typed error kinds shared across agentmesh's
// packages, so callers can type-switch instead of matching error strings.
package agentmesherr

import "fmt"

// Kind distinguishes the broad category of a Error.
type Kind int

const (
	KindAuthentication Kind = iota
	KindEncryption
	KindToken
	KindProtocol
	KindConnection
	KindTimeout
	KindValidation
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindEncryption:
		return "encryption"
	case KindToken:
		return "token"
	case KindProtocol:
		return "protocol"
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the common shape for every typed error agentmesh raises. Op names
// the failing operation (e.g. "token.Validate"), Kind classifies it for
// programmatic handling, and Err optionally wraps the underlying cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// AuthenticationError reports a failed token/identity check.
func AuthenticationError(op string, err error) *Error { return newErr(KindAuthentication, op, err) }

// EncryptionError reports a failed encrypt/decrypt/hash operation.
func EncryptionError(op string, err error) *Error { return newErr(KindEncryption, op, err) }

// TokenError reports a token lifecycle failure (expired, revoked, unknown).
func TokenError(op string, err error) *Error { return newErr(KindToken, op, err) }

// ProtocolError reports a malformed or unparsable message.
func ProtocolError(op string, err error) *Error { return newErr(KindProtocol, op, err) }

// ConnectionError reports a transport-level failure.
func ConnectionError(op string, err error) *Error { return newErr(KindConnection, op, err) }

// TimeoutError reports a deadline exceeded waiting on a reply or connection.
func TimeoutError(op string, err error) *Error { return newErr(KindTimeout, op, err) }

// ValidationError reports a rejected input (bad session, bad rule, ...).
func ValidationError(op string, err error) *Error { return newErr(KindValidation, op, err) }

// ConfigurationError reports an invalid construction-time option.
func ConfigurationError(op string, err error) *Error { return newErr(KindConfiguration, op, err) }

// Is reports whether err is an *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
