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

// Package transport defines the uniform contract a byte-stream carrier
// implements, and three concrete carriers: WebSocket, TCP, and Redis
// pub/sub. The contract never touches a Message; it moves strings (already
// encoded, optionally encrypted) to and from named peers.
package transport

import "context"

// Handler receives an inbound payload and the identifier of whoever sent
// it (address, client key, or publishing agent depending on transport).
// Decryption and decoding of payload are the caller's responsibility.
type Handler func(payload []byte, sender string)

// Config carries the parameters common to every transport implementation.
type Config struct {
	Host           string
	Port           int
	Timeout        int // seconds
	MaxConnections int
	BufferSize     int
}

// DefaultConfig mirrors the source's TransportConfig defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           8080,
		Timeout:        30,
		MaxConnections: 100,
		BufferSize:     8192,
	}
}

// Transport is the contract every concrete carrier implements.
type Transport interface {
	// StartServer begins accepting inbound connections/subscriptions. It
	// blocks until the server stops or ctx is cancelled.
	StartServer(ctx context.Context) error
	// StopServer stops accepting inbound connections/subscriptions. It does
	// not wait for receives already in progress to finish.
	StopServer() error
	// SendMessage delivers payload to target, returning whether it was
	// accepted for delivery.
	SendMessage(ctx context.Context, target string, payload []byte) bool
	// ConnectToPeer establishes an outbound connection to target, where the
	// transport maintains persistent peer connections; a no-op returning
	// true otherwise.
	ConnectToPeer(ctx context.Context, target string) bool
	// DisconnectFromPeer tears down a connection established by
	// ConnectToPeer.
	DisconnectFromPeer(target string) bool
	// SetMessageHandler installs the upcall invoked for every inbound
	// payload.
	SetMessageHandler(h Handler)
}
