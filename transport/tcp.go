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

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/nanokit/agentmesh/internal/log"
)

// TCP is a length-prefixed framing transport: a 4-byte big-endian length
// followed by the payload. ConnectToPeer/DisconnectFromPeer are no-ops —
// TCP does not maintain persistent connections here; every SendMessage
// opens a fresh one. Acceptable for this design, but a documented
// performance hazard under high fan-out.
type TCP struct {
	cfg Config

	listener net.Listener
	handler  Handler
}

// NewTCP returns a TCP transport bound to cfg.Host:cfg.Port.
func NewTCP(cfg Config) *TCP {
	return &TCP{cfg: cfg}
}

func (t *TCP) SetMessageHandler(h Handler) { t.handler = h }

func (t *TCP) StartServer(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp server start failed: %w", err)
	}
	t.listener = ln
	log.Printf("tcp transport: listening on %s", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go t.handleClient(conn)
	}
}

func (t *TCP) StopServer() error {
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

func (t *TCP) handleClient(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()
	for {
		lengthBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lengthBuf); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(lengthBuf)
		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		if t.handler != nil {
			t.handler(payload, peer)
		}
	}
}

// SendMessage opens a new connection to target, writes the length-prefixed
// frame, and closes it.
func (t *TCP) SendMessage(ctx context.Context, target string, payload []byte) bool {
	host, port, err := t.parseTarget(target)
	if err != nil {
		log.Errorf("tcp transport: bad target %s: %v", target, err)
		return false
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		log.Errorf("tcp transport: failed to send to %s: %v", target, err)
		return false
	}
	defer conn.Close()

	lengthBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBuf, uint32(len(payload)))
	if _, err := conn.Write(lengthBuf); err != nil {
		return false
	}
	if _, err := conn.Write(payload); err != nil {
		return false
	}
	return true
}

func (t *TCP) parseTarget(target string) (string, int, error) {
	if strings.Contains(target, ":") {
		host, portStr, err := net.SplitHostPort(target)
		if err != nil {
			return "", 0, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}
	return target, t.cfg.Port, nil
}

// ConnectToPeer is a no-op: TCP establishes a connection per message.
func (t *TCP) ConnectToPeer(ctx context.Context, target string) bool { return true }

// DisconnectFromPeer is a no-op for the same reason.
func (t *TCP) DisconnectFromPeer(target string) bool { return true }
