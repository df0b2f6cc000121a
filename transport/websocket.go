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
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nanokit/agentmesh/internal/log"
)

// WebSocket is a text-frame-per-message transport. Inbound clients are
// tracked by "host:port"; outbound ConnectToPeer dials a client socket and
// spawns a receive loop for it.
type WebSocket struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*websocket.Conn
	handler Handler

	server   *http.Server
	listener net.Listener
}

// NewWebSocket returns a WebSocket transport bound to cfg.Host:cfg.Port.
func NewWebSocket(cfg Config) *WebSocket {
	return &WebSocket{
		cfg:     cfg,
		clients: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

func (w *WebSocket) SetMessageHandler(h Handler) { w.handler = h }

func (w *WebSocket) StartServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.handleUpgrade)

	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("websocket server start failed: %w", err)
	}
	w.listener = ln
	w.server = &http.Server{Handler: mux}
	log.Printf("websocket transport: listening on %s", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- w.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		return w.StopServer()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (w *WebSocket) StopServer() error {
	if w.server == nil {
		return nil
	}
	return w.server.Close()
}

func (w *WebSocket) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Errorf("websocket transport: upgrade failed: %v", err)
		return
	}
	clientID := r.RemoteAddr
	w.mu.Lock()
	w.clients[clientID] = conn
	w.mu.Unlock()

	w.readLoop(conn, clientID)
}

func (w *WebSocket) readLoop(conn *websocket.Conn, peerID string) {
	defer func() {
		w.mu.Lock()
		delete(w.clients, peerID)
		w.mu.Unlock()
		conn.Close()
	}()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if w.handler != nil {
			w.handler(payload, peerID)
		}
	}
}

// SendMessage writes payload as a single text frame to target, dialing a
// fresh connection when target is not already tracked.
func (w *WebSocket) SendMessage(ctx context.Context, target string, payload []byte) bool {
	w.mu.Lock()
	conn, ok := w.clients[target]
	w.mu.Unlock()
	if ok {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err == nil {
			return true
		}
	}
	if !w.ConnectToPeer(ctx, target) {
		return false
	}
	w.mu.Lock()
	conn, ok = w.clients[target]
	w.mu.Unlock()
	if !ok {
		return false
	}
	return conn.WriteMessage(websocket.TextMessage, payload) == nil
}

// ConnectToPeer dials target and starts a background read loop for it.
func (w *WebSocket) ConnectToPeer(ctx context.Context, target string) bool {
	uri := fmt.Sprintf("ws://%s", target)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		log.Errorf("websocket transport: failed to connect to peer %s: %v", target, err)
		return false
	}
	w.mu.Lock()
	w.clients[target] = conn
	w.mu.Unlock()
	go w.readLoop(conn, target)
	return true
}

func (w *WebSocket) DisconnectFromPeer(target string) bool {
	w.mu.Lock()
	conn, ok := w.clients[target]
	if ok {
		delete(w.clients, target)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	conn.Close()
	return true
}
