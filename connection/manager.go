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

package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nanokit/agentmesh/internal/agentmesherr"
	"github.com/nanokit/agentmesh/internal/log"
	"github.com/nanokit/agentmesh/protocol"
	"github.com/nanokit/agentmesh/transport"
)

// Manager owns the connection table for every known peer, and the two
// background loops (heartbeat, supervisor) that keep it honest. It is the
// only component that calls into a transport.Transport on the send side;
// callers route outbound bytes to a peer exclusively through Manager.Send.
type Manager struct {
	tr    transport.Transport
	codec *protocol.Codec

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	supervisorPeriod  time.Duration
	maxRetries        int

	mu    sync.RWMutex
	conns map[string]*Info

	done    chan struct{}
	closing sync.Once
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithHeartbeatInterval overrides the default 30s heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.heartbeatInterval = d }
}

// WithHeartbeatTimeout overrides the default 60s liveness timeout.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(m *Manager) { m.heartbeatTimeout = d }
}

// WithSupervisorPeriod overrides the default 10s supervisor period.
func WithSupervisorPeriod(d time.Duration) Option {
	return func(m *Manager) { m.supervisorPeriod = d }
}

// WithMaxRetries overrides the default of 3 reconnect attempts.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// NewManager returns a Manager sending heartbeats over tr, encoded with
// codec.
func NewManager(tr transport.Transport, codec *protocol.Codec, opts ...Option) *Manager {
	m := &Manager{
		tr:                tr,
		codec:             codec,
		heartbeatInterval: 30 * time.Second,
		heartbeatTimeout:  60 * time.Second,
		supervisorPeriod:  10 * time.Second,
		maxRetries:        DefaultMaxRetries,
		conns:             make(map[string]*Info),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the heartbeat and supervisor loops.
func (m *Manager) Start(ctx context.Context) {
	m.done = make(chan struct{})
	go m.heartbeatLoop(ctx)
	go m.supervisorLoop(ctx)
}

// Stop halts both background loops.
func (m *Manager) Stop() {
	m.closing.Do(func() {
		if m.done != nil {
			close(m.done)
		}
	})
}

// Connect dials agentID at address via the transport, recording the
// resulting status.
func (m *Manager) Connect(ctx context.Context, agentID, address string) bool {
	m.mu.Lock()
	info, ok := m.conns[agentID]
	if !ok {
		info = &Info{AgentID: agentID, MaxRetries: m.maxRetries}
		m.conns[agentID] = info
	}
	info.Address = address
	info.Status = Connecting
	m.mu.Unlock()

	ok = m.tr.ConnectToPeer(ctx, address)

	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		now := time.Now()
		info.Status = Connected
		info.ConnectedAt = now
		info.LastSeen = now
		info.RetryCount = 0
	} else {
		info.Status = Error
	}
	return ok
}

// Disconnect tears down agentID's connection and marks it DISCONNECTED.
func (m *Manager) Disconnect(agentID string) bool {
	m.mu.Lock()
	info, ok := m.conns[agentID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	ok = m.tr.DisconnectFromPeer(info.Address)
	m.mu.Lock()
	info.Status = Disconnected
	m.mu.Unlock()
	return ok
}

// Send routes payload to agentID over the transport, by address lookup
// against the connection table.
func (m *Manager) Send(ctx context.Context, agentID string, payload []byte) error {
	m.mu.RLock()
	info, ok := m.conns[agentID]
	m.mu.RUnlock()
	if !ok {
		return agentmesherr.ConnectionError("connection.Send", fmt.Errorf("unknown agent %s", agentID))
	}
	if !m.tr.SendMessage(ctx, info.Address, payload) {
		return agentmesherr.ConnectionError("connection.Send", fmt.Errorf("send to %s failed", agentID))
	}
	return nil
}

// SendHeartbeat publishes a HEARTBEAT message for sessionID to agentID and,
// on a successful send, updates its last_seen.
func (m *Manager) SendHeartbeat(ctx context.Context, agentID, sessionID string) bool {
	hb := m.codec.CreateHeartbeat(sessionID)
	b, err := protocol.Encode(&hb, protocol.JSON)
	if err != nil {
		log.Errorf("connection: failed to encode heartbeat: %v", err)
		return false
	}
	if err := m.Send(ctx, agentID, b); err != nil {
		log.Errorf("connection: heartbeat to %s failed: %v", agentID, err)
		return false
	}
	m.UpdateLastSeen(agentID)
	return true
}

// UpdateLastSeen is called from the transport's receive upcall whenever a
// message from agentID is observed.
func (m *Manager) UpdateLastSeen(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.conns[agentID]; ok {
		info.LastSeen = time.Now()
	}
}

// Status returns agentID's current connection status.
func (m *Manager) Status(agentID string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.conns[agentID]
	if !ok {
		return Disconnected, false
	}
	return info.Status, true
}

// ConnectedAgents lists every agent currently CONNECTED.
func (m *Manager) ConnectedAgents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, info := range m.conns {
		if info.Status == Connected {
			out = append(out, id)
		}
	}
	return out
}

// Info returns a snapshot of agentID's connection record, or nil.
func (m *Manager) Info(agentID string) *Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.conns[agentID]
	if !ok {
		return nil
	}
	cp := *info
	return &cp
}

// Discover returns host:port candidates in the given port range without
// dialing any of them. Real discovery is explicitly unspecified; this is a
// literal, non-dialing stub.
func (m *Manager) Discover(base string, portRange [2]int) []string {
	var out []string
	for p := portRange[0]; p <= portRange[1]; p++ {
		out = append(out, fmt.Sprintf("%s:%d", base, p))
	}
	return out
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, agentID := range m.ConnectedAgents() {
				m.SendHeartbeat(ctx, agentID, "")
			}
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) supervisorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.supervisorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepStalePeers(ctx)
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) sweepStalePeers(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var stale []*Info
	for _, info := range m.conns {
		if info.Status == Connected && now.Sub(info.LastSeen) > m.heartbeatTimeout {
			info.Status = Reconnecting
			stale = append(stale, info)
			continue
		}
		// A peer already RECONNECTING from a prior, failed attempt must keep
		// being re-dialed every supervisor period until it either recovers
		// or exhausts max_retries — otherwise it would sit in RECONNECTING
		// forever and never reach ERROR.
		if info.Status == Reconnecting {
			stale = append(stale, info)
		}
	}
	m.mu.Unlock()

	for _, info := range stale {
		m.retry(ctx, info)
	}
}

func (m *Manager) retry(ctx context.Context, info *Info) {
	m.mu.Lock()
	if info.RetryCount >= info.MaxRetries {
		info.Status = Error
		m.mu.Unlock()
		log.Warnf("connection: %s exceeded max retries, marking ERROR", info.AgentID)
		return
	}
	info.RetryCount++
	info.Status = Connecting
	address := info.Address
	m.mu.Unlock()

	ok := m.tr.ConnectToPeer(ctx, address)

	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		info.Status = Connected
		info.LastSeen = time.Now()
		info.RetryCount = 0
	} else {
		info.Status = Reconnecting
	}
}
