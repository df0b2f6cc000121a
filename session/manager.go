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

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/nanokit/agentmesh/internal/log"
)

// Handler is a callback fired when a session transitions to EXPIRED or
// TERMINATED.
type Handler func(*Session)

// Manager owns every Session and the agent -> sessions reverse index, plus
// the background expiry sweep.
type Manager struct {
	mu            sync.RWMutex
	defaultTTL    time.Duration
	sessions      map[string]*Session
	agentSessions map[string]map[string]struct{}

	onExpired    []Handler
	onTerminated []Handler

	done    chan struct{}
	closing sync.Once
}

// NewManager returns a Manager using defaultTTL for Create calls that omit
// one. A zero defaultTTL falls back to DefaultTTL.
func NewManager(defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Manager{
		defaultTTL:    defaultTTL,
		sessions:      make(map[string]*Session),
		agentSessions: make(map[string]map[string]struct{}),
	}
}

// OnExpired registers a hook fired (outside the manager's lock) when the
// background sweep marks a session EXPIRED. The lazy transitions to EXPIRED
// in Get, Resume and Stats do not fire it.
func (m *Manager) OnExpired(h Handler) { m.onExpired = append(m.onExpired, h) }

// OnTerminated registers a hook fired whenever a session transitions to
// TERMINATED.
func (m *Manager) OnTerminated(h Handler) { m.onTerminated = append(m.onTerminated, h) }

// Start launches the background expiry sweep. Safe to call once per Manager.
func (m *Manager) Start() {
	m.done = make(chan struct{})
	go m.sweepLoop()
}

// Stop halts the background sweep.
func (m *Manager) Stop() {
	m.closing.Do(func() {
		if m.done != nil {
			close(m.done)
		}
	})
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var justExpired []*Session
	for _, s := range m.sessions {
		if s.Status == Active && now.After(s.ExpiresAt) {
			s.Status = Expired
			justExpired = append(justExpired, s)
		}
	}

	threshold := now.Add(-gcThreshold)
	var toRemove []string
	for id, s := range m.sessions {
		if (s.Status == Expired || s.Status == Terminated) && s.CreatedAt.Before(threshold) {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		s := m.sessions[id]
		m.forgetParticipantsLocked(s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range justExpired {
		for _, h := range m.onExpired {
			h(s)
		}
	}
}

func (m *Manager) forgetParticipantsLocked(s *Session) {
	for agentID := range s.Participants {
		set, ok := m.agentSessions[agentID]
		if !ok {
			continue
		}
		delete(set, s.ID)
		if len(set) == 0 {
			delete(m.agentSessions, agentID)
		}
	}
}

// Create starts a new ACTIVE session. ttl <= 0 uses the manager's default.
// Fails if sessionID is already in use.
func (m *Manager) Create(sessionID string, participants []string, ttl time.Duration, metadata map[string]interface{}) (*Session, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sessionID]; exists {
		return nil, fmt.Errorf("session %s already exists", sessionID)
	}

	set := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		set[p] = struct{}{}
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	s := &Session{
		ID:           sessionID,
		Participants: set,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Status:       Active,
		Metadata:     metadata,
	}
	m.sessions[sessionID] = s

	for agentID := range set {
		if m.agentSessions[agentID] == nil {
			m.agentSessions[agentID] = make(map[string]struct{})
		}
		m.agentSessions[agentID][sessionID] = struct{}{}
	}

	log.Printf("session: created %s with participants %v", sessionID, participants)
	return s, nil
}

// Get returns the session, marking it EXPIRED in place if its deadline has
// passed. Returns nil if unknown.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if s.Status == Active && s.expired(time.Now()) {
		s.Status = Expired
	}
	return s
}

// Extend pushes a session's deadline additionalTTL into the future. Only
// ACTIVE or PAUSED sessions may be extended.
func (m *Manager) Extend(sessionID string, additionalTTL time.Duration) bool {
	if additionalTTL <= 0 {
		additionalTTL = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	if s.Status != Active && s.Status != Paused {
		return false
	}
	s.ExpiresAt = time.Now().Add(additionalTTL)
	return true
}

// Pause transitions an ACTIVE session to PAUSED.
func (m *Manager) Pause(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != Active {
		return false
	}
	s.Status = Paused
	return true
}

// Resume transitions a PAUSED session back to ACTIVE, unless its deadline
// has already passed, in which case it becomes EXPIRED and Resume fails.
func (m *Manager) Resume(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != Paused {
		return false
	}
	if s.expired(time.Now()) {
		s.Status = Expired
		return false
	}
	s.Status = Active
	return true
}

// Terminate marks a session TERMINATED and purges it from every
// participant's reverse index.
func (m *Manager) Terminate(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	s.Status = Terminated
	m.forgetParticipantsLocked(s)
	m.mu.Unlock()

	for _, h := range m.onTerminated {
		h(s)
	}
	return true
}

// AddParticipant adds agentID to an ACTIVE session's participant set.
func (m *Manager) AddParticipant(sessionID, agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != Active {
		return false
	}
	s.Participants[agentID] = struct{}{}
	if m.agentSessions[agentID] == nil {
		m.agentSessions[agentID] = make(map[string]struct{})
	}
	m.agentSessions[agentID][sessionID] = struct{}{}
	return true
}

// RemoveParticipant removes agentID from a session's participant set,
// auto-terminating the session if it becomes empty.
func (m *Manager) RemoveParticipant(sessionID, agentID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(s.Participants, agentID)
	if set, ok := m.agentSessions[agentID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(m.agentSessions, agentID)
		}
	}
	empty := len(s.Participants) == 0
	m.mu.Unlock()

	if empty {
		m.Terminate(sessionID)
	}
	return true
}

// GetAgentSessions lists every session ID agentID currently participates in.
func (m *Manager) GetAgentSessions(agentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.agentSessions[agentID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// GetActiveSessions lists every session ID currently ACTIVE and unexpired.
func (m *Manager) GetActiveSessions() []string {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, s := range m.sessions {
		if s.Status == Active && !s.expired(now) {
			out = append(out, id)
		}
	}
	return out
}

// Stats tallies sessions by status, lazily marking expired sessions along
// the way.
func (m *Manager) Stats() Stats {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	st.Total = len(m.sessions)
	for _, s := range m.sessions {
		if s.Status == Active && s.expired(now) {
			s.Status = Expired
		}
		switch s.Status {
		case Active:
			st.Active++
		case Paused:
			st.Paused++
		case Expired:
			st.Expired++
		case Terminated:
			st.Terminated++
		}
	}
	return st
}
