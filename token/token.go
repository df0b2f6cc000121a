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

// Package token issues, validates, and revokes the session-bound credentials
// a Handler attaches to outgoing messages.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Status is the lifecycle state of a Token.
type Status string

const (
	Active  Status = "active"
	Expired Status = "expired"
	Revoked Status = "revoked"
	Pending Status = "pending"
)

// DefaultTTL is used when Manager.Generate is called without an explicit ttl.
const DefaultTTL = 1 * time.Hour

// Token is the authentication credential bound to a single session. At most
// one ACTIVE token exists per session at any time.
type Token struct {
	TokenID   string
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    Status
	SessionID string
}

// Info is the read-only projection returned by Manager.Info.
type Info struct {
	TokenID   string
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    Status
	SessionID string
}

// Manager owns the token table. A value -> token_id index keeps Validate at
// O(1) instead of the linear scan a naive port would need.
type Manager struct {
	mu            sync.RWMutex
	defaultTTL    time.Duration
	tokens        map[string]*Token // token_id -> token
	sessionTokens map[string]string // session_id -> token_id
	valueIndex    map[string]string // value -> token_id
}

// NewManager returns a Manager using defaultTTL when Generate omits one. A
// zero defaultTTL falls back to DefaultTTL.
func NewManager(defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Manager{
		defaultTTL:    defaultTTL,
		tokens:        make(map[string]*Token),
		sessionTokens: make(map[string]string),
		valueIndex:    make(map[string]string),
	}
}

func randomURLSafe(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// Generate mints a fresh token for sessionID, replacing any prior token for
// that session. ttl <= 0 uses the manager's default.
func (m *Manager) Generate(sessionID string, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	value := randomURLSafe(32)
	tokenID := randomURLSafe(16)
	now := time.Now()

	tok := &Token{
		TokenID:   tokenID,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    Active,
		SessionID: sessionID,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prevID, ok := m.sessionTokens[sessionID]; ok {
		if prev, ok := m.tokens[prevID]; ok {
			delete(m.valueIndex, prev.Value)
		}
		delete(m.tokens, prevID)
	}
	m.tokens[tokenID] = tok
	m.sessionTokens[sessionID] = tokenID
	m.valueIndex[value] = tokenID
	return value
}

// Validate reports whether value names a currently-active token, and if so
// the session it is bound to.
func (m *Manager) Validate(value string) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokenID, ok := m.valueIndex[value]
	if !ok {
		return false, ""
	}
	tok, ok := m.tokens[tokenID]
	if !ok {
		return false, ""
	}
	if !isValid(tok) {
		return false, ""
	}
	return true, tok.SessionID
}

func isValid(tok *Token) bool {
	return tok.Status == Active && tok.ExpiresAt.After(time.Now())
}

// Revoke marks sessionID's token REVOKED. Reports whether a token existed.
func (m *Manager) Revoke(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokenID, ok := m.sessionTokens[sessionID]
	if !ok {
		return false
	}
	tok, ok := m.tokens[tokenID]
	if !ok {
		return false
	}
	tok.Status = Revoked
	return true
}

// CleanupExpired sweeps every token whose expiry has passed, transitions it
// through EXPIRED, and deletes it along with its session and value index
// entries. Returns the number removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var expired []string
	for tokenID, tok := range m.tokens {
		if tok.ExpiresAt.Before(now) {
			tok.Status = Expired
			expired = append(expired, tokenID)
		}
	}
	for _, tokenID := range expired {
		tok := m.tokens[tokenID]
		delete(m.sessionTokens, tok.SessionID)
		delete(m.valueIndex, tok.Value)
		delete(m.tokens, tokenID)
	}
	return len(expired)
}

// Info returns the current token record for sessionID, or nil if none exists.
func (m *Manager) Info(sessionID string) *Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokenID, ok := m.sessionTokens[sessionID]
	if !ok {
		return nil
	}
	tok, ok := m.tokens[tokenID]
	if !ok {
		return nil
	}
	return &Info{
		TokenID:   tok.TokenID,
		CreatedAt: tok.CreatedAt,
		ExpiresAt: tok.ExpiresAt,
		Status:    tok.Status,
		SessionID: tok.SessionID,
	}
}
