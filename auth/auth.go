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

// Package auth is the rule-based authentication and authorization
// middleware: token-derived auth levels, regex command rules, a bounded
// audit log, and trusted/blocked agent sets.
package auth

import (
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/nanokit/agentmesh/internal/agentmesherr"
	"github.com/nanokit/agentmesh/protocol"
	"github.com/nanokit/agentmesh/token"
)

// Level is the strength of an authenticated caller's access.
type Level int

const (
	LevelNone Level = iota
	LevelBasic
	LevelElevated
	LevelAdmin
)

// maxAuditLog bounds the in-memory audit trail.
const maxAuditLog = 10000

// defaultContextMaxAge is how long an idle (agent, session) context is kept
// before CleanupExpiredContexts evicts it.
const defaultContextMaxAge = time.Hour

// Context is authenticated caller state, keyed by (agentID, sessionID).
type Context struct {
	Token          string
	Permissions    map[string]struct{}
	AuthLevel      Level
	Metadata       map[string]interface{}
	AuthenticatedAt time.Time
	LastActivity   time.Time
	RequestCount   int
}

// Rule gates a command pattern behind a required level, permissions, and
// optional rate limit / allow-deny lists / time restrictions.
type Rule struct {
	Name                string
	Pattern             *regexp.Regexp
	RequiredLevel       Level
	RequiredPermissions []string
	RateLimitPerMinute  int // 0 = no limit
	AllowedAgents       map[string]struct{}
	DeniedAgents        map[string]struct{}
	// TimeRestriction, if set, must return true for the rule to pass.
	TimeRestriction func(time.Time) bool
}

// AuditEvent is one entry in the bounded audit log.
type AuditEvent struct {
	Timestamp time.Time
	EventType string
	AgentID   string
	Detail    string
}

// Middleware owns auth contexts, rules, and the audit log.
type Middleware struct {
	tokens *token.Manager

	mu            sync.Mutex
	contexts      map[string]*Context // "agent:session" -> context
	rules         []*Rule
	trustedAgents map[string]struct{}
	blockedAgents map[string]struct{}
	rateWindows   map[string][]time.Time // rule name + agent -> timestamps
	audit         []AuditEvent
	contextMaxAge time.Duration
}

// Option configures a Middleware at construction time.
type Option func(*Middleware)

// WithContextMaxAge overrides the default 1h auth-context idle eviction age.
func WithContextMaxAge(d time.Duration) Option {
	return func(m *Middleware) { m.contextMaxAge = d }
}

// New returns a Middleware backed by tokens, with the default rule set
// installed (mirrors middleware/auth.py's _setup_default_rules).
func New(tokens *token.Manager, opts ...Option) *Middleware {
	m := &Middleware{
		tokens:        tokens,
		contexts:      make(map[string]*Context),
		trustedAgents: make(map[string]struct{}),
		blockedAgents: make(map[string]struct{}),
		rateWindows:   make(map[string][]time.Time),
		contextMaxAge: defaultContextMaxAge,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.installDefaultRules()
	return m
}

func (m *Middleware) installDefaultRules() {
	m.AddRule(&Rule{
		Name:                "admin_commands",
		Pattern:             regexp.MustCompile(`^admin_.*`),
		RequiredLevel:       LevelAdmin,
		RequiredPermissions: []string{"admin"},
	})
	m.AddRule(&Rule{
		Name:                "system_commands",
		Pattern:             regexp.MustCompile(`^system_.*`),
		RequiredLevel:       LevelElevated,
		RequiredPermissions: []string{"system"},
	})
	m.AddRule(&Rule{
		Name:               "query_commands",
		Pattern:            regexp.MustCompile(`^(query|search|process)_.*`),
		RequiredLevel:      LevelBasic,
		RateLimitPerMinute: 60,
	})
}

func contextKey(agentID, sessionID string) string { return agentID + ":" + sessionID }

// AddRule appends a rule to the evaluation list.
func (m *Middleware) AddRule(r *Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

// RemoveRule drops the rule named name, if present.
func (m *Middleware) RemoveRule(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rules {
		if r.Name == name {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return
		}
	}
}

// Trust marks agentID as trusted: it is lifted to at least ELEVATED and
// granted the "trusted" permission.
func (m *Middleware) Trust(agentID string) {
	m.mu.Lock()
	m.trustedAgents[agentID] = struct{}{}
	m.mu.Unlock()
	m.auditEvent("agent_trusted", agentID, "")
}

// Untrust removes agentID's trusted status.
func (m *Middleware) Untrust(agentID string) {
	m.mu.Lock()
	delete(m.trustedAgents, agentID)
	m.mu.Unlock()
}

// Block rejects every message from agentID at authenticate time.
func (m *Middleware) Block(agentID string) {
	m.mu.Lock()
	m.blockedAgents[agentID] = struct{}{}
	m.mu.Unlock()
	m.auditEvent("agent_blocked", agentID, "")
}

// Unblock lifts a block on agentID.
func (m *Middleware) Unblock(agentID string) {
	m.mu.Lock()
	delete(m.blockedAgents, agentID)
	m.mu.Unlock()
	m.auditEvent("agent_unblocked", agentID, "")
}

func (m *Middleware) auditEvent(eventType, agentID, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		AgentID:   agentID,
		Detail:    detail,
	})
	if len(m.audit) > maxAuditLog {
		m.audit = m.audit[len(m.audit)-maxAuditLog:]
	}
}

// AuditLog returns a copy of the audit trail.
func (m *Middleware) AuditLog() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEvent, len(m.audit))
	copy(out, m.audit)
	return out
}

// GetContext returns the auth context for (agentID, sessionID), or nil.
func (m *Middleware) GetContext(agentID, sessionID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[contextKey(agentID, sessionID)]
}

// CleanupExpiredContexts evicts every context idle longer than the
// configured max age. Returns the number removed.
func (m *Middleware) CleanupExpiredContexts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var removed int
	for key, ctx := range m.contexts {
		if now.Sub(ctx.LastActivity) > m.contextMaxAge {
			delete(m.contexts, key)
			removed++
		}
	}
	return removed
}

func authLevelFromPermissions(perms map[string]struct{}) Level {
	if _, ok := perms["admin"]; ok {
		return LevelAdmin
	}
	if _, ok := perms["elevated"]; ok {
		return LevelElevated
	}
	if _, ok := perms["system"]; ok {
		return LevelElevated
	}
	if len(perms) > 0 {
		return LevelBasic
	}
	return LevelNone
}

// AuthenticateMessage runs the full authentication pipeline for msg sent by
// sender in sessionID: block check, context lookup/creation, token
// validation, trust elevation, and rule application.
func (m *Middleware) AuthenticateMessage(msg *protocol.Message) error {
	sender := msg.Header.SenderID
	sessionID := msg.Header.SessionID

	m.mu.Lock()
	if _, blocked := m.blockedAgents[sender]; blocked {
		m.mu.Unlock()
		m.auditEvent("auth_blocked_agent", sender, msg.Payload.Command)
		return agentmesherr.AuthenticationError("auth.AuthenticateMessage", errBlocked)
	}

	key := contextKey(sender, sessionID)
	ctx, ok := m.contexts[key]
	if !ok {
		ctx = &Context{Permissions: make(map[string]struct{})}
		m.contexts[key] = ctx
	}
	ctx.LastActivity = time.Now()
	ctx.RequestCount++

	if tokenValue, ok := msg.AuthToken(); ok {
		if valid, _ := m.tokens.Validate(tokenValue); valid {
			ctx.Token = tokenValue
			// The token manager doesn't carry permissions; a real deployment
			// would look them up from the session's grant. Here validation
			// success alone grants BASIC, matching "any perms -> BASIC" once
			// a caller populates ctx.Permissions through session metadata.
			if len(ctx.Permissions) == 0 {
				ctx.Permissions["authenticated"] = struct{}{}
			}
			ctx.AuthLevel = authLevelFromPermissions(ctx.Permissions)
			ctx.AuthenticatedAt = time.Now()
		}
	}

	_, trusted := m.trustedAgents[sender]
	if trusted {
		if ctx.AuthLevel < LevelElevated {
			ctx.AuthLevel = LevelElevated
		}
		ctx.Permissions["trusted"] = struct{}{}
	}

	level := ctx.AuthLevel
	perms := make(map[string]struct{}, len(ctx.Permissions))
	for p := range ctx.Permissions {
		perms[p] = struct{}{}
	}
	m.mu.Unlock()

	return m.applyRules(sender, level, perms, msg.Payload.Command)
}

var (
	errBlocked           = errors.New("sender is blocked")
	errInsufficientLevel = errors.New("auth level below rule requirement")
	errMissingPermission = errors.New("missing required permission")
	errNotAllowed        = errors.New("sender not in rule allow list")
	errDenied            = errors.New("sender in rule deny list")
	errRateLimited       = errors.New("rule rate limit exceeded")
	errTimeRestricted    = errors.New("outside rule time restriction")
)

func (m *Middleware) applyRules(sender string, level Level, perms map[string]struct{}, command string) error {
	m.mu.Lock()
	rules := make([]*Rule, len(m.rules))
	copy(rules, m.rules)
	m.mu.Unlock()

	for _, r := range rules {
		if !r.Pattern.MatchString(command) {
			continue
		}
		if level < r.RequiredLevel {
			m.auditEvent("auth_insufficient_level", sender, r.Name)
			return agentmesherr.AuthenticationError("auth.applyRules", errInsufficientLevel)
		}
		for _, perm := range r.RequiredPermissions {
			if _, ok := perms[perm]; !ok {
				m.auditEvent("auth_insufficient_permissions", sender, r.Name)
				return agentmesherr.AuthenticationError("auth.applyRules", errMissingPermission)
			}
		}
		if r.AllowedAgents != nil {
			if _, ok := r.AllowedAgents[sender]; !ok {
				m.auditEvent("auth_not_allowed", sender, r.Name)
				return agentmesherr.AuthenticationError("auth.applyRules", errNotAllowed)
			}
		}
		if r.DeniedAgents != nil {
			if _, ok := r.DeniedAgents[sender]; ok {
				m.auditEvent("auth_denied", sender, r.Name)
				return agentmesherr.AuthenticationError("auth.applyRules", errDenied)
			}
		}
		if r.RateLimitPerMinute > 0 && !m.checkRateLimit(r.Name, sender, r.RateLimitPerMinute) {
			m.auditEvent("auth_rate_limited", sender, r.Name)
			return agentmesherr.AuthenticationError("auth.applyRules", errRateLimited)
		}
		if r.TimeRestriction != nil && !r.TimeRestriction(time.Now()) {
			m.auditEvent("auth_time_restricted", sender, r.Name)
			return agentmesherr.AuthenticationError("auth.applyRules", errTimeRestricted)
		}
	}
	return nil
}

func (m *Middleware) checkRateLimit(ruleName, agentID string, limit int) bool {
	key := ruleName + ":" + agentID
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	m.mu.Lock()
	defer m.mu.Unlock()
	window := m.rateWindows[key]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		m.rateWindows[key] = kept
		return false
	}
	kept = append(kept, now)
	m.rateWindows[key] = kept
	return true
}

// AuthorizeAction checks whether ctx's permissions cover "action:resource",
// allowing a wildcard "action:*" grant. ADMIN bypasses the check entirely.
func (m *Middleware) AuthorizeAction(ctx *Context, action, resource string) bool {
	if ctx.AuthLevel == LevelAdmin {
		return true
	}
	if _, ok := ctx.Permissions[action+":"+resource]; ok {
		return true
	}
	_, ok := ctx.Permissions[action+":*"]
	return ok
}
