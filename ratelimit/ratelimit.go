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

// Package ratelimit is the token-bucket / sliding-window limiter: a global
// limiter evaluated before a per-agent one, with optional adaptive
// throttling layered on top of the hard limits.
package ratelimit

import (
	"sync"
	"time"

	"github.com/nanokit/agentmesh/internal/log"
)

// Strategy selects the limiting algorithm a Rule enforces.
type Strategy int

const (
	TokenBucket Strategy = iota
	SlidingWindow
)

// Rule configures one limiter: either a token bucket (MaxRequests per
// WindowSeconds, optionally bursting to BurstSize) or a sliding window
// (MaxRequests seen within any WindowSeconds interval).
type Rule struct {
	Strategy      Strategy
	MaxRequests   int
	WindowSeconds int
	BurstSize     int // TokenBucket only; 0 defaults to MaxRequests
}

// Result is returned by every Check call.
type Result struct {
	Allowed           bool
	RemainingRequests int
	ResetTime         time.Time
	RetryAfter        time.Duration // 0 when Allowed
}

type tokenBucket struct {
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64 // tokens/sec
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(rule Rule) *tokenBucket {
	burst := rule.BurstSize
	if burst <= 0 {
		burst = rule.MaxRequests
	}
	return &tokenBucket{
		maxTokens:  float64(burst),
		refillRate: float64(rule.MaxRequests) / float64(rule.WindowSeconds),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.maxTokens, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}
}

func (b *tokenBucket) consume(n int) (bool, int, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true, int(b.tokens), 0
	}
	needed := float64(n) - b.tokens
	wait := time.Duration(needed / b.refillRate * float64(time.Second))
	return false, int(b.tokens), wait
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

type slidingWindow struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests []time.Time
}

func newSlidingWindow(rule Rule) *slidingWindow {
	return &slidingWindow{
		limit:  rule.MaxRequests,
		window: time.Duration(rule.WindowSeconds) * time.Second,
	}
}

func (w *slidingWindow) checkAndAdd() (bool, int, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-w.window)
	kept := w.requests[:0]
	for _, t := range w.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.requests = kept
	if len(w.requests) < w.limit {
		w.requests = append(w.requests, now)
		return true, w.limit - len(w.requests), 0
	}
	retryAfter := w.requests[0].Add(w.window).Sub(now)
	return false, 0, retryAfter
}

// limiter is either a tokenBucket or a slidingWindow, selected by Rule.Strategy.
type limiter struct {
	bucket *tokenBucket
	window *slidingWindow
}

func newLimiter(rule Rule) *limiter {
	if rule.Strategy == SlidingWindow {
		return &limiter{window: newSlidingWindow(rule)}
	}
	return &limiter{bucket: newTokenBucket(rule)}
}

func (l *limiter) check() (bool, int, time.Duration) {
	if l.window != nil {
		return l.window.checkAndAdd()
	}
	return l.bucket.consume(1)
}

// adaptiveState tracks the exponential moving averages that drive adaptive
// throttling: rising error rate or latency tightens throttleFactor, low
// error rate/latency restores it.
type adaptiveState struct {
	mu             sync.Mutex
	errorRate      float64
	avgLatency     float64
	throttleFactor float64
	lastAdjustment time.Time
}

const adaptiveEMAAlpha = 0.1
const adaptiveAdjustPeriod = 30 * time.Second

func newAdaptiveState() *adaptiveState {
	return &adaptiveState{throttleFactor: 1.0, lastAdjustment: time.Now()}
}

func (a *adaptiveState) record(latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.avgLatency = adaptiveEMAAlpha*latency.Seconds() + (1-adaptiveEMAAlpha)*a.avgLatency
	if success {
		a.errorRate = (1 - adaptiveEMAAlpha) * a.errorRate
	} else {
		a.errorRate = adaptiveEMAAlpha + (1-adaptiveEMAAlpha)*a.errorRate
	}
	if time.Since(a.lastAdjustment) > adaptiveAdjustPeriod {
		a.recomputeLocked()
		a.lastAdjustment = time.Now()
	}
}

func (a *adaptiveState) recomputeLocked() {
	factor := a.throttleFactor
	switch {
	case a.errorRate > 0.1:
		factor *= 0.8
	case a.errorRate < 0.01:
		factor = minF(1.0, factor*1.1)
	}
	switch {
	case a.avgLatency > 2.0:
		factor *= 0.9
	case a.avgLatency < 0.5:
		factor = minF(1.0, factor*1.05)
	}
	a.throttleFactor = maxF(0.1, minF(1.0, factor))
}

func (a *adaptiveState) factor() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.throttleFactor
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// randFloat is swappable so tests can force a deterministic throttle decision.
var randFloat = func() float64 {
	return float64(time.Now().UnixNano()%1000) / 1000.0
}

// Limiter evaluates a global rule (if set) before a per-agent rule, then an
// optional adaptive throttle on top of both hard limits.
type Limiter struct {
	mu            sync.Mutex
	globalRule    *Rule
	global        *limiter
	agentRules    map[string]*Rule
	agentLimiters map[string]*limiter
	defaultRule   *Rule

	adaptiveEnabled bool
	adaptive        *adaptiveState
}

// Option configures a Limiter at construction.
type Option func(*Limiter)

// WithGlobalRule installs a limiter evaluated before any per-agent rule.
func WithGlobalRule(r Rule) Option {
	return func(l *Limiter) {
		l.globalRule = &r
		l.global = newLimiter(r)
	}
}

// WithDefaultAgentRule sets the rule applied to agents with no specific rule.
func WithDefaultAgentRule(r Rule) Option {
	return func(l *Limiter) { l.defaultRule = &r }
}

// WithAdaptiveThrottling enables the EMA-driven probabilistic throttle layer.
func WithAdaptiveThrottling() Option {
	return func(l *Limiter) {
		l.adaptiveEnabled = true
		l.adaptive = newAdaptiveState()
	}
}

// New returns a Limiter with no per-agent rules installed; SetAgentRule adds
// them.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		agentRules:    make(map[string]*Rule),
		agentLimiters: make(map[string]*limiter),
		defaultRule:   &Rule{Strategy: TokenBucket, MaxRequests: 100, WindowSeconds: 60, BurstSize: 10},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetAgentRule installs or replaces agentID's rate-limit rule, discarding
// any in-flight limiter state so the new rule takes effect immediately.
func (l *Limiter) SetAgentRule(agentID string, r Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.agentRules[agentID] = &r
	delete(l.agentLimiters, agentID)
}

// RemoveAgentRule drops agentID's custom rule; it falls back to the default.
func (l *Limiter) RemoveAgentRule(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.agentRules, agentID)
	delete(l.agentLimiters, agentID)
}

func (l *Limiter) agentLimiterLocked(agentID string) *limiter {
	if lim, ok := l.agentLimiters[agentID]; ok {
		return lim
	}
	rule := l.defaultRule
	if r, ok := l.agentRules[agentID]; ok {
		rule = r
	}
	lim := newLimiter(*rule)
	l.agentLimiters[agentID] = lim
	return lim
}

// Check evaluates the global limiter (if configured), then agentID's
// limiter, then the adaptive throttle (if enabled). Every hard limit must
// admit before the adaptive layer is even consulted.
func (l *Limiter) Check(agentID string) Result {
	now := time.Now()

	if l.global != nil {
		if allowed, remaining, retry := l.global.check(); !allowed {
			log.Warnf("ratelimit: global limit exceeded for %s", agentID)
			return Result{Allowed: false, RemainingRequests: remaining, ResetTime: now.Add(time.Minute), RetryAfter: retry}
		}
	}

	l.mu.Lock()
	lim := l.agentLimiterLocked(agentID)
	l.mu.Unlock()

	allowed, remaining, retry := lim.check()
	if !allowed {
		log.Warnf("ratelimit: limit exceeded for agent %s", agentID)
		return Result{Allowed: false, RemainingRequests: remaining, ResetTime: now.Add(time.Minute), RetryAfter: retry}
	}

	if l.adaptiveEnabled {
		factor := l.adaptive.factor()
		if factor < 1.0 && randFloat() > factor {
			return Result{Allowed: false, RemainingRequests: remaining, ResetTime: now.Add(30 * time.Second), RetryAfter: 30 * time.Second}
		}
	}

	return Result{Allowed: true, RemainingRequests: remaining, ResetTime: now.Add(time.Minute)}
}

// RecordOutcome feeds the adaptive throttle's EMAs. No-op unless adaptive
// throttling is enabled.
func (l *Limiter) RecordOutcome(latency time.Duration, success bool) {
	if l.adaptiveEnabled {
		l.adaptive.record(latency, success)
	}
}

// Status reports the current token/window occupancy for agentID, for
// monitor-style introspection.
type Status struct {
	GlobalTokens   float64
	GlobalCapacity float64
	AgentTokens    float64
	AgentCapacity  float64
	WindowRequests int
	WindowLimit    int
}

// Status returns a best-effort snapshot of agentID's limiter state.
func (l *Limiter) Status(agentID string) Status {
	var st Status
	if l.global != nil && l.global.bucket != nil {
		l.global.bucket.mu.Lock()
		l.global.bucket.refillLocked()
		st.GlobalTokens = l.global.bucket.tokens
		st.GlobalCapacity = l.global.bucket.maxTokens
		l.global.bucket.mu.Unlock()
	}

	l.mu.Lock()
	lim, ok := l.agentLimiters[agentID]
	l.mu.Unlock()
	if !ok {
		return st
	}
	if lim.bucket != nil {
		lim.bucket.mu.Lock()
		lim.bucket.refillLocked()
		st.AgentTokens = lim.bucket.tokens
		st.AgentCapacity = lim.bucket.maxTokens
		lim.bucket.mu.Unlock()
	}
	if lim.window != nil {
		lim.window.mu.Lock()
		st.WindowRequests = len(lim.window.requests)
		st.WindowLimit = lim.window.limit
		lim.window.mu.Unlock()
	}
	return st
}
