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

// Package loadbalance selects a healthy backend agent to route a message to,
// by one of five strategies, tracking per-backend health from observed
// interaction outcomes.
package loadbalance

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/nanokit/agentmesh/internal/log"
)

// Strategy is a backend-selection algorithm.
type Strategy int

const (
	RoundRobin Strategy = iota
	Random
	LeastConnections
	WeightedRandom
	HealthBased
)

const (
	healthSuccessDelta = 0.1
	healthFailureDelta = 0.2
	healthyThreshold   = 0.3
)

// Backend describes one agent a Balancer can route to.
type Backend struct {
	AgentID            string
	Address            string
	Weight             float64
	ActiveConnections  int
	LastResponseTimeMs float64
	HealthScore        float64
	IsHealthy          bool
}

// Balancer owns the backend table and the round-robin cursor.
type Balancer struct {
	strategy Strategy

	mu         sync.Mutex
	backends   map[string]*Backend
	rrIndex    int
	randSource *rand.Rand
}

// New returns a Balancer using strategy to pick among its backends.
func New(strategy Strategy) *Balancer {
	return &Balancer{
		strategy:   strategy,
		backends:   make(map[string]*Backend),
		randSource: rand.New(rand.NewSource(1)),
	}
}

// AddBackend registers or replaces a backend at full health.
func (b *Balancer) AddBackend(agentID, address string, weight float64) {
	if weight <= 0 {
		weight = 1.0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backends[agentID] = &Backend{
		AgentID:     agentID,
		Address:     address,
		Weight:      weight,
		HealthScore: 1.0,
		IsHealthy:   true,
	}
	log.Printf("loadbalance: added backend %s at %s weight %v", agentID, address, weight)
}

// RemoveBackend drops agentID from the pool. Reports whether it existed.
func (b *Balancer) RemoveBackend(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.backends[agentID]; !ok {
		return false
	}
	delete(b.backends, agentID)
	return true
}

// SelectBackend chooses one healthy, non-excluded backend per the
// configured strategy. Returns nil if none are eligible.
func (b *Balancer) SelectBackend(exclude map[string]struct{}) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	var candidates []*Backend
	for _, be := range b.backends {
		if !be.IsHealthy {
			continue
		}
		if _, excluded := exclude[be.AgentID]; excluded {
			continue
		}
		candidates = append(candidates, be)
	}
	if len(candidates) == 0 {
		return nil
	}

	switch b.strategy {
	case RoundRobin:
		return b.roundRobinLocked(candidates)
	case Random:
		return candidates[b.randSource.Intn(len(candidates))]
	case LeastConnections:
		return leastConnections(candidates)
	case WeightedRandom:
		return weightedPick(candidates, b.randSource, func(be *Backend) float64 { return be.Weight })
	case HealthBased:
		return weightedPick(candidates, b.randSource, func(be *Backend) float64 { return be.HealthScore })
	default:
		return candidates[0]
	}
}

func (b *Balancer) roundRobinLocked(candidates []*Backend) *Backend {
	// candidates come from map iteration; a stable order makes the cursor cycle.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].AgentID < candidates[j].AgentID })
	be := candidates[b.rrIndex%len(candidates)]
	b.rrIndex = (b.rrIndex + 1) % len(candidates)
	return be
}

func leastConnections(candidates []*Backend) *Backend {
	best := candidates[0]
	for _, be := range candidates[1:] {
		if be.ActiveConnections < best.ActiveConnections {
			best = be
		}
	}
	return best
}

func weightedPick(candidates []*Backend, r *rand.Rand, weightOf func(*Backend) float64) *Backend {
	var total float64
	for _, be := range candidates {
		total += weightOf(be)
	}
	if total <= 0 {
		return candidates[r.Intn(len(candidates))]
	}
	pick := r.Float64() * total
	var acc float64
	for _, be := range candidates {
		acc += weightOf(be)
		if pick < acc {
			return be
		}
	}
	return candidates[len(candidates)-1]
}

// UpdateBackendStats records an observed interaction's outcome: success
// raises health_score by 0.1 (capped at 1), failure lowers it by 0.2
// (floored at 0); IsHealthy tracks health_score > 0.3.
func (b *Balancer) UpdateBackendStats(agentID string, responseTimeMs float64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	be, ok := b.backends[agentID]
	if !ok {
		return
	}
	be.LastResponseTimeMs = responseTimeMs
	if success {
		be.HealthScore = minF(1.0, be.HealthScore+healthSuccessDelta)
	} else {
		be.HealthScore = maxF(0.0, be.HealthScore-healthFailureDelta)
	}
	be.IsHealthy = be.HealthScore > healthyThreshold
}

// Acquire increments agentID's active connection count, feeding
// LeastConnections selection.
func (b *Balancer) Acquire(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if be, ok := b.backends[agentID]; ok {
		be.ActiveConnections++
	}
}

// Release decrements agentID's active connection count, floored at 0.
func (b *Balancer) Release(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if be, ok := b.backends[agentID]; ok && be.ActiveConnections > 0 {
		be.ActiveConnections--
	}
}

// Stats returns a snapshot of every backend's current record.
func (b *Balancer) Stats() map[string]Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Backend, len(b.backends))
	for id, be := range b.backends {
		out[id] = *be
	}
	return out
}

// HealthyBackends lists the agent IDs currently considered healthy.
func (b *Balancer) HealthyBackends() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.backends))
	for id, be := range b.backends {
		if be.IsHealthy {
			out = append(out, id)
		}
	}
	return out
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
