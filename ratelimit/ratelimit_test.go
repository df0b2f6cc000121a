package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketAdmitsUpToLimit(t *testing.T) {
	l := New(WithDefaultAgentRule(Rule{Strategy: TokenBucket, MaxRequests: 10, WindowSeconds: 60, BurstSize: 10}))

	admitted := 0
	for i := 0; i < 15; i++ {
		if l.Check("agent-x").Allowed {
			admitted++
		}
	}
	if admitted != 10 {
		t.Fatalf("admitted = %d, want 10", admitted)
	}
}

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	l := New(WithDefaultAgentRule(Rule{Strategy: SlidingWindow, MaxRequests: 5, WindowSeconds: 60}))

	admitted := 0
	for i := 0; i < 8; i++ {
		if l.Check("agent-y").Allowed {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("admitted = %d, want 5", admitted)
	}
}

func TestRejectionCarriesRetryAfter(t *testing.T) {
	l := New(WithDefaultAgentRule(Rule{Strategy: SlidingWindow, MaxRequests: 1, WindowSeconds: 60}))
	l.Check("agent-z")
	result := l.Check("agent-z")
	if result.Allowed {
		t.Fatal("expected second request to be rejected")
	}
	if result.RetryAfter <= 0 {
		t.Error("expected a nonzero RetryAfter on rejection")
	}
}

func TestGlobalLimitAppliesBeforeAgentLimit(t *testing.T) {
	l := New(
		WithGlobalRule(Rule{Strategy: TokenBucket, MaxRequests: 1, WindowSeconds: 60, BurstSize: 1}),
		WithDefaultAgentRule(Rule{Strategy: TokenBucket, MaxRequests: 100, WindowSeconds: 60, BurstSize: 100}),
	)
	if !l.Check("agent-a").Allowed {
		t.Fatal("expected first request to be admitted")
	}
	if l.Check("agent-b").Allowed {
		t.Error("expected the global limit to reject a different agent's second request")
	}
}

func TestPerAgentRulesAreIndependent(t *testing.T) {
	l := New(WithDefaultAgentRule(Rule{Strategy: TokenBucket, MaxRequests: 1, WindowSeconds: 60, BurstSize: 1}))
	l.Check("agent-a")
	if !l.Check("agent-b").Allowed {
		t.Error("expected a different agent to have its own independent bucket")
	}
}

func TestSetAgentRuleResetsLimiterState(t *testing.T) {
	l := New(WithDefaultAgentRule(Rule{Strategy: TokenBucket, MaxRequests: 1, WindowSeconds: 60, BurstSize: 1}))
	l.Check("agent-a")
	l.SetAgentRule("agent-a", Rule{Strategy: TokenBucket, MaxRequests: 5, WindowSeconds: 60, BurstSize: 5})
	if !l.Check("agent-a").Allowed {
		t.Error("expected a freshly set rule to reset consumed tokens")
	}
}

func TestAdaptiveThrottleTightensOnErrors(t *testing.T) {
	l := New(
		WithDefaultAgentRule(Rule{Strategy: TokenBucket, MaxRequests: 1000, WindowSeconds: 60, BurstSize: 1000}),
		WithAdaptiveThrottling(),
	)
	for i := 0; i < 50; i++ {
		l.RecordOutcome(3*time.Second, false)
	}
	l.adaptive.mu.Lock()
	l.adaptive.lastAdjustment = time.Time{}
	l.adaptive.mu.Unlock()
	l.RecordOutcome(3*time.Second, false)

	if got := l.adaptive.factor(); got >= 1.0 {
		t.Errorf("throttleFactor = %v, want < 1.0 after sustained errors", got)
	}
}

func TestStatusReportsAgentBucket(t *testing.T) {
	l := New(WithDefaultAgentRule(Rule{Strategy: TokenBucket, MaxRequests: 10, WindowSeconds: 60, BurstSize: 10}))
	l.Check("agent-a")
	st := l.Status("agent-a")
	if st.AgentCapacity != 10 {
		t.Errorf("AgentCapacity = %v, want 10", st.AgentCapacity)
	}
	if st.AgentTokens >= 10 {
		t.Errorf("AgentTokens = %v, want < 10 after one consume", st.AgentTokens)
	}
}
