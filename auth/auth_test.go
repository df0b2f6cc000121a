package auth

import (
	"regexp"
	"testing"
	"time"

	"github.com/nanokit/agentmesh/protocol"
	"github.com/nanokit/agentmesh/token"
)

func newMessage(sender, command, sessionID string, authToken string) *protocol.Message {
	codec := protocol.NewCodec(sender)
	var metadata map[string]interface{}
	if authToken != "" {
		metadata = map[string]interface{}{"auth_token": authToken}
	}
	msg := codec.NewMessage("target", protocol.Request, command, nil, sessionID, protocol.PriorityNormal, metadata)
	return &msg
}

// TestAdminRuleRejectsBasicLevel: a BASIC-level caller hitting an
// ADMIN-gated command is rejected and the rejection is audited under
// "auth_insufficient_level".
func TestAdminRuleRejectsBasicLevel(t *testing.T) {
	tokens := token.NewManager(time.Hour)
	value := tokens.Generate("s1", 0)
	m := New(tokens)

	msg := newMessage("agentX", "admin_restart", "s1", value)
	if err := m.AuthenticateMessage(msg); err == nil {
		t.Fatal("expected AuthenticateMessage to reject a BASIC caller on an admin_ command")
	}

	found := false
	for _, e := range m.AuditLog() {
		if e.EventType == "auth_insufficient_level" {
			found = true
		}
	}
	if !found {
		t.Error("expected an auth_insufficient_level audit event")
	}
}

func TestQueryRuleAllowsAuthenticatedCaller(t *testing.T) {
	tokens := token.NewManager(time.Hour)
	value := tokens.Generate("s1", 0)
	m := New(tokens)

	msg := newMessage("agentX", "query_status", "s1", value)
	if err := m.AuthenticateMessage(msg); err != nil {
		t.Fatalf("expected a valid token to pass the BASIC-level query rule, got %v", err)
	}
}

func TestUnauthenticatedCallerRejectedByQueryRule(t *testing.T) {
	tokens := token.NewManager(time.Hour)
	m := New(tokens)

	msg := newMessage("agentX", "query_status", "s1", "")
	if err := m.AuthenticateMessage(msg); err == nil {
		t.Fatal("expected an unauthenticated caller (NONE level) to fail the BASIC query rule")
	}
}

func TestBlockedAgentRejected(t *testing.T) {
	tokens := token.NewManager(time.Hour)
	m := New(tokens)
	m.Block("agentX")

	msg := newMessage("agentX", "ping", "s1", "")
	if err := m.AuthenticateMessage(msg); err == nil {
		t.Fatal("expected a blocked agent to be rejected")
	}

	m.Unblock("agentX")
	if err := m.AuthenticateMessage(msg); err != nil {
		t.Fatalf("expected an unblocked agent to pass, got %v", err)
	}
}

func TestTrustedAgentElevatedToElevatedLevel(t *testing.T) {
	tokens := token.NewManager(time.Hour)
	m := New(tokens)
	m.Trust("agentX")
	m.AddRule(&Rule{
		Name:          "needs_elevated",
		Pattern:       regexp.MustCompile("^needs_elevated$"),
		RequiredLevel: LevelElevated,
	})

	msg := newMessage("agentX", "needs_elevated", "s1", "")
	if err := m.AuthenticateMessage(msg); err != nil {
		t.Fatalf("expected trust to lift a caller to ELEVATED, got %v", err)
	}

	ctx := m.GetContext("agentX", "s1")
	if ctx == nil || ctx.AuthLevel != LevelElevated {
		t.Fatalf("expected context auth level ELEVATED, got %+v", ctx)
	}
	if _, ok := ctx.Permissions["trusted"]; !ok {
		t.Error("expected the trusted permission to be granted")
	}
}

func TestRuleRateLimitRejectsExcessRequests(t *testing.T) {
	tokens := token.NewManager(time.Hour)
	m := New(tokens)
	m.AddRule(&Rule{
		Name:               "throttled",
		Pattern:            regexp.MustCompile("^throttled$"),
		RateLimitPerMinute: 2,
	})

	msg := newMessage("agentX", "throttled", "s1", "")
	for i := 0; i < 2; i++ {
		if err := m.AuthenticateMessage(msg); err != nil {
			t.Fatalf("request %d: expected admission under the rate limit, got %v", i, err)
		}
	}
	if err := m.AuthenticateMessage(msg); err == nil {
		t.Fatal("expected the third request within the window to be rejected")
	}
}

func TestAllowDenyLists(t *testing.T) {
	tokens := token.NewManager(time.Hour)
	m := New(tokens)
	m.AddRule(&Rule{
		Name:          "allowlisted",
		Pattern:       regexp.MustCompile("^special$"),
		AllowedAgents: map[string]struct{}{"agentA": {}},
	})

	if err := m.AuthenticateMessage(newMessage("agentA", "special", "s1", "")); err != nil {
		t.Fatalf("expected allow-listed agent to pass, got %v", err)
	}
	if err := m.AuthenticateMessage(newMessage("agentB", "special", "s1", "")); err == nil {
		t.Fatal("expected an agent outside the allow list to be rejected")
	}

	m.AddRule(&Rule{
		Name:         "denylisted",
		Pattern:      regexp.MustCompile("^restricted$"),
		DeniedAgents: map[string]struct{}{"agentB": {}},
	})
	if err := m.AuthenticateMessage(newMessage("agentA", "restricted", "s1", "")); err != nil {
		t.Fatalf("expected an agent outside the deny list to pass, got %v", err)
	}
	if err := m.AuthenticateMessage(newMessage("agentB", "restricted", "s1", "")); err == nil {
		t.Fatal("expected a deny-listed agent to be rejected")
	}
}

func TestAuthorizeAction(t *testing.T) {
	ctx := &Context{
		AuthLevel:   LevelBasic,
		Permissions: map[string]struct{}{"publish:topic1": {}, "read:*": {}},
	}
	m := New(token.NewManager(time.Hour))

	if !m.AuthorizeAction(ctx, "publish", "topic1") {
		t.Error("expected an exact action:resource permission to authorize")
	}
	if !m.AuthorizeAction(ctx, "read", "anything") {
		t.Error("expected a wildcard action:* permission to authorize any resource")
	}
	if m.AuthorizeAction(ctx, "delete", "topic1") {
		t.Error("expected a missing permission to be denied")
	}

	admin := &Context{AuthLevel: LevelAdmin}
	if !m.AuthorizeAction(admin, "anything", "goes") {
		t.Error("expected ADMIN level to bypass the permission check entirely")
	}
}

func TestCleanupExpiredContexts(t *testing.T) {
	tokens := token.NewManager(time.Hour)
	m := New(tokens, WithContextMaxAge(time.Millisecond))

	msg := newMessage("agentX", "ping", "s1", "")
	_ = m.AuthenticateMessage(msg)
	if m.GetContext("agentX", "s1") == nil {
		t.Fatal("expected a context to exist right after authentication")
	}

	time.Sleep(5 * time.Millisecond)
	n := m.CleanupExpiredContexts()
	if n != 1 {
		t.Fatalf("CleanupExpiredContexts() = %d, want 1", n)
	}
	if m.GetContext("agentX", "s1") != nil {
		t.Error("expected the idle context to be evicted")
	}
}
