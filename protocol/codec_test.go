package protocol

import "testing"

func TestNewMessageMonotonicID(t *testing.T) {
	c := NewCodec("agentA")
	m1 := c.NewMessage("agentB", Request, "ping", nil, "s1", PriorityNormal, nil)
	m2 := c.NewMessage("agentB", Request, "ping", nil, "s1", PriorityNormal, nil)
	if m1.Header.MessageID == m2.Header.MessageID {
		t.Fatalf("expected distinct message IDs, got %q twice", m1.Header.MessageID)
	}
	if m1.Header.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %q, want %q", m1.Header.ProtocolVersion, ProtocolVersion)
	}
}

func TestRoundTripJSON(t *testing.T) {
	c := NewCodec("agentA")
	m := c.NewMessage("agentB", Request, "ping", map[string]interface{}{"n": float64(1)}, "s1", PriorityHigh, nil)

	b, err := Encode(&m, JSON)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b, JSON)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Header.MessageID != m.Header.MessageID || got.Payload.Command != m.Payload.Command {
		t.Errorf("round trip mismatch: got %+v, want %+v", got.Header, m.Header)
	}
}

func TestRoundTripMessagePack(t *testing.T) {
	c := NewCodec("agentA")
	m := c.NewMessage("agentB", Notification, "status", map[string]interface{}{"ok": true}, "s2", PriorityLow, nil)

	b, err := Encode(&m, MessagePack)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b, MessagePack)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Header.SessionID != m.Header.SessionID || got.Payload.Command != m.Payload.Command {
		t.Errorf("round trip mismatch: got %+v, want %+v", got.Header, m.Header)
	}
}

func TestRoundTripCompactPipe(t *testing.T) {
	c := NewCodec("agentA")
	m := c.NewMessage("agentB", Request, "query", map[string]interface{}{"q": "x"}, "s3", PriorityNormal, nil)

	b, err := Encode(&m, CompactPipe)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b, CompactPipe)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Payload.Command != "query" || got.Header.SenderID != "agentA" {
		t.Errorf("compact pipe round trip mismatch: %+v", got)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	m := Message{Header: Header{ProtocolVersion: ProtocolVersion}}
	if ok, _ := Validate(&m); ok {
		t.Error("expected validation to fail for empty message")
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	c := NewCodec("agentA")
	m := c.NewMessage("agentB", Request, "ping", nil, "s1", PriorityNormal, nil)
	m.Header.ProtocolVersion = "2.0"
	if ok, reason := Validate(&m); ok {
		t.Error("expected validation to fail for unsupported protocol version")
	} else if reason == "" {
		t.Error("expected a non-empty rejection reason")
	}
}

func TestValidateAccepts(t *testing.T) {
	c := NewCodec("agentA")
	m := c.NewMessage("agentB", Request, "ping", map[string]interface{}{"x": 1.0}, "s1", PriorityNormal, nil)
	if ok, reason := Validate(&m); !ok {
		t.Errorf("expected valid message, got rejection: %s", reason)
	}
}

func TestCreateErrorResponse(t *testing.T) {
	c := NewCodec("agentB")
	original := c.NewMessage("agentA", Request, "ping", nil, "s1", PriorityHigh, nil)
	resp := c.CreateErrorResponse(&original, "bad_command", "unknown command")
	orig, ok := resp.OriginalMessageID()
	if !ok || orig != original.Header.MessageID {
		t.Errorf("expected error response to reference %q, got %q", original.Header.MessageID, orig)
	}
	if resp.Header.MessageType != ErrorType {
		t.Errorf("expected ERROR type, got %s", resp.Header.MessageType)
	}
}

func TestCreateHeartbeat(t *testing.T) {
	c := NewCodec("agentA")
	hb := c.CreateHeartbeat("s1")
	if hb.Header.RecipientID != BroadcastRecipient {
		t.Errorf("expected broadcast recipient, got %q", hb.Header.RecipientID)
	}
	if hb.Header.Priority != PriorityLow {
		t.Errorf("expected LOW priority heartbeat, got %s", hb.Header.Priority)
	}
}
