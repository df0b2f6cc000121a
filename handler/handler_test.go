package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nanokit/agentmesh/connection"
	"github.com/nanokit/agentmesh/crypto"
	"github.com/nanokit/agentmesh/internal/agentmesherr"
	"github.com/nanokit/agentmesh/protocol"
	"github.com/nanokit/agentmesh/token"
	"github.com/nanokit/agentmesh/transport"
)

type fakeTransport struct {
	mu     sync.Mutex
	sendOK bool
	sent   [][]byte
}

func (f *fakeTransport) StartServer(ctx context.Context) error   { return nil }
func (f *fakeTransport) StopServer() error                       { return nil }
func (f *fakeTransport) SetMessageHandler(h transport.Handler)    {}
func (f *fakeTransport) ConnectToPeer(ctx context.Context, target string) bool { return true }
func (f *fakeTransport) DisconnectFromPeer(target string) bool   { return true }

func (f *fakeTransport) SendMessage(ctx context.Context, target string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return f.sendOK
}

func newTestHandler(t *testing.T) (*Handler, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{sendOK: true}
	codec := protocol.NewCodec("agentA")
	conns := connection.NewManager(tr, codec)
	conns.Connect(context.Background(), "agentB", "agentB:9000")

	tokens := token.NewManager(time.Hour)
	crypt := crypto.NewHandler("shared-key")
	h := New("agentA", tokens, crypt, codec, conns)
	return h, tr
}

func TestReceiveMessagePriorityOrdering(t *testing.T) {
	h, _ := newTestHandler(t)
	codec := protocol.NewCodec("agentB")

	order := []protocol.Priority{protocol.PriorityLow, protocol.PriorityNormal, protocol.PriorityCritical, protocol.PriorityHigh, protocol.PriorityNormal}
	for i, p := range order {
		m := codec.NewMessage("agentA", protocol.Notification, "tick", map[string]interface{}{"i": float64(i)}, "s2", p, nil)
		b, err := protocol.Encode(&m, protocol.JSON)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if !h.ReceiveMessage(context.Background(), b, false) {
			t.Fatalf("ReceiveMessage failed for index %d", i)
		}
	}

	var got []int
	h.RegisterCommandHandler("tick", func(msg *protocol.Message) {
		got = append(got, int(msg.Payload.Data["i"].(float64)))
	})

	n := h.ProcessMessages("s2", 5)
	if n != 5 {
		t.Fatalf("ProcessMessages returned %d, want 5", n)
	}
	want := []int{2, 3, 1, 4, 0} // CRITICAL(2), HIGH(3), NORMAL(1, 4), LOW(0)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d (got=%v)", i, got[i], want[i], got)
		}
	}
}

func TestSendMessageRequiresToken(t *testing.T) {
	h, _ := newTestHandler(t)
	codec := protocol.NewCodec("agentA")
	msg := codec.NewMessage("agentB", protocol.Request, "ping", nil, "s1", protocol.PriorityNormal, nil)

	if h.SendMessage(context.Background(), &msg, true) {
		t.Fatal("expected SendMessage to fail without a token for the session")
	}
}

func TestSendMessageWithToken(t *testing.T) {
	h, tr := newTestHandler(t)
	h.tokens.Generate("s1", 0)

	codec := protocol.NewCodec("agentA")
	msg := codec.NewMessage("agentB", protocol.Request, "ping", nil, "s1", protocol.PriorityNormal, nil)

	if !h.SendMessage(context.Background(), &msg, true) {
		t.Fatal("expected SendMessage to succeed with a valid session token")
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(tr.sent))
	}
	if h.Stats().MessagesSent != 1 {
		t.Errorf("messages_sent = %d, want 1", h.Stats().MessagesSent)
	}
}

func TestSendRequestAndWaitResponseCompletes(t *testing.T) {
	h, _ := newTestHandler(t)
	h.tokens.Generate("s1", 0)

	codec := protocol.NewCodec("agentA")
	req := codec.NewMessage("agentB", protocol.Request, "ping", nil, "s1", protocol.PriorityNormal, nil)

	respCh := make(chan *protocol.Message, 1)
	go func() {
		resp, _ := h.SendRequestAndWaitResponse(context.Background(), &req, time.Second)
		respCh <- resp
	}()

	time.Sleep(10 * time.Millisecond)
	respCodec := protocol.NewCodec("agentB")
	resp := respCodec.NewMessage("agentA", protocol.Response, "pong", map[string]interface{}{
		"pong":                true,
		"original_message_id": req.Header.MessageID,
	}, "s1", protocol.PriorityNormal, nil)
	h.processSingle(&resp)

	select {
	case got := <-respCh:
		if got == nil {
			t.Fatal("expected a non-nil response")
		}
		if got.Payload.Data["pong"] != true {
			t.Errorf("unexpected response payload: %+v", got.Payload.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SendRequestAndWaitResponse to return")
	}
}

func TestSendRequestAndWaitResponseTimesOut(t *testing.T) {
	h, _ := newTestHandler(t)
	h.tokens.Generate("s1", 0)

	codec := protocol.NewCodec("agentA")
	req := codec.NewMessage("agentB", protocol.Request, "ping", nil, "s1", protocol.PriorityNormal, nil)

	resp, err := h.SendRequestAndWaitResponse(context.Background(), &req, 20*time.Millisecond)
	if resp != nil {
		t.Error("expected nil response on timeout")
	}
	if !agentmesherr.Is(err, agentmesherr.KindTimeout) {
		t.Errorf("expected a KindTimeout error, got %v", err)
	}
	if h.Stats().PendingResponses != 0 {
		t.Error("expected the waiter to be removed after timeout")
	}
}

func TestStatsQueuedMessages(t *testing.T) {
	h, _ := newTestHandler(t)
	codec := protocol.NewCodec("agentB")
	m := codec.NewMessage("agentA", protocol.Notification, "tick", nil, "s5", protocol.PriorityNormal, nil)
	b, _ := protocol.Encode(&m, protocol.JSON)
	h.ReceiveMessage(context.Background(), b, false)

	if h.Stats().QueuedMessages != 1 {
		t.Errorf("queued_messages = %d, want 1", h.Stats().QueuedMessages)
	}
	h.ClearSessionQueue("s5")
	if h.Stats().QueuedMessages != 0 {
		t.Error("expected ClearSessionQueue to empty the queue")
	}
}
