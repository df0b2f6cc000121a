package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nanokit/agentmesh/protocol"
	"github.com/nanokit/agentmesh/transport"
)

type fakeTransport struct {
	mu        sync.Mutex
	connectOK bool
	sendOK    bool
	sent      []string
	connected []string
}

func (f *fakeTransport) StartServer(ctx context.Context) error { return nil }
func (f *fakeTransport) StopServer() error                     { return nil }
func (f *fakeTransport) SetMessageHandler(h transport.Handler) {}

func (f *fakeTransport) SendMessage(ctx context.Context, target string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, target)
	return f.sendOK
}

func (f *fakeTransport) ConnectToPeer(ctx context.Context, target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, target)
	return f.connectOK
}

func (f *fakeTransport) DisconnectFromPeer(target string) bool { return true }

func TestConnectTransitionsToConnected(t *testing.T) {
	tr := &fakeTransport{connectOK: true}
	m := NewManager(tr, protocol.NewCodec("mgr"))

	if !m.Connect(context.Background(), "peerA", "peerA:9000") {
		t.Fatal("expected Connect to succeed")
	}
	status, ok := m.Status("peerA")
	if !ok || status != Connected {
		t.Errorf("status = %v, want Connected", status)
	}
}

func TestConnectFailureTransitionsToError(t *testing.T) {
	tr := &fakeTransport{connectOK: false}
	m := NewManager(tr, protocol.NewCodec("mgr"))

	if m.Connect(context.Background(), "peerA", "peerA:9000") {
		t.Fatal("expected Connect to fail")
	}
	status, _ := m.Status("peerA")
	if status != Error {
		t.Errorf("status = %v, want Error", status)
	}
}

func TestSendRoutesToKnownAddress(t *testing.T) {
	tr := &fakeTransport{connectOK: true, sendOK: true}
	m := NewManager(tr, protocol.NewCodec("mgr"))
	m.Connect(context.Background(), "peerA", "peerA:9000")

	if err := m.Send(context.Background(), "peerA", []byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0] != "peerA:9000" {
		t.Errorf("sent = %v, want [peerA:9000]", tr.sent)
	}
}

func TestSendUnknownAgentFails(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(tr, protocol.NewCodec("mgr"))
	if err := m.Send(context.Background(), "ghost", []byte("hi")); err == nil {
		t.Error("expected Send to fail for an unknown agent")
	}
}

func TestSupervisorReconnectsStalePeer(t *testing.T) {
	tr := &fakeTransport{connectOK: true, sendOK: true}
	m := NewManager(tr, protocol.NewCodec("mgr"),
		WithSupervisorPeriod(5*time.Millisecond),
		WithHeartbeatTimeout(10*time.Millisecond),
		WithHeartbeatInterval(time.Hour))
	m.Connect(context.Background(), "peerA", "peerA:9000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)

	status, _ := m.Status("peerA")
	if status != Connected {
		t.Errorf("expected supervisor to reconnect the stale peer back to Connected, got %v", status)
	}
}

func TestSupervisorExhaustsRetriesToError(t *testing.T) {
	tr := &fakeTransport{connectOK: true, sendOK: true}
	m := NewManager(tr, protocol.NewCodec("mgr"),
		WithSupervisorPeriod(5*time.Millisecond),
		WithHeartbeatTimeout(10*time.Millisecond),
		WithHeartbeatInterval(time.Hour),
		WithMaxRetries(2))
	m.Connect(context.Background(), "peerA", "peerA:9000")

	// Once the peer goes stale, every redial must fail so the supervisor is
	// forced through RECONNECTING on consecutive periods instead of
	// recovering on the first retry.
	tr.mu.Lock()
	tr.connectOK = false
	tr.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	var status Status
	for time.Now().Before(deadline) {
		status, _ = m.Status("peerA")
		if status == Error {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status != Error {
		t.Fatalf("expected peerA to reach Error after exhausting retries, got %v", status)
	}

	info := m.Info("peerA")
	if info == nil || info.RetryCount < 2 {
		t.Errorf("expected RetryCount >= MaxRetries (2), got %+v", info)
	}
}

func TestDiscoverDoesNotDial(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(tr, protocol.NewCodec("mgr"))
	got := m.Discover("host", [2]int{9000, 9002})
	want := []string{"host:9000", "host:9001", "host:9002"}
	if len(got) != len(want) {
		t.Fatalf("Discover returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Discover()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if len(tr.connected) != 0 {
		t.Error("expected Discover to not dial any candidate")
	}
}
