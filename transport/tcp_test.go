package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestTCPSendAndReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	server := NewTCP(cfg)
	server.listener = ln

	var mu sync.Mutex
	var gotPayload string
	received := make(chan struct{})
	server.SetMessageHandler(func(payload []byte, sender string) {
		mu.Lock()
		gotPayload = string(payload)
		mu.Unlock()
		close(received)
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go server.handleClient(conn)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewTCP(cfg)
	ok := client.SendMessage(ctx, "127.0.0.1:"+strconv.Itoa(port), []byte("hello"))
	if !ok {
		t.Fatal("SendMessage returned false")
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPayload != "hello" {
		t.Errorf("received payload = %q, want %q", gotPayload, "hello")
	}
}

func TestTCPConnectDisconnectNoop(t *testing.T) {
	tr := NewTCP(DefaultConfig())
	if !tr.ConnectToPeer(context.Background(), "x:1") {
		t.Error("expected ConnectToPeer to report true")
	}
	if !tr.DisconnectFromPeer("x:1") {
		t.Error("expected DisconnectFromPeer to report true")
	}
}

func TestTCPParseTarget(t *testing.T) {
	tr := NewTCP(Config{Port: 9999})
	host, port, err := tr.parseTarget("example.com:1234")
	if err != nil || host != "example.com" || port != 1234 {
		t.Errorf("parseTarget(host:port) = (%q, %d, %v)", host, port, err)
	}
	host, port, err = tr.parseTarget("example.com")
	if err != nil || host != "example.com" || port != 9999 {
		t.Errorf("parseTarget(host only) = (%q, %d, %v)", host, port, err)
	}
}
