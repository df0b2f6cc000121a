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

// Package handler is the message pipeline: per-session priority queues,
// command dispatch, and request/reply correlation. It exclusively owns its
// queues and pending-reply table; it never talks to a transport directly,
// only through a connection.Manager.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanokit/agentmesh/connection"
	"github.com/nanokit/agentmesh/crypto"
	"github.com/nanokit/agentmesh/internal/agentmesherr"
	"github.com/nanokit/agentmesh/internal/log"
	"github.com/nanokit/agentmesh/protocol"
	"github.com/nanokit/agentmesh/token"
)

// CommandFunc handles a dispatched command message.
type CommandFunc func(msg *protocol.Message)

// queue holds one session's four priority lanes, each a plain FIFO slice.
type queue struct {
	critical []*protocol.Message
	high     []*protocol.Message
	normal   []*protocol.Message
	low      []*protocol.Message
}

func (q *queue) push(m *protocol.Message) {
	switch m.Header.Priority {
	case protocol.PriorityCritical:
		q.critical = append(q.critical, m)
	case protocol.PriorityHigh:
		q.high = append(q.high, m)
	case protocol.PriorityLow:
		q.low = append(q.low, m)
	default:
		q.normal = append(q.normal, m)
	}
}

func (q *queue) len() int {
	return len(q.critical) + len(q.high) + len(q.normal) + len(q.low)
}

// Stats is the snapshot returned by Handler.Stats.
type Stats struct {
	MessagesSent      int64
	MessagesReceived  int64
	MessagesProcessed int64
	Errors            int64
	PendingResponses  int
	QueuedMessages    int
}

// Transform rewrites an encoded (and, if enabled, encrypted) outbound
// payload before it reaches the transport, e.g. to compress it.
type Transform func([]byte) []byte

// Handler is the message pipeline for one local agent.
type Handler struct {
	agentID string
	tokens  *token.Manager
	crypt   *crypto.Handler
	codec   *protocol.Codec
	conns   *connection.Manager

	mu       sync.Mutex
	queues   map[string]*queue
	commands map[string]CommandFunc
	pending  map[string]chan *protocol.Message
	outbound Transform

	sent      int64
	received  int64
	processed int64
	errors    int64
}

// New returns a Handler for agentID, routing outbound bytes through conns
// and encrypting with crypt.
func New(agentID string, tokens *token.Manager, crypt *crypto.Handler, codec *protocol.Codec, conns *connection.Manager) *Handler {
	return &Handler{
		agentID:  agentID,
		tokens:   tokens,
		crypt:    crypt,
		codec:    codec,
		conns:    conns,
		queues:   make(map[string]*queue),
		commands: make(map[string]CommandFunc),
		pending:  make(map[string]chan *protocol.Message),
	}
}

// RegisterCommandHandler installs fn as the handler for command.
func (h *Handler) RegisterCommandHandler(command string, fn CommandFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[command] = fn
}

// SetOutboundTransform installs fn to rewrite every outbound payload after
// encoding and encryption, immediately before it is handed to the
// connection manager. A nil fn (the default) leaves payloads untouched.
func (h *Handler) SetOutboundTransform(fn Transform) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outbound = fn
}

// SendMessage serializes, optionally encrypts, and routes msg to its
// recipient via the connection manager.
func (h *Handler) SendMessage(ctx context.Context, msg *protocol.Message, encrypt bool) bool {
	if msg.Header.SessionID != "" {
		if h.tokens.Info(msg.Header.SessionID) == nil {
			log.Errorf("handler: no token for session %s", msg.Header.SessionID)
			return false
		}
	}

	serialized, err := protocol.Encode(msg, protocol.JSON)
	if err != nil {
		log.Errorf("handler: failed to encode message: %v", err)
		atomic.AddInt64(&h.errors, 1)
		return false
	}

	payload := serialized
	if encrypt {
		ok, result := h.crypt.Encrypt(string(serialized))
		if !ok {
			log.Errorf("handler: %v", agentmesherr.EncryptionError("handler.SendMessage", errors.New(result)))
			atomic.AddInt64(&h.errors, 1)
			return false
		}
		payload = []byte(result)
	}

	h.mu.Lock()
	transform := h.outbound
	h.mu.Unlock()
	if transform != nil {
		payload = transform(payload)
	}

	if err := h.conns.Send(ctx, msg.Header.RecipientID, payload); err != nil {
		log.Errorf("handler: failed to send message: %v", err)
		atomic.AddInt64(&h.errors, 1)
		return false
	}

	atomic.AddInt64(&h.sent, 1)
	return true
}

// ReceiveMessage decrypts (if encrypted), decodes, validates, and enqueues
// raw into the message's session queue. A valid message also refreshes its
// sender's last_seen in the connection manager.
func (h *Handler) ReceiveMessage(ctx context.Context, raw []byte, encrypted bool) bool {
	serialized := raw
	if encrypted {
		ok, result := h.crypt.Decrypt(string(raw))
		if !ok {
			log.Errorf("handler: %v", agentmesherr.EncryptionError("handler.ReceiveMessage", errors.New(result)))
			atomic.AddInt64(&h.errors, 1)
			return false
		}
		serialized = []byte(result)
	}

	msg, err := protocol.Decode(serialized, protocol.JSON)
	if err != nil {
		log.Errorf("handler: failed to decode message: %v", err)
		atomic.AddInt64(&h.errors, 1)
		return false
	}

	if ok, reason := protocol.Validate(msg); !ok {
		log.Errorf("handler: invalid message: %s", reason)
		atomic.AddInt64(&h.errors, 1)
		errResp := h.codec.CreateErrorResponse(msg, "validation_failed", reason)
		h.SendMessage(ctx, &errResp, true)
		return false
	}

	h.conns.UpdateLastSeen(msg.Header.SenderID)
	h.enqueue(msg)
	atomic.AddInt64(&h.received, 1)
	return true
}

func (h *Handler) enqueue(msg *protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[msg.Header.SessionID]
	if !ok {
		q = &queue{}
		h.queues[msg.Header.SessionID] = q
	}
	q.push(msg)
}

// ProcessMessages drains sessionID's queue in strict priority order
// (CRITICAL, HIGH, NORMAL, LOW), up to maxMessages total, and returns the
// number processed. There is no starvation mitigation across lanes.
func (h *Handler) ProcessMessages(sessionID string, maxMessages int) int {
	h.mu.Lock()
	q, ok := h.queues[sessionID]
	if !ok {
		h.mu.Unlock()
		return 0
	}
	lanes := []*[]*protocol.Message{&q.critical, &q.high, &q.normal, &q.low}
	var drained []*protocol.Message
	for _, lane := range lanes {
		for len(*lane) > 0 && len(drained) < maxMessages {
			msg := (*lane)[0]
			*lane = (*lane)[1:]
			drained = append(drained, msg)
		}
	}
	h.mu.Unlock()

	for _, msg := range drained {
		h.processSingle(msg)
		atomic.AddInt64(&h.processed, 1)
	}
	return len(drained)
}

func (h *Handler) processSingle(msg *protocol.Message) {
	if msg.Header.MessageType == protocol.Response {
		originalID, ok := msg.OriginalMessageID()
		if !ok {
			return
		}
		h.mu.Lock()
		waiter, ok := h.pending[originalID]
		if ok {
			delete(h.pending, originalID)
		}
		h.mu.Unlock()
		if ok {
			select {
			case waiter <- msg:
			default:
			}
		}
		return
	}

	h.mu.Lock()
	fn, ok := h.commands[msg.Payload.Command]
	h.mu.Unlock()
	if !ok {
		log.Warnf("handler: no handler for command %q", msg.Payload.Command)
		return
	}
	fn(msg)
}

// SendRequestAndWaitResponse sends msg and blocks until a RESPONSE
// correlated by message_id arrives or timeout elapses. Returns a nil message
// and a typed *agentmesherr.Error on send failure, timeout, or context
// cancellation.
func (h *Handler) SendRequestAndWaitResponse(ctx context.Context, msg *protocol.Message, timeout time.Duration) (*protocol.Message, error) {
	waiter := make(chan *protocol.Message, 1)
	h.mu.Lock()
	h.pending[msg.Header.MessageID] = waiter
	h.mu.Unlock()

	if !h.SendMessage(ctx, msg, true) {
		h.mu.Lock()
		delete(h.pending, msg.Header.MessageID)
		h.mu.Unlock()
		return nil, agentmesherr.ConnectionError("handler.SendRequestAndWaitResponse", fmt.Errorf("send to %s failed", msg.Header.RecipientID))
	}

	select {
	case resp := <-waiter:
		return resp, nil
	case <-time.After(timeout):
		h.mu.Lock()
		delete(h.pending, msg.Header.MessageID)
		h.mu.Unlock()
		log.Warnf("handler: timed out waiting for response to %s", msg.Header.MessageID)
		return nil, agentmesherr.TimeoutError("handler.SendRequestAndWaitResponse", fmt.Errorf("no response to %s within %s", msg.Header.MessageID, timeout))
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, msg.Header.MessageID)
		h.mu.Unlock()
		return nil, agentmesherr.TimeoutError("handler.SendRequestAndWaitResponse", ctx.Err())
	}
}

// Stats returns a snapshot of the handler's counters and gauges.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	queued := 0
	for _, q := range h.queues {
		queued += q.len()
	}
	return Stats{
		MessagesSent:      atomic.LoadInt64(&h.sent),
		MessagesReceived:  atomic.LoadInt64(&h.received),
		MessagesProcessed: atomic.LoadInt64(&h.processed),
		Errors:            atomic.LoadInt64(&h.errors),
		PendingResponses:  len(h.pending),
		QueuedMessages:    queued,
	}
}

// ClearSessionQueue discards sessionID's queue entirely.
func (h *Handler) ClearSessionQueue(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.queues, sessionID)
}
