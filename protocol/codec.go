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

package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nanokit/agentmesh/internal/agentmesherr"
)

// Format selects the wire encoding used by Encode/Decode.
type Format int

const (
	// JSON is the canonical encoding: json.Marshal's default compact output,
	// separators "," and ":", no whitespace. Non-ASCII characters are written
	// as UTF-8, not \u-escaped.
	JSON Format = iota
	// MessagePack is the binary encoding.
	MessagePack
	// CompactPipe is a human-readable form for tooling, never used on the wire:
	// TYPE|SENDER|RECIPIENT|COMMAND|DATA_JSON.
	CompactPipe
)

// Codec turns Messages into bytes and back, and mints message IDs for one
// sending agent. A Codec is safe for concurrent use.
type Codec struct {
	agentID string
	counter int64
}

// NewCodec returns a codec that stamps outgoing messages as sent by agentID.
func NewCodec(agentID string) *Codec {
	return &Codec{agentID: agentID}
}

// NewMessage builds a message with a fresh monotonic message_id, mirroring
// "<sender>_<n>_<epoch>".
func (c *Codec) NewMessage(recipientID string, mtype Type, command string, data map[string]interface{}, sessionID string, priority Priority, metadata map[string]interface{}) Message {
	n := atomic.AddInt64(&c.counter, 1)
	now := time.Now()
	return Message{
		Header: Header{
			MessageID:       c.agentID + "_" + strconv.FormatInt(n, 10) + "_" + strconv.FormatInt(now.Unix(), 10),
			MessageType:     mtype,
			SenderID:        c.agentID,
			RecipientID:     recipientID,
			Timestamp:       float64(now.UnixNano()) / 1e9,
			Priority:        priority,
			SessionID:       sessionID,
			ProtocolVersion: ProtocolVersion,
		},
		Payload: Payload{
			Command:  command,
			Data:     data,
			Metadata: metadata,
		},
	}
}

// CreateErrorResponse builds an ERROR reply addressed back to the sender of
// original, carrying the offending message_id so the caller can correlate it.
func (c *Codec) CreateErrorResponse(original *Message, errorCode, description string) Message {
	return c.NewMessage(
		original.Header.SenderID,
		ErrorType,
		"error",
		map[string]interface{}{
			"error_code":          errorCode,
			"error_description":   description,
			"original_message_id": original.Header.MessageID,
		},
		original.Header.SessionID,
		original.Header.Priority,
		nil,
	)
}

// CreateHeartbeat builds a broadcast HEARTBEAT message for sessionID.
func (c *Codec) CreateHeartbeat(sessionID string) Message {
	return c.NewMessage(
		BroadcastRecipient,
		Heartbeat,
		"ping",
		map[string]interface{}{"timestamp": float64(time.Now().UnixNano()) / 1e9},
		sessionID,
		PriorityLow,
		nil,
	)
}

// Encode serializes m in the given format.
func Encode(m *Message, format Format) ([]byte, error) {
	switch format {
	case JSON:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, agentmesherr.ProtocolError("protocol.Encode", err)
		}
		return b, nil
	case MessagePack:
		b, err := msgpack.Marshal(m)
		if err != nil {
			return nil, agentmesherr.ProtocolError("protocol.Encode", err)
		}
		return b, nil
	case CompactPipe:
		return encodeCompactPipe(m)
	default:
		return nil, agentmesherr.ProtocolError("protocol.Encode", fmt.Errorf("unknown format %d", format))
	}
}

// Decode parses b into a Message using the given format.
func Decode(b []byte, format Format) (*Message, error) {
	switch format {
	case JSON:
		var m Message
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, agentmesherr.ProtocolError("protocol.Decode", err)
		}
		return &m, nil
	case MessagePack:
		var m Message
		if err := msgpack.Unmarshal(b, &m); err != nil {
			return nil, agentmesherr.ProtocolError("protocol.Decode", err)
		}
		return &m, nil
	case CompactPipe:
		return decodeCompactPipe(b)
	default:
		return nil, agentmesherr.ProtocolError("protocol.Decode", fmt.Errorf("unknown format %d", format))
	}
}

func encodeCompactPipe(m *Message) ([]byte, error) {
	data, err := json.Marshal(m.Payload.Data)
	if err != nil {
		return nil, agentmesherr.ProtocolError("protocol.Encode", err)
	}
	fields := []string{
		string(m.Header.MessageType),
		m.Header.SenderID,
		m.Header.RecipientID,
		m.Payload.Command,
		string(data),
	}
	return []byte(strings.Join(fields, "|")), nil
}

func decodeCompactPipe(b []byte) (*Message, error) {
	parts := strings.SplitN(string(b), "|", 5)
	if len(parts) != 5 {
		return nil, agentmesherr.ProtocolError("protocol.Decode", fmt.Errorf("malformed compact-pipe message"))
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(parts[4]), &data); err != nil {
		return nil, agentmesherr.ProtocolError("protocol.Decode", err)
	}
	return &Message{
		Header: Header{
			MessageType: Type(parts[0]),
			SenderID:    parts[1],
			RecipientID: parts[2],
		},
		Payload: Payload{
			Command: parts[3],
			Data:    data,
		},
	}, nil
}

// Validate enforces the invariants of §3: non-empty identifying fields,
// supported protocol version, and a size cap on the JSON-encoded form.
func Validate(m *Message) (bool, string) {
	if m.Header.ProtocolVersion != ProtocolVersion {
		return false, fmt.Sprintf("unsupported protocol version: %s", m.Header.ProtocolVersion)
	}
	if !m.Header.MessageType.valid() {
		return false, fmt.Sprintf("unknown message type: %s", m.Header.MessageType)
	}
	if !m.Header.Priority.valid() {
		return false, fmt.Sprintf("unknown priority: %d", m.Header.Priority)
	}
	if m.Header.MessageID == "" {
		return false, "missing message ID"
	}
	if m.Header.SenderID == "" {
		return false, "missing sender ID"
	}
	if m.Header.RecipientID == "" {
		return false, "missing recipient ID"
	}
	if m.Payload.Command == "" {
		return false, "missing command"
	}
	if len(m.Payload.Command) > 64 {
		return false, "command exceeds 64 characters"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return false, "message is not serializable"
	}
	if len(b) > MaxMessageSize {
		return false, "message exceeds maximum size"
	}
	return true, "valid"
}
