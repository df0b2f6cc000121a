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

// Package protocol defines the wire message model shared by every agentmesh
// component: header, payload, the codec that turns one into bytes and back,
// and the small set of validation rules every message must satisfy.
package protocol

import "fmt"

// Type identifies the purpose of a message.
type Type string

const (
	Request      Type = "request"
	Response     Type = "response"
	Notification Type = "notification"
	ErrorType    Type = "error"
	Heartbeat    Type = "heartbeat"
	Handshake    Type = "handshake"
)

// Priority orders messages inside a session's queue. Higher values drain first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// ProtocolVersion is the only version this codec accepts at validate time.
const ProtocolVersion = "1.0"

// MaxMessageSize bounds the JSON-encoded form of a message, per §3.
const MaxMessageSize = 1024 * 1024

// BroadcastRecipient marks a message intended for every listener on a session.
const BroadcastRecipient = "*"

// Header carries routing and ordering metadata, common to every message.
type Header struct {
	MessageID       string   `json:"message_id" msgpack:"message_id"`
	MessageType     Type     `json:"message_type" msgpack:"message_type"`
	SenderID        string   `json:"sender_id" msgpack:"sender_id"`
	RecipientID     string   `json:"recipient_id" msgpack:"recipient_id"`
	Timestamp       float64  `json:"timestamp" msgpack:"timestamp"`
	Priority        Priority `json:"priority" msgpack:"priority"`
	SessionID       string   `json:"session_id" msgpack:"session_id"`
	ProtocolVersion string   `json:"protocol_version" msgpack:"protocol_version"`
}

// Payload carries the command and its data.
type Payload struct {
	Command  string                 `json:"command" msgpack:"command"`
	Data     map[string]interface{} `json:"data" msgpack:"data"`
	Metadata map[string]interface{} `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// Message is the unit of communication. It is treated as immutable once
// created: callers must not mutate Header or Payload maps in place.
type Message struct {
	Header    Header  `json:"header" msgpack:"header"`
	Payload   Payload `json:"payload" msgpack:"payload"`
	Signature string  `json:"signature,omitempty" msgpack:"signature,omitempty"`
}

// AuthToken returns the auth_token metadata field, if present.
func (m *Message) AuthToken() (string, bool) {
	if m.Payload.Metadata == nil {
		return "", false
	}
	v, ok := m.Payload.Metadata["auth_token"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// OriginalMessageID reads payload.data.original_message_id, used to
// correlate a RESPONSE with its pending request.
func (m *Message) OriginalMessageID() (string, bool) {
	if m.Payload.Data == nil {
		return "", false
	}
	v, ok := m.Payload.Data["original_message_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (t Type) valid() bool {
	switch t {
	case Request, Response, Notification, ErrorType, Heartbeat, Handshake:
		return true
	default:
		return false
	}
}

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}
