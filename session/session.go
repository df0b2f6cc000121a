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

// Package session manages the multi-agent communication contexts that
// messages are exchanged within: creation, pause/resume, participant
// membership, and a background expiry sweep.
package session

import "time"

// Status is the lifecycle state of a Session.
type Status string

const (
	Pending    Status = "pending"
	Active     Status = "active"
	Paused     Status = "paused"
	Expired    Status = "expired"
	Terminated Status = "terminated"
)

// DefaultTTL is used by Manager.Create when no ttl is supplied.
const DefaultTTL = 1 * time.Hour

// sweepInterval is how often the background loop checks for expiry.
const sweepInterval = 60 * time.Second

// gcThreshold is the age, measured from CreatedAt, past which the sweep
// physically deletes an EXPIRED/TERMINATED session. The time since the
// session reached EXPIRED/TERMINATED is not tracked.
const gcThreshold = 24 * time.Hour

// Session is a logical communication context shared by one or more agents.
type Session struct {
	ID           string
	Participants map[string]struct{}
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Status       Status
	Metadata     map[string]interface{}
}

func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ParticipantList returns s.Participants as a sorted-free slice snapshot.
func (s *Session) ParticipantList() []string {
	out := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		out = append(out, id)
	}
	return out
}

// Stats summarizes session counts by status, as returned by Manager.Stats.
type Stats struct {
	Total      int
	Active     int
	Paused     int
	Expired    int
	Terminated int
}
