package session

import (
	"testing"
	"time"
)

func TestCreateRejectsDuplicate(t *testing.T) {
	m := NewManager(time.Hour)
	if _, err := m.Create("s1", []string{"a"}, 0, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("s1", []string{"b"}, 0, nil); err == nil {
		t.Error("expected duplicate session ID to be rejected")
	}
}

func TestGetMarksExpired(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("s1", []string{"a"}, time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)

	s := m.Get("s1")
	if s == nil || s.Status != Expired {
		t.Fatalf("expected session to be lazily marked EXPIRED, got %+v", s)
	}
}

func TestPauseResume(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("s1", []string{"a"}, 0, nil)

	if !m.Pause("s1") {
		t.Fatal("expected Pause to succeed on an ACTIVE session")
	}
	if m.Pause("s1") {
		t.Error("expected a second Pause to fail")
	}
	if !m.Resume("s1") {
		t.Fatal("expected Resume to succeed on a PAUSED session")
	}
	if m.Get("s1").Status != Active {
		t.Error("expected session to be ACTIVE after Resume")
	}
}

func TestResumeExpiredFails(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("s1", []string{"a"}, time.Millisecond, nil)
	m.Pause("s1")
	time.Sleep(5 * time.Millisecond)

	if m.Resume("s1") {
		t.Error("expected Resume to fail for an expired session")
	}
	if m.Get("s1").Status != Expired {
		t.Error("expected session to be EXPIRED after a failed Resume")
	}
}

func TestRemoveParticipantAutoTerminates(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("s1", []string{"a"}, 0, nil)

	if !m.RemoveParticipant("s1", "a") {
		t.Fatal("expected RemoveParticipant to succeed")
	}
	if m.Get("s1").Status != Terminated {
		t.Error("expected session with no participants to auto-terminate")
	}
	if sessions := m.GetAgentSessions("a"); len(sessions) != 0 {
		t.Errorf("expected no sessions left for agent a, got %v", sessions)
	}
}

func TestAddParticipantRequiresActive(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("s1", []string{"a"}, 0, nil)
	m.Terminate("s1")

	if m.AddParticipant("s1", "b") {
		t.Error("expected AddParticipant to fail on a terminated session")
	}
}

func TestGetAgentSessionsAndActive(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("s1", []string{"a", "b"}, 0, nil)
	m.Create("s2", []string{"b"}, 0, nil)

	if got := m.GetAgentSessions("b"); len(got) != 2 {
		t.Errorf("expected agent b in 2 sessions, got %v", got)
	}
	if got := m.GetActiveSessions(); len(got) != 2 {
		t.Errorf("expected 2 active sessions, got %v", got)
	}
}

func TestStats(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("s1", []string{"a"}, 0, nil)
	m.Create("s2", []string{"b"}, 0, nil)
	m.Pause("s2")

	st := m.Stats()
	if st.Total != 2 || st.Active != 1 || st.Paused != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestOnTerminatedHook(t *testing.T) {
	m := NewManager(time.Hour)
	m.Create("s1", []string{"a"}, 0, nil)

	fired := make(chan string, 1)
	m.OnTerminated(func(s *Session) { fired <- s.ID })

	m.Terminate("s1")
	select {
	case id := <-fired:
		if id != "s1" {
			t.Errorf("hook fired for %q, want s1", id)
		}
	default:
		t.Error("expected OnTerminated hook to fire synchronously")
	}
}
