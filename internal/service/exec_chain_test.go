package service

import (
	"testing"
	"time"
)

func TestExecChainRapidBurst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewExecChainTracker()
	tracker.now = func() time.Time { return now }

	for i := 0; i < rapidExecLimit; i++ {
		if tracker.Track("s1") {
			t.Fatalf("flagged at exec %d, threshold is %d", i+1, rapidExecLimit)
		}
		now = now.Add(50 * time.Millisecond)
	}
	if !tracker.Track("s1") {
		t.Error("exceeding the limit inside the window must flag")
	}
}

func TestExecChainWindowSlides(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewExecChainTracker()
	tracker.now = func() time.Time { return now }

	// Spread execs wider than the window: never flags.
	for i := 0; i < 3*rapidExecLimit; i++ {
		if tracker.Track("s1") {
			t.Fatal("slow exec cadence must not flag")
		}
		now = now.Add(200 * time.Millisecond)
	}
}

func TestExecChainSessionsIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewExecChainTracker()
	tracker.now = func() time.Time { return now }

	for i := 0; i < rapidExecLimit; i++ {
		tracker.Track("s1")
		if tracker.Track("s2") && i < rapidExecLimit-1 {
			t.Fatal("sessions must be tracked independently")
		}
	}
}

func TestExecChainPrunesIdleSessions(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewExecChainTracker()
	tracker.now = func() time.Time { return now }

	tracker.Track("idle")
	now = now.Add(sessionIdleLimit + time.Second)
	tracker.Track("fresh")

	if _, ok := tracker.sessions["idle"]; ok {
		t.Error("idle session must be pruned")
	}
	if _, ok := tracker.sessions["fresh"]; !ok {
		t.Error("fresh session must remain")
	}
}

func TestExecChainIgnoresEmptySession(t *testing.T) {
	tracker := NewExecChainTracker()
	for i := 0; i < 5*rapidExecLimit; i++ {
		if tracker.Track("") {
			t.Fatal("empty session ids must never flag")
		}
	}
	if len(tracker.sessions) != 0 {
		t.Error("empty session ids must not be tracked")
	}
}
