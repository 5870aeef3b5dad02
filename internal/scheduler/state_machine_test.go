package scheduler

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	if sm.State() != StateStopped {
		t.Fatalf("expected %s, got %s", StateStopped, sm.State())
	}
	if sm.Apply(EventStart) != StateRunning {
		t.Fatalf("expected %s, got %s", StateRunning, sm.State())
	}
	if sm.Apply(EventStop) != StateStopped {
		t.Fatalf("expected %s, got %s", StateStopped, sm.State())
	}
}

func TestStateMachineInvalidTransition(t *testing.T) {
	sm := NewStateMachine()
	if sm.Apply(EventStop) != StateStopped {
		t.Fatalf("expected %s, got %s", StateStopped, sm.State())
	}
	sm.Apply(EventStart)
	if sm.Apply(EventStart) != StateRunning {
		t.Fatalf("expected %s, got %s", StateRunning, sm.State())
	}
}
