package scheduler

import "sync"

type State string

type Event string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

const (
	EventStart Event = "START"
	EventStop  Event = "STOP"
)

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateStopped}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func nextState(current State, event Event) State {
	switch current {
	case StateStopped:
		if event == EventStart {
			return StateRunning
		}
	case StateRunning:
		if event == EventStop {
			return StateStopped
		}
	}
	return current
}
