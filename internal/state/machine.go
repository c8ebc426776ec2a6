package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Pipeline lifecycle states.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateFlushing  = "flushing"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Lifecycle events.
const (
	EventStart    = "start"
	EventFlush    = "flush"
	EventResume   = "resume"
	EventComplete = "complete"
	EventFail     = "fail"
)

// Machine tracks the extraction pipeline lifecycle. Only one extraction runs
// at a time; a start while running is rejected by the state machine itself.
type Machine struct {
	mu           sync.RWMutex
	fsm          *fsm.FSM
	since        time.Time
	onTransition func(from, to string)
}

// NewMachine creates a lifecycle machine in the idle state.
func NewMachine(onTransition func(from, to string)) *Machine {
	m := &Machine{
		since:        time.Now(),
		onTransition: onTransition,
	}

	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle, StateCompleted, StateFailed}, Dst: StateRunning},
			{Name: EventFlush, Src: []string{StateRunning}, Dst: StateFlushing},
			{Name: EventResume, Src: []string{StateFlushing}, Dst: StateRunning},
			{Name: EventComplete, Src: []string{StateRunning, StateFlushing}, Dst: StateCompleted},
			{Name: EventFail, Src: []string{StateRunning, StateFlushing}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onTransition != nil && e.Src != e.Dst {
					m.onTransition(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Current returns the current state name.
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Trigger fires a lifecycle event.
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	m.since = time.Now()
	return nil
}

// Can reports whether an event is valid in the current state.
func (m *Machine) Can(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}
