package sshmanager

import (
	"sync"
	"time"
)

// ConnectionState is the lifecycle state of one host's session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

func (s ConnectionState) String() string {
	return string(s)
}

// StateTransition records a state change for debugging.
type StateTransition struct {
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
}

// StateCallback is called after a key's state changes.
type StateCallback func(key string, from, to ConnectionState)

const maxTransitionsPerKey = 50

type stateTracker struct {
	mu          sync.RWMutex
	states      map[string]ConnectionState
	transitions map[string][]StateTransition
	callbacks   []StateCallback
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		states:      make(map[string]ConnectionState),
		transitions: make(map[string][]StateTransition),
	}
}

func (t *stateTracker) get(key string) ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if state, ok := t.states[key]; ok {
		return state
	}
	return StateDisconnected
}

// set records newState for key and fires callbacks outside the lock.
func (t *stateTracker) set(key string, newState ConnectionState) {
	t.mu.Lock()
	oldState, ok := t.states[key]
	if !ok {
		oldState = StateDisconnected
	}
	if oldState == newState {
		t.mu.Unlock()
		return
	}
	t.states[key] = newState

	transitions := append(t.transitions[key], StateTransition{From: oldState, To: newState, Timestamp: time.Now()})
	if len(transitions) > maxTransitionsPerKey {
		transitions = transitions[len(transitions)-maxTransitionsPerKey:]
	}
	t.transitions[key] = transitions

	cbs := make([]StateCallback, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(key, oldState, newState)
	}
}

func (t *stateTracker) history(key string) []StateTransition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]StateTransition, len(t.transitions[key]))
	copy(result, t.transitions[key])
	return result
}

func (t *stateTracker) onChange(cb StateCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// GetConnectionState returns the last recorded state for key.
func (m *SSHManager) GetConnectionState(key string) ConnectionState {
	return m.states.get(key)
}

// GetStateTransitions returns up to the last 50 transitions for key.
func (m *SSHManager) GetStateTransitions(key string) []StateTransition {
	return m.states.history(key)
}

// OnConnectionStateChange registers cb for every state change.
func (m *SSHManager) OnConnectionStateChange(cb StateCallback) {
	m.states.onChange(cb)
}
