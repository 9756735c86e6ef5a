package sshmanager

import (
	"fmt"
	"sync"
	"testing"
)

func TestStateTrackerTransitions(t *testing.T) {
	st := newStateTracker()
	if st.get("k") != StateDisconnected {
		t.Errorf("initial state = %s", st.get("k"))
	}

	var mu sync.Mutex
	var seen []string
	st.onChange(func(key string, from, to ConnectionState) {
		mu.Lock()
		seen = append(seen, fmt.Sprintf("%s:%s->%s", key, from, to))
		mu.Unlock()
	})

	st.set("k", StateConnecting)
	st.set("k", StateConnecting)
	st.set("k", StateConnected)

	if got := st.history("k"); len(got) != 2 {
		t.Fatalf("history = %+v, want 2 transitions", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[1] != "k:connecting->connected" {
		t.Errorf("callbacks = %v", seen)
	}
}

func TestStateTrackerBoundsHistory(t *testing.T) {
	st := newStateTracker()
	for i := 0; i < maxTransitionsPerKey+10; i++ {
		if i%2 == 0 {
			st.set("k", StateConnected)
		} else {
			st.set("k", StateDisconnected)
		}
	}
	if got := len(st.history("k")); got != maxTransitionsPerKey {
		t.Errorf("history length = %d, want %d", got, maxTransitionsPerKey)
	}
}

func TestEventLog(t *testing.T) {
	m := newTestManager(t, Options{})

	var mu sync.Mutex
	var received []ConnectionEvent
	m.OnEvent(func(e ConnectionEvent) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	for i := 0; i < maxEventsPerKey+5; i++ {
		m.LogEvent("k", EventCommand, fmt.Sprintf("cmd %d", i))
	}
	events := m.GetEvents("k")
	if len(events) != maxEventsPerKey {
		t.Fatalf("stored %d events, want %d", len(events), maxEventsPerKey)
	}
	if events[0].Details != "cmd 5" {
		t.Errorf("oldest kept event = %q", events[0].Details)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != maxEventsPerKey+5 {
		t.Errorf("listener saw %d events", len(received))
	}
	if len(m.GetEvents("other")) != 0 {
		t.Error("events leaked across keys")
	}
}
