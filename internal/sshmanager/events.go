package sshmanager

import (
	"log"
	"sync"
	"time"

	"github.com/pandasdroid/vps-management/internal/logutil"
)

// EventType identifies a session event.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventConnectFailed     EventType = "connect_failed"
	EventDisconnected      EventType = "disconnected"
	EventHealthCheckFailed EventType = "health_check_failed"
	EventShellStarted      EventType = "shell_started"
	EventShellStopped      EventType = "shell_stopped"
	EventTunnelStarted     EventType = "tunnel_started"
	EventTunnelStopped     EventType = "tunnel_stopped"
	EventCommand           EventType = "command"
	EventFileOperation     EventType = "file_operation"
)

// ConnectionEvent is one entry in a key's event history.
type ConnectionEvent struct {
	Key       string    `json:"key"`
	Type      EventType `json:"type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// EventListener receives every event after it is recorded.
type EventListener func(ConnectionEvent)

const maxEventsPerKey = 100

type eventLog struct {
	mu        sync.RWMutex
	events    map[string][]ConnectionEvent
	listeners []EventListener
}

func newEventLog() *eventLog {
	return &eventLog{events: make(map[string][]ConnectionEvent)}
}

// LogEvent records an event for key. Callers outside the registry use it
// for operations the registry does not see, such as API-issued commands.
func (m *SSHManager) LogEvent(key string, eventType EventType, details string) {
	m.emit(key, eventType, details)
}

func (m *SSHManager) emit(key string, eventType EventType, details string) {
	event := ConnectionEvent{
		Key:       key,
		Type:      eventType,
		Details:   details,
		Timestamp: time.Now(),
	}

	l := m.events
	l.mu.Lock()
	events := append(l.events[key], event)
	if len(events) > maxEventsPerKey {
		events = events[len(events)-maxEventsPerKey:]
	}
	l.events[key] = events
	listeners := make([]EventListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.Unlock()

	log.Printf("[ssh] event %s/%s: %s", logutil.SanitizeForLog(key), eventType, logutil.Truncate(details, 200))
	for _, fn := range listeners {
		fn(event)
	}
}

// GetEvents returns the stored events for key, oldest first.
func (m *SSHManager) GetEvents(key string) []ConnectionEvent {
	m.events.mu.RLock()
	defer m.events.mu.RUnlock()
	events := m.events.events[key]
	result := make([]ConnectionEvent, len(events))
	copy(result, events)
	return result
}

// OnEvent registers fn for every future event.
func (m *SSHManager) OnEvent(fn EventListener) {
	m.events.mu.Lock()
	defer m.events.mu.Unlock()
	m.events.listeners = append(m.events.listeners, fn)
}
