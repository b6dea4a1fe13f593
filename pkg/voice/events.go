package voice

import (
	"sync"
	"time"
)

// Event is a session observation emitted on Session.Events(). Emission is
// best-effort: a slow consumer never blocks the pipeline.
type Event interface {
	sessionEvent() string
}

// StateChangeEvent reports a session state transition.
type StateChangeEvent struct {
	State SessionState
}

func (StateChangeEvent) sessionEvent() string { return "state_change" }

// NotificationEvent is a timestamped human-readable status line. Every
// fatal and non-fatal error surfaces as one of these; nothing fails
// silently.
type NotificationEvent struct {
	At      time.Time
	Message string
}

func (NotificationEvent) sessionEvent() string { return "notification" }

// TurnEvent reports a finalized transcript turn.
type TurnEvent struct {
	Turn TranscriptTurn
}

func (TurnEvent) sessionEvent() string { return "turn" }

// ToolCallEvent reports receipt of a tool invocation.
type ToolCallEvent struct {
	CallID string
	Name   string
}

func (ToolCallEvent) sessionEvent() string { return "tool_call" }

// SessionErrorEvent reports the fatal error that moved the session to
// Errored. Teardown has already completed when this is observed.
type SessionErrorEvent struct {
	Err error
}

func (SessionErrorEvent) sessionEvent() string { return "error" }

// notificationRetention bounds the recent-notifications log; the oldest
// entry drops beyond this count.
const notificationRetention = 5

// NotificationLog keeps the most recent timestamped notifications.
type NotificationLog struct {
	mu      sync.Mutex
	clock   Clock
	entries []NotificationEvent
}

// NewNotificationLog builds an empty log on the given clock.
func NewNotificationLog(clock Clock) *NotificationLog {
	if clock == nil {
		clock = RealClock()
	}
	return &NotificationLog{clock: clock}
}

// Add appends a notification, dropping the oldest beyond retention, and
// returns the recorded entry.
func (l *NotificationLog) Add(message string) NotificationEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := NotificationEvent{At: l.clock.Now(), Message: message}
	l.entries = append(l.entries, entry)
	if len(l.entries) > notificationRetention {
		l.entries = append(l.entries[:0], l.entries[len(l.entries)-notificationRetention:]...)
	}
	return entry
}

// Recent returns the retained notifications, oldest first.
func (l *NotificationLog) Recent() []NotificationEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]NotificationEvent(nil), l.entries...)
}
