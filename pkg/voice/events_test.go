package voice

import (
	"testing"
	"time"
)

func TestNotificationLog_RetainsMostRecent(t *testing.T) {
	clock := newFakeClock()
	log := NewNotificationLog(clock)

	messages := []string{"one", "two", "three", "four", "five", "six", "seven"}
	for _, m := range messages {
		log.Add(m)
		clock.Advance(time.Second)
	}

	recent := log.Recent()
	if len(recent) != notificationRetention {
		t.Fatalf("retained %d notifications, want %d", len(recent), notificationRetention)
	}
	want := messages[len(messages)-notificationRetention:]
	for i, entry := range recent {
		if entry.Message != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, entry.Message, want[i])
		}
	}
	if !recent[0].At.Before(recent[len(recent)-1].At) {
		t.Fatalf("entries not ordered oldest first")
	}
}

func TestNotificationLog_TimestampsFromClock(t *testing.T) {
	clock := newFakeClock()
	log := NewNotificationLog(clock)

	entry := log.Add("dial failed")
	if !entry.At.Equal(clock.Now()) {
		t.Fatalf("entry timestamp %v, want %v", entry.At, clock.Now())
	}
}
