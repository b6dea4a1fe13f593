package voice

import (
	"errors"
	"fmt"
)

// ErrDeviceUnavailable reports that a capture or playback device could not
// be acquired. An acquisition failure returns the session to Idle and the
// caller may retry with another Start. A device that fails after the
// connection is up is session-fatal instead.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrSessionNotIdle reports a Start on a session that already ran. Sessions
// are single-use; create a new one to retry.
var ErrSessionNotIdle = errors.New("session is not idle")

// ConnectionError wraps a transport-level failure. Connection errors are
// session-fatal: the session is fully torn down before the error surfaces.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
