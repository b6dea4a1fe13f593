package campaign

import (
	"context"

	"github.com/omnitech-labs/omnidial/pkg/voice"
)

// WrapVoiceSession adapts a voice session to the CallSession the
// orchestrator drives. result is read once the session's Done channel
// closes, so the caller supplies a func evaluated at that point.
func WrapVoiceSession(sess *voice.Session, result func() CallResult) CallSession {
	return &voiceCall{sess: sess, result: result}
}

type voiceCall struct {
	sess   *voice.Session
	result func() CallResult
}

func (c *voiceCall) Start(ctx context.Context) error { return c.sess.Start(ctx) }

func (c *voiceCall) Stop() { c.sess.Stop() }

func (c *voiceCall) Done() <-chan struct{} { return c.sess.Done() }

func (c *voiceCall) Result() CallResult {
	if c.result == nil {
		return CallResult{}
	}
	return c.result()
}
