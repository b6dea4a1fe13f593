package voice

import (
	"strings"
	"sync"

	"github.com/omnitech-labs/omnidial/pkg/voice/protocol"
)

// TranscriptTurn is one finalized utterance. Immutable once emitted;
// Sequence increases monotonically within a session.
type TranscriptTurn struct {
	Speaker  protocol.Speaker
	Text     string
	Sequence int
}

// TranscriptAggregator accumulates streamed partial text per speaker and
// finalizes the buffers on turn boundaries. The remote side is the sole
// source of truth for fragment order: fragments are appended verbatim.
type TranscriptAggregator struct {
	mu    sync.Mutex
	user  strings.Builder
	agent strings.Builder
	seq   int
	turns []TranscriptTurn
}

// NewTranscriptAggregator returns an empty aggregator.
func NewTranscriptAggregator() *TranscriptAggregator {
	return &TranscriptAggregator{}
}

// AppendPartial adds a fragment to the speaker's pending buffer. Unknown
// speakers are ignored.
func (a *TranscriptAggregator) AppendPartial(speaker protocol.Speaker, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch speaker {
	case protocol.SpeakerUser:
		a.user.WriteString(text)
	case protocol.SpeakerAgent:
		a.agent.WriteString(text)
	}
}

// CompleteTurn finalizes both pending buffers. Non-empty buffers (after
// trimming) become turns, user before agent; both buffers are cleared
// regardless. A boundary with nothing pending emits no turns.
func (a *TranscriptAggregator) CompleteTurn() []TranscriptTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completeTurnLocked()
}

func (a *TranscriptAggregator) completeTurnLocked() []TranscriptTurn {
	var emitted []TranscriptTurn
	if text := strings.TrimSpace(a.user.String()); text != "" {
		a.seq++
		turn := TranscriptTurn{Speaker: protocol.SpeakerUser, Text: text, Sequence: a.seq}
		a.turns = append(a.turns, turn)
		emitted = append(emitted, turn)
	}
	if text := strings.TrimSpace(a.agent.String()); text != "" {
		a.seq++
		turn := TranscriptTurn{Speaker: protocol.SpeakerAgent, Text: text, Sequence: a.seq}
		a.turns = append(a.turns, turn)
		emitted = append(emitted, turn)
	}
	a.user.Reset()
	a.agent.Reset()
	return emitted
}

// Turns returns the finalized turn log in conversational order.
func (a *TranscriptAggregator) Turns() []TranscriptTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TranscriptTurn(nil), a.turns...)
}

// Snapshot returns the turn log with any pending partials appended as
// extra turns, without clearing the buffers. Used when a call record is
// written mid-turn.
func (a *TranscriptAggregator) Snapshot() []TranscriptTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]TranscriptTurn(nil), a.turns...)
	seq := a.seq
	if text := strings.TrimSpace(a.user.String()); text != "" {
		seq++
		out = append(out, TranscriptTurn{Speaker: protocol.SpeakerUser, Text: text, Sequence: seq})
	}
	if text := strings.TrimSpace(a.agent.String()); text != "" {
		seq++
		out = append(out, TranscriptTurn{Speaker: protocol.SpeakerAgent, Text: text, Sequence: seq})
	}
	return out
}
