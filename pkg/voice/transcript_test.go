package voice

import (
	"testing"

	"github.com/omnitech-labs/omnidial/pkg/voice/protocol"
)

func TestTranscriptAggregator_FragmentsJoinIntoOneTurn(t *testing.T) {
	agg := NewTranscriptAggregator()
	agg.AppendPartial(protocol.SpeakerUser, "Hel")
	agg.AppendPartial(protocol.SpeakerUser, "lo")

	turns := agg.CompleteTurn()
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(turns))
	}
	if turns[0].Text != "Hello" {
		t.Fatalf("text = %q, want %q", turns[0].Text, "Hello")
	}
	if turns[0].Speaker != protocol.SpeakerUser {
		t.Fatalf("speaker = %q", turns[0].Speaker)
	}
}

func TestTranscriptAggregator_EmptyBoundaryEmitsNothing(t *testing.T) {
	agg := NewTranscriptAggregator()
	if turns := agg.CompleteTurn(); len(turns) != 0 {
		t.Fatalf("turns = %v, want none", turns)
	}
	agg.AppendPartial(protocol.SpeakerAgent, "   ")
	if turns := agg.CompleteTurn(); len(turns) != 0 {
		t.Fatalf("whitespace-only buffer emitted %v", turns)
	}
}

func TestTranscriptAggregator_UserBeforeAgent(t *testing.T) {
	agg := NewTranscriptAggregator()
	agg.AppendPartial(protocol.SpeakerAgent, "I can help with that.")
	agg.AppendPartial(protocol.SpeakerUser, "Do you do managed IT?")

	turns := agg.CompleteTurn()
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Speaker != protocol.SpeakerUser || turns[1].Speaker != protocol.SpeakerAgent {
		t.Fatalf("order = %q, %q", turns[0].Speaker, turns[1].Speaker)
	}
	if turns[0].Sequence != 1 || turns[1].Sequence != 2 {
		t.Fatalf("sequences = %d, %d", turns[0].Sequence, turns[1].Sequence)
	}
}

func TestTranscriptAggregator_BuffersClearAfterBoundary(t *testing.T) {
	agg := NewTranscriptAggregator()
	agg.AppendPartial(protocol.SpeakerUser, "first")
	agg.CompleteTurn()

	agg.AppendPartial(protocol.SpeakerUser, "second")
	turns := agg.CompleteTurn()
	if len(turns) != 1 || turns[0].Text != "second" {
		t.Fatalf("turns = %v", turns)
	}
	if turns[0].Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", turns[0].Sequence)
	}

	log := agg.Turns()
	if len(log) != 2 {
		t.Fatalf("log len = %d, want 2", len(log))
	}
	if log[0].Text != "first" || log[1].Text != "second" {
		t.Fatalf("log = %v", log)
	}
}

func TestTranscriptAggregator_SnapshotIncludesPendingWithoutClearing(t *testing.T) {
	agg := NewTranscriptAggregator()
	agg.AppendPartial(protocol.SpeakerUser, "done turn")
	agg.CompleteTurn()
	agg.AppendPartial(protocol.SpeakerAgent, "mid-sentence")

	snap := agg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(snap))
	}
	if snap[1].Text != "mid-sentence" || snap[1].Speaker != protocol.SpeakerAgent {
		t.Fatalf("snapshot pending = %+v", snap[1])
	}

	// The pending buffer must survive the snapshot.
	turns := agg.CompleteTurn()
	if len(turns) != 1 || turns[0].Text != "mid-sentence" {
		t.Fatalf("post-snapshot turn = %v", turns)
	}
}
