// Package protocol defines the JSON wire contract between a voice session
// and the remote generative-voice backend. All frames travel as websocket
// text messages with a "type" envelope; audio payloads are base64-encoded
// fixed-rate PCM.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// PCMFormat is the only audio encoding on the wire: 16-bit signed
	// little-endian mono PCM.
	PCMFormat = "pcm16le"

	// InputSampleRateHz is the fixed rate for outbound (microphone) audio.
	InputSampleRateHz = 16000

	// OutputSampleRateHz is the fixed rate for inbound (agent) audio.
	OutputSampleRateHz = 24000
)

// Client frame types.
const (
	TypeSetup      = "setup"
	TypeAudioFrame = "audio_frame"
	TypeToolResult = "tool_result"
)

// Server event types.
const (
	TypePartialTranscript = "partial_transcript"
	TypeTurnComplete      = "turn_complete"
	TypeAudioChunk        = "audio_chunk"
	TypeInterrupted       = "interrupted"
	TypeToolCall          = "tool_call"
	TypeError             = "error"
	TypeClosed            = "closed"
)

// Speaker identifies which side of the conversation produced a transcript
// fragment.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// DecodeError describes a malformed or unsupported frame.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// ToolDecl declares a callable function to the backend during setup.
type ToolDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Setup is the first client frame on a new connection. It carries the
// session configuration the backend needs before any audio flows.
type Setup struct {
	Type   string     `json:"type"`
	Model  string     `json:"model,omitempty"`
	System string     `json:"system,omitempty"`
	Tools  []ToolDecl `json:"tools,omitempty"`
}

// NewSetup builds a setup frame.
func NewSetup(model, system string, tools []ToolDecl) Setup {
	return Setup{Type: TypeSetup, Model: model, System: system, Tools: tools}
}

// AudioFrame carries one encoded microphone frame. Sent continuously while
// the session is active.
type AudioFrame struct {
	Type       string `json:"type"`
	Payload    string `json:"payload"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// NewAudioFrame wraps raw PCM bytes in a wire frame.
func NewAudioFrame(pcm []byte) AudioFrame {
	return AudioFrame{
		Type:       TypeAudioFrame,
		Payload:    base64.StdEncoding.EncodeToString(pcm),
		Format:     PCMFormat,
		SampleRate: InputSampleRateHz,
	}
}

// ToolResult answers exactly one ToolCall, correlated by CallID.
type ToolResult struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// NewToolResult builds a tool_result frame.
func NewToolResult(callID, name, result string) ToolResult {
	return ToolResult{Type: TypeToolResult, CallID: callID, Name: name, Result: result}
}

// ServerEvent is any decoded backend-to-client frame.
type ServerEvent interface {
	eventType() string
}

// PartialTranscript is a streamed transcript fragment for one speaker.
// Fragments arrive in order and are concatenated verbatim.
type PartialTranscript struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

func (PartialTranscript) eventType() string { return TypePartialTranscript }

// TurnComplete marks a turn boundary: accumulated fragments for both
// speakers should be finalized.
type TurnComplete struct{}

func (TurnComplete) eventType() string { return TypeTurnComplete }

// AudioChunk carries decoded agent audio for playback.
type AudioChunk struct {
	Payload    []byte
	SampleRate int
}

func (AudioChunk) eventType() string { return TypeAudioChunk }

// Interrupted signals barge-in: the user started speaking over the agent
// and all scheduled playback must be flushed immediately.
type Interrupted struct{}

func (Interrupted) eventType() string { return TypeInterrupted }

// ToolCall asks the client to execute a named function and reply with a
// ToolResult carrying the same CallID.
type ToolCall struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (ToolCall) eventType() string { return TypeToolCall }

// ErrorEvent reports a backend-side failure. The connection is considered
// unusable afterwards.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) eventType() string { return TypeError }

// Closed announces a clean remote close.
type Closed struct{}

func (Closed) eventType() string { return TypeClosed }

// DecodeServerEvent parses one backend frame.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("frame is not valid JSON", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("frame is missing type", "type")
	}

	switch typ {
	case TypePartialTranscript:
		var ev PartialTranscript
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid partial_transcript frame", "")
		}
		switch ev.Speaker {
		case SpeakerUser, SpeakerAgent:
		default:
			return nil, badFrame("unknown transcript speaker", "speaker")
		}
		return ev, nil
	case TypeTurnComplete:
		return TurnComplete{}, nil
	case TypeAudioChunk:
		var raw struct {
			Payload    string `json:"payload"`
			SampleRate int    `json:"sample_rate"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, badFrame("invalid audio_chunk frame", "")
		}
		pcm, err := base64.StdEncoding.DecodeString(raw.Payload)
		if err != nil {
			return nil, badFrame("audio_chunk payload is not valid base64", "payload")
		}
		rate := raw.SampleRate
		if rate == 0 {
			rate = OutputSampleRateHz
		}
		if rate < 0 {
			return nil, badFrame("audio_chunk sample_rate must be positive", "sample_rate")
		}
		return AudioChunk{Payload: pcm, SampleRate: rate}, nil
	case TypeInterrupted:
		return Interrupted{}, nil
	case TypeToolCall:
		var ev ToolCall
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid tool_call frame", "")
		}
		if strings.TrimSpace(ev.CallID) == "" {
			return nil, badFrame("tool_call is missing call_id", "call_id")
		}
		if strings.TrimSpace(ev.Name) == "" {
			return nil, badFrame("tool_call is missing name", "name")
		}
		return ev, nil
	case TypeError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return ev, nil
	case TypeClosed:
		return Closed{}, nil
	default:
		return nil, badFrame(fmt.Sprintf("unknown frame type %q", typ), "type")
	}
}

// MarshalAudioChunk encodes an AudioChunk back to its wire form. Used by
// test backends and recording tooling.
func MarshalAudioChunk(chunk AudioChunk) ([]byte, error) {
	return json.Marshal(struct {
		Type       string `json:"type"`
		Payload    string `json:"payload"`
		SampleRate int    `json:"sample_rate"`
	}{
		Type:       TypeAudioChunk,
		Payload:    base64.StdEncoding.EncodeToString(chunk.Payload),
		SampleRate: chunk.SampleRate,
	})
}
