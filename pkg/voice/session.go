package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnitech-labs/omnidial/pkg/voice/protocol"
)

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateConnecting SessionState = "connecting"
	StateActive     SessionState = "active"
	StateEnding     SessionState = "ending"
	StateClosed     SessionState = "closed"
	StateErrored    SessionState = "errored"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Metrics receives session telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	SessionStarted()
	SessionEnded(state string, elapsed time.Duration)
	ToolCall(name string)
	BargeIn()
	AudioScheduled(playback time.Duration)
	TurnCompleted(speaker string)
}

// SessionConfig configures one voice session.
type SessionConfig struct {
	// Model and System are forwarded to the backend in the setup frame.
	Model  string
	System string

	// Tools are the declarations advertised to the backend; Handlers
	// resolve the calls it makes against them.
	Tools    []protocol.ToolDecl
	Handlers map[string]ToolDef

	Devices DeviceProvider
	Dialer  Dialer

	// Clock defaults to the wall clock.
	Clock Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional.
	Metrics Metrics
}

// Session runs one live voice conversation: capture flows up, synthesized
// audio flows down through a gapless playback schedule, and tool calls are
// dispatched against the configured handlers.
//
// A Session runs at most once. Start moves it Idle -> Connecting -> Active;
// any teardown path lands on exactly one terminal state and releases every
// acquired resource.
type Session struct {
	id      string
	cfg     SessionConfig
	logger  *slog.Logger
	clock   Clock
	metrics Metrics

	aggregator    *TranscriptAggregator
	dispatcher    *ToolCallDispatcher
	notifications *NotificationLog

	events chan Event
	done   chan struct{}

	ctx context.Context

	mu           sync.Mutex
	state        SessionState
	err          error
	wanted       bool
	tearing      bool
	eventsClosed bool
	startedAt    time.Time

	capture   CaptureDevice
	playback  PlaybackDevice
	sink      *PlaybackSink
	transport Transport
}

// NewSession builds an idle session. Devices and Dialer are required.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Devices == nil {
		return nil, fmt.Errorf("session config: device provider is required")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("session config: dialer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}
	s := &Session{
		id:            uuid.NewString(),
		cfg:           cfg,
		clock:         clock,
		metrics:       cfg.Metrics,
		aggregator:    NewTranscriptAggregator(),
		dispatcher:    NewToolCallDispatcher(cfg.Handlers, logger),
		notifications: NewNotificationLog(clock),
		events:        make(chan Event, 128),
		done:          make(chan struct{}),
		state:         StateIdle,
	}
	s.logger = logger.With("session", s.id)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events yields session observations. The channel closes when the session
// reaches a terminal state.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal session error, if the session errored.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Turns returns the finalized transcript so far.
func (s *Session) Turns() []TranscriptTurn {
	return s.aggregator.Turns()
}

// Notifications returns the most recent status notifications.
func (s *Session) Notifications() []NotificationEvent {
	return s.notifications.Recent()
}

// Start acquires the audio devices, dials the backend, and begins streaming.
// It returns once the session is Active, or with the error that prevented it.
// A session that is not Idle returns ErrSessionNotIdle. A device acquisition
// failure leaves the session Idle so Start can be called again.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionNotIdle
	}
	s.state = StateConnecting
	s.wanted = true
	s.ctx = ctx
	s.mu.Unlock()
	s.emit(StateChangeEvent{State: StateConnecting})

	capture, err := s.cfg.Devices.OpenCapture(protocol.InputSampleRateHz, DefaultFrameSamples)
	if err != nil {
		err = fmt.Errorf("%w: capture: %v", ErrDeviceUnavailable, err)
		s.notify("Microphone unavailable: " + err.Error())
		return s.failAcquire(err)
	}
	playback, err := s.cfg.Devices.OpenPlayback(protocol.OutputSampleRateHz)
	if err != nil {
		_ = capture.Close()
		err = fmt.Errorf("%w: playback: %v", ErrDeviceUnavailable, err)
		s.notify("Speaker unavailable: " + err.Error())
		return s.failAcquire(err)
	}
	if !s.stillWanted() {
		_ = capture.Close()
		_ = playback.Close()
		s.finish(StateClosed, nil)
		return nil
	}

	setup := protocol.NewSetup(s.cfg.Model, s.cfg.System, s.cfg.Tools)
	transport, err := s.cfg.Dialer.Dial(ctx, setup)
	if err != nil {
		_ = capture.Close()
		_ = playback.Close()
		s.notify("Connection failed: " + err.Error())
		s.finish(StateErrored, err)
		return err
	}
	if !s.stillWanted() {
		_ = transport.Close()
		_ = capture.Close()
		_ = playback.Close()
		s.finish(StateClosed, nil)
		return nil
	}

	sink := NewPlaybackSink(playback, s.clock)

	s.mu.Lock()
	if !s.wanted {
		s.mu.Unlock()
		_ = transport.Close()
		_ = capture.Close()
		sink.Stop()
		_ = playback.Close()
		s.finish(StateClosed, nil)
		return nil
	}
	s.capture = capture
	s.playback = playback
	s.sink = sink
	s.transport = transport
	s.state = StateActive
	s.startedAt = s.clock.Now()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionStarted()
	}

	s.dispatcher.Bind(transport.SendToolResult, s.beginTeardown, s.aggregator.Snapshot)

	if err := capture.Start(s.onCaptureFrame); err != nil {
		err = fmt.Errorf("%w: capture start: %v", ErrDeviceUnavailable, err)
		s.notify("Microphone failed: " + err.Error())
		s.beginTeardown()
		s.drainAndFinish(StateErrored, err)
		return err
	}

	s.emit(StateChangeEvent{State: StateActive})
	s.logger.Info("session active", "model", s.cfg.Model)

	go s.readLoop()
	return nil
}

// Stop ends the session and blocks until teardown completes. Stopping an
// idle session is a no-op; stopping during Connecting cancels activation.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return
	case StateConnecting:
		s.wanted = false
		s.mu.Unlock()
		return
	}
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.beginTeardown()
	<-s.done
}

// failAcquire returns the session to Idle after a device acquisition
// failure so the same session can be started again.
func (s *Session) failAcquire(err error) error {
	s.emit(SessionErrorEvent{Err: err})
	s.mu.Lock()
	s.state = StateIdle
	s.wanted = false
	s.mu.Unlock()
	s.emit(StateChangeEvent{State: StateIdle})
	return err
}

func (s *Session) stillWanted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wanted
}

// beginTeardown closes the transport and releases the audio devices.
// Safe to call from any goroutine; only the first call acts. The read
// loop observes the transport closing and drives the terminal state.
func (s *Session) beginTeardown() {
	s.mu.Lock()
	if s.tearing {
		s.mu.Unlock()
		return
	}
	s.tearing = true
	if s.state == StateActive {
		s.state = StateEnding
	}
	capture := s.capture
	sink := s.sink
	playback := s.playback
	transport := s.transport
	s.mu.Unlock()

	s.emit(StateChangeEvent{State: StateEnding})

	if capture != nil {
		_ = capture.Close()
	}
	if sink != nil {
		sink.Stop()
	}
	if playback != nil {
		_ = playback.Close()
	}
	if transport != nil {
		_ = transport.Close()
	}
}

func (s *Session) onCaptureFrame(samples []float32) {
	s.mu.Lock()
	transport := s.transport
	streaming := s.state == StateActive
	s.mu.Unlock()
	if !streaming || transport == nil {
		return
	}
	if err := transport.SendAudioFrame(EncodePCM16(samples)); err != nil {
		// Frames are fire and forget; the read loop reports the
		// connection failure.
		s.logger.Debug("drop capture frame", "error", err)
	}
}

func (s *Session) readLoop() {
	transport := s.transport
	for event := range transport.Events() {
		switch ev := event.(type) {
		case protocol.PartialTranscript:
			s.aggregator.AppendPartial(ev.Speaker, ev.Text)
		case protocol.TurnComplete:
			for _, turn := range s.aggregator.CompleteTurn() {
				s.emit(TurnEvent{Turn: turn})
				if s.metrics != nil {
					s.metrics.TurnCompleted(string(turn.Speaker))
				}
			}
		case protocol.AudioChunk:
			chunk := DecodeAudioChunk(ev)
			s.sink.Schedule(chunk)
			if s.metrics != nil {
				s.metrics.AudioScheduled(chunk.Duration)
			}
		case protocol.Interrupted:
			s.sink.Interrupt()
			if s.metrics != nil {
				s.metrics.BargeIn()
			}
			s.logger.Debug("barge-in, playback flushed")
		case protocol.ToolCall:
			s.emit(ToolCallEvent{CallID: ev.CallID, Name: ev.Name})
			if s.metrics != nil {
				s.metrics.ToolCall(ev.Name)
			}
			s.dispatcher.Dispatch(s.ctx, ev)
		case protocol.ErrorEvent:
			s.notify("Backend error: " + ev.Message)
		case protocol.Closed:
			s.beginTeardown()
		}
	}

	s.beginTeardown()
	if err := transport.Err(); err != nil {
		s.notify("Connection lost: " + err.Error())
		s.drainAndFinish(StateErrored, err)
		return
	}
	s.drainAndFinish(StateClosed, nil)
}

// drainAndFinish flushes any buffered transcript into final turns, then
// moves the session to its terminal state.
func (s *Session) drainAndFinish(state SessionState, err error) {
	for _, turn := range s.aggregator.CompleteTurn() {
		s.emit(TurnEvent{Turn: turn})
		if s.metrics != nil {
			s.metrics.TurnCompleted(string(turn.Speaker))
		}
	}
	s.finish(state, err)
}

// finish records the terminal state and closes Events and Done. Runs at
// most once per session.
func (s *Session) finish(state SessionState, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.err = err
	startedAt := s.startedAt
	s.mu.Unlock()

	if err != nil {
		s.emit(SessionErrorEvent{Err: err})
	}
	s.emit(StateChangeEvent{State: state})

	// SessionEnded pairs with the SessionStarted fired on activation; a
	// session that never activated has no startedAt and records neither.
	if s.metrics != nil && !startedAt.IsZero() {
		s.metrics.SessionEnded(string(state), s.clock.Now().Sub(startedAt))
	}
	s.logger.Info("session finished", "state", state, "error", err)

	s.mu.Lock()
	s.eventsClosed = true
	s.mu.Unlock()
	close(s.events)
	close(s.done)
}

func (s *Session) notify(message string) {
	entry := s.notifications.Add(message)
	s.logger.Warn(message)
	s.emit(entry)
}

func (s *Session) emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}
