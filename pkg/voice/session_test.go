package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/omnitech-labs/omnidial/pkg/voice/protocol"
)

type fakeCaptureDevice struct {
	mu       sync.Mutex
	onFrame  func([]float32)
	closed   bool
	startErr error
}

func (d *fakeCaptureDevice) Start(onFrame func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.onFrame = onFrame
	return nil
}

func (d *fakeCaptureDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeCaptureDevice) feed(samples []float32) {
	d.mu.Lock()
	onFrame := d.onFrame
	d.mu.Unlock()
	if onFrame != nil {
		onFrame(samples)
	}
}

type fakeDeviceProvider struct {
	mu          sync.Mutex
	captures    []*fakeCaptureDevice
	playbacks   []*fakePlaybackDevice
	captureErr  error
	playbackErr error
	startErr    error
}

func (p *fakeDeviceProvider) OpenCapture(sampleRateHz, frameSamples int) (CaptureDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	dev := &fakeCaptureDevice{startErr: p.startErr}
	p.captures = append(p.captures, dev)
	return dev, nil
}

func (p *fakeDeviceProvider) OpenPlayback(sampleRateHz int) (PlaybackDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playbackErr != nil {
		return nil, p.playbackErr
	}
	dev := &fakePlaybackDevice{}
	p.playbacks = append(p.playbacks, dev)
	return dev, nil
}

func (p *fakeDeviceProvider) setCaptureErr(err error) {
	p.mu.Lock()
	p.captureErr = err
	p.mu.Unlock()
}

// leaked reports acquired devices that were never closed.
func (p *fakeDeviceProvider) leaked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.captures {
		c.mu.Lock()
		if !c.closed {
			n++
		}
		c.mu.Unlock()
	}
	for _, d := range p.playbacks {
		d.mu.Lock()
		if !d.closed {
			n++
		}
		d.mu.Unlock()
	}
	return n
}

type fakeTransport struct {
	events chan protocol.ServerEvent

	mu      sync.Mutex
	frames  [][]byte
	results []protocol.ToolResult
	closed  bool
	err     error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan protocol.ServerEvent, 64)}
}

func (t *fakeTransport) Events() <-chan protocol.ServerEvent { return t.events }

func (t *fakeTransport) SendAudioFrame(pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport is closed")
	}
	t.frames = append(t.frames, pcm)
	return nil
}

func (t *fakeTransport) SendToolResult(result protocol.ToolResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport is closed")
	}
	t.results = append(t.results, result)
	return nil
}

func (t *fakeTransport) Close() error {
	t.finish(nil)
	return nil
}

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTransport) deliver(ev protocol.ServerEvent) {
	t.events <- ev
}

// finish simulates connection termination: err nil means a clean close.
func (t *fakeTransport) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if err != nil {
		t.err = err
	}
	close(t.events)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) sentResults() []protocol.ToolResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.ToolResult(nil), t.results...)
}

func (t *fakeTransport) sentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.frames...)
}

type fakeDialer struct {
	mu        sync.Mutex
	transport *fakeTransport
	dialErr   error
	setups    []protocol.Setup

	// entered/proceed, when set, let a test hold the dial mid-flight.
	entered chan struct{}
	proceed chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, setup protocol.Setup) (Transport, error) {
	d.mu.Lock()
	d.setups = append(d.setups, setup)
	entered, proceed := d.entered, d.proceed
	d.mu.Unlock()
	if entered != nil {
		close(entered)
		<-proceed
	}
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.transport, nil
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSession(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSession_StartSendsSetupAndGoesActive(t *testing.T) {
	devices := &fakeDeviceProvider{}
	dialer := &fakeDialer{transport: newFakeTransport()}
	s := newTestSession(t, SessionConfig{
		Model:   "voice-live-1",
		System:  "You are a sales agent.",
		Tools:   []protocol.ToolDecl{{Name: "schedule_meeting"}},
		Devices: devices,
		Dialer:  dialer,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if got := s.State(); got != StateActive {
		t.Fatalf("state = %q, want %q", got, StateActive)
	}
	if len(dialer.setups) != 1 {
		t.Fatalf("dialed %d times, want 1", len(dialer.setups))
	}
	setup := dialer.setups[0]
	if setup.Model != "voice-live-1" || setup.System != "You are a sales agent." {
		t.Fatalf("setup = %+v", setup)
	}
	if len(setup.Tools) != 1 || setup.Tools[0].Name != "schedule_meeting" {
		t.Fatalf("setup tools = %+v", setup.Tools)
	}
}

func TestSession_StartTwiceReturnsNotIdle(t *testing.T) {
	devices := &fakeDeviceProvider{}
	dialer := &fakeDialer{transport: newFakeTransport()}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionNotIdle) {
		t.Fatalf("second Start error = %v, want ErrSessionNotIdle", err)
	}
}

func TestSession_CaptureFramesReachTransport(t *testing.T) {
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	devices.captures[0].feed([]float32{0.5, -0.5})

	frames := transport.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	if want := EncodePCM16([]float32{0.5, -0.5}); string(frames[0]) != string(want) {
		t.Fatalf("frame bytes = %v, want %v", frames[0], want)
	}
}

func TestSession_AudioChunksPlayGaplessly(t *testing.T) {
	clock := newFakeClock()
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer, Clock: clock})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	transport.deliver(protocol.AudioChunk{Payload: EncodePCM16(make([]float32, 2400)), SampleRate: 24000})
	transport.deliver(protocol.AudioChunk{Payload: EncodePCM16(make([]float32, 1200)), SampleRate: 24000})

	waitUntil(t, "chunks scheduled", func() bool { return s.sink.Pending() == 2 })

	dev := devices.playbacks[0]
	clock.Advance(0)
	waitUntil(t, "first chunk played", func() bool { return dev.playedCount() == 1 })

	// Second chunk starts when the first 100ms chunk ends.
	clock.Advance(100 * time.Millisecond)
	waitUntil(t, "second chunk played", func() bool { return dev.playedCount() == 2 })
}

func TestSession_BargeInFlushesPlayback(t *testing.T) {
	clock := newFakeClock()
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer, Clock: clock})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	transport.deliver(protocol.AudioChunk{Payload: EncodePCM16(make([]float32, 24000)), SampleRate: 24000})
	waitUntil(t, "chunk scheduled", func() bool { return s.sink.Pending() == 1 })

	transport.deliver(protocol.Interrupted{})
	waitUntil(t, "playback flushed", func() bool { return s.sink.Pending() == 0 })

	dev := devices.playbacks[0]
	clock.Advance(10 * time.Second)
	if n := dev.playedCount(); n != 0 {
		t.Fatalf("played %d chunks after barge-in, want 0", n)
	}
}

func TestSession_TurnCompleteEmitsUserBeforeAgent(t *testing.T) {
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transport.deliver(protocol.PartialTranscript{Speaker: protocol.SpeakerAgent, Text: "Hi, this is Alex "})
	transport.deliver(protocol.PartialTranscript{Speaker: protocol.SpeakerAgent, Text: "from OmniTech."})
	transport.deliver(protocol.PartialTranscript{Speaker: protocol.SpeakerUser, Text: "Hello?"})
	transport.deliver(protocol.TurnComplete{})
	transport.finish(nil)
	<-s.Done()

	turns := s.Turns()
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2: %+v", len(turns), turns)
	}
	if turns[0].Speaker != protocol.SpeakerUser || turns[0].Text != "Hello?" {
		t.Fatalf("turn 0 = %+v, want user turn first", turns[0])
	}
	if turns[1].Speaker != protocol.SpeakerAgent || turns[1].Text != "Hi, this is Alex from OmniTech." {
		t.Fatalf("turn 1 = %+v", turns[1])
	}

	var emitted []TranscriptTurn
	for ev := range s.Events() {
		if turn, ok := ev.(TurnEvent); ok {
			emitted = append(emitted, turn.Turn)
		}
	}
	if len(emitted) != 2 || emitted[0].Speaker != protocol.SpeakerUser {
		t.Fatalf("emitted turns = %+v", emitted)
	}
}

func TestSession_ToolCallRoundTrip(t *testing.T) {
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{
		Devices: devices,
		Dialer:  dialer,
		Handlers: map[string]ToolDef{
			"schedule_meeting": {Handler: func(ctx context.Context, req ToolRequest) (string, error) {
				return fmt.Sprintf("Meeting booked for %v.", req.Arguments["date"]), nil
			}},
		},
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	transport.deliver(protocol.ToolCall{
		CallID:    "call-1",
		Name:      "schedule_meeting",
		Arguments: map[string]any{"date": "2026-09-03"},
	})

	waitUntil(t, "tool result sent", func() bool { return len(transport.sentResults()) == 1 })
	result := transport.sentResults()[0]
	if result.CallID != "call-1" || result.Name != "schedule_meeting" {
		t.Fatalf("result = %+v", result)
	}
	if result.Result != "Meeting booked for 2026-09-03." {
		t.Fatalf("result text = %q", result.Result)
	}
}

func TestSession_EndCallToolTearsDownSession(t *testing.T) {
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{
		Devices: devices,
		Dialer:  dialer,
		Handlers: map[string]ToolDef{
			"write_to_call_log": {
				EndsCall: true,
				Handler: func(ctx context.Context, req ToolRequest) (string, error) {
					return "Logged.", nil
				},
			},
		},
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transport.deliver(protocol.ToolCall{CallID: "call-9", Name: "write_to_call_log"})
	<-s.Done()

	if got := s.State(); got != StateClosed {
		t.Fatalf("state = %q, want %q", got, StateClosed)
	}
	if n := devices.leaked(); n != 0 {
		t.Fatalf("%d devices leaked", n)
	}
}

func TestSession_RemoteCloseReleasesEverything(t *testing.T) {
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transport.deliver(protocol.Closed{})
	<-s.Done()

	if got := s.State(); got != StateClosed {
		t.Fatalf("state = %q, want %q", got, StateClosed)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if n := devices.leaked(); n != 0 {
		t.Fatalf("%d devices leaked", n)
	}
}

func TestSession_TransportErrorMovesToErrored(t *testing.T) {
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bang := errors.New("connection reset")
	transport.finish(bang)
	<-s.Done()

	if got := s.State(); got != StateErrored {
		t.Fatalf("state = %q, want %q", got, StateErrored)
	}
	if err := s.Err(); !errors.Is(err, bang) {
		t.Fatalf("err = %v, want %v", err, bang)
	}
	if n := devices.leaked(); n != 0 {
		t.Fatalf("%d devices leaked", n)
	}
	notes := s.Notifications()
	if len(notes) == 0 {
		t.Fatalf("no notification recorded for connection loss")
	}
}

func TestSession_DeviceFailureLeavesIdleForRetry(t *testing.T) {
	devices := &fakeDeviceProvider{captureErr: errors.New("mic busy")}
	dialer := &fakeDialer{transport: newFakeTransport()}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	err := s.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start error = %v, want ErrDeviceUnavailable", err)
	}
	if got := s.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}

	// The same session restarts once the device comes back.
	devices.setCaptureErr(nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if got := s.State(); got != StateActive {
		t.Fatalf("state after retry = %q, want %q", got, StateActive)
	}
	s.Stop()
	if n := devices.leaked(); n != 0 {
		t.Fatalf("%d devices leaked", n)
	}
}

func TestSession_PlaybackFailureReleasesCaptureAndStaysIdle(t *testing.T) {
	devices := &fakeDeviceProvider{playbackErr: errors.New("no speaker")}
	dialer := &fakeDialer{transport: newFakeTransport()}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	err := s.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Start error = %v, want ErrDeviceUnavailable", err)
	}
	if got := s.State(); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}
	if n := devices.leaked(); n != 0 {
		t.Fatalf("%d devices leaked", n)
	}
}

func TestSession_DialFailureErrorsWithoutLeak(t *testing.T) {
	devices := &fakeDeviceProvider{}
	dialer := &fakeDialer{dialErr: errors.New("refused")}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("Start succeeded, want dial error")
	}
	if got := s.State(); got != StateErrored {
		t.Fatalf("state = %q, want %q", got, StateErrored)
	}
	if n := devices.leaked(); n != 0 {
		t.Fatalf("%d devices leaked", n)
	}
}

type countingMetrics struct {
	mu      sync.Mutex
	started int
	ended   []string
}

func (m *countingMetrics) SessionStarted() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *countingMetrics) SessionEnded(state string, elapsed time.Duration) {
	m.mu.Lock()
	m.ended = append(m.ended, state)
	m.mu.Unlock()
}

func (m *countingMetrics) ToolCall(string)              {}
func (m *countingMetrics) BargeIn()                     {}
func (m *countingMetrics) AudioScheduled(time.Duration) {}
func (m *countingMetrics) TurnCompleted(string)         {}

func (m *countingMetrics) counts() (int, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, append([]string(nil), m.ended...)
}

func TestSession_MetricsPairStartedWithEnded(t *testing.T) {
	// A session that never activates records neither a start nor an end.
	m := &countingMetrics{}
	s := newTestSession(t, SessionConfig{
		Devices: &fakeDeviceProvider{captureErr: errors.New("mic busy")},
		Dialer:  &fakeDialer{transport: newFakeTransport()},
		Metrics: m,
	})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("Start succeeded, want device error")
	}
	if started, ended := m.counts(); started != 0 || len(ended) != 0 {
		t.Fatalf("after device failure: started=%d ended=%v, want none", started, ended)
	}

	m = &countingMetrics{}
	s = newTestSession(t, SessionConfig{
		Devices: &fakeDeviceProvider{},
		Dialer:  &fakeDialer{dialErr: errors.New("refused")},
		Metrics: m,
	})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("Start succeeded, want dial error")
	}
	if started, ended := m.counts(); started != 0 || len(ended) != 0 {
		t.Fatalf("after dial failure: started=%d ended=%v, want none", started, ended)
	}

	// An activated session records exactly one of each.
	m = &countingMetrics{}
	s = newTestSession(t, SessionConfig{
		Devices: &fakeDeviceProvider{},
		Dialer:  &fakeDialer{transport: newFakeTransport()},
		Metrics: m,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	started, ended := m.counts()
	if started != 1 || len(ended) != 1 || ended[0] != string(StateClosed) {
		t.Fatalf("after full run: started=%d ended=%v, want 1 and [%q]", started, ended, StateClosed)
	}
}

func TestSession_StopDuringConnectingCancelsActivation(t *testing.T) {
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{
		transport: transport,
		entered:   make(chan struct{}),
		proceed:   make(chan struct{}),
	}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(context.Background()) }()

	<-dialer.entered
	s.Stop()
	close(dialer.proceed)

	if err := <-startErr; err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
	<-s.Done()
	if got := s.State(); got != StateClosed {
		t.Fatalf("state = %q, want %q", got, StateClosed)
	}
	if n := devices.leaked(); n != 0 {
		t.Fatalf("%d devices leaked", n)
	}
	if !transport.isClosed() {
		t.Fatalf("transport left open after cancelled activation")
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	devices := &fakeDeviceProvider{}
	transport := newFakeTransport()
	dialer := &fakeDialer{transport: transport}
	s := newTestSession(t, SessionConfig{Devices: devices, Dialer: dialer})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()

	if got := s.State(); got != StateClosed {
		t.Fatalf("state = %q, want %q", got, StateClosed)
	}
	if n := devices.leaked(); n != 0 {
		t.Fatalf("%d devices leaked", n)
	}
}
