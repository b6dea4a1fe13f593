package voice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnitech-labs/omnidial/pkg/voice/protocol"
)

const defaultDialTimeout = 15 * time.Second

// Transport is a live connection to the voice backend. Implementations
// deliver decoded server events on Events() until the connection ends,
// then close the channel.
type Transport interface {
	// Events yields server events. The channel closes when the
	// connection terminates for any reason.
	Events() <-chan protocol.ServerEvent

	// SendAudioFrame sends one captured PCM frame upstream.
	SendAudioFrame(pcm []byte) error

	// SendToolResult sends a tool invocation result upstream.
	SendToolResult(result protocol.ToolResult) error

	// Close tears the connection down and waits for the read side to
	// drain. Safe to call more than once.
	Close() error

	// Err returns the terminal transport error after Events() closes,
	// or nil for a clean remote close.
	Err() error
}

// Dialer opens a Transport for a session. The setup frame describes the
// agent configuration the backend should run with.
type Dialer interface {
	Dial(ctx context.Context, setup protocol.Setup) (Transport, error)
}

// WebSocketDialer dials the voice backend over a websocket and sends
// the setup frame as the first message.
type WebSocketDialer struct {
	// URL is the backend endpoint. http(s) schemes are rewritten to
	// ws(s).
	URL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// Logger, when nil, defaults to slog.Default().
	Logger *slog.Logger
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, setup protocol.Setup) (Transport, error) {
	wsURL, err := websocketEndpoint(d.URL)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	if key := strings.TrimSpace(d.APIKey); key != "" {
		headers.Set("Authorization", "Bearer "+key)
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &ConnectionError{Op: "dial", Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Op: "setup", Err: err}
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &wsTransport{
		conn:   conn,
		logger: logger,
		events: make(chan protocol.ServerEvent, 256),
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func websocketEndpoint(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid backend URL %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("backend URL %q must use http(s) or ws(s)", raw)
	}
	return u.String(), nil
}

type wsTransport struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events chan protocol.ServerEvent
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func (t *wsTransport) Events() <-chan protocol.ServerEvent {
	return t.events
}

func (t *wsTransport) SendAudioFrame(pcm []byte) error {
	return t.sendJSON(protocol.NewAudioFrame(pcm))
}

func (t *wsTransport) SendToolResult(result protocol.ToolResult) error {
	return t.sendJSON(result)
}

func (t *wsTransport) sendJSON(v any) error {
	if t.closed.Load() {
		return &ConnectionError{Op: "send", Err: fmt.Errorf("transport is closed")}
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteJSON(v); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = t.conn.Close()
	})
	<-t.done
	return nil
}

func (t *wsTransport) Err() error {
	<-t.done
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *wsTransport) setErr(err error) {
	if err == nil {
		return
	}
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *wsTransport) readLoop() {
	defer close(t.done)
	defer close(t.events)

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || t.closed.Load() {
				return
			}
			t.setErr(&ConnectionError{Op: "read", Err: err})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		event, err := protocol.DecodeServerEvent(data)
		if err != nil {
			t.setErr(err)
			return
		}
		t.emit(event)
	}
}

func (t *wsTransport) emit(event protocol.ServerEvent) {
	select {
	case t.events <- event:
	default:
		// Avoid deadlocking the read loop if the consumer stalls.
		if t.logger != nil {
			t.logger.Debug("dropped server event, consumer stalled", "event", fmt.Sprintf("%T", event))
		}
	}
}
