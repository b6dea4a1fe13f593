package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omnitech-labs/omnidial/pkg/voice/protocol"
)

// ToolRequest is the payload handed to a tool handler: the call arguments
// plus a snapshot of the conversation so far (finalized turns and any
// pending partials).
type ToolRequest struct {
	CallID     string
	Name       string
	Arguments  map[string]any
	Transcript []TranscriptTurn
}

// ToolHandler executes one tool invocation and returns the result text
// reported back to the backend. Errors are caught and converted into a
// failure result; they never end the session.
type ToolHandler func(ctx context.Context, req ToolRequest) (string, error)

// ToolDef registers a handler. EndsCall marks the handler whose completion
// tears the session down (the "finalize call record" tool): teardown runs
// before the result is sent, so a remote-initiated end-of-call does not
// leave the audio channel open.
type ToolDef struct {
	Handler  ToolHandler
	EndsCall bool
}

// ToolCallDispatcher correlates inbound tool calls to registered handlers
// and guarantees exactly one result per invocation, including for
// unregistered names. Dispatch is asynchronous: the audio pipeline keeps
// flowing while a handler runs.
type ToolCallDispatcher struct {
	handlers map[string]ToolDef
	logger   *slog.Logger

	mu       sync.Mutex
	send     func(protocol.ToolResult) error
	endCall  func()
	snapshot func() []TranscriptTurn

	wg sync.WaitGroup
}

// NewToolCallDispatcher builds a dispatcher over a handler table.
func NewToolCallDispatcher(handlers map[string]ToolDef, logger *slog.Logger) *ToolCallDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[string]ToolDef, len(handlers))
	for name, def := range handlers {
		table[name] = def
	}
	return &ToolCallDispatcher{handlers: table, logger: logger}
}

// Bind wires the dispatcher to its session: the result sender, the
// end-of-call trigger, and the transcript snapshot source.
func (d *ToolCallDispatcher) Bind(send func(protocol.ToolResult) error, endCall func(), snapshot func() []TranscriptTurn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.send = send
	d.endCall = endCall
	d.snapshot = snapshot
}

// Dispatch resolves one tool call in the background.
func (d *ToolCallDispatcher) Dispatch(ctx context.Context, call protocol.ToolCall) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.resolve(ctx, call)
	}()
}

// Wait blocks until all in-flight dispatches have resolved.
func (d *ToolCallDispatcher) Wait() {
	d.wg.Wait()
}

func (d *ToolCallDispatcher) resolve(ctx context.Context, call protocol.ToolCall) {
	def, ok := d.handlers[call.Name]
	if !ok {
		d.logger.Warn("tool call has no registered handler", "tool", call.Name, "call_id", call.CallID)
		d.reply(call, fmt.Sprintf("Tool %q is not implemented.", call.Name))
		return
	}

	req := ToolRequest{
		CallID:    call.CallID,
		Name:      call.Name,
		Arguments: call.Arguments,
	}
	if snap := d.snapshotFn(); snap != nil {
		req.Transcript = snap()
	}

	result, err := def.Handler(ctx, req)
	if err != nil {
		d.logger.Warn("tool handler failed", "tool", call.Name, "call_id", call.CallID, "error", err)
		result = fmt.Sprintf("Tool %q failed: %v", call.Name, err)
	}
	if result == "" {
		result = fmt.Sprintf("Tool %q executed successfully.", call.Name)
	}

	if def.EndsCall {
		if end := d.endCallFn(); end != nil {
			end()
		}
	}
	d.reply(call, result)
}

func (d *ToolCallDispatcher) reply(call protocol.ToolCall, result string) {
	send := d.sendFn()
	if send == nil {
		return
	}
	if err := send(protocol.NewToolResult(call.CallID, call.Name, result)); err != nil {
		// Expected when an EndsCall handler already closed the
		// connection; the remote side ended the turn itself.
		d.logger.Debug("tool result not delivered", "tool", call.Name, "call_id", call.CallID, "error", err)
	}
}

func (d *ToolCallDispatcher) sendFn() func(protocol.ToolResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send
}

func (d *ToolCallDispatcher) endCallFn() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endCall
}

func (d *ToolCallDispatcher) snapshotFn() func() []TranscriptTurn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}
