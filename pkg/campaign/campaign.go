// Package campaign drives an outbound calling campaign: one voice session
// at a time against the call queue, with pause, resume, and stop control.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omnitech-labs/omnidial/pkg/crm"
	"github.com/omnitech-labs/omnidial/pkg/voice"
)

// Status is the campaign lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusCalling  Status = "calling"
	StatusPausing  Status = "pausing"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// ErrQueueEmpty rejects starting a campaign with nothing to dial.
var ErrQueueEmpty = errors.New("call queue is empty")

// ErrNotIdle rejects starting a campaign that is already underway.
var ErrNotIdle = errors.New("campaign is already running")

// DefaultInterCallDelay separates consecutive calls.
const DefaultInterCallDelay = 5 * time.Second

// CallResult is what a finished call session reports back.
type CallResult struct {
	// Disposition is the logged outcome; empty when the call ended
	// without a log entry.
	Disposition crm.ProspectStatus

	// Logged reports whether the agent finalized a call record. Logged
	// calls leave the queue; unlogged ones stay for a retry.
	Logged bool
}

// CallSession is one dialed call owned by the orchestrator.
type CallSession interface {
	Start(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
	Result() CallResult
}

// SessionFactory builds the call session for one prospect.
type SessionFactory func(prospect crm.Prospect) (CallSession, error)

// QueueProvider is the slice of the CRM store the orchestrator needs.
type QueueProvider interface {
	ListQueue(ctx context.Context) ([]crm.CallQueueItem, error)
	RemoveFromQueue(ctx context.Context, prospectID int64) error
}

// Metrics receives campaign telemetry.
type Metrics interface {
	CallCompleted(disposition string)
}

// Config configures an Orchestrator.
type Config struct {
	Queue   QueueProvider
	Factory SessionFactory

	// Delay between calls; defaults to DefaultInterCallDelay.
	Delay time.Duration

	// Clock defaults to the wall clock.
	Clock voice.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnNotification, when set, observes each notification as it is
	// logged.
	OnNotification func(voice.NotificationEvent)

	// Metrics is optional.
	Metrics Metrics
}

// Orchestrator runs the queue one call at a time. Pausing lets the
// in-flight call finish; stopping tears it down immediately.
type Orchestrator struct {
	queue   QueueProvider
	factory SessionFactory
	delay   time.Duration
	clock   voice.Clock
	logger  *slog.Logger
	notify  func(voice.NotificationEvent)
	metrics Metrics

	notifications *voice.NotificationLog

	mu             sync.Mutex
	cond           *sync.Cond
	status         Status
	items          []crm.CallQueueItem
	index          int
	pendingAdvance bool
	session        CallSession
	stopCh         chan struct{}
	runDone        chan struct{}
}

// NewOrchestrator builds an idle orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("campaign config: queue provider is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("campaign config: session factory is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = voice.RealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultInterCallDelay
	}
	o := &Orchestrator{
		queue:         cfg.Queue,
		factory:       cfg.Factory,
		delay:         delay,
		clock:         clock,
		logger:        logger,
		notify:        cfg.OnNotification,
		metrics:       cfg.Metrics,
		notifications: voice.NewNotificationLog(clock),
		status:        StatusIdle,
		index:         -1,
	}
	o.cond = sync.NewCond(&o.mu)
	return o, nil
}

// Status returns the current campaign state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// CurrentIndex returns the queue index of the in-flight (or next) call,
// or -1 outside a run.
func (o *Orchestrator) CurrentIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.index
}

// Queue returns the orchestrator's working copy of the call queue.
func (o *Orchestrator) Queue() []crm.CallQueueItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]crm.CallQueueItem(nil), o.items...)
}

// Notifications returns the most recent campaign notifications.
func (o *Orchestrator) Notifications() []voice.NotificationEvent {
	return o.notifications.Recent()
}

// Done is closed when the current run ends (finished or stopped). Nil
// before the first Start.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runDone
}

// Start loads the queue and begins dialing from the front. It rejects an
// empty queue with ErrQueueEmpty and a non-idle campaign with ErrNotIdle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if !o.startableLocked() {
		o.mu.Unlock()
		return ErrNotIdle
	}
	o.mu.Unlock()

	items, err := o.queue.ListQueue(ctx)
	if err != nil {
		o.record("Error fetching call queue: " + err.Error())
		return fmt.Errorf("list call queue: %w", err)
	}
	if len(items) == 0 {
		o.record("Cannot start: queue is empty.")
		return ErrQueueEmpty
	}

	o.mu.Lock()
	if !o.startableLocked() {
		o.mu.Unlock()
		return ErrNotIdle
	}
	o.items = items
	o.index = 0
	o.pendingAdvance = false
	o.status = StatusCalling
	o.stopCh = make(chan struct{})
	o.runDone = make(chan struct{})
	runDone := o.runDone
	o.mu.Unlock()

	o.record("Starting campaign...")
	go func() {
		defer close(runDone)
		o.run(ctx)
	}()
	return nil
}

// startableLocked reports whether a new run may begin. A stopped run's
// goroutine may still be unwinding after Stop flips the status back to
// idle; refuse to overlap it. Callers hold o.mu.
func (o *Orchestrator) startableLocked() bool {
	if o.status != StatusIdle && o.status != StatusFinished {
		return false
	}
	if o.runDone != nil {
		select {
		case <-o.runDone:
		default:
			return false
		}
	}
	return true
}

// Pause lets the in-flight call finish, then halts before the next one.
// Only valid while calling.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	if o.status != StatusCalling {
		o.mu.Unlock()
		return
	}
	o.status = StatusPausing
	o.mu.Unlock()
	o.record("Pausing campaign after this call...")
}

// Resume continues a paused campaign with the next queued prospect.
func (o *Orchestrator) Resume(ctx context.Context) {
	items, listErr := o.queue.ListQueue(ctx)

	o.mu.Lock()
	if o.status != StatusPaused {
		o.mu.Unlock()
		return
	}
	// Pick up queue edits made while paused; the index is kept as-is.
	if listErr == nil {
		o.items = items
	}
	o.status = StatusCalling
	o.cond.Broadcast()
	o.mu.Unlock()
	o.record("Resuming campaign...")
}

// Stop tears down the in-flight call immediately and resets to idle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.status == StatusIdle || o.status == StatusFinished {
		o.mu.Unlock()
		return
	}
	o.status = StatusIdle
	o.index = -1
	session := o.session
	stopCh := o.stopCh
	runDone := o.runDone
	o.cond.Broadcast()
	o.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if session != nil {
		session.Stop()
	}
	o.record("Campaign stopped by user.")
	if runDone != nil {
		<-runDone
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	for {
		o.mu.Lock()
		for o.status == StatusPaused {
			o.cond.Wait()
		}
		if o.status == StatusIdle {
			o.mu.Unlock()
			return
		}
		if o.pendingAdvance {
			o.index++
			o.pendingAdvance = false
		}
		if o.index >= len(o.items) {
			o.status = StatusFinished
			o.index = -1
			o.mu.Unlock()
			o.record("Campaign finished. All prospects have been contacted.")
			return
		}
		item := o.items[o.index]
		o.mu.Unlock()

		o.runCall(ctx, item)

		o.mu.Lock()
		switch o.status {
		case StatusIdle:
			o.mu.Unlock()
			return
		case StatusPausing:
			o.status = StatusPaused
			o.mu.Unlock()
			o.record("Campaign paused.")
			continue
		}
		more := o.index+boolToInt(o.pendingAdvance) < len(o.items)
		o.mu.Unlock()

		if more {
			o.record(fmt.Sprintf("Waiting %s before next call...", o.delay))
			if !o.sleep() {
				return
			}
		}
	}
}

// runCall dials one prospect and applies the outcome: a logged call
// leaves the queue (the next item slides into this index), an unlogged
// one advances the index past it.
func (o *Orchestrator) runCall(ctx context.Context, item crm.CallQueueItem) {
	o.record(fmt.Sprintf("Calling %s at %s...", item.Contact, item.Company))

	session, err := o.factory(item.Prospect)
	if err != nil {
		o.record("Error: " + err.Error())
		o.markAdvance()
		return
	}

	o.mu.Lock()
	o.session = session
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.session = nil
		o.mu.Unlock()
	}()

	if err := session.Start(ctx); err != nil {
		o.record("Error: " + err.Error())
		o.markAdvance()
		return
	}
	<-session.Done()

	result := session.Result()
	if o.metrics != nil {
		o.metrics.CallCompleted(string(result.Disposition))
	}
	if !result.Logged {
		o.markAdvance()
		return
	}

	o.record(fmt.Sprintf("Log successful. Disposition: %s.", result.Disposition))
	if err := o.queue.RemoveFromQueue(ctx, item.ID); err != nil && !errors.Is(err, crm.ErrNotInQueue) {
		o.logger.Warn("remove prospect from queue", "prospect", item.ID, "error", err)
	}
	o.mu.Lock()
	for i, queued := range o.items {
		if queued.ID == item.ID {
			o.items = append(o.items[:i], o.items[i+1:]...)
			break
		}
	}
	o.mu.Unlock()
}

func (o *Orchestrator) markAdvance() {
	o.mu.Lock()
	o.pendingAdvance = true
	o.mu.Unlock()
}

// sleep waits the inter-call delay; false means the campaign was stopped
// while waiting.
func (o *Orchestrator) sleep() bool {
	o.mu.Lock()
	stopCh := o.stopCh
	o.mu.Unlock()

	fired := make(chan struct{})
	timer := o.clock.AfterFunc(o.delay, func() { close(fired) })
	select {
	case <-fired:
		return true
	case <-stopCh:
		timer.Stop()
		return false
	}
}

func (o *Orchestrator) record(message string) {
	entry := o.notifications.Add(message)
	o.logger.Info(message)
	if o.notify != nil {
		o.notify(entry)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
