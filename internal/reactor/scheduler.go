package reactor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remoteexec/rexecd/internal/config"
	"github.com/remoteexec/rexecd/internal/eventbus"
	"github.com/remoteexec/rexecd/internal/queue"
	"github.com/remoteexec/rexecd/internal/watchdog"
)

// CompletedStore is where terminal operations are archived once removed
// from the in-flight map (component I, typically a DelegateCASMap[Operation]).
type CompletedStore interface {
	Put(name string, op Operation) error
	Get(name string) (Operation, bool, error)
}

// Scheduler is the lifecycle controller (component G): the single owner
// of operation state transitions, watchdog installation/teardown, and
// watcher fan-out. Its mutex coalesces the "operation-name lock" the
// specification allows implementations to collapse into one global
// monitor, as long as terminal-transition serialisation holds.
type Scheduler struct {
	cfg config.Config

	mu         sync.Mutex
	ops        *OperationsMap
	pollDogs   map[string]*watchdog.Watchdog
	doneDogs   map[string]*watchdog.Watchdog

	matcher   *queue.Matcher[string]
	watchers  *WatcherRegistry
	fanout    *fanoutSequencer
	completed CompletedStore
	events    *eventbus.Bus
	dogMetrics *watchdog.Metrics

	nameGen func() string
}

// New constructs a Scheduler. events and dogMetrics may be nil (no-op
// observability); completed must not be nil.
func New(cfg config.Config, completed CompletedStore, events *eventbus.Bus, dogMetrics *watchdog.Metrics) *Scheduler {
	watchers := NewWatcherRegistry()
	return &Scheduler{
		cfg:       cfg,
		ops:       NewOperationsMap(),
		pollDogs:  make(map[string]*watchdog.Watchdog),
		doneDogs:  make(map[string]*watchdog.Watchdog),
		matcher:   queue.New[string](),
		watchers:  watchers,
		fanout:    newFanoutSequencer(watchers),
		completed: completed,
		events:    events,
		dogMetrics: dogMetrics,
		nameGen:   func() string { return "operations/" + uuid.NewString() },
	}
}

func durationFrom(d time.Duration) Duration {
	return Duration{Seconds: int64(d / time.Second), Nanos: int32(d % time.Second)}
}

// Execute implements the execute(action) external interface: validates
// the action's timeout, assigns an operation name, records it, and
// enqueues it with the matcher. A parked worker whose platform already
// satisfies the command dispatches immediately.
func (s *Scheduler) Execute(action Action) (string, error) {
	maxTimeout := durationFrom(s.cfg.MaximumActionTimeout)
	if action.Timeout != nil && action.Timeout.Compare(maxTimeout) > 0 {
		return "", &TimeoutBoundsError{Requested: *action.Timeout, Maximum: maxTimeout}
	}

	name := s.nameGen()
	op := Operation{Name: name, Action: action, Stage: StageQueued}

	s.mu.Lock()
	s.ops.Put(op)
	s.mu.Unlock()

	s.publishQueued(name, op)
	s.fanout.enqueue(name, op)

	s.matcher.Enqueue(name, platformOf(action))
	return name, nil
}

func platformOf(action Action) Platform {
	if action.Command == nil {
		return nil
	}
	return action.Command.Platform
}

func (s *Scheduler) publishQueued(name string, op Operation) {
	if s.events != nil {
		s.events.PublishQueued(name, op)
	}
}

func (s *Scheduler) publishDispatched(name string, op Operation) {
	if s.events != nil {
		s.events.PublishDispatched(name, op)
	}
}

func (s *Scheduler) publishUpdated(name string, op Operation) {
	if s.events != nil {
		s.events.PublishUpdated(name, op)
	}
}

func (s *Scheduler) publishCompleted(name string, op Operation) {
	if s.events != nil {
		s.events.PublishCompleted(name, op)
	}
}

// Match implements the worker-side match(platform, onMatch) entry point.
// onMatch is the opaque worker executor callback; this wrapper installs
// the watchdogs and performs the EXECUTING transition only once onMatch
// accepts, per the "on a positive match" ordering in §2.
func (s *Scheduler) Match(platform Platform, onMatch func(operationName string) bool) bool {
	wrapped := func(name string) bool {
		if !onMatch(name) {
			return false
		}
		s.dispatch(name)
		return true
	}
	return s.matcher.Offer(platform, wrapped, s.requeue)
}

func (s *Scheduler) dispatch(name string) {
	s.mu.Lock()
	op, ok := s.ops.Get(name)
	if !ok {
		s.mu.Unlock()
		return
	}
	op.Stage = StageExecuting
	s.ops.Put(op)

	s.installPollWatchdog(name)
	s.installCompletionWatchdog(name, op)
	s.mu.Unlock()

	s.publishDispatched(name, op)
	s.fanout.enqueue(name, op)
}

// installPollWatchdog must be called with s.mu held.
func (s *Scheduler) installPollWatchdog(name string) {
	if _, exists := s.pollDogs[name]; exists {
		return
	}
	w := watchdog.New(s.cfg.OperationPollTimeout, func() { s.onPollExpired(name) })
	s.pollDogs[name] = w
	s.dogMetrics.Armed()
	w.Start()
}

// installCompletionWatchdog must be called with s.mu held. Per the
// resolved open question, any prior completion watchdog for name is
// explicitly stopped before a replacement is installed, rather than
// silently overwritten.
func (s *Scheduler) installCompletionWatchdog(name string, op Operation) {
	s.stopCompletionWatchdogLocked(name)

	actionTimeout := s.cfg.DefaultActionTimeout
	if op.Action.Timeout != nil {
		actionTimeout = op.Action.Timeout.ToDuration()
	}
	if actionTimeout <= 0 {
		return
	}

	interval := actionTimeout + s.cfg.OperationCompletedDelay
	w := watchdog.New(interval, func() { s.onCompletionExpired(name) })
	s.doneDogs[name] = w
	s.dogMetrics.Armed()
	w.Start()
}

func (s *Scheduler) stopPollWatchdogLocked(name string) {
	if w, ok := s.pollDogs[name]; ok {
		w.Stop()
		delete(s.pollDogs, name)
		s.dogMetrics.Disarmed()
	}
}

func (s *Scheduler) stopCompletionWatchdogLocked(name string) {
	if w, ok := s.doneDogs[name]; ok {
		w.Stop()
		delete(s.doneDogs, name)
		s.dogMetrics.Disarmed()
	}
}

// onPollExpired is the requeue-guard watchdog firing: treated as worker
// loss, the operation returns to QUEUED.
func (s *Scheduler) onPollExpired(name string) {
	s.dogMetrics.RecordFired(context.Background(), watchdog.KindPoll)
	s.requeue(name)
}

// onCompletionExpired is the absolute-deadline watchdog firing: treated
// as action failure, a synthetic done operation is installed.
func (s *Scheduler) onCompletionExpired(name string) {
	s.dogMetrics.RecordFired(context.Background(), watchdog.KindCompletion)

	s.mu.Lock()
	op, ok := s.ops.Get(name)
	if !ok {
		s.mu.Unlock()
		return
	}
	op.Done = true
	op.Result = &ActionResult{ExitCode: -1, Status: ExecuteStatus{Code: 4, Message: "deadline exceeded"}}
	s.mu.Unlock()

	s.putLocked(op)
}

// requeue is the standard requeue path, shared by the poll-watchdog
// firing and the matcher's inviable/rejected-offer callback. It stops
// both watchdogs (the completion watchdog may not exist yet, in which
// case the stop is a no-op), pushes the operation back onto the queue
// tail, and fans out the QUEUED snapshot so watchers observe the
// transition.
func (s *Scheduler) requeue(name string) {
	s.mu.Lock()
	op, ok := s.ops.Get(name)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.stopPollWatchdogLocked(name)
	s.stopCompletionWatchdogLocked(name)
	op.Stage = StageQueued
	s.ops.Put(op)
	s.mu.Unlock()

	s.publishQueued(name, op)
	s.fanout.enqueue(name, op)

	s.matcher.Requeue(name, platformOf(op.Action))
}

// Poll implements poll(name, stage) -> bool: pets the poll watchdog iff
// the caller's view of the stage matches the operation's current stage.
func (s *Scheduler) Poll(name string, stage Stage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops.Get(name)
	if !ok || op.Stage != StageExecuting || stage != op.Stage {
		return false
	}
	if w, ok := s.pollDogs[name]; ok {
		w.Pet()
	}
	return true
}

// PutOperation implements putOperation(operation) -> bool.
func (s *Scheduler) PutOperation(updated Operation) bool {
	return s.putLocked(updated)
}

func (s *Scheduler) putLocked(updated Operation) bool {
	s.mu.Lock()
	current, ok := s.ops.Get(updated.Name)
	if !ok || current.Stage != StageExecuting {
		s.mu.Unlock()
		return false
	}

	if !updated.Done {
		if _, exists := s.pollDogs[updated.Name]; !exists {
			s.installPollWatchdog(updated.Name)
		} else {
			s.pollDogs[updated.Name].Pet()
		}
		updated.Stage = StageExecuting
		s.ops.Put(updated)
		s.mu.Unlock()

		s.publishUpdated(updated.Name, updated)
		s.fanout.enqueue(updated.Name, updated)
		return true
	}

	s.stopPollWatchdogLocked(updated.Name)
	s.stopCompletionWatchdogLocked(updated.Name)
	updated.Stage = StageCompleted
	s.ops.Remove(updated.Name)
	s.mu.Unlock()

	if s.completed != nil {
		_ = s.completed.Put(updated.Name, updated)
	}

	s.publishCompleted(updated.Name, updated)
	// enqueueSync joins the same per-name lane as the non-terminal
	// enqueue calls above, so it only delivers once every earlier
	// snapshot for this name has drained, and only then is it safe to
	// clear the name's watchers.
	s.fanout.enqueueSync(updated.Name, updated)
	s.watchers.Clear(updated.Name)
	return true
}

// GetOperation implements getOperation(name), checking the in-flight map
// first and falling back to the completed-operations archive.
func (s *Scheduler) GetOperation(name string) (Operation, bool) {
	s.mu.Lock()
	op, ok := s.ops.Get(name)
	s.mu.Unlock()
	if ok {
		return op, true
	}
	if s.completed == nil {
		return Operation{}, false
	}
	op, ok, err := s.completed.Get(name)
	if err != nil || !ok {
		return Operation{}, false
	}
	return op, true
}

// ListOperations implements listOperations(pageToken, pageSize).
func (s *Scheduler) ListOperations(pageToken string, pageSize int) ([]string, string, error) {
	if pageSize <= 0 {
		pageSize = s.cfg.ListOperationsDefaultPageSize
	}
	if pageSize > s.cfg.ListOperationsMaxPageSize {
		pageSize = s.cfg.ListOperationsMaxPageSize
	}
	names := s.ops.Names()
	return ListOperations(names, pageToken, pageSize)
}

// InFlightCount reports the number of operations currently tracked in
// the in-flight map (i.e. not yet archived to the completed store).
func (s *Scheduler) InFlightCount() int {
	return s.ops.Len()
}

// WaitExecution implements waitExecution(operationName, watcher) using
// the registry's at-least-once watch protocol.
func (s *Scheduler) WaitExecution(name string, watcher Watcher) bool {
	return s.watchers.Watch(name, watcher, s.lookup)
}

func (s *Scheduler) lookup(name string) (Operation, bool) {
	return s.GetOperation(name)
}
