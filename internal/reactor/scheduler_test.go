package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/remoteexec/rexecd/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MaximumActionTimeout = 600 * time.Second
	cfg.DefaultActionTimeout = 200 * time.Millisecond
	cfg.OperationCompletedDelay = 100 * time.Millisecond
	cfg.OperationPollTimeout = 80 * time.Millisecond
	return cfg
}

func newTestScheduler(cfg config.Config) *Scheduler {
	return New(cfg, NewCompletedStore(NewMemoryBlobStore()), nil, nil)
}

func linuxAction() Action {
	return Action{
		Command: &Command{Platform: NewPlatformForTest("os", "linux")},
	}
}

// NewPlatformForTest avoids importing the queue package's constructor name
// directly in every test.
func NewPlatformForTest(name, value string) Platform {
	p := make(Platform)
	p.Add(name, value)
	return p
}

func awaitStage(t *testing.T, s *Scheduler, name string, stage Stage, timeout time.Duration) Operation {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if op, ok := s.GetOperation(name); ok && op.Stage == stage {
			return op
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for operation %q to reach stage %v", name, stage)
	return Operation{}
}

// S1 — Happy path: dispatch, poll a few times, put done. A background
// watcher records every snapshot it observes via the fan-out path.
func TestHappyPath(t *testing.T) {
	cfg := testConfig()
	s := newTestScheduler(cfg)

	name, err := s.Execute(linuxAction())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var mu sync.Mutex
	var sawDone bool
	go s.WaitExecution(name, func(op Operation) bool {
		mu.Lock()
		sawDone = sawDone || op.Done
		mu.Unlock()
		return !op.Done
	})

	matched := s.Match(NewPlatformForTest("os", "linux"), func(string) bool { return true })
	if !matched {
		t.Fatal("expected worker to match the queued operation")
	}

	awaitStage(t, s, name, StageExecuting, time.Second)

	if !s.Poll(name, StageExecuting) {
		t.Fatal("expected poll to succeed while executing")
	}

	if !s.PutOperation(Operation{Name: name, Done: true, Result: &ActionResult{Status: OK}}) {
		t.Fatal("expected PutOperation(done) to succeed")
	}

	if s.ops.Contains(name) {
		t.Fatal("expected operation to be removed from the in-flight map once done")
	}
	op, ok := s.GetOperation(name)
	if !ok || !op.Done {
		t.Fatal("expected GetOperation to find the archived terminal operation")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := sawDone
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the registered watcher to observe the terminal snapshot")
}

// S2 — Requeue: poll watchdog fires, operation returns to QUEUED, and a
// second worker completes it.
func TestRequeueOnMissedPoll(t *testing.T) {
	cfg := testConfig()
	cfg.OperationPollTimeout = 30 * time.Millisecond
	s := newTestScheduler(cfg)

	name, err := s.Execute(linuxAction())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !s.Match(NewPlatformForTest("os", "linux"), func(string) bool { return true }) {
		t.Fatal("expected W1 to match")
	}

	// W1 never polls again; wait for the requeue watchdog to fire.
	time.Sleep(120 * time.Millisecond)

	op, ok := s.GetOperation(name)
	if !ok {
		t.Fatal("expected operation still tracked after requeue")
	}
	if op.Stage != StageQueued {
		t.Fatalf("expected QUEUED after missed poll, got %v", op.Stage)
	}

	if !s.Match(NewPlatformForTest("os", "linux"), func(string) bool { return true }) {
		t.Fatal("expected W2 to pick up the requeued operation")
	}

	if !s.PutOperation(Operation{Name: name, Done: true, Result: &ActionResult{Status: OK}}) {
		t.Fatal("expected PutOperation(done) to succeed after second dispatch")
	}
}

// S3 — Completion deadline: action times out with no terminal put.
func TestCompletionDeadlineExpires(t *testing.T) {
	cfg := testConfig()
	short := 60 * time.Millisecond
	cfg.DefaultActionTimeout = short
	cfg.OperationCompletedDelay = 20 * time.Millisecond
	cfg.OperationPollTimeout = time.Second // keep polling alive throughout

	s := newTestScheduler(cfg)

	name, err := s.Execute(linuxAction())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	s.Match(NewPlatformForTest("os", "linux"), func(string) bool { return true })

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		op, ok := s.GetOperation(name)
		if ok && op.Done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected completion watchdog to synthesise a terminal result")
}

// S4 — Inviable worker: W2 passes the platform check but declines via
// onMatch; the operation stays queued and W2 is discarded (not re-parked).
func TestInviableWorkerDiscarded(t *testing.T) {
	cfg := testConfig()
	s := newTestScheduler(cfg)

	name, err := s.Execute(linuxAction())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if s.Match(NewPlatformForTest("os", "linux"), func(string) bool { return false }) {
		t.Fatal("W2 declined, expected no match")
	}

	if s.matcher.ParkedWorkers() != 0 {
		t.Fatalf("ParkedWorkers = %d, want 0: inviable worker must be discarded", s.matcher.ParkedWorkers())
	}

	var dispatchedTo string
	matched := s.Match(NewPlatformForTest("os", "linux"), func(op string) bool {
		dispatchedTo = op
		return true
	})
	if !matched {
		t.Fatal("W3 should complete the dispatch")
	}
	if dispatchedTo != name {
		t.Fatalf("dispatched %q, want %q", dispatchedTo, name)
	}
}

// S5 — Late watcher: registration races the terminal transition but
// still observes the terminal snapshot exactly once.
func TestLateWatcherObservesTerminalSnapshot(t *testing.T) {
	cfg := testConfig()
	s := newTestScheduler(cfg)

	name, err := s.Execute(linuxAction())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	s.Match(NewPlatformForTest("os", "linux"), func(string) bool { return true })

	if !s.PutOperation(Operation{Name: name, Done: true, Result: &ActionResult{Status: OK}}) {
		t.Fatal("expected put(done) to succeed")
	}

	var calls int
	var mu sync.Mutex
	ok := s.WaitExecution(name, func(op Operation) bool {
		mu.Lock()
		calls++
		mu.Unlock()
		return !op.Done
	})
	if !ok {
		t.Fatal("expected Watch to report the terminal observation")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one invocation for the late watcher, got %d", calls)
	}
}

// S6 — Invalid timeout: exceeding maximumActionTimeout rejects the
// submission outright.
func TestInvalidTimeoutRejected(t *testing.T) {
	cfg := testConfig()
	cfg.MaximumActionTimeout = 600 * time.Second
	s := newTestScheduler(cfg)

	over := Duration{Seconds: 601}
	_, err := s.Execute(Action{
		Timeout: &over,
		Command: &Command{Platform: NewPlatformForTest("os", "linux")},
	})
	if err == nil {
		t.Fatal("expected an error for a timeout exceeding the maximum")
	}
	var tberr *TimeoutBoundsError
	if !asTimeoutBoundsError(err, &tberr) {
		t.Fatalf("expected a *TimeoutBoundsError, got %T: %v", err, err)
	}
}

func asTimeoutBoundsError(err error, target **TimeoutBoundsError) bool {
	if e, ok := err.(*TimeoutBoundsError); ok {
		*target = e
		return true
	}
	return false
}

// S7 — Fan-out ordering: a watcher observes every non-terminal snapshot
// in the same order the transitions that produced them occurred, and
// the terminal snapshot only after every earlier one (§5).
func TestFanOutPreservesLifecycleOrder(t *testing.T) {
	cfg := testConfig()
	s := newTestScheduler(cfg)

	name, err := s.Execute(linuxAction())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var mu sync.Mutex
	var stages []Stage
	var sawDone bool
	done := make(chan struct{})
	go s.WaitExecution(name, func(op Operation) bool {
		mu.Lock()
		stages = append(stages, op.Stage)
		if op.Done {
			sawDone = true
		}
		mu.Unlock()
		if op.Done {
			close(done)
		}
		return !op.Done
	})

	if !s.Match(NewPlatformForTest("os", "linux"), func(string) bool { return true }) {
		t.Fatal("expected worker to match the queued operation")
	}
	awaitStage(t, s, name, StageExecuting, time.Second)

	if !s.PutOperation(Operation{Name: name, Stage: StageExecuting}) {
		t.Fatal("expected a non-terminal put to succeed while executing")
	}
	if !s.PutOperation(Operation{Name: name, Done: true, Result: &ActionResult{Status: OK}}) {
		t.Fatal("expected PutOperation(done) to succeed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the watcher to observe the terminal snapshot")
	}

	mu.Lock()
	defer mu.Unlock()
	if !sawDone {
		t.Fatal("expected the terminal snapshot to be delivered")
	}
	for i := 1; i < len(stages); i++ {
		if stages[i] == StageQueued && stages[i-1] != StageQueued {
			t.Fatalf("observed stage sequence %v: QUEUED must not follow a later stage", stages)
		}
	}
	if stages[len(stages)-1] != StageCompleted {
		t.Fatalf("observed stage sequence %v: terminal snapshot must be delivered last", stages)
	}
}

// Boundary: a timeout exactly at the maximum is accepted.
func TestTimeoutExactlyAtMaximumAccepted(t *testing.T) {
	cfg := testConfig()
	cfg.MaximumActionTimeout = 600 * time.Second
	s := newTestScheduler(cfg)

	exact := Duration{Seconds: 600}
	if _, err := s.Execute(Action{
		Timeout: &exact,
		Command: &Command{Platform: NewPlatformForTest("os", "linux")},
	}); err != nil {
		t.Fatalf("expected timeout exactly at the maximum to be accepted, got %v", err)
	}
}
