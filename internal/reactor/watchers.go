package reactor

import "sync"

// Watcher is a predicate applied to successive snapshots of one named
// operation. Returning false deregisters it: "done processing", not
// failure.
type Watcher func(op Operation) bool

// WatcherRegistry is the opName -> set<Watcher> multimap (component D).
// Different names synchronise independently; mutations under the same
// name serialise through that name's own mutex.
type WatcherRegistry struct {
	mu   sync.Mutex
	sets map[string]*watcherSet
}

type watcherSet struct {
	mu       sync.Mutex
	watchers map[int]Watcher
	nextID   int
}

// NewWatcherRegistry returns an empty registry.
func NewWatcherRegistry() *WatcherRegistry {
	return &WatcherRegistry{sets: make(map[string]*watcherSet)}
}

func (r *WatcherRegistry) setFor(name string, create bool) *watcherSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[name]
	if !ok {
		if !create {
			return nil
		}
		s = &watcherSet{watchers: make(map[int]Watcher)}
		r.sets[name] = s
	}
	return s
}

// put registers w under name, unconditionally. Internal helper shared by
// the at-least-once Watch entry point below.
func (r *WatcherRegistry) put(name string, w Watcher) {
	s := r.setFor(name, true)
	s.mu.Lock()
	s.nextID++
	s.watchers[s.nextID] = w
	s.mu.Unlock()
}

// FanOut evaluates every watcher registered under name against op,
// removing any whose predicate returns false or that observe op.Done.
// Fire-and-forget: call from a goroutine per the lifecycle controller's
// async fan-out contract; panics from a watcher are not recovered here
// because Go watcher callbacks in this codebase are expected to be pure
// predicates, not side-effecting RPC handlers.
func (r *WatcherRegistry) FanOut(name string, op Operation) {
	s := r.setFor(name, false)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watchers {
		keep := w(op) && !op.Done
		if !keep {
			delete(s.watchers, id)
		}
	}
	if len(s.watchers) == 0 {
		r.mu.Lock()
		if cur, ok := r.sets[name]; ok && cur == s {
			delete(r.sets, name)
		}
		r.mu.Unlock()
	}
}

// Clear removes every watcher registered under name, used when the
// lifecycle controller retires an operation after terminal delivery.
func (r *WatcherRegistry) Clear(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sets, name)
}

// Count reports the number of live watchers registered under name.
func (r *WatcherRegistry) Count(name string) int {
	s := r.setFor(name, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// Lookup reads an operation by name, distinguishing "absent" from
// "present". Implemented by the lifecycle controller's in-flight map
// plus its completed-operations archive, so Watch can see both live and
// just-terminated operations.
type Lookup func(name string) (Operation, bool)

// Watch implements the at-least-once watch registration protocol:
//
//  1. Read the current operation. If pred(current) returns false, the
//     watcher has already processed what it needed to — return true.
//  2. If the operation doesn't exist or is already done, return
//     !pred(op), where op is the done snapshot, or the zero value when
//     the operation is absent: the watcher is considered to have declined
//     processing of a snapshot it never got to see live.
//  3. Otherwise register the watcher, then re-read the operation. If it
//     is now absent or done, invoke pred one final time and return
//     accordingly — this closes the race where completion happened
//     between steps 1 and 3.
func (r *WatcherRegistry) Watch(name string, pred Watcher, lookup Lookup) bool {
	op, ok := lookup(name)
	if ok && !pred(op) {
		return true
	}
	if !ok || op.Done {
		return !pred(op)
	}

	r.put(name, pred)

	op, ok = lookup(name)
	if !ok || op.Done {
		return !pred(op)
	}
	return true
}
