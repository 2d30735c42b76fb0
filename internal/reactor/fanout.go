package reactor

import "sync"

// fanoutSequencer serialises watcher fan-out per operation name. The
// scheduler's state transitions for a single operation already run
// one-at-a-time (they're taken under its own mutex), but the old
// "go s.watchers.FanOut(name, op)" per transition let delivery itself
// race: two transitions queued back to back could have their goroutines
// scheduled in either order, so a watcher could see an updated snapshot
// before the QUEUED one that preceded it. fanoutSequencer keeps the
// scheduler's transition methods non-blocking while still delivering
// every snapshot for a given name in the order it was enqueued, the way
// watchers.go's watcherSet keeps per-name state under its own lock
// instead of one lock per registry.
type fanoutSequencer struct {
	watchers *WatcherRegistry

	mu    sync.Mutex
	lanes map[string]*fanoutLane
}

type fanoutLane struct {
	pending []fanoutItem
	running bool
}

type fanoutItem struct {
	op   Operation
	done chan struct{} // non-nil only for enqueueSync callers
}

func newFanoutSequencer(watchers *WatcherRegistry) *fanoutSequencer {
	return &fanoutSequencer{watchers: watchers, lanes: make(map[string]*fanoutLane)}
}

// enqueue appends op to name's lane and returns immediately; a single
// drain goroutine per active name delivers pending snapshots in order.
func (f *fanoutSequencer) enqueue(name string, op Operation) {
	f.push(name, fanoutItem{op: op})
}

// enqueueSync appends op to name's lane like enqueue, but blocks until
// this op's fan-out has actually run. The terminal transition uses this:
// it must observe every earlier non-terminal snapshot for name drain
// before the caller clears the operation's watchers out from under it.
func (f *fanoutSequencer) enqueueSync(name string, op Operation) {
	done := make(chan struct{})
	f.push(name, fanoutItem{op: op, done: done})
	<-done
}

func (f *fanoutSequencer) push(name string, item fanoutItem) {
	f.mu.Lock()
	lane, ok := f.lanes[name]
	if !ok {
		lane = &fanoutLane{}
		f.lanes[name] = lane
	}
	lane.pending = append(lane.pending, item)
	start := !lane.running
	lane.running = true
	f.mu.Unlock()

	if start {
		go f.drain(name)
	}
}

// drain delivers name's pending items strictly in FIFO order, one at a
// time, until the lane empties, then retires the lane. A fresh push
// after retirement spawns a new drain goroutine for a new lane, which is
// fine: there is never more than one drain goroutine alive per name at
// once, so ordering is never split across two lanes.
func (f *fanoutSequencer) drain(name string) {
	for {
		f.mu.Lock()
		lane, ok := f.lanes[name]
		if !ok || len(lane.pending) == 0 {
			if ok {
				lane.running = false
				delete(f.lanes, name)
			}
			f.mu.Unlock()
			return
		}
		item := lane.pending[0]
		lane.pending = lane.pending[1:]
		f.mu.Unlock()

		f.watchers.FanOut(name, item.op)
		if item.done != nil {
			close(item.done)
		}
	}
}
