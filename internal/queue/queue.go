// Package queue implements the dispatch matcher: the rendezvous between
// queued operations and workers offering platforms. It owns two FIFOs
// (queued operations, parked worker offers) under a single monitor so the
// "check both sides, park on the opposite side" invariant never races.
package queue

import "sync"

// Platform is a worker-offered or command-required set of (name, value)
// properties. Per the satisfaction rule only the per-key set of values
// matters, so Platform is stored as name -> set of values; duplicates
// collapse naturally.
type Platform map[string]map[string]struct{}

// NewPlatform builds a Platform from repeated (name, value) pairs,
// mirroring the wire representation's multiset of properties.
func NewPlatform(pairs ...[2]string) Platform {
	p := make(Platform)
	for _, kv := range pairs {
		p.Add(kv[0], kv[1])
	}
	return p
}

// Add records one more (name, value) property.
func (p Platform) Add(name, value string) {
	set, ok := p[name]
	if !ok {
		set = make(map[string]struct{})
		p[name] = set
	}
	set[value] = struct{}{}
}

// Satisfies reports whether p (the worker's offered platform) satisfies
// required (typically a command's platform): every (name, value) pair in
// required must be present in p. A nil/empty required platform is
// satisfied by anything.
func (p Platform) Satisfies(required Platform) bool {
	for name, values := range required {
		offered, ok := p[name]
		if !ok {
			return false
		}
		for v := range values {
			if _, ok := offered[v]; !ok {
				return false
			}
		}
	}
	return true
}

// OnMatch is invoked with a candidate queued item when a worker offer and
// an operation are paired. It is single-use and opaque to the matcher: a
// true return accepts dispatch, false means the worker turned out to be
// inviable for this item and must be discarded without re-parking.
type OnMatch[T any] func(item T) bool

type workerOffer[T any] struct {
	platform Platform
	onMatch  OnMatch[T]
}

type queuedItem[T any] struct {
	item     T
	platform Platform
}

// Matcher holds the two FIFOs (queuedOperations, workers) under one
// monitor. T is the caller's queued-item type (an operation handle); the
// matcher itself stays free of the broader operation/action data model.
type Matcher[T any] struct {
	mu      sync.Mutex
	queued  []queuedItem[T]
	workers []workerOffer[T]
}

// New returns an empty Matcher.
func New[T any]() *Matcher[T] {
	return &Matcher[T]{}
}

// Enqueue attempts immediate dispatch of item (platform is its command's
// required platform) by scanning parked workers in offer order. The first
// worker whose offered platform satisfies the requirement is offered the
// item via onMatch. A true result consumes that worker and reports
// dispatched=true. A false result discards that worker (inviable) and the
// scan continues against the remaining parked workers. Workers that don't
// satisfy are set aside and re-parked, in order, once the scan concludes.
// If nothing dispatches, item is pushed onto the queue tail.
func (m *Matcher[T]) Enqueue(item T, platform Platform) (dispatched bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var untouched []workerOffer[T]
	for i, w := range m.workers {
		if !w.platform.Satisfies(platform) {
			untouched = append(untouched, w)
			continue
		}
		if w.onMatch(item) {
			// Consumed: drop this worker, re-park the rest unexamined.
			untouched = append(untouched, m.workers[i+1:]...)
			m.workers = untouched
			return true
		}
		// Inviable: discard the worker, keep scanning.
	}

	m.workers = untouched
	m.queued = append(m.queued, queuedItem[T]{item: item, platform: platform})
	return false
}

// Offer scans queued items in FIFO order for the first one whose required
// platform is satisfied by platform, and calls onMatch on it. A true
// result dispatches that item (it is removed from the queue). A false
// result sets the item aside; requeue is invoked (outside the matcher's
// lock) so the caller can run its standard requeue path on it — e.g.
// re-installing watchdogs — rather than this package reaching back into
// lifecycle state. Either way the match attempt consumes at most one
// queued item. If no item matched, the offer is parked in the worker pool.
func (m *Matcher[T]) Offer(platform Platform, onMatch OnMatch[T], requeue func(item T)) (matched bool) {
	m.mu.Lock()

	idx := -1
	for i, q := range m.queued {
		if platform.Satisfies(q.platform) {
			idx = i
			break
		}
	}

	if idx == -1 {
		m.workers = append(m.workers, workerOffer[T]{platform: platform, onMatch: onMatch})
		m.mu.Unlock()
		return false
	}

	candidate := m.queued[idx]
	m.queued = append(m.queued[:idx], m.queued[idx+1:]...)
	m.mu.Unlock()

	if onMatch(candidate.item) {
		return true
	}

	if requeue != nil {
		requeue(candidate.item)
	}
	return false
}

// Requeue pushes item back onto the queue tail without running the match
// scan against it (used by the poll-watchdog requeue path, and internally
// by Offer's reject path via the caller-supplied requeue callback).
func (m *Matcher[T]) Requeue(item T, platform Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, queuedItem[T]{item: item, platform: platform})
}

// QueueLen reports the number of currently queued (undispatched) items.
func (m *Matcher[T]) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// ParkedWorkers reports the number of currently parked worker offers.
func (m *Matcher[T]) ParkedWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
