package reactor

import "sync"

// StreamSource is a named append-only byte sink plus a closed-future. It
// backs getOperationStreamWrite: a worker appends stdout/stderr chunks as
// they're produced and closes the source once the action finishes.
type StreamSource struct {
	name   string
	onDone func(name string) // streams.remove(name), invoked once on Close

	mu       sync.Mutex
	buf      []byte
	closed   bool
	doneCh   chan struct{}
	doneOnce sync.Once
}

func newStreamSource(name string, onDone func(string)) *StreamSource {
	return &StreamSource{
		name:   name,
		onDone: onDone,
		doneCh: make(chan struct{}),
	}
}

// Write appends p to the sink. Returns an error if the source is already
// closed.
func (s *StreamSource) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStreamClosed
	}
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// CommittedSize returns the number of bytes written so far.
func (s *StreamSource) CommittedSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.buf))
}

// IsClosed reports whether Close has been called.
func (s *StreamSource) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ClosedFuture returns a channel that closes once the source is closed.
func (s *StreamSource) ClosedFuture() <-chan struct{} {
	return s.doneCh
}

// Close marks the source closed, unblocks ClosedFuture, and invokes the
// registry's removal hook exactly once.
func (s *StreamSource) Close() {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	s.doneOnce.Do(func() {
		close(s.doneCh)
		if s.onDone != nil {
			s.onDone(s.name)
		}
	})
	_ = alreadyClosed
}

// NewReader opens a fresh read view of the buffered bytes from offset,
// implementing newOperationStreamInput. The returned slice is a copy, so
// it is safe to read after further writes.
func (s *StreamSource) NewReader(offset int64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset >= int64(len(s.buf)) {
		return nil
	}
	out := make([]byte, len(s.buf)-int(offset))
	copy(out, s.buf[offset:])
	return out
}

// StreamRegistry is the name -> StreamSource mapping (component B).
type StreamRegistry struct {
	mu      sync.Mutex
	sources map[string]*StreamSource
}

// NewStreamRegistry returns an empty stream registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{sources: make(map[string]*StreamSource)}
}

// GetSource is get-or-create for the named stream.
func (r *StreamRegistry) GetSource(name string) *StreamSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[name]; ok {
		return s
	}
	s := newStreamSource(name, r.remove)
	r.sources[name] = s
	return s
}

// Reset drops the named entry, discarding any buffered bytes.
func (r *StreamRegistry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
}

func (r *StreamRegistry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
}
