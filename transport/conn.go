package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// state is shared by every Conn implementation: it owns the chunk channel and
// records why the connection ended.
type state struct {
	chunks chan []byte
	done   chan struct{}

	once   sync.Once
	closed atomic.Bool // set by a local Close
	mu     sync.Mutex
	err    error
}

func newState() *state {
	return &state{
		chunks: make(chan []byte),
		done:   make(chan struct{}),
	}
}

func (s *state) Chunks() <-chan []byte { return s.chunks }

func (s *state) Done() <-chan struct{} { return s.done }

func (s *state) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// finish ends the connection once. A nil cause marks a clean local close.
func (s *state) finish(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		if cause != nil && !s.closed.Load() {
			s.err = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
		}
		s.mu.Unlock()
		close(s.done)
	})
}

// deliver hands chunk to the reader of Chunks, or gives up when the connection ends.
func (s *state) deliver(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// readLoop pumps read into the chunk channel until it fails.
func (s *state) readLoop(read func() ([]byte, error)) {
	defer close(s.chunks)
	for {
		chunk, err := read()
		if err != nil {
			s.finish(err)
			return
		}
		if len(chunk) == 0 {
			continue
		}
		if !s.deliver(chunk) {
			return
		}
	}
}

// lost converts a write failure into ErrConnectionLost and ends the connection.
func (s *state) lost(err error) error {
	s.finish(err)
	if e := s.Err(); e != nil {
		return e
	}
	return fmt.Errorf("%w: closed", ErrTransport)
}
