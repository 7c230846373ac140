package models

import (
	"io"
	"sync"
)

// Stream is a pull-based sequence of text fragments. Recv returns io.EOF
// when the stream is exhausted; any other error is terminal and sticky.
type Stream struct {
	next    func() (string, error)
	onClose func() error

	mu     sync.Mutex
	err    error
	closed bool
}

func NewStream(next func() (string, error), onClose func() error) *Stream {
	return &Stream{next: next, onClose: onClose}
}

func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return "", err
	}
	if s.closed {
		s.mu.Unlock()
		return "", io.EOF
	}
	s.mu.Unlock()

	text, err := s.next()
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return "", err
	}
	return text, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()
	if onClose != nil {
		return onClose()
	}
	return nil
}

// StreamFromFragments builds a Stream over a fixed fragment list, for
// adapters and tests that have the full text up front.
func StreamFromFragments(fragments []string) *Stream {
	i := 0
	next := func() (string, error) {
		if i >= len(fragments) {
			return "", io.EOF
		}
		f := fragments[i]
		i++
		return f, nil
	}
	return NewStream(next, nil)
}
