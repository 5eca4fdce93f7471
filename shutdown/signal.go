package shutdown

import (
	"os"
	"sync"
)

// SignalCounter remembers the signals received during a campaign. The
// first one asks the campaign to stop after the request in flight; reaching
// forceAfter calls onForce with the first signal.
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	first      os.Signal
	forceAfter int
	onForce    func(first os.Signal)
}

// NewSignalCounter creates a SignalCounter. onForce may be nil.
func NewSignalCounter(forceAfter int, onForce func(first os.Signal)) *SignalCounter {
	if forceAfter < 1 {
		forceAfter = 1
	}
	return &SignalCounter{
		forceAfter: forceAfter,
		onForce:    onForce,
	}
}

// Add records sig and returns the new count. onForce runs under the lock,
// so it should exit the process or return quickly.
func (s *SignalCounter) Add(sig os.Signal) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if s.first == nil {
		s.first = sig
	}
	if s.count >= s.forceAfter && s.onForce != nil {
		s.onForce(s.first)
	}
	return s.count
}

// Count returns how many signals were recorded.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// First returns the first recorded signal, or nil.
func (s *SignalCounter) First() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}
