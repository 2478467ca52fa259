// Package simulator emulates vendor payment terminals over their wire
// protocols. Each device replays a fixed script so adapters can be driven
// deterministically in tests and by cmd/terminal-sim.
package simulator

import (
	"encoding/json"
	"net/http"
	"sync"
)

// script hands out entries in order and keeps repeating the last one.
type script[T any] struct {
	mu      sync.Mutex
	entries []T
	next    int
}

func newScript[T any](entries []T) *script[T] {
	return &script[T]{entries: entries}
}

func (s *script[T]) take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if len(s.entries) == 0 {
		return zero, false
	}
	entry := s.entries[s.next]
	if s.next < len(s.entries)-1 {
		s.next++
	}
	return entry, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// counter is a mutex-guarded tally shared by the devices.
type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}
