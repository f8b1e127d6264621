// Package state holds the latest published detection results shared between
// the detection loop and its readers.
package state

import (
	"sync"

	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

// Snapshot is a consistent copy of the detection state.
type Snapshot struct {
	Running  bool
	Warnings warning.Set
	Frame    []byte // annotated JPEG, shared read-only; empty before the first publish
	Seq      uint64 // increments on every accepted change
}

// Store is the concurrency-safe detection state. One loop publishes; any
// number of readers take snapshots. The lock is held only while copying.
type Store struct {
	mu       sync.Mutex
	running  bool
	warnings warning.Set
	frame    []byte
	seq      uint64
	gen      uint64
	changed  chan struct{}
}

// NewStore returns a store in the initial stopped, empty state.
func NewStore() *Store {
	return &Store{
		warnings: warning.Set{},
		changed:  make(chan struct{}),
	}
}

// Open marks a new run as started, clears previous results and returns the
// generation token the run must publish with.
func (s *Store) Open() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.running = true
	s.warnings = warning.Set{}
	s.frame = nil
	s.notifyLocked()
	return s.gen
}

// Publish atomically replaces the warnings and frame for generation gen.
// Publishes from a generation that has since been reset or reopened are
// dropped and Publish returns false. The store keeps its own copy of
// warnings; frame must not be modified by the caller afterwards.
func (s *Store) Publish(gen uint64, warnings warning.Set, frame []byte) bool {
	ws := warnings.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || !s.running {
		return false
	}
	s.warnings = ws
	s.frame = frame
	s.notifyLocked()
	return true
}

// Reset returns the store to the stopped, empty state and invalidates the
// current generation.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if !s.running && len(s.warnings) == 0 && s.frame == nil {
		return
	}
	s.running = false
	s.warnings = warning.Set{}
	s.frame = nil
	s.notifyLocked()
}

// End resets the store only if gen is still the current generation. A run
// that exits on its own uses it so it cannot clear a newer run's state.
func (s *Store) End(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.gen++
	s.running = false
	s.warnings = warning.Set{}
	s.frame = nil
	s.notifyLocked()
	return true
}

// Read returns a snapshot of the current state.
func (s *Store) Read() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Watch returns the current snapshot and a channel that is closed on the
// next change.
func (s *Store) Watch() (Snapshot, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), s.changed
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Running:  s.running,
		Warnings: s.warnings.Clone(),
		Frame:    s.frame,
		Seq:      s.seq,
	}
}

func (s *Store) notifyLocked() {
	s.seq++
	close(s.changed)
	s.changed = make(chan struct{})
}
