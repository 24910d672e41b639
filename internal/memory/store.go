// File: internal/memory/store.go
package memory

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator-cli/api/schemas"
)

// Store is a bounded, ordered log of memory entries used to build LLM
// prompts. It is owned by exactly one engine writer, but snapshots may be
// taken concurrently by status readers.
//
// Eviction is strictly FIFO by sequence number: once the configured maximum
// is exceeded, the oldest entry goes first, regardless of content.
type Store struct {
	mu         sync.RWMutex
	entries    []schemas.MemoryEntry
	maxEntries int
	seq        uint64
	logger     *zap.Logger
}

// NewStore creates a store capped at maxEntries. The bound is fixed for the
// lifetime of the task; values below one fall back to a single entry.
func NewStore(maxEntries int, logger *zap.Logger) *Store {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Store{
		entries:    make([]schemas.MemoryEntry, 0, maxEntries),
		maxEntries: maxEntries,
		logger:     logger.Named("memory"),
	}
}

// Append adds a new entry and returns it. Entries are never mutated after
// append; if the bound is exceeded, the oldest entries are evicted.
func (s *Store) Append(role schemas.EntryRole, content string) schemas.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry := schemas.MemoryEntry{
		Sequence:  s.seq,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.entries = append(s.entries, entry)

	if overflow := len(s.entries) - s.maxEntries; overflow > 0 {
		evicted := s.entries[:overflow]
		s.logger.Debug("Evicting oldest memory entries",
			zap.Int("count", len(evicted)),
			zap.Uint64("through_sequence", evicted[len(evicted)-1].Sequence),
		)
		s.entries = append(s.entries[:0:0], s.entries[overflow:]...)
	}
	return entry
}

// Snapshot returns the stored entries oldest first. The returned slice is a
// copy; callers may hold it without locking.
func (s *Store) Snapshot() []schemas.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schemas.MemoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len reports the current number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MaxEntries reports the configured bound.
func (s *Store) MaxEntries() int {
	return s.maxEntries
}
