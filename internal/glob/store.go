package glob

import "sync"

// entry pairs a compiled Pattern with the refcount of outstanding
// PSUBSCRIBE calls for its exact source text.
type entry struct {
	pattern  *Pattern
	refcount int
}

// Store is a thread-safe, refcounted collection of compiled glob
// patterns, deduped by exact pattern string.
//
// A mutex-guarded slice of (pattern, refcount) entries, linear-scanned
// on add/rm/check since subscription sets are small. The zero value is
// ready to use.
type Store struct {
	mu      sync.Mutex
	entries []entry
}

// Add compiles and registers pattern, or increments its refcount if an
// identical pattern string is already present. It reports whether this
// is the first registration (refcount 0→1) and any compile error.
func (s *Store) Add(pattern []byte) (first bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(pattern)
	for i := range s.entries {
		if s.entries[i].pattern.String() == key {
			s.entries[i].refcount++
			return false, nil
		}
	}

	compiled, err := Compile(key)
	if err != nil {
		return false, err
	}
	s.entries = append(s.entries, entry{pattern: compiled, refcount: 1})
	return true, nil
}

// Rm decrements the refcount of pattern, removing it once it reaches
// zero. found reports whether the pattern was present at all; last is
// true only when its refcount hit zero and the entry was removed.
func (s *Store) Rm(pattern []byte) (found, last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(pattern)
	for i := range s.entries {
		if s.entries[i].pattern.String() == key {
			s.entries[i].refcount--
			if s.entries[i].refcount <= 0 {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				return true, true
			}
			return true, false
		}
	}
	return false, false
}

// Check reports whether any stored pattern matches data.
func (s *Store) Check(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].pattern.Match(data) {
			return true
		}
	}
	return false
}

// Count returns the number of distinct patterns stored, the pattern-side
// contribution to the TOPICS_COUNT option.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Empty reports whether the store holds no patterns at all.
func (s *Store) Empty() bool {
	return s.Count() == 0
}

// Apply calls fn once per distinct stored pattern string.
func (s *Store) Apply(fn func(pattern []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		fn([]byte(s.entries[i].pattern.String()))
	}
}
