package reactors

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// uniqueStore maps uid -> entry and name -> uid, used both for a Frame's
// connectors and for a System's frames. Lookups after release return the
// zero value with ok false, so callers never see a stale entry.
type uniqueStore[T any] struct {
	mu      sync.Mutex
	byID    map[uint64]T
	byName  map[string]uint64
	nextID  atomic.Uint64
	namePfx string
}

func newUniqueStore[T any](namePrefix string) *uniqueStore[T] {
	return &uniqueStore[T]{
		byID:    make(map[uint64]T),
		byName:  make(map[string]uint64),
		namePfx: namePrefix,
	}
}

// reserveID hands out a uid that is not yet, and has never been, in use.
func (s *uniqueStore[T]) reserveID() uint64 {
	return s.nextID.Add(1)
}

// tryStore stores entry under uid with the given name. If name is empty a
// name is synthesized from the store's prefix and the uid. Fails with
// DuplicateNameError if name is non-empty and already taken.
//
// An explicit, caller-chosen name that collides is a hard error rather
// than being silently renamed: the caller asked for a specific identity
// and didn't get it. An absent name is never a collision, because it is
// synthesized from the uid, which is unique by construction.
func (s *uniqueStore[T]) tryStore(uid uint64, name string, entry T) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s-%d", s.namePfx, uid)
	} else if _, taken := s.byName[name]; taken {
		return "", &DuplicateNameError{Name: name}
	}

	s.byID[uid] = entry
	s.byName[name] = uid
	return name, nil
}

func (s *uniqueStore[T]) forID(uid uint64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[uid]
	return v, ok
}

func (s *uniqueStore[T]) forName(name string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.byName[name]
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := s.byID[uid]
	return v, ok
}

// tryReleaseByID removes the entry for uid, returning it and whether
// anything was actually removed; a second release of the same uid
// reports false.
func (s *uniqueStore[T]) tryReleaseByID(uid uint64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[uid]
	if !ok {
		var zero T
		return zero, false
	}
	delete(s.byID, uid)
	for name, id := range s.byName {
		if id == uid {
			delete(s.byName, name)
			break
		}
	}
	return v, true
}

func (s *uniqueStore[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	return out
}

func (s *uniqueStore[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
