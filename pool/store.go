package pool

import (
	"slices"
	"sort"
	"time"
)

// entry is one pooled handle.
type entry[H comparable, S any] struct {
	handle   H
	size     S
	inUse    bool
	lastUsed time.Time
}

// store holds pooled entries grouped by class key. It is not safe for
// concurrent use; the owning pool serialises access.
//
// Entries of a class are kept in insertion order and matched first-fit.
// Pools are capped at a few dozen entries per class, so a linear scan is
// all acquire needs.
type store[K comparable, H comparable, S any] struct {
	classes map[K][]*entry[H, S]

	// fits reports whether an entry of size have can serve a request for want.
	fits func(have, want S) bool

	// bytes estimates the memory held by an entry of size s.
	bytes func(s S) int

	// live reports whether a handle is still tracked by the registry.
	// Entries whose handle was destroyed elsewhere are dropped on acquire.
	live func(h H) bool
}

func newStore[K comparable, H comparable, S any](fits func(have, want S) bool, bytes func(S) int, live func(H) bool) *store[K, H, S] {
	return &store[K, H, S]{
		classes: make(map[K][]*entry[H, S]),
		fits:    fits,
		bytes:   bytes,
		live:    live,
	}
}

// acquire marks the first idle entry of class k that fits want as in use.
// Idle entries whose handle is no longer live are removed on the way and
// counted in dropped.
func (s *store[K, H, S]) acquire(k K, want S, now time.Time) (h H, dropped int, ok bool) {
	entries := s.classes[k]
	defer func() { s.classes[k] = entries }()

	for i := 0; i < len(entries); i++ {
		e := entries[i]
		if e.inUse || !s.fits(e.size, want) {
			continue
		}
		if s.live != nil && !s.live(e.handle) {
			entries = slices.Delete(entries, i, i+1)
			i--
			dropped++
			continue
		}
		e.inUse = true
		e.lastUsed = now
		return e.handle, dropped, true
	}
	return h, dropped, false
}

// insert adds a freshly minted handle as an in-use entry.
func (s *store[K, H, S]) insert(k K, h H, size S, now time.Time) {
	s.classes[k] = append(s.classes[k], &entry[H, S]{
		handle:   h,
		size:     size,
		inUse:    true,
		lastUsed: now,
	})
}

// release marks h idle. It reports false if h is not pooled under k.
func (s *store[K, H, S]) release(k K, h H, now time.Time) bool {
	for _, e := range s.classes[k] {
		if e.handle == h {
			e.inUse = false
			e.lastUsed = now
			return true
		}
	}
	return false
}

// sweep trims every class holding more than limit entries. Entries are
// ordered most recently used first; idle entries past the first limit are
// removed and returned for destruction. In-use entries past the cutoff are
// kept, so a class may stay above limit until they are released.
func (s *store[K, H, S]) sweep(limit int) []H {
	var evicted []H
	for k, entries := range s.classes {
		if len(entries) <= limit {
			continue
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].lastUsed.After(entries[j].lastUsed)
		})
		kept := entries[:limit:limit]
		for _, e := range entries[limit:] {
			if e.inUse {
				kept = append(kept, e)
				continue
			}
			evicted = append(evicted, e.handle)
		}
		s.classes[k] = kept
	}
	return evicted
}

// drain removes and returns every handle.
func (s *store[K, H, S]) drain() []H {
	var all []H
	for k, entries := range s.classes {
		for _, e := range entries {
			all = append(all, e.handle)
		}
		delete(s.classes, k)
	}
	return all
}

// Stats is a snapshot of a pool.
type Stats struct {
	// Classes is the number of usage classes or formats with entries.
	Classes int

	// Entries is the number of pooled handles, idle and in use.
	Entries int

	// InUse is the number of handles currently handed out.
	InUse int

	// Bytes estimates the device memory held by all pooled handles.
	Bytes int64

	// Evictions counts handles destroyed by sweeps since creation.
	Evictions uint64
}

func (s *store[K, H, S]) stats() Stats {
	var st Stats
	for _, entries := range s.classes {
		if len(entries) == 0 {
			continue
		}
		st.Classes++
		for _, e := range entries {
			st.Entries++
			if e.inUse {
				st.InUse++
			}
			st.Bytes += int64(s.bytes(e.size))
		}
	}
	return st
}

// classLen returns the number of entries in class k.
func (s *store[K, H, S]) classLen(k K) int {
	return len(s.classes[k])
}
