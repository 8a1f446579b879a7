package kvstore

import (
	"sort"
	"sync"
)

// StripedLocks maps keys onto a fixed set of mutexes. Two operations on the
// same key always take the same mutex.
type StripedLocks struct {
	locks []sync.Mutex
}

func NewStripedLocks(n int) *StripedLocks {
	if n <= 0 {
		n = DefaultShards
	}
	return &StripedLocks{locks: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns the function that releases it.
func (s *StripedLocks) Lock(key []byte) (unlock func()) {
	mu := &s.locks[shardIndex(key, len(s.locks))]
	mu.Lock()
	return mu.Unlock
}

// LockMany acquires the stripes of every key in ascending stripe order, so
// concurrent callers with overlapping key sets cannot deadlock.
func (s *StripedLocks) LockMany(keys [][]byte) (unlock func()) {
	idx := make([]int, 0, len(keys))
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		i := shardIndex(k, len(s.locks))
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		s.locks[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.locks[idx[j]].Unlock()
		}
	}
}
