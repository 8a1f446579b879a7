package kvstore

import "sync"

// KeySet is a concurrent set of byte-string keys.
type KeySet struct {
	shards []*setShard
}

type setShard struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func NewKeySet(shards int) *KeySet {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &KeySet{shards: make([]*setShard, shards)}
	for i := range s.shards {
		s.shards[i] = &setShard{keys: make(map[string]struct{})}
	}
	return s
}

func (s *KeySet) shard(key []byte) *setShard {
	return s.shards[shardIndex(key, len(s.shards))]
}

// Add inserts key and reports whether it was not already present.
func (s *KeySet) Add(key []byte) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.keys[string(key)]; ok {
		return false
	}
	sh.keys[string(key)] = struct{}{}
	return true
}

// Remove deletes key and reports whether it was present.
func (s *KeySet) Remove(key []byte) bool {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.keys[string(key)]; !ok {
		return false
	}
	delete(sh.keys, string(key))
	return true
}

func (s *KeySet) Contains(key []byte) bool {
	sh := s.shard(key)
	sh.mu.RLock()
	_, ok := sh.keys[string(key)]
	sh.mu.RUnlock()
	return ok
}

func (s *KeySet) Keys() [][]byte {
	var keys [][]byte
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.keys {
			keys = append(keys, []byte(k))
		}
		sh.mu.RUnlock()
	}
	return keys
}

func (s *KeySet) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.keys)
		sh.mu.RUnlock()
	}
	return n
}

// Clear removes every key.
func (s *KeySet) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.keys = make(map[string]struct{})
		sh.mu.Unlock()
	}
}
