package kvstore

import "sync"

// ShardedMap is a hash-partitioned map. Each shard has its own lock so
// writers on different shards never contend.
type ShardedMap struct {
	shards []*mapShard
}

type mapShard struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewShardedMap creates a map with n shards (DefaultShards if n <= 0).
func NewShardedMap(n int) *ShardedMap {
	if n <= 0 {
		n = DefaultShards
	}
	m := &ShardedMap{shards: make([]*mapShard, n)}
	for i := range m.shards {
		m.shards[i] = &mapShard{data: make(map[string][]byte)}
	}
	return m
}

func (m *ShardedMap) shard(key []byte) *mapShard {
	return m.shards[shardIndex(key, len(m.shards))]
}

func (m *ShardedMap) Get(key []byte) ([]byte, bool) {
	s := m.shard(key)
	s.mu.RLock()
	v, ok := s.data[string(key)]
	s.mu.RUnlock()
	return clone(v), ok
}

func (m *ShardedMap) Put(key, value []byte) {
	v := clone(value)
	if v == nil {
		v = []byte{}
	}
	s := m.shard(key)
	s.mu.Lock()
	s.data[string(key)] = v
	s.mu.Unlock()
}

func (m *ShardedMap) Delete(key []byte) {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.data, string(key))
	s.mu.Unlock()
}

// Keys visits the shards one at a time, so it never blocks all writers at once.
func (m *ShardedMap) Keys() [][]byte {
	var keys [][]byte
	for _, s := range m.shards {
		s.mu.RLock()
		for k := range s.data {
			keys = append(keys, []byte(k))
		}
		s.mu.RUnlock()
	}
	return keys
}

func (m *ShardedMap) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n
}
