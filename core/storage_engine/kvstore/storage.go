// Package kvstore defines the storage backend contract used by the database
// facade and provides interchangeable in-memory implementations.
package kvstore

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Storage is the contract every backend satisfies. All methods are safe for
// concurrent use without external locking. Implementations copy keys and
// values on the way in and out, so callers may reuse their buffers.
type Storage interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte)
	Delete(key []byte)
	// Keys returns a weakly consistent snapshot of the current keys: every
	// key it returns existed at some point during the call.
	Keys() [][]byte
	Len() int
}

// Backend names accepted by New.
const (
	BackendSharded = "sharded"
	BackendBTree   = "btree"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 64

// New constructs a backend by name. shards is only used by the sharded backend.
func New(backend string, shards int) (Storage, error) {
	switch backend {
	case BackendSharded, "":
		return NewShardedMap(shards), nil
	case BackendBTree:
		return NewOrderedTree(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func shardIndex(key []byte, n int) int {
	return int(xxhash.Sum64(key) % uint64(n))
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
