package kvstore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends() map[string]func() Storage {
	return map[string]func() Storage{
		BackendSharded: func() Storage { return NewShardedMap(8) },
		BackendBTree:   func() Storage { return NewOrderedTree() },
	}
}

func sortedKeys(keys [][]byte) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	sort.Strings(out)
	return out
}

func TestStorage_Contract(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage()

			_, ok := s.Get([]byte("missing"))
			require.False(t, ok)

			s.Put([]byte("b"), []byte("2"))
			s.Put([]byte("a"), []byte("1"))
			s.Put([]byte("c"), nil)
			s.Put([]byte("a"), []byte("1b"))

			v, ok := s.Get([]byte("a"))
			require.True(t, ok)
			require.Equal(t, []byte("1b"), v)

			v, ok = s.Get([]byte("c"))
			require.True(t, ok, "an empty value is still a value")
			require.Empty(t, v)

			require.Equal(t, 3, s.Len())
			require.Equal(t, []string{"a", "b", "c"}, sortedKeys(s.Keys()))

			s.Delete([]byte("b"))
			s.Delete([]byte("never-there"))
			_, ok = s.Get([]byte("b"))
			require.False(t, ok)
			require.Equal(t, 2, s.Len())
		})
	}
}

func TestStorage_CopiesBuffers(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage()
			key, value := []byte("key"), []byte("value")
			s.Put(key, value)
			value[0] = 'X'
			key[0] = 'X'

			got, ok := s.Get([]byte("key"))
			require.True(t, ok)
			require.Equal(t, []byte("value"), got)

			got[0] = 'Y'
			again, _ := s.Get([]byte("key"))
			require.Equal(t, []byte("value"), again)
		})
	}
}

func TestStorage_KeysDuringConcurrentWrites(t *testing.T) {
	for name, newStorage := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newStorage()
			for i := 0; i < 100; i++ {
				s.Put([]byte(fmt.Sprintf("stable-%03d", i)), []byte("v"))
			}

			var wg sync.WaitGroup
			stop := make(chan struct{})
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; ; i++ {
						select {
						case <-stop:
							return
						default:
						}
						k := []byte(fmt.Sprintf("churn-%d-%d", w, i%50))
						s.Put(k, []byte("x"))
						s.Delete(k)
					}
				}(w)
			}

			for round := 0; round < 20; round++ {
				stable := 0
				for _, k := range s.Keys() {
					if bytes.HasPrefix(k, []byte("stable-")) {
						stable++
					}
				}
				require.Equal(t, 100, stable, "keys present for the whole call must be listed")
			}
			close(stop)
			wg.Wait()
		})
	}
}

func TestOrderedTree_KeysAreSorted(t *testing.T) {
	s := NewOrderedTree()
	for _, k := range []string{"delta", "alpha", "charlie", "bravo"} {
		s.Put([]byte(k), []byte(k))
	}
	var got []string
	for _, k := range s.Keys() {
		got = append(got, string(k))
	}
	require.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, got)
}

func TestNew(t *testing.T) {
	s, err := New(BackendBTree, 0)
	require.NoError(t, err)
	require.IsType(t, &OrderedTree{}, s)

	s, err = New("", 0)
	require.NoError(t, err)
	require.IsType(t, &ShardedMap{}, s)

	_, err = New("cuckoo", 0)
	require.Error(t, err)
}

func TestKeySet(t *testing.T) {
	s := NewKeySet(4)
	require.True(t, s.Add([]byte("a")))
	require.False(t, s.Add([]byte("a")))
	require.True(t, s.Add([]byte("b")))
	require.True(t, s.Contains([]byte("a")))
	require.Equal(t, 2, s.Len())
	require.Equal(t, []string{"a", "b"}, sortedKeys(s.Keys()))

	require.True(t, s.Remove([]byte("a")))
	require.False(t, s.Remove([]byte("a")))
	require.False(t, s.Contains([]byte("a")))

	s.Clear()
	require.Zero(t, s.Len())
}

func TestStripedLocks_SameKeySerializes(t *testing.T) {
	locks := NewStripedLocks(4)
	counter := 0

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				unlock := locks.Lock([]byte("hot"))
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8000, counter)
}

func TestStripedLocks_LockManyOverlappingSets(t *testing.T) {
	locks := NewStripedLocks(8)
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("a")}
	reversed := [][]byte{[]byte("c"), []byte("b"), []byte("a")}
	counter := 0

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			set := keys
			if w%2 == 1 {
				set = reversed
			}
			for i := 0; i < 500; i++ {
				unlock := locks.LockMany(set)
				counter++
				unlock()
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 4000, counter)

	// Single-key locks still work after LockMany released everything.
	unlock := locks.Lock([]byte("a"))
	unlock()
}
