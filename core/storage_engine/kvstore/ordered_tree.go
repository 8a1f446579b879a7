package kvstore

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

const treeDegree = 32

type treeItem struct {
	key   []byte
	value []byte
}

func lessItem(a, b treeItem) bool { return bytes.Compare(a.key, b.key) < 0 }

// OrderedTree is a B-tree backed store. Keys returns keys in byte order.
type OrderedTree struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[treeItem]
}

func NewOrderedTree() *OrderedTree {
	return &OrderedTree{tree: btree.NewG(treeDegree, lessItem)}
}

func (t *OrderedTree) Get(key []byte) ([]byte, bool) {
	t.mu.RLock()
	item, ok := t.tree.Get(treeItem{key: key})
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return clone(item.value), true
}

func (t *OrderedTree) Put(key, value []byte) {
	item := treeItem{key: clone(key), value: clone(value)}
	if item.value == nil {
		item.value = []byte{}
	}
	t.mu.Lock()
	t.tree.ReplaceOrInsert(item)
	t.mu.Unlock()
}

func (t *OrderedTree) Delete(key []byte) {
	t.mu.Lock()
	t.tree.Delete(treeItem{key: key})
	t.mu.Unlock()
}

// Keys walks a copy-on-write clone of the tree, so the walk does not hold up
// writers. Clone itself must not run concurrently with other tree calls.
func (t *OrderedTree) Keys() [][]byte {
	t.mu.Lock()
	snapshot := t.tree.Clone()
	t.mu.Unlock()

	keys := make([][]byte, 0, snapshot.Len())
	snapshot.Ascend(func(item treeItem) bool {
		keys = append(keys, clone(item.key))
		return true
	})
	return keys
}

func (t *OrderedTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}
