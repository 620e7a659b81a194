package ingest

import (
	"container/list"
	"sync"
)

// dedupeSet is a bounded LRU of recently-seen settlement transaction
// hashes. §9's redesign flag calls out the source's unbounded set;
// this caps memory at capacity entries, evicting the oldest on
// overflow, grounded on internal/indexer/runner.go's isDuplicate map
// upgraded to a capped ring.
type dedupeSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newDedupeSet(capacity int) *dedupeSet {
	if capacity <= 0 {
		capacity = 10000
	}
	return &dedupeSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// seenOrAdd reports whether key was already present, and adds it if
// not, evicting the oldest entry if the set is at capacity.
func (d *dedupeSet) seenOrAdd(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.index[key]; ok {
		d.order.MoveToFront(elem)
		return true
	}

	elem := d.order.PushFront(key)
	d.index[key] = elem

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(string))
		}
	}

	return false
}
