// Package util
//
// This file provides the reclamation queue used for zombie objects.
//
// MapHeap combines a binary min-heap with a hash map: the heap orders objects
// by the epoch at which they were punched, the map gives direct access by
// object serial so that a punched object which is written again (and thus
// revived) can be dropped from the queue.
//
//   - O(log n) for Push, Pop, AddItem (update) and RemoveByKey
//   - O(1) for Contains, GetByKey and Peek
//
// MapHeap is not thread-safe; the owning container serialises access.
//
// Example usage:
//
//	q := NewMapHeap()
//	q.AddItem(serial, punchEpoch)
//
//	for {
//	    it, ok := q.Peek()
//	    if !ok || it.Priority > upTo {
//	        break
//	    }
//	    q.RemoveByKey(it.Key)
//	    // reclaim the object
//	}
package util

import (
	"container/heap"
	"strconv"
)

// Item is an entry of the queue: Key identifies the object, Priority is the
// epoch used for ordering.
type Item struct {
	Key      uint64
	Priority uint64
	index    int // maintained by container/heap
}

func (i *Item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap of items with key-based access.
type MapHeap struct {
	items    []*Item
	itemsMap map[uint64]*Item
}

// NewMapHeap creates an empty queue. It is ready to use without heap.Init.
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*Item, 0),
		itemsMap: make(map[uint64]*Item),
	}
}

// Len is part of heap.Interface.
func (q *MapHeap) Len() int { return len(q.items) }

// Less is part of heap.Interface; oldest epoch first.
func (q *MapHeap) Less(i, j int) bool {
	return q.items[i].Priority < q.items[j].Priority
}

// Swap is part of heap.Interface.
func (q *MapHeap) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push is part of heap.Interface. Use AddItem instead.
func (q *MapHeap) Push(x interface{}) {
	it := x.(*Item)
	it.index = len(q.items)
	q.items = append(q.items, it)
	q.itemsMap[it.Key] = it
}

// Pop is part of heap.Interface. Use heap.Pop(q) to get the minimum.
func (q *MapHeap) Pop() interface{} {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	q.items = old[:n-1]
	delete(q.itemsMap, it.Key)
	return it
}

// AddItem queues key with the given priority, or moves it if already queued.
func (q *MapHeap) AddItem(key, priority uint64) {
	if it, exists := q.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(q, it.index)
		return
	}
	heap.Push(q, &Item{Key: key, Priority: priority})
}

// RemoveByKey drops key from the queue and returns its priority.
func (q *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	it, exists := q.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(q, it.index)
	return it.Priority, true
}

// Peek returns the item with the lowest priority without removing it.
func (q *MapHeap) Peek() (*Item, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Contains reports whether key is queued.
func (q *MapHeap) Contains(key uint64) bool {
	_, exists := q.itemsMap[key]
	return exists
}

// GetByKey returns the queued item for key.
func (q *MapHeap) GetByKey(key uint64) (*Item, bool) {
	it, exists := q.itemsMap[key]
	return it, exists
}
