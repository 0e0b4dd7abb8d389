// Package util
//
// This file provides the recency index of the page cache engine.
//
// MapHeap combines a binary min-heap with a hash map, so the page with the
// smallest access tick can be found in O(1) and any page can be touched or
// removed by key in O(log n). The paged engine keeps one MapHeap per shard:
//
//	h := NewMapHeap()
//	h.Touch(pageNo, tick)         // on every hit or fill
//	victim, ok := h.PopMin()      // when the shard is over capacity
//	h.Remove(pageNo)              // when a page is dropped for another reason
//
// MapHeap is not thread-safe, the shard lock protects it.
package util

import (
	"container/heap"
	"strconv"
)

// item is one key of the heap together with its priority
type item struct {
	Key      uint64
	Priority uint64
	index    int // maintained by container/heap
}

func (i *item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap over uint64 priorities with key-based access
type MapHeap struct {
	items    []*item
	itemsMap map[uint64]*item
}

// NewMapHeap creates an empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[uint64]*item),
	}
}

// Len is part of heap.Interface
func (h *MapHeap) Len() int { return len(h.items) }

// Less is part of heap.Interface, the lowest priority is on top
func (h *MapHeap) Less(i, j int) bool {
	return h.items[i].Priority < h.items[j].Priority
}

// Swap is part of heap.Interface
func (h *MapHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push is part of heap.Interface, use Touch instead
func (h *MapHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.Key] = it
}

// Pop is part of heap.Interface, use PopMin instead
func (h *MapHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.Key)
	return it
}

// Touch inserts key with the given priority or moves an existing key to it
func (h *MapHeap) Touch(key, priority uint64) {
	if it, exists := h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &item{Key: key, Priority: priority})
}

// PopMin removes the key with the lowest priority
func (h *MapHeap) PopMin() (key uint64, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	it := heap.Pop(h).(*item)
	return it.Key, it.Priority, true
}

// Peek returns the key with the lowest priority without removing it
func (h *MapHeap) Peek() (key uint64, priority uint64, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	return h.items[0].Key, h.items[0].Priority, true
}

// Remove deletes key from the heap and returns its priority
func (h *MapHeap) Remove(key uint64) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Priority, true
}

// Contains reports whether key is in the heap
func (h *MapHeap) Contains(key uint64) bool {
	_, exists := h.itemsMap[key]
	return exists
}

// Priority returns the current priority of key
func (h *MapHeap) Priority(key uint64) (uint64, bool) {
	it, exists := h.itemsMap[key]
	if !exists {
		return 0, false
	}
	return it.Priority, true
}
