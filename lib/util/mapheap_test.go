package util

import (
	"math/rand"
	"sort"
	"testing"
)

func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap()
	if mh.Len() != 0 {
		t.Errorf("new heap should be empty, has %d items", mh.Len())
	}
	if _, _, ok := mh.PopMin(); ok {
		t.Error("PopMin on empty heap should fail")
	}
	if _, _, ok := mh.Peek(); ok {
		t.Error("Peek on empty heap should fail")
	}
}

func TestTouchOrdersByPriority(t *testing.T) {
	mh := NewMapHeap()
	mh.Touch(1, 100)
	mh.Touch(2, 200)
	mh.Touch(3, 50)

	key, prio, ok := mh.Peek()
	if !ok || key != 3 || prio != 50 {
		t.Fatalf("expected (3,50) on top, got (%d,%d,%v)", key, prio, ok)
	}

	// touching key 3 again makes it the most recent one
	mh.Touch(3, 300)
	key, _, _ = mh.Peek()
	if key != 1 {
		t.Errorf("expected key 1 on top after touch, got %d", key)
	}
	if mh.Len() != 3 {
		t.Errorf("touch of an existing key must not add items, len=%d", mh.Len())
	}
	if p, _ := mh.Priority(3); p != 300 {
		t.Errorf("expected priority 300 for key 3, got %d", p)
	}
}

func TestRemove(t *testing.T) {
	mh := NewMapHeap()
	for i := uint64(0); i < 10; i++ {
		mh.Touch(i, i*10)
	}

	if p, ok := mh.Remove(4); !ok || p != 40 {
		t.Errorf("Remove(4) = (%d,%v), want (40,true)", p, ok)
	}
	if mh.Contains(4) {
		t.Error("key 4 should be gone")
	}
	if _, ok := mh.Remove(4); ok {
		t.Error("second Remove(4) should fail")
	}
	if mh.Len() != 9 {
		t.Errorf("expected 9 items, got %d", mh.Len())
	}
}

func TestPopMinReturnsSortedOrder(t *testing.T) {
	mh := NewMapHeap()
	r := rand.New(rand.NewSource(42))

	var prios []uint64
	for i := uint64(0); i < 500; i++ {
		p := uint64(r.Int63n(1_000_000))
		prios = append(prios, p)
		mh.Touch(i, p)
	}
	sort.Slice(prios, func(i, j int) bool { return prios[i] < prios[j] })

	for i, want := range prios {
		_, got, ok := mh.PopMin()
		if !ok {
			t.Fatalf("heap ran empty at %d", i)
		}
		if got != want {
			t.Fatalf("pop %d: got priority %d, want %d", i, got, want)
		}
	}
	if mh.Len() != 0 || len(mh.itemsMap) != 0 {
		t.Errorf("heap should be empty, len=%d map=%d", mh.Len(), len(mh.itemsMap))
	}
}
