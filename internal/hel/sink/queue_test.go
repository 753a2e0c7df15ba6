package sink

import (
	"testing"
	"time"
)

func TestBoundedQueue_PushBlockWaitsForRoom(t *testing.T) {
	q := newBoundedQueue(1)
	if !q.pushBlock(queuedLine{line: []byte("a")}) {
		t.Fatalf("first push should succeed")
	}

	done := make(chan bool, 1)
	go func() {
		done <- q.pushBlock(queuedLine{line: []byte("b")})
	}()

	select {
	case <-done:
		t.Fatalf("pushBlock should not return before room is made")
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := q.pop(); !ok {
		t.Fatalf("pop should succeed")
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("pushBlock should have succeeded once room freed")
		}
	case <-time.After(time.Second):
		t.Fatalf("pushBlock never unblocked")
	}
}

func TestBoundedQueue_PushBlockReturnsFalseWhenClosed(t *testing.T) {
	q := newBoundedQueue(1)
	q.pushBlock(queuedLine{line: []byte("a")})

	done := make(chan bool, 1)
	go func() {
		done <- q.pushBlock(queuedLine{line: []byte("b")})
	}()
	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("pushBlock should report false after close")
		}
	case <-time.After(time.Second):
		t.Fatalf("pushBlock never returned after close")
	}
}

func TestBoundedQueue_PushDropOldestFirst(t *testing.T) {
	q := newBoundedQueue(2)
	q.pushDrop(queuedLine{sourceID: "a", line: []byte("a")}, "oldest_first")
	q.pushDrop(queuedLine{sourceID: "b", line: []byte("b")}, "oldest_first")
	dropped, reason := q.pushDrop(queuedLine{sourceID: "c", line: []byte("c")}, "oldest_first")
	if dropped == nil || dropped.sourceID != "a" {
		t.Fatalf("expected oldest (a) dropped, got %+v", dropped)
	}
	if reason != DropBackpressure {
		t.Fatalf("reason = %v", reason)
	}
	first, _ := q.pop()
	if first.sourceID != "b" {
		t.Fatalf("expected b to remain first, got %s", first.sourceID)
	}
}

func TestBoundedQueue_PushDropNewestFirst(t *testing.T) {
	q := newBoundedQueue(2)
	q.pushDrop(queuedLine{sourceID: "a", line: []byte("a")}, "newest_first")
	q.pushDrop(queuedLine{sourceID: "b", line: []byte("b")}, "newest_first")
	dropped, _ := q.pushDrop(queuedLine{sourceID: "c", line: []byte("c")}, "newest_first")
	if dropped == nil || dropped.sourceID != "c" {
		t.Fatalf("expected incoming (c) dropped, got %+v", dropped)
	}
	if q.len() != 2 {
		t.Fatalf("len = %d, want 2", q.len())
	}
}

func TestBoundedQueue_EvictAged(t *testing.T) {
	q := newBoundedQueue(10)
	q.items = append(q.items, queuedLine{sourceID: "old", queuedAt: time.Now().Add(-time.Hour)})
	q.items = append(q.items, queuedLine{sourceID: "new", queuedAt: time.Now()})

	n := q.evictAged(time.Minute)
	if n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if q.len() != 1 {
		t.Fatalf("len = %d, want 1", q.len())
	}
	remaining, _ := q.pop()
	if remaining.sourceID != "new" {
		t.Fatalf("expected new to remain, got %s", remaining.sourceID)
	}
}

func TestBoundedQueue_PopOnClosedEmpty(t *testing.T) {
	q := newBoundedQueue(1)
	q.close()
	if _, ok := q.pop(); ok {
		t.Fatalf("pop on closed empty queue should report false")
	}
}
