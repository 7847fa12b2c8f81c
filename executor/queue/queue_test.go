package queue

import (
	"testing"
	"time"
)

func TestTaskQueue_OrderAndFront(t *testing.T) {
	q := New[int](0)
	for i := 1; i <= 3; i++ {
		q.Push(i)
	}
	q.PushFront(0)
	if q.Size() != 4 {
		t.Fatalf("size = %d, want 4", q.Size())
	}
	for want := 0; want <= 3; want++ {
		got, ok := q.Pop(0)
		if !ok || got != want {
			t.Fatalf("pop = %d,%v want %d", got, ok, want)
		}
	}
	// Front insertion after the head has advanced reuses the slot.
	q.Push(5)
	q.Push(6)
	if v, _ := q.Pop(0); v != 5 {
		t.Fatalf("pop = %d, want 5", v)
	}
	q.PushFront(4)
	for _, want := range []int{4, 6} {
		if v, _ := q.Pop(0); v != want {
			t.Fatalf("pop = %d, want %d", v, want)
		}
	}
}

func TestTaskQueue_PopTimeout(t *testing.T) {
	q := New[string](0)
	start := time.Now()
	if _, ok := q.Pop(20 * time.Millisecond); ok {
		t.Fatalf("pop on empty queue succeeded")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("pop returned before timeout")
	}
	if q.IsClosed() {
		t.Fatalf("queue reported closed")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Push("x")
	}()
	if v, ok := q.Pop(-1); !ok || v != "x" {
		t.Fatalf("blocking pop = %q,%v", v, ok)
	}
}

func TestTaskQueue_CapacityBlocksPush(t *testing.T) {
	q := New[int](2)
	q.Push(1)
	q.Push(2)

	pushed := make(chan struct{})
	go func() {
		q.Push(3)
		close(pushed)
	}()
	select {
	case <-pushed:
		t.Fatalf("push on full queue did not block")
	case <-time.After(20 * time.Millisecond):
	}
	// PushFront ignores capacity.
	q.PushFront(0)
	if q.Size() != 3 {
		t.Fatalf("size = %d, want 3", q.Size())
	}
	q.Pop(0)
	q.Pop(0)
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatalf("push not released after pops")
	}
}

func TestTaskQueue_CloseDrainsThenFails(t *testing.T) {
	q := New[int](0)
	q.Push(7)

	waiting := New[int](0)
	done := make(chan bool)
	go func() {
		_, ok := waiting.Pop(-1)
		done <- ok
	}()
	waiting.Close()
	if ok := <-done; ok {
		t.Fatalf("pop on closed empty queue succeeded")
	}

	q.Close()
	if q.Push(8) {
		t.Fatalf("push after close succeeded")
	}
	if v, ok := q.Pop(-1); !ok || v != 7 {
		t.Fatalf("queued item lost on close: %d,%v", v, ok)
	}
	if _, ok := q.Pop(-1); ok {
		t.Fatalf("pop after drain succeeded")
	}
	if !q.IsClosed() {
		t.Fatalf("IsClosed = false")
	}
}
