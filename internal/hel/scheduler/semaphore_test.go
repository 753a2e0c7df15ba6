package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSemaphore_NilIsUnlimited(t *testing.T) {
	var s semaphore
	for i := 0; i < 10; i++ {
		if err := s.acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	s.release()
}

func TestSemaphore_BlocksAtCapacity(t *testing.T) {
	s := newSemaphore(1)
	if err := s.acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.acquire(ctx); err == nil {
		t.Fatal("expected acquire to block until ctx deadline")
	}

	s.release()
	if err := s.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestSemaphore_CancelledContextReturnsImmediately(t *testing.T) {
	s := newSemaphore(1)
	if err := s.acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- s.acquire(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error from cancelled context")
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return promptly on cancellation")
	}
}
