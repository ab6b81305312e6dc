package bridgecore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolRunsJobsConcurrently(t *testing.T) {
	pool := newWorkerPool(4)
	defer pool.shutdown(true)

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		pool.submit(func() {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for jobs to run")
	}

	if atomic.LoadInt32(&n) != 10 {
		t.Errorf("ran %d jobs, want 10", n)
	}
}

func TestWorkerPoolShutdownWithoutWaitDoesNotBlock(t *testing.T) {
	pool := newWorkerPool(1)

	block := make(chan struct{})
	pool.submit(func() { <-block })

	done := make(chan struct{})
	go func() {
		pool.shutdown(false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown(false) blocked")
	}
	close(block)
}
