package pool

import (
	"context"
	"sync"
	"testing"
)

// =============================================================================
// Race Condition Tests for Pool
// Run with: go test -race -run TestPool_Race ./pkg/pool/
// =============================================================================

// TestPool_Race_ConcurrentPushAndSetLimit exercises concurrent Push and
// SetLimit calls, which is exactly the pattern the batch orchestrator
// produces: task bodies push new parts while another goroutine reacts to
// a weak verdict by resizing the pool mid-flight.
func TestPool_Race_ConcurrentPushAndSetLimit(t *testing.T) {
	p := New(context.Background(), 2)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.Push(func(ctx context.Context) {}, n%2 == 0)
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.SetLimit(1 + n%4)
		}(i)
	}
	wg.Wait()
	p.Idle()
}

// TestPool_Race_SnapshotDuringDispatch exercises concurrent Snapshot
// calls while tasks are being dispatched and completed.
func TestPool_Race_SnapshotDuringDispatch(t *testing.T) {
	p := New(context.Background(), 4)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.Push(func(ctx context.Context) {}, n%3 == 0)
		}(i)
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Snapshot()
		}()
	}
	wg.Wait()
	p.Idle()
}
