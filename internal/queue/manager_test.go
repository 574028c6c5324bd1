package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerProcessesJobs(t *testing.T) {
	manager := NewManager(Config{Workers: 2, MaxPending: 2})
	t.Cleanup(func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown failed: %v", err)
		}
	})

	var mu sync.Mutex
	results := make([]int, 0, 3)

	for i := 0; i < 3; i++ {
		i := i
		if err := manager.Submit(context.Background(), func(context.Context) error {
			mu.Lock()
			results = append(results, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}

func TestManagerReturnsJobError(t *testing.T) {
	manager := NewManager(Config{Workers: 1, MaxPending: 1})
	defer manager.Shutdown(context.Background())

	boom := errors.New("model crashed")
	if err := manager.Submit(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestManagerSerializesWithSingleWorker(t *testing.T) {
	manager := NewManager(Config{Workers: 1, MaxPending: 8})
	defer manager.Shutdown(context.Background())

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.Submit(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					cur := maxRunning.Load()
					if n <= cur || maxRunning.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("submit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := maxRunning.Load(); got != 1 {
		t.Fatalf("expected at most 1 concurrent job, saw %d", got)
	}
}

func TestManagerQueueFull(t *testing.T) {
	manager := NewManager(Config{Workers: 1, MaxPending: 0})
	defer manager.Shutdown(context.Background())

	start := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = manager.Submit(context.Background(), func(context.Context) error {
			close(start)
			<-release
			return nil
		})
	}()

	select {
	case <-start:
	case <-time.After(time.Second):
		t.Fatal("worker did not start")
	}

	if err := manager.Submit(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(release)
}

func TestManagerDropsCancelledPendingJob(t *testing.T) {
	manager := NewManager(Config{Workers: 1, MaxPending: 1})
	defer manager.Shutdown(context.Background())

	start := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = manager.Submit(context.Background(), func(context.Context) error {
			close(start)
			<-release
			return nil
		})
	}()
	<-start

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- manager.Submit(ctx, func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()

	deadline := time.After(time.Second)
	for manager.Stats().Pending != 1 {
		select {
		case <-deadline:
			t.Fatal("job was not queued")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(release)

	// A later job proves the worker moved past the dropped one.
	if err := manager.Submit(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("submit after cancel failed: %v", err)
	}
	if ran.Load() {
		t.Fatal("cancelled job should not have run")
	}
}

func TestManagerStats(t *testing.T) {
	manager := NewManager(Config{Workers: 1, MaxPending: 2})
	defer manager.Shutdown(context.Background())

	start := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = manager.Submit(context.Background(), func(context.Context) error {
			close(start)
			<-release
			return nil
		})
	}()
	<-start

	stats := manager.Stats()
	if stats.Workers != 1 || stats.Active != 1 || stats.Pending != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	close(release)
}

func TestManagerSubmitAfterShutdown(t *testing.T) {
	manager := NewManager(Config{Workers: 1})
	if err := manager.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	if err := manager.Submit(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestManagerShutdownWaitsForInflight(t *testing.T) {
	manager := NewManager(Config{Workers: 1, MaxPending: 1})

	start := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		_ = manager.Submit(context.Background(), func(context.Context) error {
			close(start)
			<-release
			close(finished)
			return nil
		})
	}()

	select {
	case <-start:
	case <-time.After(time.Second):
		t.Fatalf("job did not start")
	}

	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		shutdownDone <- manager.Shutdown(ctx)
	}()

	select {
	case err := <-shutdownDone:
		if err == nil {
			t.Fatal("shutdown returned before job finished")
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("shutdown did not time out")
	}

	close(release)
	<-finished

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown after release failed: %v", err)
	}
}

func TestManagerWaitsForStartedJobAfterCancel(t *testing.T) {
	manager := NewManager(Config{Workers: 1, MaxPending: 1})
	defer manager.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	start := make(chan struct{})
	release := make(chan struct{})
	var finished, jobCtxDone atomic.Bool

	done := make(chan error, 1)
	go func() {
		done <- manager.Submit(ctx, func(jobCtx context.Context) error {
			close(start)
			<-release
			jobCtxDone.Store(jobCtx.Err() != nil)
			finished.Store(true)
			return nil
		})
	}()
	<-start

	cancel()
	select {
	case err := <-done:
		t.Fatalf("submit returned %v while its job was still running", err)
	case <-time.After(50 * time.Millisecond):
	}

	if got := manager.Stats().Active; got != 1 {
		t.Fatalf("expected the started job to keep its worker, active=%d", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("expected the job result, got %v", err)
	}
	if !finished.Load() {
		t.Fatal("submit returned before the job finished")
	}
	if jobCtxDone.Load() {
		t.Fatal("job context should not follow the submitter's cancellation")
	}
}

func TestManagerCancelledSubmittersNeverOverlapJobs(t *testing.T) {
	manager := NewManager(Config{Workers: 1, MaxPending: 4})
	defer manager.Shutdown(context.Background())

	var running, maxRunning atomic.Int32
	work := func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			cur := maxRunning.Load()
			if n <= cur || maxRunning.CompareAndSwap(cur, n) {
				break
			}
		}
		select {
		case <-time.After(40 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			defer cancel()
			_ = manager.Submit(ctx, work)
		}()
	}
	wg.Wait()

	if err := manager.Submit(context.Background(), work); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if got := maxRunning.Load(); got != 1 {
		t.Fatalf("expected at most 1 concurrent job, saw %d", got)
	}
}
