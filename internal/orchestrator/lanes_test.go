package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loomwell/handover-backend/internal/logger"
)

func lanesLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestLanesSerializePerTenant(t *testing.T) {
	l := newLanes(lanesLogger(t))
	defer l.close()

	tenant := uuid.New()
	var mu sync.Mutex
	var order []int
	var inFlight, maxInFlight int

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_ = l.run(context.Background(), tenant, func() error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				order = append(order, i)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("same-tenant jobs overlapped: max in flight %d", maxInFlight)
	}
	if len(order) != 10 {
		t.Fatalf("ran %d jobs, want 10", len(order))
	}
}

func TestLanesFIFOWithinTenant(t *testing.T) {
	l := newLanes(lanesLogger(t))
	defer l.close()

	tenant := uuid.New()
	var mu sync.Mutex
	var order []int

	// a slow first job guarantees the rest are queued before any runs
	blocker := make(chan struct{})
	go func() {
		_ = l.run(context.Background(), tenant, func() error {
			<-blocker
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_ = l.run(context.Background(), tenant, func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(5 * time.Millisecond) // enqueue in a known order
	}
	close(blocker)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestLanesTenantsRunInParallel(t *testing.T) {
	l := newLanes(lanesLogger(t))
	defer l.close()

	release := make(chan struct{})
	started := make(chan uuid.UUID, 2)

	a, b := uuid.New(), uuid.New()
	var wg sync.WaitGroup
	for _, tenant := range []uuid.UUID{a, b} {
		wg.Add(1)
		tenant := tenant
		go func() {
			defer wg.Done()
			_ = l.run(context.Background(), tenant, func() error {
				started <- tenant
				<-release
				return nil
			})
		}()
	}

	// both lanes must start even though neither job has finished
	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-deadline:
			t.Fatalf("tenants did not run in parallel")
		}
	}
	close(release)
	wg.Wait()
}

func TestLanesPropagateJobError(t *testing.T) {
	l := newLanes(lanesLogger(t))
	defer l.close()

	wantErr := errors.New("boom")
	err := l.run(context.Background(), uuid.New(), func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v", err)
	}
}

func TestLanesRejectAfterClose(t *testing.T) {
	l := newLanes(lanesLogger(t))
	l.close()

	err := l.run(context.Background(), uuid.New(), func() error { return nil })
	if !errors.Is(err, errLanesClosed) {
		t.Fatalf("got %v", err)
	}
}

func TestLanesHonorContextWhileWaiting(t *testing.T) {
	l := newLanes(lanesLogger(t))
	defer l.close()

	tenant := uuid.New()
	blocker := make(chan struct{})
	go func() {
		_ = l.run(context.Background(), tenant, func() error {
			<-blocker
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := make(chan struct{})
	err := l.run(ctx, tenant, func() error {
		close(ran)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}

	// the canceled job is skipped when its turn comes
	close(blocker)
	time.Sleep(50 * time.Millisecond)
	select {
	case <-ran:
		t.Fatalf("canceled job must not execute")
	default:
	}
}
