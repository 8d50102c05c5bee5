package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/loomwell/handover-backend/internal/logger"
)

// laneQueueDepth bounds how many jobs one tenant can have waiting before
// enqueues block.
const laneQueueDepth = 32

// lanes serializes work per tenant. One goroutine drains each tenant's FIFO,
// so no two writes for the same tenant ever overlap while different tenants
// run in parallel.
type lanes struct {
	log *logger.Logger

	mu     sync.Mutex
	queues map[uuid.UUID]chan func()
	wg     sync.WaitGroup
	closed bool
}

func newLanes(log *logger.Logger) *lanes {
	return &lanes{
		log:    log,
		queues: map[uuid.UUID]chan func(){},
	}
}

// run executes fn in the tenant's lane and waits for it to finish.
func (l *lanes) run(ctx context.Context, tenantID uuid.UUID, fn func() error) error {
	done := make(chan error, 1)
	job := func() {
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		done <- fn()
	}

	queue, err := l.queueFor(tenantID)
	if err != nil {
		return err
	}

	select {
	case queue <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// the job still runs to completion in the lane; the caller just
		// stops waiting
		return ctx.Err()
	}
}

func (l *lanes) queueFor(tenantID uuid.UUID) (chan func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errLanesClosed
	}
	queue, ok := l.queues[tenantID]
	if !ok {
		queue = make(chan func(), laneQueueDepth)
		l.queues[tenantID] = queue
		l.wg.Add(1)
		go l.drain(tenantID, queue)
	}
	return queue, nil
}

func (l *lanes) drain(tenantID uuid.UUID, queue chan func()) {
	defer l.wg.Done()
	l.log.Debug("Tenant lane started", "tenant_id", tenantID.String())
	for job := range queue {
		job()
	}
	l.log.Debug("Tenant lane stopped", "tenant_id", tenantID.String())
}

// close stops accepting jobs and waits for queued work to finish.
func (l *lanes) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, queue := range l.queues {
		close(queue)
	}
	l.mu.Unlock()
	l.wg.Wait()
}
