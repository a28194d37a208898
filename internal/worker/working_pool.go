package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type Job func(ctx context.Context) error

var ErrPoolStopped = errors.New("working pool stopped")

type WorkingPool struct {
	NumWorkers int
	jobChan    chan Job
	done       chan struct{}
	log        *zap.Logger
}

func NewWorkingPool(numWorkers int, queueSize int, log *zap.Logger) *WorkingPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkingPool{
		NumWorkers: numWorkers,
		jobChan:    make(chan Job, queueSize),
		done:       make(chan struct{}),
		log:        log,
	}
}

// SubmitJob enqueues a job, blocking while the queue is full.
func (p *WorkingPool) SubmitJob(ctx context.Context, job Job) error {
	select {
	case p.jobChan <- job:
		return nil
	case <-p.done:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkingPool) Start(ctx context.Context, managerWg *sync.WaitGroup) {
	defer managerWg.Done()

	var workerWg sync.WaitGroup
	for i := range p.NumWorkers {
		workerWg.Add(1)
		go p.worker(ctx, &workerWg, i+1)
	}

	<-ctx.Done()
	p.log.Info("working pool shutdown signaled")
	close(p.done)

	workerWg.Wait()
	p.log.Info("all workers stopped")
}

func (p *WorkingPool) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	for {
		select {
		case job := <-p.jobChan:
			p.safeExecution(ctx, job, id)
		case <-ctx.Done():
			return
		}
	}
}

func (p *WorkingPool) safeExecution(ctx context.Context, job Job, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic recovered in job",
				zap.Int("worker_id", workerID),
				zap.Any("panic", r))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	if err = job(ctx); err != nil {
		p.log.Warn("job failed", zap.Int("worker_id", workerID), zap.Error(err))
	}
	return err
}

// ============================================================================
// BATCHES
// ============================================================================

// Batch groups jobs submitted to the pool so a caller can wait for all of them.
// A failing or panicking job is counted and never stops its siblings.
type Batch struct {
	pool *WorkingPool
	wg   sync.WaitGroup
	mu   sync.Mutex
	res  BatchResult
}

type BatchResult struct {
	Submitted int
	Succeeded int
	Failed    int
	Errors    []error
}

func (p *WorkingPool) NewBatch() *Batch {
	return &Batch{pool: p}
}

func (b *Batch) Submit(ctx context.Context, job Job) error {
	b.wg.Add(1)
	wrapped := func(jobCtx context.Context) (err error) {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
			b.record(err)
		}()
		return job(jobCtx)
	}

	if err := b.pool.SubmitJob(ctx, wrapped); err != nil {
		b.wg.Done()
		return err
	}

	b.mu.Lock()
	b.res.Submitted++
	b.mu.Unlock()
	return nil
}

func (b *Batch) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.res.Failed++
		b.res.Errors = append(b.res.Errors, err)
		return
	}
	b.res.Succeeded++
}

// Wait blocks until every submitted job finished or ctx is done.
func (b *Batch) Wait(ctx context.Context) (BatchResult, error) {
	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return b.snapshot(), ctx.Err()
	}
	return b.snapshot(), nil
}

func (b *Batch) snapshot() BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := b.res
	res.Errors = append([]error(nil), b.res.Errors...)
	return res
}
