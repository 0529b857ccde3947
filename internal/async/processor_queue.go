package async

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProcessorQueue is an in-process worker pool fed by a buffered channel.
type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch      chan Job
	done    chan struct{}
	wg      sync.WaitGroup
	senders sync.WaitGroup
	once    sync.Once

	mu     sync.Mutex
	closed bool
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	s := newSettings(opts)
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: s.workers,
		timeout: s.timeout,
		ch:      make(chan Job, s.size),
		done:    make(chan struct{}),
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker.started", "worker_id", workerID)

				for job := range q.ch {
					start := time.Now()
					if err := handle(q.proc, q.timeout, job); err != nil {
						q.logger.Error("queue.job.failed",
							"worker_id", workerID,
							"extraction_id", job.ExtractionID,
							"trace_id", job.TraceID,
							"error", err,
						)
						continue
					}
					q.logger.Info("queue.job.ok",
						"worker_id", workerID,
						"extraction_id", job.ExtractionID,
						"elapsed_ms", time.Since(start).Milliseconds(),
					)
				}

				q.logger.Info("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue blocks while the buffer is full, until ctx is done or the queue
// starts shutting down.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue.enqueue.closed", "extraction_id", job.ExtractionID)
		return ErrQueueClosed
	}
	// q.ch stays open until every registered sender has returned
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueue.ok", "extraction_id", job.ExtractionID)
		return nil
	default:
	}
	q.logger.Warn("queue.enqueue.backpressure", "extraction_id", job.ExtractionID)
	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueue.ok", "extraction_id", job.ExtractionID)
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops intake and waits for queued jobs to drain or ctx to end.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		q.senders.Wait()
		close(q.ch)
		q.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-drained:
		q.logger.Info("queue.shutdown.drained")
	}
}
