package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "invoiceiq:extraction_jobs"

// RedisQueue keeps jobs in a Redis list so several server instances share
// one backlog. Producers LPUSH, workers BRPOP.
type RedisQueue struct {
	client  *redis.Client
	key     string
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration
	poll    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewRedisQueue(url string, proc Processor, logger *slog.Logger, opts ...Option) (*RedisQueue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := newSettings(opts)
	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		client:  redis.NewClient(opt),
		key:     defaultRedisKey,
		proc:    proc,
		logger:  logger,
		workers: s.workers,
		timeout: s.timeout,
		poll:    2 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(i + 1)
	}
	return q, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	depth, err := q.client.LPush(ctx, q.key, payload).Result()
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	q.logger.Info("queue.enqueue.ok", "extraction_id", job.ExtractionID, "depth", depth)
	return nil
}

func (q *RedisQueue) work(workerID int) {
	defer q.wg.Done()
	q.logger.Info("queue.worker.started", "worker_id", workerID, "backend", "redis")
	defer q.logger.Info("queue.worker.stopped", "worker_id", workerID)

	for q.ctx.Err() == nil {
		res, err := q.client.BRPop(q.ctx, q.poll, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if q.ctx.Err() != nil {
				return
			}
			q.logger.Error("queue.pop.failed", "worker_id", workerID, "error", err)
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(q.poll):
			}
			continue
		case len(res) < 2:
			continue
		}

		job, err := decodeJob(res[1])
		if err != nil {
			q.logger.Error("queue.job.malformed", "worker_id", workerID, "payload", res[1], "error", err)
			continue
		}
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
}

// Shutdown stops the workers after their current job and closes the client.
// Jobs still in the list stay there for the next start.
func (q *RedisQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted", "backend", "redis")
	case <-done:
		q.logger.Info("queue.shutdown.drained", "backend", "redis")
	}
	if err := q.client.Close(); err != nil {
		q.logger.Warn("queue.redis.close_error", "error", err)
	}
}

func encodeJob(job Job) (string, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(b), nil
}

func decodeJob(payload string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.ExtractionID == uuid.Nil {
		return Job{}, errors.New("decode job: missing extraction_id")
	}
	return job, nil
}
