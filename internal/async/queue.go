package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/DracoR22/InvoiceIQ/internal/entity"
)

// Job asks a worker to push one extraction as far as it can go.
type Job struct {
	ExtractionID uuid.UUID `json:"extraction_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Processor is what a worker runs for every job.
type Processor interface {
	Process(ctx context.Context, id uuid.UUID) (*entity.Extraction, error)
}

var ErrQueueClosed = errors.New("queue is shutting down")

type settings struct {
	workers int
	size    int
	timeout time.Duration
}

type Option func(*settings)

func WithWorkers(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.size = n
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{workers: 4, size: 256, timeout: 3 * time.Minute}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// handle runs one job with its own deadline, detached from whoever enqueued it.
func handle(proc Processor, timeout time.Duration, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := proc.Process(ctx, job.ExtractionID)
	return err
}
