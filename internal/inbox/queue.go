package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("inbox queue is shutting down")

// Runner handles one spreadsheet end to end.
type Runner interface {
	Run(ctx context.Context, path string) error
}

// Queue feeds files to a Runner one at a time. A single worker matches the monitor's
// one-job-at-a-time model. Paths already waiting are not queued twice.
type Queue struct {
	runner  Runner
	logger  *slog.Logger
	timeout time.Duration

	ch   chan string
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}

	// base is cancelled when a shutdown deadline passes so the running job stops.
	base   context.Context
	cancel context.CancelFunc
}

type Option func(*Queue)

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

func WithRunTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(runner Runner, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		runner:  runner,
		logger:  logger,
		timeout: 2 * time.Hour,
		ch:      make(chan string, 64),
		pending: map[string]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.cancel = context.WithCancel(context.Background())
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.logger.Info("inbox.worker.start")
			for path := range q.ch {
				q.mu.Lock()
				delete(q.pending, path)
				q.mu.Unlock()

				if q.base.Err() != nil {
					// Shutdown deadline passed; leave the file for the next start.
					q.logger.Warn("inbox.run.skipped", "path", path, "reason", "shutting down")
					continue
				}
				start := time.Now()
				ctx, cancel := context.WithTimeout(q.base, q.timeout)
				err := q.runner.Run(ctx, path)
				cancel()
				if err != nil {
					q.logger.Error("inbox.run.failed", "path", path, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
				} else {
					q.logger.Info("inbox.run.ok", "path", path, "elapsed_ms", time.Since(start).Milliseconds())
				}
			}
			q.logger.Info("inbox.worker.stop")
		}()
	})
}

// Enqueue schedules path. It blocks while the queue is full, until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, path string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "path", path)
		return ErrQueueClosed
	}
	if _, dup := q.pending[path]; dup {
		q.logger.Debug("already queued", "path", path)
		return nil
	}
	select {
	case q.ch <- path:
	default:
		q.logger.Warn("queue full, applying backpressure", "path", path)
		select {
		case q.ch <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	q.pending[path] = struct{}{}
	q.logger.Info("inbox.enqueued", "path", path)
	return nil
}

// Shutdown stops accepting work and waits for queued files to drain. If ctx ends
// first, the running job is cancelled and files still queued are skipped.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
		q.cancel()
		<-done
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
	q.cancel()
}
