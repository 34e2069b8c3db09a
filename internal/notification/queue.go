package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job is one delivery attempt chain for a notification.
type Job struct {
	ID             string
	NotificationID string
	Retries        int
}

// ProcessFunc delivers a notification. A non-nil error schedules a retry.
type ProcessFunc func(ctx context.Context, notificationID string) error

type QueueConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxRetries: 3, BaseBackoff: time.Second}
}

// Queue is an in-memory FIFO drained by at most one goroutine at a time.
// Failed jobs are re-pushed after base * 2^(retries-1) until MaxRetries is reached.
type Queue struct {
	mu         sync.Mutex
	jobs       []Job
	processing bool
	stopped    bool
	timers     map[*time.Timer]struct{}
	cfg        QueueConfig
	process    ProcessFunc
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewQueue(cfg QueueConfig, process ProcessFunc, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultQueueConfig().BaseBackoff
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		timers:  map[*time.Timer]struct{}{},
		cfg:     cfg,
		process: process,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Push enqueues a fresh job for notificationID and kicks the drain loop if idle.
func (q *Queue) Push(notificationID string) {
	job := Job{ID: uuid.NewString(), NotificationID: notificationID}
	q.logger.Info("job enqueued", zap.String("jobId", job.ID), zap.String("notificationId", notificationID))
	q.push(job)
}

func (q *Queue) push(job Job) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Warn("queue stopped, job dropped", zap.String("jobId", job.ID))
		return
	}
	q.jobs = append(q.jobs, job)
	start := !q.processing
	if start {
		q.processing = true
		q.wg.Add(1)
	}
	q.mu.Unlock()
	if start {
		go q.drain()
	}
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 || q.stopped {
			q.processing = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		q.run(job)
	}
}

func (q *Queue) run(job Job) {
	log := q.logger.With(zap.String("jobId", job.ID), zap.String("notificationId", job.NotificationID))
	log.Info("processing job", zap.Int("attempt", job.Retries+1), zap.Int("maxAttempts", q.cfg.MaxRetries+1))

	err := q.process(q.ctx, job.NotificationID)
	if err == nil {
		log.Info("job completed")
		return
	}
	log.Warn("job failed", zap.Error(err))

	if job.Retries >= q.cfg.MaxRetries {
		log.Error("job exhausted retries", zap.Int("maxRetries", q.cfg.MaxRetries))
		return
	}
	job.Retries++
	delay := RetryDelay(q.cfg.BaseBackoff, job.Retries)
	log.Info("retrying job", zap.Duration("delay", delay), zap.Int("retry", job.Retries))
	q.schedule(job, delay)
}

func (q *Queue) schedule(job Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		q.push(job)
	})
	q.timers[t] = struct{}{}
}

// RetryDelay is the wait before retry n (1-based): base, 2*base, 4*base, ...
func RetryDelay(base time.Duration, retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = base << uint(retry)
	b.MaxElapsedTime = 0
	b.Reset()
	var d time.Duration
	for i := 0; i < retry; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Pending counts queued jobs plus jobs waiting on a retry timer.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) + len(q.timers)
}

// Close stops retry timers, cancels in-flight delivery and waits for the drain loop.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
