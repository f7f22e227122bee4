package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"grievance_server/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// Processor runs one job.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers          int
	WorkerChanSize   int
	BatchSize        int // 0 hands each job to its worker immediately
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
	MaxRetries       int
	RetryBase        time.Duration // first backoff; doubles per retry
}

func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        4,
		WorkerChanSize: 100,
		JobTimeout:     60 * time.Second,
		JobTimeoutByType: map[JobType]time.Duration{
			JobIngest:    2 * time.Minute,
			JobBatch:     30 * time.Minute,
			JobReprocess: 30 * time.Minute,
		},
		MaxRetries: 3,
		RetryBase:  time.Second,
	}
}

// Pool runs jobs on a go-pkgz/pool worker group. Jobs of one type share a
// worker, so they run one after another in submission order.
type Pool struct {
	processor Processor
	config    *PoolConfig
	retryable func(error) bool

	pool *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	JobsRetried    int64
	AvgProcessTime int64 // milliseconds
}

type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

// NewPool creates a pool. retryable decides which failures are retried;
// nil retries nothing.
func NewPool(processor Processor, config *PoolConfig, retryable func(error) bool, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.WorkerChanSize < 1 {
		config.WorkerChanSize = 100
	}
	if config.BatchSize < 0 {
		config.BatchSize = 0
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		processor: processor,
		config:    config,
		retryable: retryable,
		ctx:       ctx,
		cancel:    cancel,
		metrics:   &PoolMetrics{},
		log:       log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the worker group.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.pool = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithChunkFn(func(msg *Message) string { return msg.Type }).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		return err
	}
	p.started = true

	p.log.Info().Int("workers", p.config.Workers).Msg("worker pool started")
	return nil
}

// Stop drains submitted jobs and stops the workers. Pending retries are
// dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	wg := p.pool
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := wg.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing worker pool")
	}
	p.cancel()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit queues a job. It returns false once the pool is stopped.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return false
	}
	p.pool.Submit(msg)
	return true
}

func (p *Pool) timeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, p.timeout(msg.Type))
	defer cancel()

	err := p.processor.Process(jobCtx, msg)
	if err == nil && jobCtx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
		err = jobCtx.Err()
	}

	elapsed := time.Since(start)
	p.updateAvgProcessTime(elapsed.Milliseconds())
	metrics.WorkerJobDuration.WithLabelValues(msg.Type).Observe(elapsed.Seconds())

	if err == nil {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		metrics.WorkerJobs.WithLabelValues(msg.Type, "success").Inc()
		return nil
	}

	p.log.Error().
		Err(err).
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Msg("job processing failed")

	if p.retryable(err) && msg.Retries < p.config.MaxRetries {
		msg.Retries++
		atomic.AddInt64(&p.metrics.JobsRetried, 1)
		metrics.WorkerJobs.WithLabelValues(msg.Type, "retried").Inc()

		// Exponential backoff with jitter.
		backoff := p.config.RetryBase << (msg.Retries - 1)
		if jitterMax := int64(p.config.RetryBase / 2); jitterMax > 0 {
			backoff += time.Duration(rand.Int63n(jitterMax))
		}
		time.AfterFunc(backoff, func() {
			if !p.Submit(msg) {
				p.log.Warn().Str("job_id", msg.ID).Msg("pool stopped, retry dropped")
			}
		})
		return err
	}

	atomic.AddInt64(&p.metrics.JobsFailed, 1)
	metrics.WorkerJobs.WithLabelValues(msg.Type, "failed").Inc()
	p.log.Error().
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Interface("payload", redactPayload(msg.Payload)).
		Msg("job permanently failed")
	return err
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}

// GetMetrics returns a snapshot of the pool counters.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRetried:    atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
	}
}

// redactPayload drops raw message bytes from log output.
func redactPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "raw" {
			v = "[redacted]"
		}
		out[k] = v
	}
	return out
}
