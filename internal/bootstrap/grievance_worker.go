package bootstrap

import (
	"context"
	"errors"
	"sync"

	"grievance_server/adapter/in/worker"
	"grievance_server/adapter/out/messaging"
	"grievance_server/config"
	"grievance_server/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker consumes ingest and job streams. Ingest entries are stored before
// they are acknowledged; batch and reprocess jobs go through the pool.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.Consumer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

// NewWorker needs Redis; without it there is nothing to consume.
func NewWorker(cfg *config.Config, deps *Dependencies) (*Worker, error) {
	if deps.Redis == nil {
		return nil, errors.New("worker mode requires REDIS_URL")
	}

	zlog := logger.Component("worker")
	handler := worker.NewHandler(deps.Service, deps.Parser, deps.Sources...)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.IngestWorkers > 0 {
		poolConfig.Workers = cfg.IngestWorkers
	}
	pool := worker.NewPool(handler, poolConfig, worker.Retryable, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	streams := []string{messaging.StreamIngest, messaging.StreamJobs}
	w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
		Group:    cfg.StreamGroup,
		Consumer: cfg.WorkerID,
		Streams:  streams,
		Handler:  worker.NewStreamHandler(handler, pool),
		Logger:   zlog,
	})
	logger.Info("Stream consumer configured for %d streams", len(streams))

	return w, nil
}

// Start blocks until Stop is called.
func (w *Worker) Start() error {
	if err := w.pool.Start(); err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.zlog.Error().Err(err).Msg("consumer stopped")
		}
	}()

	w.zlog.Info().Msg("worker started")
	<-w.ctx.Done()
	return nil
}

// Stop halts consumption first so no new jobs reach the draining pool.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	w.pool.Stop()

	m := w.pool.GetMetrics()
	w.zlog.Info().
		Int64("processed", m.JobsProcessed).
		Int64("failed", m.JobsFailed).
		Int64("retried", m.JobsRetried).
		Msg("worker stopped")
}
