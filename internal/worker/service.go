package worker

import (
	"context"
	"errors"
	"time"

	"github.com/roomgrid/billing-core/internal/config"
	"github.com/roomgrid/billing-core/internal/logger"
	"github.com/roomgrid/billing-core/internal/queue"

	"github.com/hibiken/asynq"
)

const defaultSweepInterval = 30 * time.Minute

// Service 异步队列服务。消费审计与巡检任务，并内置周期巡检。
type Service struct {
	name          string
	server        *asynq.Server
	mux           *asynq.ServeMux
	consumer      *Consumer
	sweepInterval time.Duration
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer, sweepIntervalMinutes int) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:          "worker",
		server:        server,
		mux:           mux,
		consumer:      consumer,
		sweepInterval: sweepIntervalDuration(sweepIntervalMinutes),
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.consumer != nil && s.consumer.SweeperService != nil {
		go runSweepLoop(ctx, s.consumer, s.sweepInterval)
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// SweepLoop 独立的周期巡检服务，队列未启用时兜底
type SweepLoop struct {
	consumer *Consumer
	interval time.Duration
}

// NewSweepLoop 创建周期巡检服务
func NewSweepLoop(consumer *Consumer, sweepIntervalMinutes int) *SweepLoop {
	return &SweepLoop{
		consumer: consumer,
		interval: sweepIntervalDuration(sweepIntervalMinutes),
	}
}

// Name 服务名称
func (l *SweepLoop) Name() string {
	return "sweep_loop"
}

// Start 启动服务
func (l *SweepLoop) Start(ctx context.Context) error {
	if l == nil || l.consumer == nil || l.consumer.SweeperService == nil {
		return errors.New("sweep loop not initialized")
	}
	runSweepLoop(ctx, l.consumer, l.interval)
	return nil
}

// Stop 停止服务
func (l *SweepLoop) Stop(ctx context.Context) error {
	return nil
}

func sweepIntervalDuration(minutes int) time.Duration {
	if minutes <= 0 {
		return defaultSweepInterval
	}
	return time.Duration(minutes) * time.Minute
}

func runSweepLoop(ctx context.Context, consumer *Consumer, interval time.Duration) {
	if consumer == nil || consumer.SweeperService == nil {
		return
	}
	runOnce := func() {
		if _, err := consumer.SweeperService.Sweep(ctx); err != nil {
			logger.Warnw("worker_sweep_loop_failed", "error", err)
		}
	}
	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
