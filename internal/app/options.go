package app

import (
	"os"
	"time"

	"github.com/roomgrid/billing-core/internal/config"
	"github.com/roomgrid/billing-core/internal/logger"

	"go.uber.org/zap"
)

// 启动模式。api 只起 HTTP 入口，worker 只起队列消费与巡检
const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

// Options 应用启动选项
type Options struct {
	Config          *config.Config
	Logger          *zap.SugaredLogger
	Signals         []os.Signal
	ShutdownTimeout time.Duration
	Mode            string
}

func normalizeOptions(opts Options) Options {
	if opts.Logger == nil {
		opts.Logger = logger.S()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	return opts
}
