package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"licensehub/backend/internal/storage"
)

// connectionReporter 由带连接池的存储实现，内存存储没有连接池
type connectionReporter interface {
	OpenConnections() int
}

// GaugeCollector 周期采样业务计量并刷新 gauge 指标。
//
// 计数取自存储当前状态，进程重启后第一次采样即可恢复真实值，
// 不依赖事件流的增减计数。staleWindow 大于零时额外暴露失联激活数，
// 这是清扫关闭时失联情况唯一的对外可见信号。
type GaugeCollector struct {
	store       storage.Store
	metrics     *Metrics
	logger      *zap.Logger
	staleWindow time.Duration
	startedAt   time.Time
}

// NewGaugeCollector 创建指标采样器
func NewGaugeCollector(store storage.Store, metrics *Metrics, logger *zap.Logger, staleWindow time.Duration) *GaugeCollector {
	return &GaugeCollector{
		store:       store,
		metrics:     metrics,
		logger:      logger,
		staleWindow: staleWindow,
		startedAt:   time.Now(),
	}
}

// Collect 执行一轮采样。采样失败只记日志，下一轮重试。
func (gc *GaugeCollector) Collect() {
	gc.metrics.UpdateSystemUptime(time.Since(gc.startedAt))

	if count, err := gc.store.CountOccupiedSlots(); err != nil {
		gc.logger.Warn("failed to count occupied slots", zap.Error(err))
	} else {
		gc.metrics.UpdateSlotsOccupied(count)
	}

	if count, err := gc.store.CountActiveLicenses(); err != nil {
		gc.logger.Warn("failed to count active licenses", zap.Error(err))
	} else {
		gc.metrics.UpdateLicensesActive(count)
	}

	if gc.staleWindow > 0 {
		before := time.Now().Add(-gc.staleWindow)
		if count, err := gc.store.CountStaleActivations(before); err != nil {
			gc.logger.Warn("failed to count stale activations", zap.Error(err))
		} else {
			gc.metrics.UpdateStaleActivations(count)
		}
	}

	if reporter, ok := gc.store.(connectionReporter); ok {
		gc.metrics.UpdateDatabaseConnections(reporter.OpenConnections())
	}
}

// Start 周期采样直到 ctx 取消
func (gc *GaugeCollector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	gc.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.Collect()
		}
	}
}
