package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"licensehub/backend/internal/storage"
)

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck 单项健康检查结果
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthReport 汇总的健康报告，由管理端 /admin/health 返回
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	Checks    []HealthCheck `json:"checks"`
	Version   string        `json:"version"`
}

// cachePinger 由混合存储实现，纯 SQL 或内存存储没有缓存层
type cachePinger interface {
	CacheHealth() error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	store     storage.Store
	logger    *zap.Logger
	startTime time.Time
	version   string
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, logger *zap.Logger, version string) *HealthChecker {
	return &HealthChecker{
		store:     store,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth 执行全部健康检查并汇总状态
func (hc *HealthChecker) CheckHealth() *HealthReport {
	report := &HealthReport{
		Timestamp: time.Now(),
		Uptime:    time.Since(hc.startTime),
		Version:   hc.version,
		Checks:    make([]HealthCheck, 0, 4),
	}

	checks := []func() HealthCheck{
		hc.checkStore,
		hc.checkCache,
		hc.checkMemory,
		hc.checkGoroutines,
	}

	overall := HealthStatusHealthy
	for _, check := range checks {
		result := check()
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall != HealthStatusUnhealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	report.Status = overall
	return report
}

// checkStore 检查主存储连通性，失败则整体不健康
func (hc *HealthChecker) checkStore() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "store", LastChecked: start}

	if err := hc.store.Health(); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("store connection failed: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = "store connection is healthy"
	}

	check.Duration = time.Since(start)
	return check
}

// checkCache 检查缓存层，缓存故障只算降级（验证会直接回落到主存储）
func (hc *HealthChecker) checkCache() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "cache", LastChecked: start}

	pinger, ok := hc.store.(cachePinger)
	if !ok {
		check.Status = HealthStatusHealthy
		check.Message = "no cache layer configured"
		check.Duration = time.Since(start)
		return check
	}

	if err := pinger.CacheHealth(); err != nil {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("cache connection issue: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = "cache connection is healthy"
	}

	check.Duration = time.Since(start)
	return check
}

// checkMemory 检查内存使用
func (hc *HealthChecker) checkMemory() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "memory", LastChecked: start}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usageMB := float64(m.Alloc) / 1024 / 1024
	if usageMB > 1024 {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("high memory usage: %.2f MB", usageMB)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("memory usage: %.2f MB", usageMB)
	}

	check.Duration = time.Since(start)
	return check
}

// checkGoroutines 检查 goroutine 数量
func (hc *HealthChecker) checkGoroutines() HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "goroutines", LastChecked: start}

	count := runtime.NumGoroutine()
	if count > 1000 {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("high goroutine count: %d", count)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("goroutines: %d", count)
	}

	check.Duration = time.Since(start)
	return check
}

// IsHealthy 检查系统是否完全健康
func (hc *HealthChecker) IsHealthy() bool {
	return hc.CheckHealth().Status == HealthStatusHealthy
}

// GetUptime 获取系统运行时间
func (hc *HealthChecker) GetUptime() time.Duration {
	return time.Since(hc.startTime)
}

// StartPeriodicHealthCheck 启动定期健康检查，直到 ctx 取消
func (hc *HealthChecker) StartPeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := hc.CheckHealth()

			switch report.Status {
			case HealthStatusUnhealthy:
				hc.logger.Error("health check failed",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			case HealthStatusDegraded:
				hc.logger.Warn("health check degraded",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			default:
				hc.logger.Debug("health check passed",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			}
		}
	}
}
