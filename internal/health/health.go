package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"licensehub/backend/internal/storage"
)

// cachePinger 由带 Redis 缓存的混合存储实现
type cachePinger interface {
	CacheHealth() error
}

// Checker 基于 healthcheck 的存活/就绪探针，挂在 /healthz 与 /readyz。
type Checker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewChecker 创建健康检查器
func NewChecker(store storage.Store, logger *zap.Logger) *Checker {
	c := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
	}
	c.addChecks()
	return c
}

// addChecks 注册各项探针
func (c *Checker) addChecks() {
	// 存储不可用则拒绝流量
	c.health.AddReadinessCheck("store", func() error {
		return c.store.Health()
	})

	// 缓存层只影响就绪，不影响存活
	if pinger, ok := c.store.(cachePinger); ok {
		c.health.AddReadinessCheck("cache", func() error {
			return pinger.CacheHealth()
		})
	}

	// goroutine 泄漏保护
	c.health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(1000))
}

// Handler 返回健康检查处理器
func (c *Checker) Handler() http.Handler {
	return c.health
}

// LiveEndpoint 存活探针入口
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针入口
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.health.ReadyEndpoint(w, r)
}

// Snapshot 返回各组件的即时状态，供管理端展示
func (c *Checker) Snapshot() map[string]string {
	results := make(map[string]string)

	if err := c.store.Health(); err != nil {
		results["store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["store"] = "OK"
	}

	if pinger, ok := c.store.(cachePinger); ok {
		if err := pinger.CacheHealth(); err != nil {
			results["cache"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["cache"] = "OK"
		}
	} else {
		results["cache"] = "NOT_CONFIGURED"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// DatabaseHealthCheck 原生数据库连接探针
func DatabaseHealthCheck(db *sql.DB) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return db.PingContext(ctx)
	}
}
