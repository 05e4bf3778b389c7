package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 许可证指标
	LicensesCreated prometheus.Counter
	LicensesDeleted prometheus.Counter
	LicensesActive  prometheus.Gauge

	// 验证指标：result 为 valid 或具体失败原因
	ValidationsTotal *prometheus.CounterVec

	// 激活指标
	ActivationsTotal   *prometheus.CounterVec
	DeactivationsTotal prometheus.Counter
	HeartbeatsTotal    *prometheus.CounterVec
	SlotsOccupied      prometheus.Gauge
	StaleActivations   prometheus.Gauge
	StaleSweptTotal    prometheus.Counter

	// 生命周期指标：action 为 suspend/unsuspend/delete/extend/regenerate_key
	LifecycleOpsTotal *prometheus.CounterVec

	// 限流指标
	RateLimitBlocks prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensehub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "licensehub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		LicensesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensehub_licenses_created_total",
				Help: "Total number of licenses created",
			},
		),

		LicensesDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensehub_licenses_deleted_total",
				Help: "Total number of licenses deleted",
			},
		),

		LicensesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "licensehub_licenses_active",
				Help: "Number of licenses in active status",
			},
		),

		ValidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensehub_validations_total",
				Help: "Total number of validation requests by result",
			},
			[]string{"result"},
		),

		ActivationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensehub_activations_total",
				Help: "Total number of activation requests by result",
			},
			[]string{"result"},
		),

		DeactivationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensehub_deactivations_total",
				Help: "Total number of released activation slots",
			},
		),

		HeartbeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensehub_heartbeats_total",
				Help: "Total number of heartbeat requests by result",
			},
			[]string{"result"},
		),

		SlotsOccupied: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "licensehub_activation_slots_occupied",
				Help: "Number of currently occupied activation slots",
			},
		),

		StaleActivations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "licensehub_stale_activations",
				Help: "Number of active activations whose last heartbeat is older than the stale window",
			},
		),

		StaleSweptTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensehub_stale_activations_swept_total",
				Help: "Total number of activations deactivated by the stale sweeper",
			},
		),

		LifecycleOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensehub_lifecycle_operations_total",
				Help: "Total number of admin lifecycle operations by action",
			},
			[]string{"action"},
		),

		RateLimitBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensehub_rate_limit_blocks_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensehub_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensehub_panics_total",
				Help: "Total number of panics",
			},
		),

		SystemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "licensehub_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		DatabaseConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "licensehub_database_connections",
				Help: "Number of open database connections",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordLicenseCreated 记录一次许可证创建
func (m *Metrics) RecordLicenseCreated() {
	m.LicensesCreated.Inc()
}

// RecordLicenseDeleted 记录一次许可证删除
func (m *Metrics) RecordLicenseDeleted() {
	m.LicensesDeleted.Inc()
}

// RecordValidation 记录一次验证判定
func (m *Metrics) RecordValidation(result string) {
	m.ValidationsTotal.WithLabelValues(result).Inc()
}

// RecordActivation 记录一次激活请求
func (m *Metrics) RecordActivation(result string) {
	m.ActivationsTotal.WithLabelValues(result).Inc()
}

// RecordDeactivation 记录一次槽位释放
func (m *Metrics) RecordDeactivation() {
	m.DeactivationsTotal.Inc()
}

// RecordHeartbeat 记录一次心跳
func (m *Metrics) RecordHeartbeat(result string) {
	m.HeartbeatsTotal.WithLabelValues(result).Inc()
}

// RecordLifecycleOp 记录一次生命周期操作
func (m *Metrics) RecordLifecycleOp(action string) {
	m.LifecycleOpsTotal.WithLabelValues(action).Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock() {
	m.RateLimitBlocks.Inc()
}

// RecordStaleSwept 记录清扫停用的激活数
func (m *Metrics) RecordStaleSwept(count int) {
	m.StaleSweptTotal.Add(float64(count))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// UpdateSlotsOccupied 更新已占用槽位数
func (m *Metrics) UpdateSlotsOccupied(count int) {
	m.SlotsOccupied.Set(float64(count))
}

// UpdateStaleActivations 更新失联激活数
func (m *Metrics) UpdateStaleActivations(count int) {
	m.StaleActivations.Set(float64(count))
}

// UpdateLicensesActive 更新活跃许可证数
func (m *Metrics) UpdateLicensesActive(count int) {
	m.LicensesActive.Set(float64(count))
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
