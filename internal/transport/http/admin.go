package httptransport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/middleware"
	"licensehub/backend/internal/monitoring"
	"licensehub/backend/internal/service"
	"licensehub/backend/internal/storage"
)

// AdminHandler 管理端处理器（许可证 CRUD + 生命周期操作 + 运维视图）
type AdminHandler struct {
	licenses  *service.LicenseService
	lifecycle *service.LifecycleService
	health    *monitoring.HealthChecker
	alerts    *monitoring.AlertManager
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// NewAdminHandler 创建管理端处理器
func NewAdminHandler(
	licenses *service.LicenseService,
	lifecycle *service.LifecycleService,
	health *monitoring.HealthChecker,
	alerts *monitoring.AlertManager,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		licenses:  licenses,
		lifecycle: lifecycle,
		health:    health,
		alerts:    alerts,
		metrics:   metrics,
		log:       logger,
	}
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

type extendRequest struct {
	Days int `json:"days" binding:"required"`
}

type licenseListResponse struct {
	Items    []domain.License `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

type summaryListResponse struct {
	Items    []service.LicenseSummary `json:"items"`
	Total    int                      `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
}

// CreateLicense godoc
// @Summary 创建许可证
// @Description 生成新密钥并创建许可证记录
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} Response{data=domain.License}
// @Failure 400 {object} Response
// @Router /v1/admin/licenses [post]
func (h *AdminHandler) CreateLicense(c *gin.Context) {
	var input service.CreateLicenseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	license, err := h.licenses.Create(input)
	if err != nil {
		if errors.Is(err, service.ErrInvalidLicenseInput) {
			BadRequest(c, err.Error())
			return
		}
		h.log.Error("failed to create license", zap.Error(err))
		StorageUnavailable(c)
		return
	}

	h.metrics.RecordLicenseCreated()
	actor, _ := middleware.ActorFromContext(c)
	h.log.Info("license created",
		zap.String("license_id", license.ID),
		zap.String("product", license.ProductName),
		zap.String("admin", actor.Email),
	)

	Created(c, license)
}

// ListLicenses godoc
// @Summary 许可证列表
// @Description 分页列出许可证，支持按状态过滤和模糊搜索
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param search query string false "按产品名/客户名/客户邮箱搜索"
// @Param status query string false "按状态过滤 (active/suspended/revoked)"
// @Param page query int false "页码"
// @Param page_size query int false "每页条数"
// @Success 200 {object} Response{data=licenseListResponse}
// @Router /v1/admin/licenses [get]
func (h *AdminHandler) ListLicenses(c *gin.Context) {
	filter := parseLicenseFilter(c)

	items, total, err := h.licenses.List(filter)
	if err != nil {
		h.log.Error("failed to list licenses", zap.Error(err))
		StorageUnavailable(c)
		return
	}

	Success(c, licenseListResponse{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// SummarizeLicenses godoc
// @Summary 许可证摘要报表
// @Description 带 expired/in_grace/expiring_soon 标记的仪表盘摘要行
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=summaryListResponse}
// @Router /v1/admin/licenses/summary [get]
func (h *AdminHandler) SummarizeLicenses(c *gin.Context) {
	filter := parseLicenseFilter(c)

	items, total, err := h.licenses.Summary(filter)
	if err != nil {
		h.log.Error("failed to summarize licenses", zap.Error(err))
		StorageUnavailable(c)
		return
	}

	Success(c, summaryListResponse{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// GetLicense godoc
// @Summary 许可证详情
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param key path string true "许可证密钥"
// @Success 200 {object} Response{data=domain.License}
// @Failure 404 {object} Response
// @Router /v1/admin/licenses/{key} [get]
func (h *AdminHandler) GetLicense(c *gin.Context) {
	license, err := h.licenses.Get(c.Param("key"))
	if err != nil {
		if isNotFound(err) {
			NotFound(c, MsgLicenseNotFound)
			return
		}
		h.log.Error("failed to get license", zap.Error(err))
		StorageUnavailable(c)
		return
	}

	Success(c, license)
}

// GetLicenseStatus godoc
// @Summary 许可证完整状态
// @Description 管理端视角的状态聚合：许可证实体 + 全部激活记录 + 槽位统计
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param key path string true "许可证密钥"
// @Success 200 {object} Response{data=service.LicenseStatusView}
// @Failure 404 {object} Response
// @Router /v1/admin/licenses/{key}/status [get]
func (h *AdminHandler) GetLicenseStatus(c *gin.Context) {
	view, err := h.licenses.Status(c.Param("key"))
	if err != nil {
		if isNotFound(err) {
			NotFound(c, MsgLicenseNotFound)
			return
		}
		h.log.Error("failed to get license status", zap.Error(err))
		StorageUnavailable(c)
		return
	}

	Success(c, view)
}

// UpdateLicense godoc
// @Summary 更新许可证属性
// @Description 更新描述性字段、槽位上限、域名白名单和过期时间；nil 字段不修改
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "许可证密钥"
// @Success 200 {object} Response{data=domain.License}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/admin/licenses/{key} [patch]
func (h *AdminHandler) UpdateLicense(c *gin.Context) {
	var input service.UpdateLicenseInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	license, err := h.licenses.Update(c.Param("key"), input)
	if err != nil {
		switch {
		case isNotFound(err):
			NotFound(c, MsgLicenseNotFound)
		case errors.Is(err, service.ErrInvalidLicenseInput):
			BadRequest(c, err.Error())
		default:
			h.log.Error("failed to update license", zap.Error(err))
			StorageUnavailable(c)
		}
		return
	}

	Success(c, license)
}

// Suspend godoc
// @Summary 暂停许可证
// @Description 状态置为 suspended（幂等），不触碰激活记录
// @Tags Lifecycle
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "许可证密钥"
// @Success 200 {object} service.LifecycleResult
// @Failure 404 {object} service.LifecycleResult
// @Router /v1/admin/licenses/{key}/suspend [post]
func (h *AdminHandler) Suspend(c *gin.Context) {
	// reason 可省略，空请求体合法
	var req suspendRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	actor, _ := middleware.ActorFromContext(c)
	result, err := h.lifecycle.Suspend(actor, c.Param("key"), req.Reason)
	h.writeLifecycleResult(c, result, err)
}

// Unsuspend godoc
// @Summary 恢复许可证
// @Description 仅从 suspended 恢复为 active；其他状态不变
// @Tags Lifecycle
// @Produce json
// @Security BearerAuth
// @Param key path string true "许可证密钥"
// @Success 200 {object} service.LifecycleResult
// @Failure 404 {object} service.LifecycleResult
// @Router /v1/admin/licenses/{key}/unsuspend [post]
func (h *AdminHandler) Unsuspend(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c)
	result, err := h.lifecycle.Unsuspend(actor, c.Param("key"))
	h.writeLifecycleResult(c, result, err)
}

// Delete godoc
// @Summary 删除许可证
// @Description 硬删除：级联移除全部激活记录（单事务内），历史不可恢复
// @Tags Lifecycle
// @Produce json
// @Security BearerAuth
// @Param key path string true "许可证密钥"
// @Success 200 {object} service.LifecycleResult
// @Failure 404 {object} service.LifecycleResult
// @Router /v1/admin/licenses/{key} [delete]
func (h *AdminHandler) Delete(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c)
	result, err := h.lifecycle.Delete(actor, c.Param("key"))
	if err == nil && result.Success {
		h.metrics.RecordLicenseDeleted()
	}
	h.writeLifecycleResult(c, result, err)
}

// Extend godoc
// @Summary 延长许可证
// @Description 从 now 与 expires_at 的较晚者起累加天数；永久许可证变为限期
// @Tags Lifecycle
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "许可证密钥"
// @Success 200 {object} service.LifecycleResult
// @Failure 400 {object} service.LifecycleResult
// @Failure 404 {object} service.LifecycleResult
// @Router /v1/admin/licenses/{key}/extend [post]
func (h *AdminHandler) Extend(c *gin.Context) {
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	actor, _ := middleware.ActorFromContext(c)
	result, err := h.lifecycle.Extend(actor, c.Param("key"), req.Days)
	if errors.Is(err, service.ErrInvalidExtension) {
		c.JSON(http.StatusBadRequest, service.LifecycleResult{
			Success: false,
			Message: MsgInvalidDays,
			Action:  service.ActionExtend,
		})
		return
	}
	h.writeLifecycleResult(c, result, err)
}

// RegenerateKey godoc
// @Summary 换发许可证密钥
// @Description 生成新密钥并使旧密钥失效；ID 与激活历史保持不变
// @Tags Lifecycle
// @Produce json
// @Security BearerAuth
// @Param key path string true "许可证密钥"
// @Success 200 {object} service.LifecycleResult
// @Failure 404 {object} service.LifecycleResult
// @Router /v1/admin/licenses/{key}/regenerate-key [post]
func (h *AdminHandler) RegenerateKey(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c)
	result, err := h.lifecycle.RegenerateKey(actor, c.Param("key"))
	h.writeLifecycleResult(c, result, err)
}

// GetHealth godoc
// @Summary 系统健康报告
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} monitoring.HealthReport
// @Router /v1/admin/health [get]
func (h *AdminHandler) GetHealth(c *gin.Context) {
	report := h.health.CheckHealth()
	c.JSON(http.StatusOK, report)
}

// GetAlerts godoc
// @Summary 当前活跃告警
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]monitoring.Alert}
// @Router /v1/admin/alerts [get]
func (h *AdminHandler) GetAlerts(c *gin.Context) {
	Success(c, h.alerts.GetActiveAlerts())
}

// writeLifecycleResult 把生命周期操作结果写成响应。
//
// 协议要求每个操作都返回 {success, message, action}；未找到用 404，
// 其余判定统一 200，存储故障 503。
func (h *AdminHandler) writeLifecycleResult(c *gin.Context, result *service.LifecycleResult, err error) {
	if err != nil {
		h.log.Error("lifecycle operation failed",
			zap.String("key", c.Param("key")),
			zap.Error(err),
		)
		StorageUnavailable(c)
		return
	}

	if result.Success {
		h.metrics.RecordLifecycleOp(string(result.Action))
		actor, _ := middleware.ActorFromContext(c)
		h.log.Info("lifecycle operation applied",
			zap.String("action", string(result.Action)),
			zap.String("admin", actor.Email),
		)
		c.JSON(http.StatusOK, result)
		return
	}

	if result.Message == service.ReasonLicenseNotFound {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// parseLicenseFilter 解析列表查询参数
func parseLicenseFilter(c *gin.Context) storage.LicenseFilter {
	filter := storage.LicenseFilter{
		Search: c.Query("search"),
	}
	if raw := c.Query("status"); raw != "" {
		status := domain.LicenseStatus(raw)
		filter.Status = &status
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 0 {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.Query("page_size")); err == nil && size > 0 {
		filter.PageSize = size
	}
	return filter
}
