package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/monitoring"
	"licensehub/backend/internal/service"
)

// PublicHandler 公开激活协议处理器（无需认证，仅受限流保护）
//
// 响应形状由协议固定：/validate 用 valid 判别字段，其余用 success。
// 存储故障统一回 503 + 通用提示，细节只进日志。
type PublicHandler struct {
	validation *service.ValidationService
	activation *service.ActivationService
	licenses   *service.LicenseService
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewPublicHandler 创建公开协议处理器
func NewPublicHandler(
	validation *service.ValidationService,
	activation *service.ActivationService,
	licenses *service.LicenseService,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *PublicHandler {
	return &PublicHandler{
		validation: validation,
		activation: activation,
		licenses:   licenses,
		metrics:    metrics,
		log:        logger,
	}
}

type validateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	Domain     string `json:"domain" binding:"required"`
}

type activateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	Domain     string `json:"domain" binding:"required"`
	Metadata   string `json:"metadata"`
}

type deactivateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	Domain     string `json:"domain" binding:"required"`
}

type heartbeatRequest struct {
	ActivationToken string `json:"activation_token" binding:"required"`
}

// activationView 激活记录在 /status 响应中的公开投影
//
// 不回传 activation_token：令牌只在 /activate 时发给持有者本人。
type activationView struct {
	Domain    string                  `json:"domain"`
	Status    domain.ActivationStatus `json:"status"`
	CreatedAt time.Time               `json:"created_at"`
	LastCheck time.Time               `json:"last_check"`
}

type statusResponse struct {
	License     domain.PublicLicense `json:"license"`
	MaxSlots    int                  `json:"max_activations"`
	ActiveCount int                  `json:"active_count"`
	SlotsFree   int                  `json:"slots_free"`
	Activations []activationView     `json:"activations"`
}

// Validate godoc
// @Summary 验证许可证
// @Description 判定 (license_key, domain) 是否可用；判定结果永远返回 HTTP 200
// @Tags Public
// @Accept json
// @Produce json
// @Success 200 {object} service.ValidationResult
// @Router /v1/validate [post]
func (h *PublicHandler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "message": MsgInvalidRequest})
		return
	}

	result, err := h.validation.Validate(req.LicenseKey, req.Domain)
	if err != nil {
		h.log.Error("validate: storage failure", zap.Error(err))
		h.metrics.RecordError("storage_failure", "validation")
		c.JSON(http.StatusServiceUnavailable, gin.H{"valid": false, "message": MsgStorageFailure})
		return
	}

	h.metrics.RecordValidation(validationLabel(result))
	// 策略性拒绝不是错误：同样 HTTP 200，靠 valid 字段区分
	c.JSON(http.StatusOK, result)
}

// Activate godoc
// @Summary 激活许可证
// @Description 为 (license_key, domain) 分配一个激活槽位，重复激活幂等返回原 token
// @Tags Public
// @Accept json
// @Produce json
// @Success 200 {object} service.ActivationResult
// @Failure 400 {object} service.ActivationResult
// @Router /v1/activate [post]
func (h *PublicHandler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": MsgInvalidRequest})
		return
	}

	result, err := h.activation.Activate(req.LicenseKey, req.Domain, req.Metadata)
	if err != nil {
		h.log.Error("activate: storage failure",
			zap.String("domain", req.Domain),
			zap.Error(err),
		)
		h.metrics.RecordError("storage_failure", "activation")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": MsgStorageFailure})
		return
	}

	if !result.Success {
		h.metrics.RecordActivation("rejected")
		c.JSON(http.StatusBadRequest, result)
		return
	}

	h.metrics.RecordActivation("success")
	c.JSON(http.StatusOK, result)
}

// Deactivate godoc
// @Summary 停用激活
// @Description 释放 (license_key, domain) 占用的槽位；重复停用幂等成功
// @Tags Public
// @Accept json
// @Produce json
// @Success 200 {object} service.ActivationResult
// @Failure 400 {object} service.ActivationResult
// @Router /v1/deactivate [post]
func (h *PublicHandler) Deactivate(c *gin.Context) {
	var req deactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": MsgInvalidRequest})
		return
	}

	result, err := h.activation.Deactivate(req.LicenseKey, req.Domain)
	if err != nil {
		h.log.Error("deactivate: storage failure",
			zap.String("domain", req.Domain),
			zap.Error(err),
		)
		h.metrics.RecordError("storage_failure", "activation")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": MsgStorageFailure})
		return
	}

	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}

	h.metrics.RecordDeactivation()
	c.JSON(http.StatusOK, result)
}

// Status godoc
// @Summary 查询许可证状态
// @Description 返回许可证公开摘要与激活列表；不回传其他安装的激活令牌
// @Tags Public
// @Produce json
// @Param key path string true "许可证密钥"
// @Success 200 {object} statusResponse
// @Failure 404 {object} object{success=bool,message=string}
// @Router /v1/status/{key} [get]
func (h *PublicHandler) Status(c *gin.Context) {
	view, err := h.licenses.Status(c.Param("key"))
	if err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": service.ReasonLicenseNotFound})
			return
		}
		h.log.Error("status: storage failure", zap.Error(err))
		h.metrics.RecordError("storage_failure", "validation")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": MsgStorageFailure})
		return
	}

	views := make([]activationView, 0, len(view.Activations))
	for _, a := range view.Activations {
		views = append(views, activationView{
			Domain:    a.Domain,
			Status:    a.Status,
			CreatedAt: a.CreatedAt,
			LastCheck: a.LastCheck,
		})
	}

	c.JSON(http.StatusOK, statusResponse{
		License:     view.License.Public(),
		MaxSlots:    view.License.MaxActivations,
		ActiveCount: view.ActiveCount,
		SlotsFree:   view.SlotsFree,
		Activations: views,
	})
}

// Heartbeat godoc
// @Summary 激活心跳
// @Description 刷新激活记录的 last_check；未知或已停用的令牌返回 404
// @Tags Public
// @Accept json
// @Produce json
// @Success 200 {object} service.ActivationResult
// @Failure 404 {object} service.ActivationResult
// @Router /v1/heartbeat [post]
func (h *PublicHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": MsgInvalidRequest})
		return
	}

	result, err := h.activation.Heartbeat(req.ActivationToken)
	if err != nil {
		h.log.Error("heartbeat: storage failure", zap.Error(err))
		h.metrics.RecordError("storage_failure", "activation")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": MsgStorageFailure})
		return
	}

	if !result.Success {
		h.metrics.RecordHeartbeat("invalid")
		c.JSON(http.StatusNotFound, result)
		return
	}

	h.metrics.RecordHeartbeat("success")
	c.JSON(http.StatusOK, result)
}

func validationLabel(result *service.ValidationResult) string {
	if result.Valid {
		return "valid"
	}
	return result.Message
}
