package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"licensehub/backend/internal/auth"
	jwtpkg "licensehub/backend/internal/auth/jwt"
	"licensehub/backend/internal/middleware"
)

// AuthHandler 处理管理员认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service
	tokens      *auth.TokenService
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, tokens *auth.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokens:      tokens,
		log:         logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// Login 管理员登录
// @Summary 管理员登录
// @Description 使用邮箱和密码进行身份验证，成功后返回访问令牌与刷新令牌
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录凭证"
// @Success 200 {object} Response{data=auth.LoginResponse}
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.tokens.Login(req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			// 不区分"账号不存在"和"密码错误"
			Unauthorized(c, MsgInvalidCredentials)
		case errors.Is(err, auth.ErrAdminInactive):
			Forbidden(c, MsgAccountDisabled)
		default:
			h.log.Error("failed to login", zap.Error(err))
			InternalError(c, "login failed, please retry")
		}
		return
	}

	h.log.Info("admin logged in",
		zap.String("admin_id", resp.Admin.ID),
		zap.String("email", resp.Admin.Email),
	)

	Success(c, resp)
}

// Refresh 刷新访问令牌
// @Summary 刷新访问令牌
// @Description 使用刷新令牌换取新的访问令牌，避免重新登录
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} Response{data=object{access_token=string}}
// @Failure 401 {object} Response
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	accessToken, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, jwtpkg.ErrExpiredToken):
			Unauthorized(c, MsgTokenExpired)
		default:
			Unauthorized(c, MsgTokenInvalid)
		}
		return
	}

	Success(c, gin.H{"access_token": accessToken})
}

// Me 获取当前管理员信息
// @Summary 当前管理员信息
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=domain.AdminUser}
// @Failure 401 {object} Response
// @Router /v1/admin/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	admin, err := h.authService.GetAdminByID(actor.AdminID)
	if err != nil {
		NotFound(c, MsgAdminNotFound)
		return
	}

	Success(c, admin)
}

// ChangePassword 修改当前管理员密码
// @Summary 修改密码
// @Description 校验旧密码后更新为新密码
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /v1/admin/password [post]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.authService.ChangePassword(actor.AdminID, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			Unauthorized(c, MsgInvalidCredentials)
		case errors.Is(err, auth.ErrInvalidPassword):
			BadRequest(c, err.Error())
		default:
			h.log.Error("failed to change password", zap.Error(err))
			InternalError(c, MsgPasswordChangeFailed)
		}
		return
	}

	h.log.Info("admin password changed", zap.String("admin_id", actor.AdminID))
	Success(c, nil)
}
