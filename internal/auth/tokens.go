package auth

import (
	"licensehub/backend/internal/auth/jwt"
	"licensehub/backend/internal/config"
	"licensehub/backend/internal/domain"
)

// TokenService 组合认证服务与 JWT 管理器，对外提供登录与令牌操作
type TokenService struct {
	service *Service
	jwt     *jwt.Manager
}

// NewTokenService 创建令牌服务
func NewTokenService(service *Service, cfg *config.JWTConfig) *TokenService {
	manager := jwt.NewManager(cfg.Secret, cfg.Issuer, cfg.AccessExpiry, cfg.RefreshExpiry)
	return &TokenService{service: service, jwt: manager}
}

// LoginResponse 登录响应
type LoginResponse struct {
	Admin        *domain.AdminUser `json:"admin"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	TokenType    string            `json:"token_type"`
	ExpiresIn    int64             `json:"expires_in"`
}

// Login 管理员登录并签发令牌对
func (t *TokenService) Login(email, password string) (*LoginResponse, error) {
	admin, err := t.service.Login(email, password)
	if err != nil {
		return nil, err
	}

	pair, err := t.jwt.GenerateTokenPair(admin.ID, admin.Email)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		Admin:        admin,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Refresh 使用刷新令牌换取新的访问令牌
func (t *TokenService) Refresh(refreshToken string) (string, error) {
	return t.jwt.RefreshAccessToken(refreshToken)
}

// Authenticate 验证访问令牌并还原操作者身份。
//
// 令牌有效但账户已被禁用时同样拒绝。
func (t *TokenService) Authenticate(tokenString string) (*domain.Actor, error) {
	claims, err := t.jwt.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	admin, err := t.service.GetAdminByID(claims.AdminID)
	if err != nil {
		return nil, jwt.ErrInvalidToken
	}
	if !admin.IsActive {
		return nil, ErrAdminInactive
	}

	return &domain.Actor{AdminID: admin.ID, Email: admin.Email}, nil
}
