package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage"
)

var (
	// ErrInvalidEmail 无效的邮箱格式
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrEmailExists 邮箱已存在
	ErrEmailExists = errors.New("email already exists")
	// ErrInvalidPassword 密码不满足强度要求
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAdminInactive 管理员已被禁用
	ErrAdminInactive = errors.New("admin account is inactive")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Service 管理端认证服务。
//
// 管理端只有一种角色，登录成功返回的账户会转换为 Actor，
// 贯穿所有生命周期操作并记入审计事件。
type Service struct {
	admins storage.AdminRepository
}

// NewService 创建认证服务
func NewService(admins storage.AdminRepository) *Service {
	return &Service{admins: admins}
}

// CreateAdminInput 创建管理员的输入
type CreateAdminInput struct {
	Email    string
	Username string
	Password string
}

// CreateAdmin 创建管理员账户
func (s *Service) CreateAdmin(input CreateAdminInput) (*domain.AdminUser, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !ValidateEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	if _, err := s.admins.GetAdminByEmail(email); err == nil {
		return nil, ErrEmailExists
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	admin := &domain.AdminUser{
		ID:           uuid.New().String(),
		Email:        email,
		Username:     strings.TrimSpace(input.Username),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.admins.CreateAdmin(admin); err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	return admin, nil
}

// Login 管理员登录，成功返回账户实体
func (s *Service) Login(email, password string) (*domain.AdminUser, error) {
	admin, err := s.admins.GetAdminByEmail(strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !admin.IsActive {
		return nil, ErrAdminInactive
	}

	if !CheckPassword(password, admin.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	_ = s.admins.UpdateAdminLastLogin(admin.ID)
	return admin, nil
}

// GetAdminByID 根据 ID 获取管理员
func (s *Service) GetAdminByID(id string) (*domain.AdminUser, error) {
	admin, err := s.admins.GetAdminByID(id)
	if err != nil {
		return nil, storage.ErrAdminNotFound
	}
	return admin, nil
}

// ChangePassword 修改密码
func (s *Service) ChangePassword(adminID, oldPassword, newPassword string) error {
	admin, err := s.admins.GetAdminByID(adminID)
	if err != nil {
		return storage.ErrAdminNotFound
	}

	if !CheckPassword(oldPassword, admin.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	admin.PasswordHash = hash
	admin.UpdatedAt = time.Now().UTC()
	return s.admins.UpdateAdmin(admin)
}

// ValidateEmail 验证邮箱格式
func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// ValidatePassword 验证密码强度
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: must be at least 8 characters", ErrInvalidPassword)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: must be at most 72 characters", ErrInvalidPassword)
	}
	return nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
