package service

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage"
)

// ErrInvalidLicenseInput 创建或更新许可证时的输入校验错误
var ErrInvalidLicenseInput = errors.New("invalid license input")

// expiringSoonWindow 报表中"即将过期"的判定窗口
const expiringSoonWindow = 30 * 24 * time.Hour

// CreateLicenseInput 创建许可证的输入
type CreateLicenseInput struct {
	ProductName    string     `json:"product_name" binding:"required"`
	CustomerName   string     `json:"customer_name"`
	CustomerEmail  string     `json:"customer_email"`
	MaxActivations int        `json:"max_activations"`
	AllowedDomains []string   `json:"allowed_domains"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// UpdateLicenseInput 更新许可证的输入，nil 字段表示不修改
type UpdateLicenseInput struct {
	ProductName    *string    `json:"product_name"`
	CustomerName   *string    `json:"customer_name"`
	CustomerEmail  *string    `json:"customer_email"`
	MaxActivations *int       `json:"max_activations"`
	AllowedDomains *[]string  `json:"allowed_domains"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// LicenseStatusView 许可证在 /status 端点的聚合视图
type LicenseStatusView struct {
	License     *domain.License     `json:"license"`
	Activations []domain.Activation `json:"activations"`
	ActiveCount int                 `json:"active_count"`
	SlotsFree   int                 `json:"slots_free"`
}

// LicenseSummary 管理端报表中单个许可证的摘要行
type LicenseSummary struct {
	License      domain.License `json:"license"`
	ActiveCount  int            `json:"active_count"`
	Expired      bool           `json:"expired"`
	InGrace      bool           `json:"in_grace"`
	ExpiringSoon bool           `json:"expiring_soon"`
}

// LicenseService 封装许可证的管理端 CRUD 与聚合查询。
//
// 状态迁移（暂停、删除等）由 LifecycleService 负责，这里只管属性。
type LicenseService struct {
	store     storage.Store
	keygen    *KeyGenerator
	graceDays int
	now       func() time.Time
}

// NewLicenseService 创建许可证管理服务
func NewLicenseService(store storage.Store, keygen *KeyGenerator, graceDays int) *LicenseService {
	return &LicenseService{
		store:     store,
		keygen:    keygen,
		graceDays: graceDays,
		now:       time.Now,
	}
}

// Create 创建许可证并生成密钥
func (s *LicenseService) Create(input CreateLicenseInput) (*domain.License, error) {
	if strings.TrimSpace(input.ProductName) == "" {
		return nil, ErrInvalidLicenseInput
	}
	if input.MaxActivations <= 0 {
		input.MaxActivations = 1
	}

	key, err := s.keygen.Generate()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	license := &domain.License{
		ID:             uuid.New().String(),
		LicenseKey:     key,
		ProductName:    strings.TrimSpace(input.ProductName),
		CustomerName:   strings.TrimSpace(input.CustomerName),
		CustomerEmail:  strings.ToLower(strings.TrimSpace(input.CustomerEmail)),
		Status:         domain.LicenseStatusActive,
		MaxActivations: input.MaxActivations,
		AllowedDomains: joinDomainPatterns(input.AllowedDomains),
		ExpiresAt:      input.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.SaveLicense(license); err != nil {
		return nil, err
	}
	return license, nil
}

// Get 按密钥查询许可证
func (s *LicenseService) Get(licenseKey string) (*domain.License, error) {
	return s.store.GetLicenseByKey(licenseKey)
}

// Status 返回许可证及其激活记录的聚合视图
func (s *LicenseService) Status(licenseKey string) (*LicenseStatusView, error) {
	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		return nil, err
	}

	activations, err := s.store.ListActivations(license.ID)
	if err != nil {
		return nil, err
	}
	active := 0
	for _, a := range activations {
		if a.IsActive() {
			active++
		}
	}

	free := license.MaxActivations - active
	if free < 0 {
		free = 0
	}
	return &LicenseStatusView{
		License:     license,
		Activations: activations,
		ActiveCount: active,
		SlotsFree:   free,
	}, nil
}

// Update 按输入修改许可证属性，nil 字段保持不变
func (s *LicenseService) Update(licenseKey string, input UpdateLicenseInput) (*domain.License, error) {
	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		return nil, err
	}

	if input.ProductName != nil {
		if strings.TrimSpace(*input.ProductName) == "" {
			return nil, ErrInvalidLicenseInput
		}
		license.ProductName = strings.TrimSpace(*input.ProductName)
	}
	if input.CustomerName != nil {
		license.CustomerName = strings.TrimSpace(*input.CustomerName)
	}
	if input.CustomerEmail != nil {
		license.CustomerEmail = strings.ToLower(strings.TrimSpace(*input.CustomerEmail))
	}
	if input.MaxActivations != nil {
		if *input.MaxActivations <= 0 {
			return nil, ErrInvalidLicenseInput
		}
		// 降低上限不会停用已有激活，只阻止新的激活
		license.MaxActivations = *input.MaxActivations
	}
	if input.AllowedDomains != nil {
		license.AllowedDomains = joinDomainPatterns(*input.AllowedDomains)
	}
	if input.ExpiresAt != nil {
		license.ExpiresAt = input.ExpiresAt
	}

	license.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateLicense(license); err != nil {
		return nil, err
	}
	return license, nil
}

// List 分页查询许可证列表
func (s *LicenseService) List(filter storage.LicenseFilter) ([]domain.License, int, error) {
	return s.store.ListLicenses(filter)
}

// Summary 返回带过期与占用标记的许可证报表
func (s *LicenseService) Summary(filter storage.LicenseFilter) ([]LicenseSummary, int, error) {
	licenses, total, err := s.store.ListLicenses(filter)
	if err != nil {
		return nil, 0, err
	}

	now := s.now().UTC()
	summaries := make([]LicenseSummary, 0, len(licenses))
	for _, license := range licenses {
		active, err := s.store.CountActiveActivations(license.ID)
		if err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, LicenseSummary{
			License:      license,
			ActiveCount:  active,
			Expired:      license.IsExpired(now),
			InGrace:      license.InGrace(now, s.graceDays),
			ExpiringSoon: license.ExpiringSoon(now, expiringSoonWindow),
		})
	}
	return summaries, total, nil
}

// joinDomainPatterns 规整域名模式并以逗号串存储
func joinDomainPatterns(patterns []string) string {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		trimmed := strings.ToLower(strings.TrimSpace(p))
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, ",")
}
