package service

import (
	"errors"
	"time"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage"
)

// 公开 API 的固定失败原因（协议字符串，不可改动）
const (
	ReasonLicenseNotFound     = "license not found"
	ReasonLicenseRevoked      = "license revoked"
	ReasonLicenseSuspended    = "license suspended"
	ReasonLicenseExpired      = "license expired"
	ReasonDomainNotAuthorized = "domain not authorized"
	ReasonActivationLimit     = "activation limit reached"
	ReasonNotActivated        = "not currently activated"
	ReasonInvalidToken        = "invalid activation token"
)

// ValidationResult /validate 的判定结果
type ValidationResult struct {
	Valid   bool                  `json:"valid"`
	Message string                `json:"message,omitempty"`
	License *domain.PublicLicense `json:"license,omitempty"`
}

// ValidationService 只读的许可证判定引擎。
//
// 除存储读取外不依赖任何外部状态，不执行写操作，可以并发重复调用。
// 过期判断永远按硬过期执行，宽限期属于上层报表策略。
type ValidationService struct {
	store storage.LicenseRepository
	now   func() time.Time
}

// NewValidationService 创建验证服务
func NewValidationService(store storage.LicenseRepository) *ValidationService {
	return &ValidationService{
		store: store,
		now:   time.Now,
	}
}

// Validate 判定 (license_key, domain) 是否可用，返回公开视图。
//
// 检查按顺序短路：未找到 → 已吊销 → 已暂停 → 已过期 → 域名白名单。
// 成功时只返回公开字段，绝不回传 license_key、customer_email 或内部 ID。
func (s *ValidationService) Validate(licenseKey, rawDomain string) (*ValidationResult, error) {
	license, reason, err := s.Check(licenseKey, rawDomain)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &ValidationResult{Valid: false, Message: reason}, nil
	}

	public := license.Public()
	return &ValidationResult{Valid: true, License: &public}, nil
}

// Check 执行完整判定并返回内部许可证实体，供激活管理器做前置检查。
//
// reason 为空表示判定通过；err 非空仅表示存储故障（可重试）。
func (s *ValidationService) Check(licenseKey, rawDomain string) (*domain.License, string, error) {
	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		if errors.Is(err, storage.ErrLicenseNotFound) {
			return nil, ReasonLicenseNotFound, nil
		}
		return nil, "", err
	}

	switch license.Status {
	case domain.LicenseStatusRevoked:
		return nil, ReasonLicenseRevoked, nil
	case domain.LicenseStatusSuspended:
		return nil, ReasonLicenseSuspended, nil
	}

	if license.IsExpired(s.now()) {
		return nil, ReasonLicenseExpired, nil
	}

	if !license.DomainAllowed(domain.NormalizeDomain(rawDomain)) {
		return nil, ReasonDomainNotAuthorized, nil
	}

	return license, "", nil
}
