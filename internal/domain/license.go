package domain

import (
	"strings"
	"time"
)

// LicenseStatus 许可证状态
type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

// PerpetualHorizon 超过该时长的过期时间视为永久许可证
const PerpetualHorizon = 50 * 365 * 24 * time.Hour

// License 表示软件许可证的业务实体。
//
// 激活数不变量：状态为 active 的 Activation 数量永远不能超过 MaxActivations。
type License struct {
	ID             string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LicenseKey     string        `json:"license_key" gorm:"type:varchar(64);uniqueIndex;not null"`
	ProductName    string        `json:"product_name" gorm:"type:varchar(255)"`
	CustomerName   string        `json:"customer_name" gorm:"type:varchar(255)"`
	CustomerEmail  string        `json:"customer_email" gorm:"type:varchar(255);index"`
	Status         LicenseStatus `json:"status" gorm:"type:varchar(20);default:'active';index"`
	MaxActivations int           `json:"max_activations" gorm:"not null"`
	AllowedDomains string        `json:"allowed_domains" gorm:"type:text"` // 逗号分隔的域名模式，空表示不限制
	SuspendReason  string        `json:"suspend_reason,omitempty" gorm:"type:text"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsExpired 判断许可证在给定时刻是否已过期
func (l *License) IsExpired(now time.Time) bool {
	if l.ExpiresAt == nil {
		return false
	}
	return l.ExpiresAt.Before(now)
}

// IsPerpetual 判断是否为永久许可证（无过期时间或过期时间在 50 年以后）
func (l *License) IsPerpetual(now time.Time) bool {
	if l.ExpiresAt == nil {
		return true
	}
	return l.ExpiresAt.After(now.Add(PerpetualHorizon))
}

// InGrace 判断许可证是否处于过期后的宽限期内
//
// 宽限期只用于管理端报表展示，/validate 永远按硬过期判断。
func (l *License) InGrace(now time.Time, graceDays int) bool {
	if l.ExpiresAt == nil || graceDays <= 0 {
		return false
	}
	if !l.IsExpired(now) {
		return false
	}
	return now.Before(l.ExpiresAt.Add(time.Duration(graceDays) * 24 * time.Hour))
}

// ExpiringSoon 判断许可证是否即将过期（管理端报表用）
func (l *License) ExpiringSoon(now time.Time, within time.Duration) bool {
	if l.ExpiresAt == nil || l.IsPerpetual(now) {
		return false
	}
	if l.IsExpired(now) {
		return false
	}
	return l.ExpiresAt.Before(now.Add(within))
}

// DomainPatterns 返回解析后的允许域名模式列表
func (l *License) DomainPatterns() []string {
	if strings.TrimSpace(l.AllowedDomains) == "" {
		return nil
	}
	parts := strings.Split(l.AllowedDomains, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(p))
		if trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}

// DomainAllowed 判断域名是否被许可证的域名白名单允许
//
// 白名单为空表示允许任意域名。
func (l *License) DomainAllowed(domain string) bool {
	patterns := l.DomainPatterns()
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if MatchDomainPattern(pattern, domain) {
			return true
		}
	}
	return false
}

// PublicLicense 许可证的公开视图，用于 /validate 响应
//
// 永远不包含 license_key、customer_email 或内部 ID。
type PublicLicense struct {
	ProductName string        `json:"product_name"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	Status      LicenseStatus `json:"status"`
}

// Public 返回许可证的公开视图
func (l *License) Public() PublicLicense {
	return PublicLicense{
		ProductName: l.ProductName,
		ExpiresAt:   l.ExpiresAt,
		Status:      l.Status,
	}
}
