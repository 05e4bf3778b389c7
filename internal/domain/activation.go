package domain

import "time"

// ActivationStatus 激活记录状态
type ActivationStatus string

const (
	ActivationStatusActive   ActivationStatus = "active"
	ActivationStatusInactive ActivationStatus = "inactive"
)

// Activation 表示许可证与单个域名的绑定，占用一个激活槽位。
//
// 停用只会把状态翻转为 inactive，不删除记录（保留审计痕迹）。
type Activation struct {
	ID              string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LicenseID       string           `json:"license_id" gorm:"type:varchar(36);index:idx_license_domain;not null"`
	Domain          string           `json:"domain" gorm:"type:varchar(255);index:idx_license_domain"` // 已规范化的域名
	ActivationToken string           `json:"activation_token" gorm:"type:varchar(64);uniqueIndex;not null"`
	Status          ActivationStatus `json:"status" gorm:"type:varchar(20);default:'active';index"`
	Metadata        string           `json:"metadata,omitempty" gorm:"type:text"` // 客户端上报的自由格式元数据
	CreatedAt       time.Time        `json:"created_at"`
	LastCheck       time.Time        `json:"last_check"` // 由心跳更新
}

// IsActive 判断该激活是否占用槽位
func (a *Activation) IsActive() bool {
	return a.Status == ActivationStatusActive
}
