package domain

import "time"

// AdminUser 表示管理端账户，用于保护许可证生命周期操作。
type AdminUser struct {
	ID           string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Username     string     `json:"username,omitempty" gorm:"type:varchar(100)"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	IsActive     bool       `json:"is_active" gorm:"default:true"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Actor 标识执行生命周期操作的管理端主体
//
// 所有生命周期操作都显式接收 Actor，不依赖任何环境全局状态。
type Actor struct {
	AdminID string
	Email   string
}
