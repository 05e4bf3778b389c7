package storage

import (
	"errors"
	"time"

	"licensehub/backend/internal/domain"
)

var (
	// ErrLicenseNotFound 许可证未找到错误
	ErrLicenseNotFound = errors.New("license not found")
	// ErrLicenseKeyExists 许可证密钥已存在错误
	ErrLicenseKeyExists = errors.New("license key already exists")
	// ErrActivationNotFound 激活记录未找到错误
	ErrActivationNotFound = errors.New("activation not found")
	// ErrActivationLimit 激活槽位已满错误
	ErrActivationLimit = errors.New("activation limit reached")
	// ErrAdminNotFound 管理员未找到错误
	ErrAdminNotFound = errors.New("admin user not found")
	// ErrAdminExists 管理员已存在错误
	ErrAdminExists = errors.New("admin user already exists")
)

// LicenseFilter 许可证列表查询条件
type LicenseFilter struct {
	Search   string                // 按产品名/客户名/客户邮箱模糊匹配
	Status   *domain.LicenseStatus // 按状态过滤
	Page     int
	PageSize int
}

// LicenseRepository 定义许可证数据存取操作。
type LicenseRepository interface {
	SaveLicense(license *domain.License) error
	GetLicense(id string) (*domain.License, error)
	GetLicenseByKey(key string) (*domain.License, error)
	ListLicenses(filter LicenseFilter) ([]domain.License, int, error)
	UpdateLicense(license *domain.License) error
	// DeleteLicense 硬删除许可证并级联删除其全部激活记录（单个事务内完成）
	DeleteLicense(id string) error
	LicenseKeyExists(key string) (bool, error)
	// CountActiveLicenses 返回 active 状态的许可证总数（周期采样用）
	CountActiveLicenses() (int, error)
}

// ActivationRepository 定义激活槽位数据存取操作。
//
// AllocateSlot 是整个引擎唯一的硬并发不变量所在：检查-递增必须原子执行，
// 同一许可证只剩一个槽位时并发的两个激活请求绝不能同时成功。
type ActivationRepository interface {
	// AllocateSlot 原子地为 (licenseID, domain) 分配一个激活槽位。
	// 槽位上限由实现在自己的原子边界内读取当前 max_activations，
	// 保证管理端调低上限后立即生效，不受调用方读到的旧快照影响。
	//
	// 语义：
	//   - 已存在 active 激活 → 幂等返回原记录（created=false，token 不变，不占用新槽位）
	//   - 已存在 inactive 激活 → 槽位检查通过后重新激活并换发 token（created=true）
	//   - 无记录 → 槽位检查通过后以 token 新建 active 激活（created=true）
	//   - 活跃数已达当前 max_activations → ErrActivationLimit
	//   - 许可证不存在 → ErrLicenseNotFound
	AllocateSlot(licenseID, domain, token, metadata string) (activation *domain.Activation, created bool, err error)

	// ReleaseSlot 释放 (licenseID, domain) 的激活槽位。
	// 返回值表示该域名此前是否处于 active 状态（幂等：重复释放返回 false, nil）。
	ReleaseSlot(licenseID, domain string) (bool, error)

	// GetActivation 返回 (licenseID, domain) 的激活记录（不论状态）
	GetActivation(licenseID, domain string) (*domain.Activation, error)
	GetActivationByToken(token string) (*domain.Activation, error)
	// TouchActivation 更新 active 激活的 last_check（心跳）；token 未知或已停用返回 ErrActivationNotFound
	TouchActivation(token string, at time.Time) error
	ListActivations(licenseID string) ([]domain.Activation, error)
	CountActiveActivations(licenseID string) (int, error)
	// CountOccupiedSlots 返回全部许可证当前占用的激活槽位总数（周期采样用）
	CountOccupiedSlots() (int, error)
	// CountStaleActivations 返回 last_check 早于 before 的 active 激活数量，
	// 只读：清扫关闭时失联情况仅经由该计数暴露
	CountStaleActivations(before time.Time) (int, error)
	// DeactivateStale 停用 last_check 早于 before 的 active 激活，返回停用数量
	DeactivateStale(before time.Time) (int, error)
}

// AdminRepository 定义管理员账户数据存取操作。
type AdminRepository interface {
	CreateAdmin(admin *domain.AdminUser) error
	GetAdminByID(id string) (*domain.AdminUser, error)
	GetAdminByEmail(email string) (*domain.AdminUser, error)
	UpdateAdmin(admin *domain.AdminUser) error
	UpdateAdminLastLogin(id string) error
}

// Store 定义完整的存储接口。
type Store interface {
	LicenseRepository
	ActivationRepository
	AdminRepository

	Close() error
	Health() error
}
