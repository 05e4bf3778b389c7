package hybrid

import (
	"context"
	"fmt"
	"time"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage"
	"licensehub/backend/internal/storage/redis"
	sqlstore "licensehub/backend/internal/storage/sql"
)

// Store 混合存储实现，结合 SQL 数据库和 Redis 读缓存
//
// 缓存只覆盖 GetLicenseByKey（验证热路径，允许短暂陈旧快照）；
// 一切写操作和激活槽位操作直接落到 SQL 存储，缓存随写失效。
type Store struct {
	sql   *sqlstore.Store
	cache *redis.Cache
	ctx   context.Context
}

// Options 混合存储的连接参数
type Options struct {
	DBType          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CacheTTL        time.Duration // 验证读取允许的最大快照陈旧度
}

// NewStore 创建混合存储实例
func NewStore(opts Options) (*Store, error) {
	dbStore, err := sqlstore.NewStore(opts.DBType, opts.DSN, opts.MaxOpenConns, opts.MaxIdleConns, opts.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cache, err := redis.NewCache(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, ttl)
	if err != nil {
		dbStore.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return &Store{
		sql:   dbStore,
		cache: cache,
		ctx:   context.Background(),
	}, nil
}

// ========== License Repository ==========

// SaveLicense 保存新许可证
func (s *Store) SaveLicense(license *domain.License) error {
	if err := s.sql.SaveLicense(license); err != nil {
		return err
	}
	// 写入后立即失效旧快照（如有）
	_ = s.cache.InvalidateLicense(s.ctx, license.LicenseKey)
	return nil
}

// GetLicense 根据 ID 获取许可证（按 ID 查询不缓存）
func (s *Store) GetLicense(id string) (*domain.License, error) {
	return s.sql.GetLicense(id)
}

// GetLicenseByKey 根据密钥获取许可证（验证热路径，读穿缓存）
func (s *Store) GetLicenseByKey(key string) (*domain.License, error) {
	if license, err := s.cache.GetCachedLicense(s.ctx, key); err == nil {
		return license, nil
	}

	license, err := s.sql.GetLicenseByKey(key)
	if err != nil {
		return nil, err
	}

	// 缓存失败不影响主路径
	_ = s.cache.CacheLicense(s.ctx, license)
	return license, nil
}

// ListLicenses 按条件返回许可证列表（列表查询不缓存）
func (s *Store) ListLicenses(filter storage.LicenseFilter) ([]domain.License, int, error) {
	return s.sql.ListLicenses(filter)
}

// UpdateLicense 更新许可证并失效缓存
func (s *Store) UpdateLicense(license *domain.License) error {
	// 先取旧记录，密钥重置时旧密钥的缓存也要失效
	old, err := s.sql.GetLicense(license.ID)
	if err != nil {
		return err
	}

	if err := s.sql.UpdateLicense(license); err != nil {
		return err
	}

	keys := []string{license.LicenseKey}
	if old.LicenseKey != license.LicenseKey {
		keys = append(keys, old.LicenseKey)
	}
	_ = s.cache.InvalidateLicense(s.ctx, keys...)
	return nil
}

// DeleteLicense 硬删除许可证并失效缓存
func (s *Store) DeleteLicense(id string) error {
	old, err := s.sql.GetLicense(id)
	if err != nil {
		return err
	}
	if err := s.sql.DeleteLicense(id); err != nil {
		return err
	}
	_ = s.cache.InvalidateLicense(s.ctx, old.LicenseKey)
	return nil
}

// LicenseKeyExists 检查许可证密钥是否已被占用（直接查库，生成密钥时必须精确）
func (s *Store) LicenseKeyExists(key string) (bool, error) {
	return s.sql.LicenseKeyExists(key)
}

// CountActiveLicenses 统计 active 状态的许可证总数
func (s *Store) CountActiveLicenses() (int, error) {
	return s.sql.CountActiveLicenses()
}

// ========== Activation Repository（全部直通，严格原子路径不缓存） ==========

// AllocateSlot 原子地分配一个激活槽位。槽位上限在 SQL 事务内取锁定行，
// 缓存中的旧快照不参与判定。
func (s *Store) AllocateSlot(licenseID, dom, token, metadata string) (*domain.Activation, bool, error) {
	return s.sql.AllocateSlot(licenseID, dom, token, metadata)
}

// ReleaseSlot 释放激活槽位
func (s *Store) ReleaseSlot(licenseID, dom string) (bool, error) {
	return s.sql.ReleaseSlot(licenseID, dom)
}

// GetActivation 返回 (licenseID, domain) 的激活记录
func (s *Store) GetActivation(licenseID, dom string) (*domain.Activation, error) {
	return s.sql.GetActivation(licenseID, dom)
}

// GetActivationByToken 根据激活令牌获取激活记录
func (s *Store) GetActivationByToken(token string) (*domain.Activation, error) {
	return s.sql.GetActivationByToken(token)
}

// TouchActivation 更新 active 激活的心跳时间
func (s *Store) TouchActivation(token string, at time.Time) error {
	return s.sql.TouchActivation(token, at)
}

// ListActivations 返回许可证的全部激活记录
func (s *Store) ListActivations(licenseID string) ([]domain.Activation, error) {
	return s.sql.ListActivations(licenseID)
}

// CountActiveActivations 统计许可证当前占用的槽位数
func (s *Store) CountActiveActivations(licenseID string) (int, error) {
	return s.sql.CountActiveActivations(licenseID)
}

// CountOccupiedSlots 统计全部许可证当前占用的槽位总数
func (s *Store) CountOccupiedSlots() (int, error) {
	return s.sql.CountOccupiedSlots()
}

// CountStaleActivations 统计心跳早于 before 的 active 激活数量
func (s *Store) CountStaleActivations(before time.Time) (int, error) {
	return s.sql.CountStaleActivations(before)
}

// DeactivateStale 停用心跳过期的激活
func (s *Store) DeactivateStale(before time.Time) (int, error) {
	return s.sql.DeactivateStale(before)
}

// OpenConnections 返回底层连接池当前打开的连接数
func (s *Store) OpenConnections() int {
	return s.sql.OpenConnections()
}

// ========== Admin Repository ==========

// CreateAdmin 创建管理员账户
func (s *Store) CreateAdmin(admin *domain.AdminUser) error {
	return s.sql.CreateAdmin(admin)
}

// GetAdminByID 根据 ID 获取管理员
func (s *Store) GetAdminByID(id string) (*domain.AdminUser, error) {
	return s.sql.GetAdminByID(id)
}

// GetAdminByEmail 根据邮箱获取管理员
func (s *Store) GetAdminByEmail(email string) (*domain.AdminUser, error) {
	return s.sql.GetAdminByEmail(email)
}

// UpdateAdmin 更新管理员账户
func (s *Store) UpdateAdmin(admin *domain.AdminUser) error {
	return s.sql.UpdateAdmin(admin)
}

// UpdateAdminLastLogin 更新管理员最后登录时间
func (s *Store) UpdateAdminLastLogin(id string) error {
	return s.sql.UpdateAdminLastLogin(id)
}

// Migrate 执行底层 SQL 存储的表结构迁移
func (s *Store) Migrate() error {
	return s.sql.Migrate()
}

// Close 关闭存储连接
func (s *Store) Close() error {
	cacheErr := s.cache.Close()
	if err := s.sql.Close(); err != nil {
		return err
	}
	return cacheErr
}

// Health 检查存储健康状态（数据库为主，缓存故障不阻断）
func (s *Store) Health() error {
	return s.sql.Health()
}

// CacheHealth 检查缓存连通性，缓存故障只降级不致命
func (s *Store) CacheHealth() error {
	return s.cache.Health()
}
