package sql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage"
)

// defaultOpTimeout 单次存储操作的超时上限，超时后调用方得到可重试错误而不是挂起
const defaultOpTimeout = 5 * time.Second

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
//
// 槽位分配通过事务 + 许可证行级锁（SELECT ... FOR UPDATE）保证原子性，
// 事务失败时不留下任何部分状态。
type Store struct {
	db         *gorm.DB
	driverName string // "mysql" or "postgres"
	opTimeout  time.Duration
}

// NewStore 创建 SQL 数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	var dialector gorm.Dialector
	switch driverName {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:         db,
		driverName: driverName,
		opTimeout:  defaultOpTimeout,
	}

	// 自动执行数据库迁移
	if err := store.Migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.License{},
		&domain.Activation{},
		&domain.AdminUser{},
	)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// OpenConnections 返回连接池当前打开的连接数（指标采样用）
func (s *Store) OpenConnections() int {
	sqlDB, err := s.db.DB()
	if err != nil {
		return 0
	}
	return sqlDB.Stats().OpenConnections
}

// session 返回带超时上下文的数据库会话
func (s *Store) session() (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	return s.db.WithContext(ctx), cancel
}

// ========== License Repository ==========

// SaveLicense 保存新许可证
func (s *Store) SaveLicense(license *domain.License) error {
	db, cancel := s.session()
	defer cancel()

	err := db.Create(license).Error
	if err != nil && isDuplicateKey(err) {
		return storage.ErrLicenseKeyExists
	}
	return err
}

// GetLicense 根据 ID 获取许可证
func (s *Store) GetLicense(id string) (*domain.License, error) {
	db, cancel := s.session()
	defer cancel()

	var license domain.License
	if err := db.Where("id = ?", id).First(&license).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrLicenseNotFound
		}
		return nil, err
	}
	return &license, nil
}

// GetLicenseByKey 根据许可证密钥获取许可证
func (s *Store) GetLicenseByKey(key string) (*domain.License, error) {
	db, cancel := s.session()
	defer cancel()

	var license domain.License
	if err := db.Where("license_key = ?", key).First(&license).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrLicenseNotFound
		}
		return nil, err
	}
	return &license, nil
}

// ListLicenses 按条件返回许可证列表和总数
func (s *Store) ListLicenses(filter storage.LicenseFilter) ([]domain.License, int, error) {
	db, cancel := s.session()
	defer cancel()

	query := db.Model(&domain.License{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where(
			"LOWER(product_name) LIKE ? OR LOWER(customer_name) LIKE ? OR LOWER(customer_email) LIKE ?",
			like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var licenses []domain.License
	if err := query.Order("created_at DESC").Find(&licenses).Error; err != nil {
		return nil, 0, err
	}
	return licenses, int(total), nil
}

// UpdateLicense 更新已存在的许可证
func (s *Store) UpdateLicense(license *domain.License) error {
	db, cancel := s.session()
	defer cancel()

	result := db.Model(&domain.License{}).Where("id = ?", license.ID).
		Select("*").Omit("id", "created_at").Updates(license)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return storage.ErrLicenseKeyExists
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrLicenseNotFound
	}
	return nil
}

// DeleteLicense 硬删除许可证并级联删除其激活记录（单个事务）
func (s *Store) DeleteLicense(id string) error {
	db, cancel := s.session()
	defer cancel()

	return db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&domain.License{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrLicenseNotFound
		}
		return tx.Where("license_id = ?", id).Delete(&domain.Activation{}).Error
	})
}

// LicenseKeyExists 检查许可证密钥是否已被占用
func (s *Store) LicenseKeyExists(key string) (bool, error) {
	db, cancel := s.session()
	defer cancel()

	var count int64
	err := db.Model(&domain.License{}).Where("license_key = ?", key).Count(&count).Error
	return count > 0, err
}

// CountActiveLicenses 统计 active 状态的许可证总数
func (s *Store) CountActiveLicenses() (int, error) {
	db, cancel := s.session()
	defer cancel()

	var count int64
	err := db.Model(&domain.License{}).
		Where("status = ?", domain.LicenseStatusActive).
		Count(&count).Error
	return int(count), err
}

// ========== Activation Repository ==========

// AllocateSlot 原子地分配一个激活槽位。
//
// 事务内先对许可证行加 FOR UPDATE 锁，把同一许可证的并发分配串行化，
// 之后的计数-判断-写入不存在竞态窗口。槽位上限取自锁定行本身，
// 调用方此前读到的快照（可能来自缓存）不参与判定。
func (s *Store) AllocateSlot(licenseID, dom, token, metadata string) (*domain.Activation, bool, error) {
	db, cancel := s.session()
	defer cancel()

	var activation *domain.Activation
	created := false

	err := db.Transaction(func(tx *gorm.DB) error {
		var license domain.License
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", licenseID).First(&license).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrLicenseNotFound
			}
			return err
		}

		var existing domain.Activation
		err := tx.Where("license_id = ? AND domain = ?", licenseID, dom).First(&existing).Error
		switch {
		case err == nil:
			if existing.IsActive() {
				// 幂等：返回原激活，不占用新槽位
				activation = &existing
				return nil
			}

			// 重新激活前执行同样的槽位检查
			count, err := countActive(tx, licenseID)
			if err != nil {
				return err
			}
			if count >= license.MaxActivations {
				return storage.ErrActivationLimit
			}

			existing.Status = domain.ActivationStatusActive
			existing.ActivationToken = token
			existing.Metadata = metadata
			existing.LastCheck = time.Now().UTC()
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			activation = &existing
			created = true
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			count, err := countActive(tx, licenseID)
			if err != nil {
				return err
			}
			if count >= license.MaxActivations {
				return storage.ErrActivationLimit
			}

			now := time.Now().UTC()
			fresh := domain.Activation{
				ID:              uuid.New().String(),
				LicenseID:       licenseID,
				Domain:          dom,
				ActivationToken: token,
				Status:          domain.ActivationStatusActive,
				Metadata:        metadata,
				CreatedAt:       now,
				LastCheck:       now,
			}
			if err := tx.Create(&fresh).Error; err != nil {
				return err
			}
			activation = &fresh
			created = true
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return nil, false, err
	}
	return activation, created, nil
}

// ReleaseSlot 释放激活槽位（幂等，单条条件 UPDATE 天然原子）
func (s *Store) ReleaseSlot(licenseID, dom string) (bool, error) {
	db, cancel := s.session()
	defer cancel()

	result := db.Model(&domain.Activation{}).
		Where("license_id = ? AND domain = ? AND status = ?", licenseID, dom, domain.ActivationStatusActive).
		Update("status", domain.ActivationStatusInactive)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetActivation 返回 (licenseID, domain) 的激活记录
func (s *Store) GetActivation(licenseID, dom string) (*domain.Activation, error) {
	db, cancel := s.session()
	defer cancel()

	var activation domain.Activation
	if err := db.Where("license_id = ? AND domain = ?", licenseID, dom).First(&activation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrActivationNotFound
		}
		return nil, err
	}
	return &activation, nil
}

// GetActivationByToken 根据激活令牌获取激活记录
func (s *Store) GetActivationByToken(token string) (*domain.Activation, error) {
	db, cancel := s.session()
	defer cancel()

	var activation domain.Activation
	if err := db.Where("activation_token = ?", token).First(&activation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrActivationNotFound
		}
		return nil, err
	}
	return &activation, nil
}

// TouchActivation 更新 active 激活的心跳时间
func (s *Store) TouchActivation(token string, at time.Time) error {
	db, cancel := s.session()
	defer cancel()

	result := db.Model(&domain.Activation{}).
		Where("activation_token = ? AND status = ?", token, domain.ActivationStatusActive).
		Update("last_check", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrActivationNotFound
	}
	return nil
}

// ListActivations 返回许可证的全部激活记录（含 inactive 的审计记录）
func (s *Store) ListActivations(licenseID string) ([]domain.Activation, error) {
	db, cancel := s.session()
	defer cancel()

	var activations []domain.Activation
	err := db.Where("license_id = ?", licenseID).Order("created_at ASC").Find(&activations).Error
	return activations, err
}

// CountActiveActivations 统计许可证当前占用的槽位数
func (s *Store) CountActiveActivations(licenseID string) (int, error) {
	db, cancel := s.session()
	defer cancel()
	return countActive(db, licenseID)
}

// CountOccupiedSlots 统计全部许可证当前占用的槽位总数
func (s *Store) CountOccupiedSlots() (int, error) {
	db, cancel := s.session()
	defer cancel()

	var count int64
	err := db.Model(&domain.Activation{}).
		Where("status = ?", domain.ActivationStatusActive).
		Count(&count).Error
	return int(count), err
}

// CountStaleActivations 统计心跳早于 before 的 active 激活数量
func (s *Store) CountStaleActivations(before time.Time) (int, error) {
	db, cancel := s.session()
	defer cancel()

	var count int64
	err := db.Model(&domain.Activation{}).
		Where("status = ? AND last_check < ?", domain.ActivationStatusActive, before).
		Count(&count).Error
	return int(count), err
}

// DeactivateStale 停用心跳早于 before 的 active 激活
func (s *Store) DeactivateStale(before time.Time) (int, error) {
	db, cancel := s.session()
	defer cancel()

	result := db.Model(&domain.Activation{}).
		Where("status = ? AND last_check < ?", domain.ActivationStatusActive, before).
		Update("status", domain.ActivationStatusInactive)
	return int(result.RowsAffected), result.Error
}

// countActive 统计活跃激活数（在调用方的事务/会话内执行）
func countActive(tx *gorm.DB, licenseID string) (int, error) {
	var count int64
	err := tx.Model(&domain.Activation{}).
		Where("license_id = ? AND status = ?", licenseID, domain.ActivationStatusActive).
		Count(&count).Error
	return int(count), err
}

// ========== Admin Repository ==========

// CreateAdmin 创建管理员账户
func (s *Store) CreateAdmin(admin *domain.AdminUser) error {
	db, cancel := s.session()
	defer cancel()

	err := db.Create(admin).Error
	if err != nil && isDuplicateKey(err) {
		return storage.ErrAdminExists
	}
	return err
}

// GetAdminByID 根据 ID 获取管理员
func (s *Store) GetAdminByID(id string) (*domain.AdminUser, error) {
	db, cancel := s.session()
	defer cancel()

	var admin domain.AdminUser
	if err := db.Where("id = ?", id).First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAdminNotFound
		}
		return nil, err
	}
	return &admin, nil
}

// GetAdminByEmail 根据邮箱获取管理员
func (s *Store) GetAdminByEmail(email string) (*domain.AdminUser, error) {
	db, cancel := s.session()
	defer cancel()

	var admin domain.AdminUser
	if err := db.Where("email = ?", email).First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAdminNotFound
		}
		return nil, err
	}
	return &admin, nil
}

// UpdateAdmin 更新管理员账户
func (s *Store) UpdateAdmin(admin *domain.AdminUser) error {
	db, cancel := s.session()
	defer cancel()

	result := db.Save(admin)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAdminNotFound
	}
	return nil
}

// UpdateAdminLastLogin 更新管理员最后登录时间
func (s *Store) UpdateAdminLastLogin(id string) error {
	db, cancel := s.session()
	defer cancel()

	now := time.Now().UTC()
	result := db.Model(&domain.AdminUser{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_login_at": now, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAdminNotFound
	}
	return nil
}

// isDuplicateKey 判断是否为唯一约束冲突
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
