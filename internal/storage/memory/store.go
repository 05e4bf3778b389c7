package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage"
)

// Store 使用内存保存许可证与激活数据，主要用于开发验证和测试。
//
// 单把互斥锁同时充当槽位分配的事务边界：AllocateSlot 的检查-递增
// 在持锁期间完成，天然满足原子性要求。
type Store struct {
	mu              sync.RWMutex
	licenses        map[string]*domain.License    // licenseID -> license
	byKey           map[string]string             // licenseKey -> licenseID
	activations     map[string]*domain.Activation // activationID -> activation
	byToken         map[string]string             // activationToken -> activationID
	byLicenseDomain map[string]map[string]string  // licenseID -> domain -> activationID
	admins          map[string]*domain.AdminUser  // adminID -> admin
	byEmail         map[string]string             // email -> adminID
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		licenses:        make(map[string]*domain.License),
		byKey:           make(map[string]string),
		activations:     make(map[string]*domain.Activation),
		byToken:         make(map[string]string),
		byLicenseDomain: make(map[string]map[string]string),
		admins:          make(map[string]*domain.AdminUser),
		byEmail:         make(map[string]string),
	}
}

// ========== License Repository ==========

// SaveLicense 保存新许可证。
func (s *Store) SaveLicense(license *domain.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byKey[license.LicenseKey]; ok && existingID != license.ID {
		return storage.ErrLicenseKeyExists
	}

	clone := *license
	s.licenses[license.ID] = &clone
	s.byKey[license.LicenseKey] = license.ID
	return nil
}

// GetLicense 根据 ID 获取许可证。
func (s *Store) GetLicense(id string) (*domain.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	license, ok := s.licenses[id]
	if !ok {
		return nil, storage.ErrLicenseNotFound
	}
	clone := *license
	return &clone, nil
}

// GetLicenseByKey 根据许可证密钥获取许可证。
func (s *Store) GetLicenseByKey(key string) (*domain.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, storage.ErrLicenseNotFound
	}
	clone := *s.licenses[id]
	return &clone, nil
}

// ListLicenses 按条件返回许可证列表快照和总数。
func (s *Store) ListLicenses(filter storage.LicenseFilter) ([]domain.License, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.License, 0, len(s.licenses))
	search := strings.ToLower(filter.Search)
	for _, lic := range s.licenses {
		if filter.Status != nil && lic.Status != *filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(lic.ProductName), search) &&
			!strings.Contains(strings.ToLower(lic.CustomerName), search) &&
			!strings.Contains(strings.ToLower(lic.CustomerEmail), search) {
			continue
		}
		matched = append(matched, *lic)
	}

	total := len(matched)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.PageSize
		if start >= total {
			return []domain.License{}, total, nil
		}
		end := start + filter.PageSize
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

// UpdateLicense 更新已存在的许可证（含密钥重置时的索引维护）。
func (s *Store) UpdateLicense(license *domain.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.licenses[license.ID]
	if !ok {
		return storage.ErrLicenseNotFound
	}
	if existingID, exists := s.byKey[license.LicenseKey]; exists && existingID != license.ID {
		return storage.ErrLicenseKeyExists
	}

	if old.LicenseKey != license.LicenseKey {
		delete(s.byKey, old.LicenseKey)
	}
	clone := *license
	s.licenses[license.ID] = &clone
	s.byKey[license.LicenseKey] = license.ID
	return nil
}

// DeleteLicense 硬删除许可证并级联删除其激活记录。
func (s *Store) DeleteLicense(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, ok := s.licenses[id]
	if !ok {
		return storage.ErrLicenseNotFound
	}

	for _, actID := range s.byLicenseDomain[id] {
		if act, ok := s.activations[actID]; ok {
			delete(s.byToken, act.ActivationToken)
			delete(s.activations, actID)
		}
	}
	delete(s.byLicenseDomain, id)
	delete(s.byKey, license.LicenseKey)
	delete(s.licenses, id)
	return nil
}

// LicenseKeyExists 检查许可证密钥是否已被占用。
func (s *Store) LicenseKeyExists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byKey[key]
	return ok, nil
}

// CountActiveLicenses 统计 active 状态的许可证总数。
func (s *Store) CountActiveLicenses() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, lic := range s.licenses {
		if lic.Status == domain.LicenseStatusActive {
			count++
		}
	}
	return count, nil
}

// ========== Activation Repository ==========

// AllocateSlot 原子地分配一个激活槽位。槽位上限在锁内读当前许可证，
// 不信任调用方此前读到的快照。
func (s *Store) AllocateSlot(licenseID, dom, token, metadata string) (*domain.Activation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	license, ok := s.licenses[licenseID]
	if !ok {
		return nil, false, storage.ErrLicenseNotFound
	}

	domains := s.byLicenseDomain[licenseID]
	if existingID, ok := domains[dom]; ok {
		existing := s.activations[existingID]
		if existing.IsActive() {
			// 幂等：返回原激活，不占用新槽位
			clone := *existing
			return &clone, false, nil
		}

		// 重新激活前执行同样的槽位检查
		if s.countActiveLocked(licenseID) >= license.MaxActivations {
			return nil, false, storage.ErrActivationLimit
		}

		delete(s.byToken, existing.ActivationToken)
		existing.Status = domain.ActivationStatusActive
		existing.ActivationToken = token
		existing.Metadata = metadata
		existing.LastCheck = time.Now().UTC()
		s.byToken[token] = existingID

		clone := *existing
		return &clone, true, nil
	}

	if s.countActiveLocked(licenseID) >= license.MaxActivations {
		return nil, false, storage.ErrActivationLimit
	}

	now := time.Now().UTC()
	activation := &domain.Activation{
		ID:              uuid.New().String(),
		LicenseID:       licenseID,
		Domain:          dom,
		ActivationToken: token,
		Status:          domain.ActivationStatusActive,
		Metadata:        metadata,
		CreatedAt:       now,
		LastCheck:       now,
	}

	if domains == nil {
		domains = make(map[string]string)
		s.byLicenseDomain[licenseID] = domains
	}
	s.activations[activation.ID] = activation
	s.byToken[token] = activation.ID
	domains[dom] = activation.ID

	clone := *activation
	return &clone, true, nil
}

// ReleaseSlot 释放激活槽位（幂等）。
func (s *Store) ReleaseSlot(licenseID, dom string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actID, ok := s.byLicenseDomain[licenseID][dom]
	if !ok {
		return false, nil
	}
	act := s.activations[actID]
	if !act.IsActive() {
		return false, nil
	}
	act.Status = domain.ActivationStatusInactive
	return true, nil
}

// GetActivation 返回 (licenseID, domain) 的激活记录。
func (s *Store) GetActivation(licenseID, dom string) (*domain.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actID, ok := s.byLicenseDomain[licenseID][dom]
	if !ok {
		return nil, storage.ErrActivationNotFound
	}
	clone := *s.activations[actID]
	return &clone, nil
}

// GetActivationByToken 根据激活令牌获取激活记录。
func (s *Store) GetActivationByToken(token string) (*domain.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, storage.ErrActivationNotFound
	}
	clone := *s.activations[id]
	return &clone, nil
}

// TouchActivation 更新 active 激活的心跳时间。
func (s *Store) TouchActivation(token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return storage.ErrActivationNotFound
	}
	act := s.activations[id]
	if !act.IsActive() {
		return storage.ErrActivationNotFound
	}
	act.LastCheck = at
	return nil
}

// ListActivations 返回许可证的全部激活记录（含 inactive 的审计记录）。
func (s *Store) ListActivations(licenseID string) ([]domain.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Activation, 0)
	for _, actID := range s.byLicenseDomain[licenseID] {
		result = append(result, *s.activations[actID])
	}
	return result, nil
}

// CountActiveActivations 统计许可证当前占用的槽位数。
func (s *Store) CountActiveActivations(licenseID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveLocked(licenseID), nil
}

// CountOccupiedSlots 统计全部许可证当前占用的槽位总数。
func (s *Store) CountOccupiedSlots() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, act := range s.activations {
		if act.IsActive() {
			count++
		}
	}
	return count, nil
}

// CountStaleActivations 统计心跳早于 before 的 active 激活数量。
func (s *Store) CountStaleActivations(before time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, act := range s.activations {
		if act.IsActive() && act.LastCheck.Before(before) {
			count++
		}
	}
	return count, nil
}

// DeactivateStale 停用心跳早于 before 的 active 激活。
func (s *Store) DeactivateStale(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, act := range s.activations {
		if act.IsActive() && act.LastCheck.Before(before) {
			act.Status = domain.ActivationStatusInactive
			count++
		}
	}
	return count, nil
}

// countActiveLocked 统计活跃激活数，调用方必须持锁。
func (s *Store) countActiveLocked(licenseID string) int {
	count := 0
	for _, actID := range s.byLicenseDomain[licenseID] {
		if s.activations[actID].IsActive() {
			count++
		}
	}
	return count
}

// ========== Admin Repository ==========

// CreateAdmin 创建管理员账户。
func (s *Store) CreateAdmin(admin *domain.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[admin.Email]; ok {
		return storage.ErrAdminExists
	}
	clone := *admin
	s.admins[admin.ID] = &clone
	s.byEmail[admin.Email] = admin.ID
	return nil
}

// GetAdminByID 根据 ID 获取管理员。
func (s *Store) GetAdminByID(id string) (*domain.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	admin, ok := s.admins[id]
	if !ok {
		return nil, storage.ErrAdminNotFound
	}
	clone := *admin
	return &clone, nil
}

// GetAdminByEmail 根据邮箱获取管理员。
func (s *Store) GetAdminByEmail(email string) (*domain.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, storage.ErrAdminNotFound
	}
	clone := *s.admins[id]
	return &clone, nil
}

// UpdateAdmin 更新管理员账户。
func (s *Store) UpdateAdmin(admin *domain.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.admins[admin.ID]; !ok {
		return storage.ErrAdminNotFound
	}
	clone := *admin
	s.admins[admin.ID] = &clone
	return nil
}

// UpdateAdminLastLogin 更新管理员最后登录时间。
func (s *Store) UpdateAdminLastLogin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	admin, ok := s.admins[id]
	if !ok {
		return storage.ErrAdminNotFound
	}
	now := time.Now().UTC()
	admin.LastLoginAt = &now
	admin.UpdatedAt = now
	return nil
}

// Close 关闭存储（内存实现为空操作）。
func (s *Store) Close() error { return nil }

// Health 检查存储健康状态（内存实现永远健康）。
func (s *Store) Health() error { return nil }
