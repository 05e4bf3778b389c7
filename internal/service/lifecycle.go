package service

import (
	"errors"
	"time"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage"
)

// LifecycleAction 生命周期操作的封闭集合（替代按字符串分发）
type LifecycleAction string

const (
	ActionSuspend       LifecycleAction = "suspend"
	ActionUnsuspend     LifecycleAction = "unsuspend"
	ActionDelete        LifecycleAction = "delete"
	ActionExtend        LifecycleAction = "extend"
	ActionRegenerateKey LifecycleAction = "regenerate_key"
)

// LifecycleResult 生命周期操作的结果
type LifecycleResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Action  LifecycleAction `json:"action"`
	// NewLicenseKey 仅 regenerate_key 成功时返回
	NewLicenseKey string `json:"new_license_key,omitempty"`
}

// ErrInvalidExtension 延长天数必须为正
var ErrInvalidExtension = errors.New("extension days must be positive")

// LifecycleService 管理端的许可证状态迁移。
//
// 所有操作显式接收 Actor（执行者），不依赖环境全局状态；
// 操作只改变许可证本身，激活计数不受影响（后续验证结果会间接体现）。
type LifecycleService struct {
	store  storage.Store
	keygen *KeyGenerator
	events EventSink
	now    func() time.Time
}

// NewLifecycleService 创建生命周期服务
func NewLifecycleService(store storage.Store, keygen *KeyGenerator) *LifecycleService {
	return &LifecycleService{
		store:  store,
		keygen: keygen,
		now:    time.Now,
	}
}

// SetEventSink 设置事件接收器（可选）
func (s *LifecycleService) SetEventSink(sink EventSink) {
	s.events = sink
}

// Suspend 暂停许可证（幂等：不论此前状态，结果都是 suspended）
func (s *LifecycleService) Suspend(actor domain.Actor, licenseKey, reason string) (*LifecycleResult, error) {
	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		return s.notFoundOrErr(err, ActionSuspend)
	}

	license.Status = domain.LicenseStatusSuspended
	license.SuspendReason = reason
	license.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateLicense(license); err != nil {
		return nil, err
	}

	s.publish(domain.EventSuspended, license.ID, actor)
	return &LifecycleResult{Success: true, Message: "license suspended", Action: ActionSuspend}, nil
}

// Unsuspend 恢复被暂停的许可证（仅当前状态为 suspended 时生效，否则无操作）
func (s *LifecycleService) Unsuspend(actor domain.Actor, licenseKey string) (*LifecycleResult, error) {
	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		return s.notFoundOrErr(err, ActionUnsuspend)
	}

	if license.Status != domain.LicenseStatusSuspended {
		return &LifecycleResult{Success: true, Message: "license not suspended, no change", Action: ActionUnsuspend}, nil
	}

	license.Status = domain.LicenseStatusActive
	license.SuspendReason = ""
	license.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateLicense(license); err != nil {
		return nil, err
	}

	s.publish(domain.EventUnsuspended, license.ID, actor)
	return &LifecycleResult{Success: true, Message: "license reactivated", Action: ActionUnsuspend}, nil
}

// Delete 硬删除许可证，级联删除全部激活记录（审计历史随之丢失）。
//
// 软路径是 Suspend；需要保留历史时应暂停而不是删除。
func (s *LifecycleService) Delete(actor domain.Actor, licenseKey string) (*LifecycleResult, error) {
	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		return s.notFoundOrErr(err, ActionDelete)
	}

	if err := s.store.DeleteLicense(license.ID); err != nil {
		if errors.Is(err, storage.ErrLicenseNotFound) {
			return &LifecycleResult{Success: false, Message: ReasonLicenseNotFound, Action: ActionDelete}, nil
		}
		return nil, err
	}

	s.publish(domain.EventDeleted, license.ID, actor)
	return &LifecycleResult{Success: true, Message: "license and activations deleted", Action: ActionDelete}, nil
}

// Extend 延长许可证有效期。
//
// 基准取 now 与当前 expires_at 的较晚者：连续延长是累加的，
// 已过期的许可证从现在起算，不会被悄悄回溯。永久许可证延长后
// 变为从现在起算的定期许可证。
func (s *LifecycleService) Extend(actor domain.Actor, licenseKey string, days int) (*LifecycleResult, error) {
	if days <= 0 {
		return nil, ErrInvalidExtension
	}

	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		return s.notFoundOrErr(err, ActionExtend)
	}

	now := s.now().UTC()
	base := now
	if license.ExpiresAt != nil && license.ExpiresAt.After(now) {
		base = license.ExpiresAt.UTC()
	}
	expires := base.Add(time.Duration(days) * 24 * time.Hour)
	license.ExpiresAt = &expires
	license.UpdatedAt = now
	if err := s.store.UpdateLicense(license); err != nil {
		return nil, err
	}

	s.publish(domain.EventExtended, license.ID, actor)
	return &LifecycleResult{Success: true, Message: "license extended", Action: ActionExtend}, nil
}

// RegenerateKey 换发许可证密钥。
//
// 旧密钥立即失效，ID 与激活历史全部保留。
func (s *LifecycleService) RegenerateKey(actor domain.Actor, licenseKey string) (*LifecycleResult, error) {
	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		return s.notFoundOrErr(err, ActionRegenerateKey)
	}

	newKey, err := s.keygen.Generate()
	if err != nil {
		return nil, err
	}

	license.LicenseKey = newKey
	license.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateLicense(license); err != nil {
		return nil, err
	}

	s.publish(domain.EventKeyRegenerated, license.ID, actor)
	return &LifecycleResult{
		Success:       true,
		Message:       "license key regenerated",
		Action:        ActionRegenerateKey,
		NewLicenseKey: newKey,
	}, nil
}

// notFoundOrErr 把存储的未找到映射为业务失败，其余错误原样上抛
func (s *LifecycleService) notFoundOrErr(err error, action LifecycleAction) (*LifecycleResult, error) {
	if errors.Is(err, storage.ErrLicenseNotFound) {
		return &LifecycleResult{Success: false, Message: ReasonLicenseNotFound, Action: action}, nil
	}
	return nil, err
}

// publish 发布生命周期事件
func (s *LifecycleService) publish(eventType domain.EventType, licenseID string, actor domain.Actor) {
	if s.events != nil {
		s.events.Publish(domain.Event{
			Type:      eventType,
			LicenseID: licenseID,
			Actor:     actor.Email,
			At:        s.now().UTC(),
		})
	}
}
