package service

import (
	"errors"
	"time"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage"
)

// EventSink 接收许可证事件（由 websocket hub 实现，可为 nil）
type EventSink interface {
	Publish(event domain.Event)
}

// ActivationResult 激活协议操作的结果
type ActivationResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	ActivationToken string `json:"activation_token,omitempty"`
}

// ActivationService 管理激活槽位的分配与释放。
//
// 槽位检查-递增的原子性由存储层保证（事务 + 行锁或单把互斥锁）；
// 本服务负责协议语义：验证前置、域名规范化、幂等与令牌换发。
type ActivationService struct {
	store      storage.Store
	validation *ValidationService
	events     EventSink
	now        func() time.Time
}

// NewActivationService 创建激活服务
func NewActivationService(store storage.Store, validation *ValidationService) *ActivationService {
	return &ActivationService{
		store:      store,
		validation: validation,
		now:        time.Now,
	}
}

// SetEventSink 设置事件接收器（可选）
func (s *ActivationService) SetEventSink(sink EventSink) {
	s.events = sink
}

// Activate 为 (license_key, domain) 分配一个激活槽位。
//
// 已激活域名的重复激活是幂等的：返回原 token，不占用新槽位。
// 并发耗尽最后一个槽位时，失败方得到普通的 "activation limit reached"，
// 与常规槽位耗尽不可区分。
func (s *ActivationService) Activate(licenseKey, rawDomain, metadata string) (*ActivationResult, error) {
	license, reason, err := s.validation.Check(licenseKey, rawDomain)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &ActivationResult{Success: false, Message: reason}, nil
	}

	dom := domain.NormalizeDomain(rawDomain)
	if dom == "" {
		return &ActivationResult{Success: false, Message: "domain is required"}, nil
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	// 槽位上限由存储层在原子边界内读当前值判定，
	// 上面 Check 读到的（可能来自缓存的）快照只用于验证。
	activation, created, err := s.store.AllocateSlot(license.ID, dom, token, metadata)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrActivationLimit):
			return &ActivationResult{Success: false, Message: ReasonActivationLimit}, nil
		case errors.Is(err, storage.ErrLicenseNotFound):
			// 许可证在验证与分配之间被删除
			return &ActivationResult{Success: false, Message: ReasonLicenseNotFound}, nil
		default:
			return nil, err
		}
	}

	message := "license activated"
	if !created {
		message = "domain already activated"
	}
	if created {
		s.publish(domain.Event{
			Type:      domain.EventActivated,
			LicenseID: license.ID,
			Domain:    dom,
			At:        s.now().UTC(),
		})
	}

	return &ActivationResult{
		Success:         true,
		Message:         message,
		ActivationToken: activation.ActivationToken,
	}, nil
}

// Deactivate 释放 (license_key, domain) 的激活槽位。
//
// 幂等：对已停用的域名重复停用返回成功（容忍客户端重发）；
// 该域名从未激活过则返回 "not currently activated"。
func (s *ActivationService) Deactivate(licenseKey, rawDomain string) (*ActivationResult, error) {
	license, err := s.store.GetLicenseByKey(licenseKey)
	if err != nil {
		if errors.Is(err, storage.ErrLicenseNotFound) {
			return &ActivationResult{Success: false, Message: ReasonLicenseNotFound}, nil
		}
		return nil, err
	}

	dom := domain.NormalizeDomain(rawDomain)
	if _, err := s.store.GetActivation(license.ID, dom); err != nil {
		if errors.Is(err, storage.ErrActivationNotFound) {
			return &ActivationResult{Success: false, Message: ReasonNotActivated}, nil
		}
		return nil, err
	}

	// 记录存在即视为成功，重复停用是无操作
	released, err := s.store.ReleaseSlot(license.ID, dom)
	if err != nil {
		return nil, err
	}
	if released {
		s.publish(domain.Event{
			Type:      domain.EventDeactivated,
			LicenseID: license.ID,
			Domain:    dom,
			At:        s.now().UTC(),
		})
	}

	return &ActivationResult{Success: true, Message: "license deactivated"}, nil
}

// Heartbeat 更新激活的 last_check，证明客户端存活。
//
// 引擎本身不因心跳缺失而过期激活；可选的后台清扫是独立策略。
func (s *ActivationService) Heartbeat(token string) (*ActivationResult, error) {
	if err := s.store.TouchActivation(token, s.now().UTC()); err != nil {
		if errors.Is(err, storage.ErrActivationNotFound) {
			return &ActivationResult{Success: false, Message: ReasonInvalidToken}, nil
		}
		return nil, err
	}
	return &ActivationResult{Success: true}, nil
}

// SweepStale 停用心跳超时的激活，供可选的后台任务调用。
func (s *ActivationService) SweepStale(staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		return 0, nil
	}
	return s.store.DeactivateStale(s.now().UTC().Add(-staleAfter))
}

// publish 发布事件（sink 未设置时为空操作）
func (s *ActivationService) publish(event domain.Event) {
	if s.events != nil {
		s.events.Publish(event)
	}
}
