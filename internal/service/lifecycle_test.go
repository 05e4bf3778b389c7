package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage/memory"
)

var testActor = domain.Actor{AdminID: "admin-1", Email: "root@licensehub.test"}

func newLifecycleService(store *memory.Store) *LifecycleService {
	return NewLifecycleService(store, NewKeyGenerator(store))
}

func TestLifecycleService_SuspendUnsuspend(t *testing.T) {
	store := memory.NewStore()
	svc := newLifecycleService(store)
	license := seedLicense(t, store, nil)

	t.Run("暂停设置原因", func(t *testing.T) {
		result, err := svc.Suspend(testActor, license.LicenseKey, "payment overdue")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, ActionSuspend, result.Action)

		got, err := store.GetLicenseByKey(license.LicenseKey)
		require.NoError(t, err)
		assert.Equal(t, domain.LicenseStatusSuspended, got.Status)
		assert.Equal(t, "payment overdue", got.SuspendReason)
	})

	t.Run("重复暂停幂等", func(t *testing.T) {
		result, err := svc.Suspend(testActor, license.LicenseKey, "second reason")
		require.NoError(t, err)
		assert.True(t, result.Success)
	})

	t.Run("已有激活不受暂停影响", func(t *testing.T) {
		// 暂停只改许可证状态，激活记录保持 active，验证结果间接体现
		other := seedLicense(t, store, nil)
		act := newActivationService(store)
		_, err := act.Activate(other.LicenseKey, "a.example.com", "")
		require.NoError(t, err)

		_, err = svc.Suspend(testActor, other.LicenseKey, "")
		require.NoError(t, err)

		count, err := store.CountActiveActivations(other.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("恢复清除原因", func(t *testing.T) {
		result, err := svc.Unsuspend(testActor, license.LicenseKey)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, ActionUnsuspend, result.Action)

		got, err := store.GetLicenseByKey(license.LicenseKey)
		require.NoError(t, err)
		assert.Equal(t, domain.LicenseStatusActive, got.Status)
		assert.Empty(t, got.SuspendReason)
	})

	t.Run("恢复未暂停的许可证是无操作", func(t *testing.T) {
		revoked := seedLicense(t, store, func(l *domain.License) {
			l.Status = domain.LicenseStatusRevoked
		})
		result, err := svc.Unsuspend(testActor, revoked.LicenseKey)
		require.NoError(t, err)
		assert.True(t, result.Success)

		got, err := store.GetLicenseByKey(revoked.LicenseKey)
		require.NoError(t, err)
		assert.Equal(t, domain.LicenseStatusRevoked, got.Status, "吊销状态不能被恢复操作改写")
	})

	t.Run("未知密钥", func(t *testing.T) {
		result, err := svc.Suspend(testActor, "AAAAAAAA-BBBBBBBB-CCCCCCCC-DDDDDDDD", "")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "license not found", result.Message)
	})
}

func TestLifecycleService_Delete(t *testing.T) {
	store := memory.NewStore()
	svc := newLifecycleService(store)
	license := seedLicense(t, store, nil)

	act := newActivationService(store)
	result, err := act.Activate(license.LicenseKey, "a.example.com", "")
	require.NoError(t, err)
	require.True(t, result.Success)

	deleted, err := svc.Delete(testActor, license.LicenseKey)
	require.NoError(t, err)
	assert.True(t, deleted.Success)
	assert.Equal(t, ActionDelete, deleted.Action)

	// 级联：激活令牌随许可证一起消失
	_, err = store.GetActivationByToken(result.ActivationToken)
	assert.Error(t, err)

	again, err := svc.Delete(testActor, license.LicenseKey)
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Equal(t, "license not found", again.Message)
}

func TestLifecycleService_Extend(t *testing.T) {
	store := memory.NewStore()
	svc := newLifecycleService(store)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	t.Run("未过期按当前到期日累加", func(t *testing.T) {
		expires := base.Add(10 * 24 * time.Hour)
		license := seedLicense(t, store, func(l *domain.License) {
			l.ExpiresAt = &expires
		})

		result, err := svc.Extend(testActor, license.LicenseKey, 30)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, ActionExtend, result.Action)

		got, err := store.GetLicenseByKey(license.LicenseKey)
		require.NoError(t, err)
		assert.Equal(t, expires.Add(30*24*time.Hour), got.ExpiresAt.UTC())
	})

	t.Run("已过期从现在起算", func(t *testing.T) {
		expired := base.Add(-30 * 24 * time.Hour)
		license := seedLicense(t, store, func(l *domain.License) {
			l.ExpiresAt = &expired
		})

		_, err := svc.Extend(testActor, license.LicenseKey, 7)
		require.NoError(t, err)

		got, err := store.GetLicenseByKey(license.LicenseKey)
		require.NoError(t, err)
		assert.Equal(t, base.Add(7*24*time.Hour), got.ExpiresAt.UTC())
	})

	t.Run("永久许可证延长后变为定期", func(t *testing.T) {
		license := seedLicense(t, store, func(l *domain.License) {
			l.ExpiresAt = nil
		})

		_, err := svc.Extend(testActor, license.LicenseKey, 90)
		require.NoError(t, err)

		got, err := store.GetLicenseByKey(license.LicenseKey)
		require.NoError(t, err)
		require.NotNil(t, got.ExpiresAt)
		assert.Equal(t, base.Add(90*24*time.Hour), got.ExpiresAt.UTC())
	})

	t.Run("非正天数被拒绝", func(t *testing.T) {
		license := seedLicense(t, store, nil)
		_, err := svc.Extend(testActor, license.LicenseKey, 0)
		assert.ErrorIs(t, err, ErrInvalidExtension)
		_, err = svc.Extend(testActor, license.LicenseKey, -5)
		assert.ErrorIs(t, err, ErrInvalidExtension)
	})
}

func TestLifecycleService_RegenerateKey(t *testing.T) {
	store := memory.NewStore()
	svc := newLifecycleService(store)
	sink := &recordingSink{}
	svc.SetEventSink(sink)

	license := seedLicense(t, store, nil)
	oldKey := license.LicenseKey

	act := newActivationService(store)
	activated, err := act.Activate(oldKey, "a.example.com", "")
	require.NoError(t, err)

	result, err := svc.RegenerateKey(testActor, oldKey)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, ActionRegenerateKey, result.Action)
	assert.Regexp(t, keyFormat, result.NewLicenseKey)
	assert.NotEqual(t, oldKey, result.NewLicenseKey)

	// 旧密钥立即失效，新密钥指向同一许可证
	_, err = store.GetLicenseByKey(oldKey)
	assert.Error(t, err)
	got, err := store.GetLicenseByKey(result.NewLicenseKey)
	require.NoError(t, err)
	assert.Equal(t, license.ID, got.ID)

	// 激活历史保留
	count, err := store.CountActiveActivations(license.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	beat, err := act.Heartbeat(activated.ActivationToken)
	require.NoError(t, err)
	assert.True(t, beat.Success)

	require.Len(t, sink.events, 1)
	assert.Equal(t, domain.EventKeyRegenerated, sink.events[0].Type)
	assert.Equal(t, testActor.Email, sink.events[0].Actor)
}
