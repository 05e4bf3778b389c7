package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensehub/backend/internal/domain"
	"licensehub/backend/internal/storage/memory"
)

func seedLicense(t *testing.T, store *memory.Store, mutate func(*domain.License)) *domain.License {
	t.Helper()

	expires := time.Now().Add(365 * 24 * time.Hour)
	license := &domain.License{
		ID:             uuid.New().String(),
		LicenseKey:     mustKey(t, store),
		ProductName:    "Acme Suite",
		CustomerName:   "Acme Corp",
		CustomerEmail:  "ops@acme.test",
		Status:         domain.LicenseStatusActive,
		MaxActivations: 3,
		ExpiresAt:      &expires,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if mutate != nil {
		mutate(license)
	}
	require.NoError(t, store.SaveLicense(license))
	return license
}

func mustKey(t *testing.T, store *memory.Store) string {
	t.Helper()
	key, err := NewKeyGenerator(store).Generate()
	require.NoError(t, err)
	return key
}

func TestValidationService_Validate(t *testing.T) {
	store := memory.NewStore()
	svc := NewValidationService(store)

	t.Run("许可证不存在", func(t *testing.T) {
		result, err := svc.Validate("AAAAAAAA-BBBBBBBB-CCCCCCCC-DDDDDDDD", "example.com")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, "license not found", result.Message)
		assert.Nil(t, result.License)
	})

	t.Run("有效许可证返回公开视图", func(t *testing.T) {
		license := seedLicense(t, store, nil)

		result, err := svc.Validate(license.LicenseKey, "example.com")
		require.NoError(t, err)
		assert.True(t, result.Valid)
		require.NotNil(t, result.License)
		assert.Equal(t, "Acme Suite", result.License.ProductName)
		assert.Equal(t, domain.LicenseStatusActive, result.License.Status)
	})

	t.Run("已吊销", func(t *testing.T) {
		license := seedLicense(t, store, func(l *domain.License) {
			l.Status = domain.LicenseStatusRevoked
		})

		result, err := svc.Validate(license.LicenseKey, "example.com")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, "license revoked", result.Message)
	})

	t.Run("已暂停", func(t *testing.T) {
		license := seedLicense(t, store, func(l *domain.License) {
			l.Status = domain.LicenseStatusSuspended
		})

		result, err := svc.Validate(license.LicenseKey, "example.com")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, "license suspended", result.Message)
	})

	t.Run("已过期", func(t *testing.T) {
		license := seedLicense(t, store, func(l *domain.License) {
			past := time.Now().Add(-time.Hour)
			l.ExpiresAt = &past
		})

		result, err := svc.Validate(license.LicenseKey, "example.com")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, "license expired", result.Message)
	})

	t.Run("吊销优先于过期", func(t *testing.T) {
		// 同时吊销且过期时必须报告吊销
		license := seedLicense(t, store, func(l *domain.License) {
			l.Status = domain.LicenseStatusRevoked
			past := time.Now().Add(-time.Hour)
			l.ExpiresAt = &past
		})

		result, err := svc.Validate(license.LicenseKey, "example.com")
		require.NoError(t, err)
		assert.Equal(t, "license revoked", result.Message)
	})

	t.Run("永久许可证", func(t *testing.T) {
		license := seedLicense(t, store, func(l *domain.License) {
			l.ExpiresAt = nil
		})

		result, err := svc.Validate(license.LicenseKey, "example.com")
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Nil(t, result.License.ExpiresAt)
	})
}

func TestValidationService_DomainAllowlist(t *testing.T) {
	store := memory.NewStore()
	svc := NewValidationService(store)

	license := seedLicense(t, store, func(l *domain.License) {
		l.AllowedDomains = "example.com,*.shop.example.com"
	})

	cases := []struct {
		name   string
		domain string
		valid  bool
	}{
		{"精确匹配", "example.com", true},
		{"带协议与路径", "https://example.com/admin?x=1", true},
		{"www 前缀视同裸域名", "www.example.com", true},
		{"带端口", "example.com:8443", true},
		{"通配符匹配子域名", "eu.shop.example.com", true},
		{"通配符不匹配裸域名", "shop.example.com", false},
		{"无关域名", "evil.test", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.Validate(license.LicenseKey, tc.domain)
			require.NoError(t, err)
			assert.Equal(t, tc.valid, result.Valid)
			if !tc.valid {
				assert.Equal(t, "domain not authorized", result.Message)
			}
		})
	}

	t.Run("白名单为空放行任意域名", func(t *testing.T) {
		open := seedLicense(t, store, nil)
		result, err := svc.Validate(open.LicenseKey, "anything.test")
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})
}

func TestValidationService_NoSensitiveLeak(t *testing.T) {
	store := memory.NewStore()
	svc := NewValidationService(store)
	license := seedLicense(t, store, nil)

	result, err := svc.Validate(license.LicenseKey, "example.com")
	require.NoError(t, err)
	require.True(t, result.Valid)

	// 公开视图是独立结构体，类型上就排除了 license_key 等字段；
	// 这里额外确认返回值确实只有公开字段。
	assert.Equal(t, domain.PublicLicense{
		ProductName: license.ProductName,
		ExpiresAt:   result.License.ExpiresAt,
		Status:      domain.LicenseStatusActive,
	}, *result.License)
}
