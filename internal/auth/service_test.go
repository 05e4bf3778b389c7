package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensehub/backend/internal/config"
	"licensehub/backend/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store), store
}

func TestService_CreateAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	t.Run("正常创建", func(t *testing.T) {
		admin, err := svc.CreateAdmin(CreateAdminInput{
			Email:    "  Root@LicenseHub.Test ",
			Username: "root",
			Password: "a-strong-password",
		})
		require.NoError(t, err)
		assert.Equal(t, "root@licensehub.test", admin.Email)
		assert.True(t, admin.IsActive)
		assert.NotEqual(t, "a-strong-password", admin.PasswordHash, "密码必须哈希存储")
	})

	t.Run("邮箱重复", func(t *testing.T) {
		_, err := svc.CreateAdmin(CreateAdminInput{
			Email:    "root@licensehub.test",
			Password: "another-password",
		})
		assert.ErrorIs(t, err, ErrEmailExists)
	})

	t.Run("邮箱格式非法", func(t *testing.T) {
		_, err := svc.CreateAdmin(CreateAdminInput{
			Email:    "not-an-email",
			Password: "a-strong-password",
		})
		assert.ErrorIs(t, err, ErrInvalidEmail)
	})

	t.Run("密码太短", func(t *testing.T) {
		_, err := svc.CreateAdmin(CreateAdminInput{
			Email:    "short@licensehub.test",
			Password: "short",
		})
		assert.Error(t, err)
	})
}

func TestService_Login(t *testing.T) {
	svc, store := newTestService(t)

	admin, err := svc.CreateAdmin(CreateAdminInput{
		Email:    "ops@licensehub.test",
		Password: "a-strong-password",
	})
	require.NoError(t, err)

	t.Run("登录成功", func(t *testing.T) {
		got, err := svc.Login("OPS@licensehub.test", "a-strong-password")
		require.NoError(t, err)
		assert.Equal(t, admin.ID, got.ID)
	})

	t.Run("登录更新最后登录时间", func(t *testing.T) {
		_, err := svc.Login("ops@licensehub.test", "a-strong-password")
		require.NoError(t, err)

		stored, err := store.GetAdminByID(admin.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.LastLoginAt)
	})

	t.Run("密码错误", func(t *testing.T) {
		_, err := svc.Login("ops@licensehub.test", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("账户不存在", func(t *testing.T) {
		_, err := svc.Login("ghost@licensehub.test", "a-strong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("账户被禁用", func(t *testing.T) {
		admin.IsActive = false
		require.NoError(t, store.UpdateAdmin(admin))
		defer func() {
			admin.IsActive = true
			require.NoError(t, store.UpdateAdmin(admin))
		}()

		_, err := svc.Login("ops@licensehub.test", "a-strong-password")
		assert.ErrorIs(t, err, ErrAdminInactive)
	})
}

func TestService_ChangePassword(t *testing.T) {
	svc, _ := newTestService(t)

	admin, err := svc.CreateAdmin(CreateAdminInput{
		Email:    "ops@licensehub.test",
		Password: "old-password-123",
	})
	require.NoError(t, err)

	t.Run("旧密码错误", func(t *testing.T) {
		err := svc.ChangePassword(admin.ID, "wrong", "new-password-123")
		assert.Error(t, err)
	})

	t.Run("修改成功后新密码生效", func(t *testing.T) {
		require.NoError(t, svc.ChangePassword(admin.ID, "old-password-123", "new-password-123"))

		_, err := svc.Login("ops@licensehub.test", "old-password-123")
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		_, err = svc.Login("ops@licensehub.test", "new-password-123")
		assert.NoError(t, err)
	})
}

func TestTokenService(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store)
	tokens := NewTokenService(svc, &config.JWTConfig{
		Secret:        "test-secret-key-32-characters-long-minimum",
		Issuer:        "licensehub",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	})

	admin, err := svc.CreateAdmin(CreateAdminInput{
		Email:    "ops@licensehub.test",
		Password: "a-strong-password",
	})
	require.NoError(t, err)

	t.Run("登录签发令牌对", func(t *testing.T) {
		resp, err := tokens.Login("ops@licensehub.test", "a-strong-password")
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, int64(900), resp.ExpiresIn)

		t.Run("访问令牌还原 Actor", func(t *testing.T) {
			actor, err := tokens.Authenticate(resp.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, admin.ID, actor.AdminID)
			assert.Equal(t, admin.Email, actor.Email)
		})

		t.Run("刷新令牌换取新访问令牌", func(t *testing.T) {
			access, err := tokens.Refresh(resp.RefreshToken)
			require.NoError(t, err)

			actor, err := tokens.Authenticate(access)
			require.NoError(t, err)
			assert.Equal(t, admin.ID, actor.AdminID)
		})

		t.Run("禁用账户后令牌失效", func(t *testing.T) {
			admin.IsActive = false
			require.NoError(t, store.UpdateAdmin(admin))
			defer func() {
				admin.IsActive = true
				require.NoError(t, store.UpdateAdmin(admin))
			}()

			_, err := tokens.Authenticate(resp.AccessToken)
			assert.Error(t, err)
		})
	})

	t.Run("伪造令牌被拒绝", func(t *testing.T) {
		_, err := tokens.Authenticate("not-a-token")
		assert.Error(t, err)
	})
}
