package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		input    string
		expected string
	}{
		{"example.com", "example.com"},
		{"EXAMPLE.COM", "example.com"},
		{"https://WWW.Example.com/path", "example.com"},
		{"http://example.com", "example.com"},
		{"www.example.com", "example.com"},
		{"example.com:8080", "example.com"},
		{"https://shop.example.com/checkout?x=1", "shop.example.com"},
		{"example.com.", "example.com"},
		{"  example.com  ", "example.com"},
		{"[::1]:8080", "::1"},
		{"http://[2001:db8::1]:443/path", "2001:db8::1"},
		{"[::1]", "::1"},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, NormalizeDomain(tc.input), "input: %q", tc.input)
	}
}

func TestMatchDomainPattern(t *testing.T) {
	t.Run("精确匹配", func(t *testing.T) {
		assert.True(t, MatchDomainPattern("example.com", "example.com"))
		assert.False(t, MatchDomainPattern("example.com", "example.org"))
		assert.False(t, MatchDomainPattern("example.com", "shop.example.com"))
	})

	t.Run("通配符匹配子域名", func(t *testing.T) {
		assert.True(t, MatchDomainPattern("*.example.com", "shop.example.com"))
		assert.True(t, MatchDomainPattern("*.example.com", "a.b.example.com"))
		assert.False(t, MatchDomainPattern("*.example.com", "example.org"))
	})

	t.Run("通配符不匹配裸域名", func(t *testing.T) {
		assert.False(t, MatchDomainPattern("*.example.com", "example.com"))
	})

	t.Run("空模式不匹配任何域名", func(t *testing.T) {
		assert.False(t, MatchDomainPattern("", "example.com"))
	})
}

func TestLicenseDomainAllowed(t *testing.T) {
	lic := &License{AllowedDomains: "example.com, *.shop.io"}

	assert.True(t, lic.DomainAllowed("example.com"))
	assert.True(t, lic.DomainAllowed("a.shop.io"))
	assert.False(t, lic.DomainAllowed("shop.io"))
	assert.False(t, lic.DomainAllowed("evil.com"))

	// 空白名单允许任意域名
	open := &License{AllowedDomains: ""}
	assert.True(t, open.DomainAllowed("anything.net"))
}

func TestLicenseExpiry(t *testing.T) {
	now := time.Now()

	t.Run("无过期时间视为永久", func(t *testing.T) {
		lic := &License{}
		assert.False(t, lic.IsExpired(now))
		assert.True(t, lic.IsPerpetual(now))
	})

	t.Run("远期过期时间视为永久", func(t *testing.T) {
		far := now.Add(60 * 365 * 24 * time.Hour)
		lic := &License{ExpiresAt: &far}
		assert.True(t, lic.IsPerpetual(now))
		assert.False(t, lic.IsExpired(now))
	})

	t.Run("过期判断", func(t *testing.T) {
		past := now.Add(-time.Hour)
		lic := &License{ExpiresAt: &past}
		assert.True(t, lic.IsExpired(now))
	})

	t.Run("宽限期判断", func(t *testing.T) {
		past := now.Add(-24 * time.Hour)
		lic := &License{ExpiresAt: &past}
		assert.True(t, lic.InGrace(now, 7))
		assert.False(t, lic.InGrace(now, 0))
		assert.False(t, lic.InGrace(now.Add(8*24*time.Hour), 7))
	})

	t.Run("即将过期判断", func(t *testing.T) {
		soon := now.Add(5 * 24 * time.Hour)
		lic := &License{ExpiresAt: &soon}
		assert.True(t, lic.ExpiringSoon(now, 7*24*time.Hour))
		assert.False(t, lic.ExpiringSoon(now, 24*time.Hour))
	})
}
