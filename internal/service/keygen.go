package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"licensehub/backend/internal/storage"
)

// maxKeyAttempts 生成密钥时碰撞重试上限（碰撞概率可忽略但必须处理）
const maxKeyAttempts = 5

// ErrKeySpaceExhausted 连续碰撞超出重试上限
var ErrKeySpaceExhausted = errors.New("failed to generate unique license key")

// KeyGenerator 生成全局唯一、不可预测的许可证密钥。
//
// 格式：XXXXXXXX-XXXXXXXX-XXXXXXXX-XXXXXXXX（四组 8 位大写十六进制），
// 随机源为 crypto/rand，生成后对存储做唯一性检查，碰撞则重试。
type KeyGenerator struct {
	store storage.LicenseRepository
}

// NewKeyGenerator 创建密钥生成器
func NewKeyGenerator(store storage.LicenseRepository) *KeyGenerator {
	return &KeyGenerator{store: store}
}

// Generate 生成一个未被占用的许可证密钥
func (g *KeyGenerator) Generate() (string, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := randomKey()
		if err != nil {
			return "", err
		}

		exists, err := g.store.LicenseKeyExists(key)
		if err != nil {
			return "", fmt.Errorf("failed to check key uniqueness: %w", err)
		}
		if !exists {
			return key, nil
		}
	}
	return "", ErrKeySpaceExhausted
}

// randomKey 生成一个候选密钥（不含唯一性检查）
func randomKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	hexStr := strings.ToUpper(hex.EncodeToString(buf)) // 32 个十六进制字符
	groups := make([]string, 4)
	for i := 0; i < 4; i++ {
		groups[i] = hexStr[i*8 : (i+1)*8]
	}
	return strings.Join(groups, "-"), nil
}

// GenerateToken 生成不透明的激活令牌（32 位十六进制）
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
