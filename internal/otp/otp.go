package otp

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"geminichat/internal/cache"

	"github.com/rs/zerolog/log"
)

const DefaultLength = 6

// Generate 生成定长的随机数字验证码。短信场景下按设计只要求不可预测，
// 不做额外的加固。
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// Manager 负责验证码的签发和一次性校验，码只存在于缓存中，不落库。
type Manager struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewManager(c cache.Cache, ttl time.Duration) *Manager {
	return &Manager{cache: c, ttl: ttl}
}

func key(mobile string) string {
	return "otp:" + mobile
}

// Issue 生成验证码并写入缓存，短信下发目前以日志代替。
func (m *Manager) Issue(ctx context.Context, mobile string) (string, error) {
	code, err := Generate(DefaultLength)
	if err != nil {
		return "", err
	}
	if err := m.cache.Set(ctx, key(mobile), code, m.ttl); err != nil {
		return "", err
	}
	// TODO: 接入真实的短信通道后替换这条日志。
	log.Info().Str("mobile", mobile).Str("otp", code).Msg("send otp sms")
	return code, nil
}

// Verify 做精确匹配，命中即删除保证一次性；未命中或已过期不产生任何副作用。
func (m *Manager) Verify(ctx context.Context, mobile, code string) (bool, error) {
	var stored string
	found, err := m.cache.Get(ctx, key(mobile), &stored)
	if err != nil {
		return false, err
	}
	if !found || stored != code {
		return false, nil
	}
	if err := m.cache.Delete(ctx, key(mobile)); err != nil {
		return false, err
	}
	return true, nil
}
