package ratelimit

import (
	"context"
	"errors"
	"time"

	"geminichat/internal/cache"
	"geminichat/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrDailyLimit  = errors.New("daily message limit exceeded")
)

// 登录和验证码请求的窗口配置，按手机号计数。
const (
	LoginLimit  = 5
	OTPLimit    = 3
	LoginWindow = 5 * time.Minute
	OTPWindow   = 5 * time.Minute
)

// basic 档每天的消息上限，pro 不限量。
const BasicDailyLimit = 5

// Limiter 基于缓存计数器做窗口限流。
type Limiter struct {
	cache cache.Cache
}

func NewLimiter(c cache.Cache) *Limiter {
	return &Limiter{cache: c}
}

// Check 在 key 的计数达到 limit 时返回 ErrRateLimited，否则计数加一
// 并把 TTL 重置为 window。注意：每次放行都会重置 TTL，窗口是随请求滑动的，
// 不是锚定的固定窗口。缓存不可用时记日志放行，不让限流挡住主流程。
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) error {
	var count int
	found, err := l.cache.Get(ctx, key, &count)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit cache get")
		return nil
	}
	if found && count >= limit {
		return ErrRateLimited
	}
	if err := l.cache.Set(ctx, key, count+1, window); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit cache set")
	}
	return nil
}

// ConsumeDaily 消耗用户当天的一次消息配额：跨过 UTC 日界先懒重置计数，
// basic 档达到上限时返回 ErrDailyLimit，否则计数加一。
// 调用方应把它放进发消息的事务里，gdb 传事务句柄即可。
func ConsumeDaily(gdb *gorm.DB, userID uint) error {
	var user models.User
	if err := gdb.First(&user, userID).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	if beforeUTCDay(user.LastUsageReset, now) {
		user.DailyUsageCount = 0
		user.LastUsageReset = now
	}

	if user.SubscriptionTier == models.TierBasic && user.DailyUsageCount >= BasicDailyLimit {
		return ErrDailyLimit
	}

	user.DailyUsageCount++
	return gdb.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
		"daily_usage_count": user.DailyUsageCount,
		"last_usage_reset":  user.LastUsageReset,
	}).Error
}

// beforeUTCDay 判断 a 是否在 b 所在 UTC 日历日之前。
func beforeUTCDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).Before(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}
