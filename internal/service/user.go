package service

import (
	"context"
	"errors"
	"time"

	"geminichat/internal/auth"
	"geminichat/internal/config"
	"geminichat/internal/models"
	"geminichat/internal/otp"
	"geminichat/internal/ratelimit"

	"gorm.io/gorm"
)

// UserService 封装注册、登录、验证码找回密码和 token 刷新。
type UserService struct {
	db      *gorm.DB
	cfg     config.Config
	limiter *ratelimit.Limiter
	otp     *otp.Manager
}

func NewUserService(gdb *gorm.DB, cfg config.Config, limiter *ratelimit.Limiter, otpMgr *otp.Manager) *UserService {
	return &UserService{db: gdb, cfg: cfg, limiter: limiter, otp: otpMgr}
}

// TokenPair 登录或刷新成功后返回的 token 对。
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Register 注册新用户，手机号全局唯一。
func (s *UserService) Register(mobile, password string) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("mobile_number = ?", mobile).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrMobileTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		MobileNumber:       mobile,
		PasswordHash:       hash,
		SubscriptionTier:   models.TierBasic,
		SubscriptionStatus: models.SubscriptionInactive,
		LastUsageReset:     time.Now().UTC(),
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Login 校验手机号和密码并签发 token 对，按手机号做窗口限流。
func (s *UserService) Login(ctx context.Context, mobile, password string) (*TokenPair, error) {
	if err := s.limiter.Check(ctx, "login_attempts:"+mobile, ratelimit.LoginLimit, ratelimit.LoginWindow); err != nil {
		return nil, err
	}
	var user models.User
	if err := s.db.Where("mobile_number = ?", mobile).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == "" || !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issueTokens(user.ID)
}

// SendOTP 签发找回密码用的验证码，按手机号做窗口限流。
func (s *UserService) SendOTP(ctx context.Context, mobile string) error {
	if err := s.limiter.Check(ctx, "otp_requests:"+mobile, ratelimit.OTPLimit, ratelimit.OTPWindow); err != nil {
		return err
	}
	_, err := s.otp.Issue(ctx, mobile)
	return err
}

// VerifyOTP 校验验证码并返回对应用户。验证码一次有效，验证即消耗。
func (s *UserService) VerifyOTP(ctx context.Context, mobile, code string) (*models.User, error) {
	ok, err := s.otp.Verify(ctx, mobile, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidOTP
	}
	user, err := s.GetByMobile(mobile)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ResetPassword 在验证码通过后重置密码。
func (s *UserService) ResetPassword(ctx context.Context, mobile, code, newPassword string) error {
	ok, err := s.otp.Verify(ctx, mobile, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOTP
	}
	user, err := s.GetByMobile(mobile)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.db.Model(user).Update("password_hash", hash).Error
}

// Refresh 用 refresh token 换取新的 token 对，access token 在这里会被拒绝。
func (s *UserService) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := auth.ParseToken(refreshToken, s.cfg.JWTSecret, auth.KindRefresh)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if _, err := s.GetByID(claims.UserID); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueTokens(claims.UserID)
}

func (s *UserService) issueTokens(userID uint) (*TokenPair, error) {
	accessTTL := time.Duration(s.cfg.AccessTokenTTLMinutes) * time.Minute
	at, err := auth.GenerateToken(userID, auth.KindAccess, s.cfg.JWTSecret, accessTTL)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateToken(userID, auth.KindRefresh, s.cfg.JWTSecret, time.Duration(s.cfg.RefreshTokenTTLDays)*24*time.Hour)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  at,
		RefreshToken: rt,
		TokenType:    "bearer",
		ExpiresIn:    int(accessTTL.Seconds()),
	}, nil
}

func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserService) GetByMobile(mobile string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("mobile_number = ?", mobile).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateMobile 更新手机号，重复的手机号返回 ErrMobileTaken。
func (s *UserService) UpdateMobile(user *models.User, mobile string) error {
	var existing models.User
	err := s.db.Where("mobile_number = ?", mobile).First(&existing).Error
	if err == nil && existing.ID != user.ID {
		return ErrMobileTaken
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	user.MobileNumber = mobile
	return s.db.Model(user).Update("mobile_number", mobile).Error
}
